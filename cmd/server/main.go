// Command `vitals-server` runs the measurement wizard locally: the controller,
// the serial session with the sensor board, the weight channel client and
// the browser UI + HTTP API.
//
// Flags:
//
//	-config:  path to the JSON config (default ./vitals.json; a missing file is created with the stock layout)
//	-addr:    TCP address to listen on (default 127.0.0.1:8080)
//	-web:     path to web root containing index.html
//	-open:    open the UI URL in your default browser at startup
//	-console: drive the wizard from the keyboard (N next, P previous, R re-request, ESC quit)
//	-connect: open the serial session at startup instead of waiting for /api/connect
//
// Env:
//
//	VITALS_NO_OPEN=1 disables browser auto-open even when -open is set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/CK6170/Vitals-go/controller"
	"github.com/CK6170/Vitals-go/file"
	"github.com/CK6170/Vitals-go/internal/server"
	"github.com/CK6170/Vitals-go/models"
	"github.com/CK6170/Vitals-go/ui"
	"github.com/CK6170/Vitals-go/weight"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configPath = flag.String("config", "vitals.json", "path to the wizard config (JSON)")
		addr       = flag.String("addr", "127.0.0.1:8080", "http listen address")
		web        = flag.String("web", "./web", "path to web root (index.html)")
		open       = flag.Bool("open", false, "open the web UI in your default browser on startup")
		console    = flag.Bool("console", false, "drive the wizard from the keyboard")
		connect    = flag.Bool("connect", false, "open the serial port at startup")
	)
	flag.Parse()

	params, err := file.LoadParameters(*configPath)
	switch {
	case errors.Is(err, file.ErrNoConfig):
		params = models.DefaultParameters()
		params.ApplyDefaults()
		if werr := file.PersistParameters(*configPath, params); werr != nil {
			ui.Warningf("No config at %s, using the stock screen layout (%v)\n", *configPath, werr)
		} else {
			ui.Warningf("No config at %s, wrote the stock screen layout\n", *configPath)
		}
	case err != nil:
		ui.Warningf("Config error: %v\n", err)
		os.Exit(1)
	}

	logger := ui.NewLogger(params.DEBUG)
	log := logrus.NewEntry(logger)

	// Resolve web directory to an absolute path so logging and FileServer behavior
	// are consistent regardless of the current working directory.
	webDir, err := filepath.Abs(*web)
	if err != nil {
		log.WithError(err).Fatal("failed to resolve web directory")
	}
	if st, err := os.Stat(webDir); err != nil || !st.IsDir() {
		log.WithField("dir", webDir).Warn("web directory missing, serving API only")
		webDir = ""
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := server.Options{
		Params:        params,
		WebDir:        webDir,
		PortCachePath: portCachePath(),
		Log:           log,
		PersistPort: func(port string) error {
			return file.PersistPort(*configPath, port)
		},
	}
	if *console {
		placeholders := map[string]bool{params.PLACEHOLDERS.WAITING: true, params.PLACEHOLDERS.NOVALUE: true}
		opts.OnShow = func(key models.MeasurementKey, text string) {
			ui.PrintDisplayLine(key.String(), text, placeholders[text])
		}
		opts.OnScreen = func(screen int, key models.MeasurementKey) {
			ui.PrintScreenLine(screen, key.String())
		}
	}
	srv := server.New(ctx, opts)
	ctrl := controller.New(controller.NewConfig(params), srv, srv.Device(), srv, log)
	srv.Attach(ctrl)
	go ctrl.Run(ctx)

	ch := weight.NewChannel(params, func(m weight.Message) {
		if m.Reset {
			ctrl.Post(controller.WeightReset{})
			return
		}
		ctrl.Post(controller.WeightUpdate{Kg: m.Kg, Stable: m.Stable})
	}, log)
	go ch.Run(ctx)

	if *connect {
		if resp, err := srv.Connect(""); err != nil {
			ui.Warningf("Serial: %v\n", err)
		} else {
			ui.Greenf("Serial: %s @ %d\n", resp.Port, resp.Baud)
		}
	}

	// Bind the listen address early so we fail fast if the port is in use.
	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.WithError(err).Fatalf("failed to listen on %s", *addr)
	}

	uiURL := makeUIURL(*addr)
	ui.Greenf("Serving on http://%s\n", *addr)
	ui.Greenf("UI:        %s\n", uiURL)
	ui.Greenf("Weight:    %s\n", ch.URL)

	if *open && os.Getenv("VITALS_NO_OPEN") == "" {
		if err := openBrowser(uiURL); err != nil {
			log.WithError(err).Warn("failed to open browser")
		}
	}

	httpSrv := &http.Server{Handler: srv.Handler()}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
			stop()
		}
	}()

	if *console {
		c := &ui.Console{Bindings: []ui.Binding{
			{Key: 'N', Help: "next", Run: func() { srv.Next() }},
			{Key: 'P', Help: "previous", Run: func() { srv.Prev() }},
			{Key: 'R', Help: "re-request", Run: func() { srv.Rerequest() }},
			{Key: 'C', Help: "connect", Run: func() {
				if _, err := srv.Connect(""); err != nil {
					ui.Warningf("\nSerial: %v\n", err)
				}
			}},
		}}
		ui.Greenf("%s\n", c.Help())
		if c.Run(ctx) {
			stop()
		}
	}
	<-ctx.Done()

	shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdown)
	srv.Close()
	ui.Greenf("\nBye\n")
}

// portCachePath keeps the last working serial port next to the user config.
func portCachePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "vitals-go", "ports.json")
}

// makeUIURL turns a listen address (host:port) into a browser-friendly URL.
//
// If the server is bound to 0.0.0.0 / ::, the returned URL uses 127.0.0.1
// because wildcard addresses are not reachable targets in browsers.
func makeUIURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("http://%s/", strings.TrimSpace(addr))
	}
	if host == "" || host == "0.0.0.0" || host == "::" || host == "[::]" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%s/", host, port)
}

// openBrowser tries to open the given URL in the OS default browser without
// blocking startup.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "windows":
		// `start` is a cmd.exe built-in. The empty title argument prevents quoting issues.
		return exec.Command("cmd", "/c", "start", "", url).Start()
	case "darwin":
		return exec.Command("open", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
