// Command `weightbridge` reads a serial platform scale and serves stabilised
// weight over WebSocket for the wizard (default ws://127.0.0.1:8765).
//
// Flags:
//
//	-addr:      TCP address to listen on (default 127.0.0.1:8765)
//	-port:      scale serial port (blank = first enumerated port)
//	-baud:      scale baud rate (default 9600)
//	-window:    samples that must agree before a weight is stable (default 3)
//	-tolerance: max spread in kg within the window (default 0.1)
//	-idle:      idle time that starts a new weighing cycle (default 20s)
//	-debug:     log every sample
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CK6170/Vitals-go/internal/bridge"
	"github.com/CK6170/Vitals-go/models"
	serialpkg "github.com/CK6170/Vitals-go/serial"
	"github.com/CK6170/Vitals-go/ui"
	"github.com/CK6170/Vitals-go/weight"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		addr      = flag.String("addr", "127.0.0.1:8765", "websocket listen address")
		port      = flag.String("port", "", "scale serial port (blank = auto-detect)")
		baud      = flag.Int("baud", 9600, "scale baud rate")
		window    = flag.Int("window", 3, "samples that must agree before a weight is stable")
		tolerance = flag.Float64("tolerance", 0.1, "max spread in kg within the window")
		idle      = flag.Duration("idle", 20*time.Second, "idle time that starts a new weighing cycle")
		debug     = flag.Bool("debug", false, "log every sample")
	)
	flag.Parse()

	log := logrus.NewEntry(ui.NewLogger(*debug))

	stab := weight.NewStabilizer()
	stab.Window = *window
	stab.Tolerance = *tolerance
	stab.IdleReset = *idle
	b := bridge.New(stab, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.WithError(err).Fatalf("failed to listen on %s", *addr)
	}
	httpSrv := &http.Server{Handler: b.Handler()}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("websocket server stopped")
			stop()
		}
	}()
	ui.Greenf("WebSocket on ws://%s\n", *addr)

	name, trace := serialpkg.AutoDetectPortTrace(*port, serialpkg.ListPorts)
	for _, line := range trace {
		log.Debug(line)
	}
	if name == "" {
		ui.Warningf("No scale port found\n")
		os.Exit(1)
	}

	for ctx.Err() == nil {
		src, err := serialpkg.OpenPort(&models.SERIAL{PORT: name, BAUDRATE: *baud})
		if err != nil {
			log.WithField("port", name).WithError(err).Warn("open scale failed, retrying")
		} else {
			ui.Greenf("Scale on %s @ %d\n", name, *baud)
			err = b.Run(ctx, src)
			if err != nil && !errors.Is(err, io.EOF) {
				log.WithError(err).Warn("scale read failed")
			}
		}
		select {
		case <-ctx.Done():
		case <-time.After(weight.DefaultBackoff):
		}
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdown)
}
