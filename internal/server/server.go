// Package server is the operator-facing boundary of the wizard: a local HTTP
// API plus a WebSocket display feed. It renders what the controller shows
// and turns operator navigation into controller events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/CK6170/Vitals-go/controller"
	"github.com/CK6170/Vitals-go/internal/hub"
	"github.com/CK6170/Vitals-go/models"
	serialpkg "github.com/CK6170/Vitals-go/serial"
	"github.com/sirupsen/logrus"
)

// ErrInvalidScreen is returned for screen indexes outside the wizard.
var ErrInvalidScreen = errors.New("invalid screen")

// navigateTimeout bounds how long Next/Prev wait for the controller.
const navigateTimeout = 2 * time.Second

// Controller is the part of controller.Controller the server drives.
type Controller interface {
	Post(ev controller.Event)
	Snapshot() controller.State
}

// Options configures New.
type Options struct {
	Params        *models.PARAMETERS
	WebDir        string
	PortCachePath string
	Log           *logrus.Entry
	// PersistPort, when set, is called with a port found by auto-detection
	// so the config file can be updated.
	PersistPort func(port string) error
	// OnShow and OnScreen mirror display and navigation updates, e.g. to a
	// terminal.
	OnShow   func(key models.MeasurementKey, text string)
	OnScreen func(screen int, key models.MeasurementKey)
}

// Server implements controller.Display and controller.Navigator. The
// controller owns the screen index; screen is its mirror for HTTP and
// WebSocket readers.
type Server struct {
	mux *http.ServeMux
	log *logrus.Entry

	params     *models.PARAMETERS
	lastScreen int
	persist    func(port string) error
	onShow     func(key models.MeasurementKey, text string)
	onScreen   func(screen int, key models.MeasurementKey)

	display *DisplayStore
	dev     *DeviceSession
	ws      *hub.Hub

	mu     sync.Mutex
	screen int
	ctrl   Controller
}

// New builds the server. ctx bounds the lifetime of serial sessions opened
// through /api/connect.
func New(ctx context.Context, opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := opts.Params
	if p == nil {
		p = models.DefaultParameters()
	}

	s := &Server{
		mux:        http.NewServeMux(),
		log:        log.WithField("component", "server"),
		params:     p,
		lastScreen: p.LastScreen(),
		persist:    opts.PersistPort,
		onShow:     opts.OnShow,
		onScreen:   opts.OnScreen,
		display:    NewDisplayStore(),
		ws:         hub.New(),
	}
	s.dev = newDeviceSession(ctx, p, NewPortCache(opts.PortCachePath), s.onSerialLine, log)
	s.ws.OnJoin = s.greet

	// API
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/screen", s.handleScreen)
	s.mux.HandleFunc("/api/next", s.handleNext)
	s.mux.HandleFunc("/api/prev", s.handlePrev)
	s.mux.HandleFunc("/api/connect", s.handleConnect)
	s.mux.HandleFunc("/api/disconnect", s.handleDisconnect)
	s.mux.HandleFunc("/api/ports", s.handlePorts)

	// WS
	s.mux.HandleFunc("/ws/display", s.ws.Serve)

	// Static frontend
	if opts.WebDir != "" {
		fs := http.FileServer(http.Dir(opts.WebDir))
		s.mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Avoid stale UI/assets after updates (especially important with ESM imports).
			if r.URL != nil {
				p := r.URL.Path
				if p == "/" ||
					strings.HasSuffix(p, ".html") ||
					strings.HasSuffix(p, ".js") ||
					strings.HasSuffix(p, ".css") {
					w.Header().Set("Cache-Control", "no-store")
				}
			}
			fs.ServeHTTP(w, r)
		}))
	}

	return s
}

// Attach connects the controller. Events raised before Attach are dropped.
func (s *Server) Attach(c Controller) {
	s.mu.Lock()
	s.ctrl = c
	s.mu.Unlock()
}

func (s *Server) Handler() http.Handler { return s.mux }

// Device exposes the serial session manager; it is the controller's Requester.
func (s *Server) Device() *DeviceSession { return s.dev }

// Close drops the serial session.
func (s *Server) Close() { s.dev.Disconnect() }

func (s *Server) post(ev controller.Event) bool {
	s.mu.Lock()
	c := s.ctrl
	s.mu.Unlock()
	if c == nil {
		return false
	}
	c.Post(ev)
	return true
}

func (s *Server) onSerialLine(l serialpkg.Line) {
	s.post(controller.SerialLine{Key: l.Key, Token: l.Token, Value: l.Value, Sentinel: l.Sentinel})
}

// Show records and broadcasts a display update.
func (s *Server) Show(key models.MeasurementKey, text string) {
	s.display.Put(key, text)
	s.ws.Broadcast(hub.Message{Type: "display", Data: DisplayUpdate{Key: key, Text: text}})
	if s.onShow != nil {
		s.onShow(key, text)
	}
}

// Successor is the wizard's page flow: the literal next screen, stopping at
// the summary.
func (s *Server) Successor(screen int) int {
	if screen >= s.lastScreen {
		return s.lastScreen
	}
	return screen + 1
}

// Entered mirrors a screen change the controller has applied and tells the
// browser about it.
func (s *Server) Entered(screen int) {
	s.mu.Lock()
	s.screen = screen
	s.mu.Unlock()
	s.announce(screen)
}

// Screen returns the screen the controller is on.
func (s *Server) Screen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen
}

// SetScreen asks the controller to enter n. The mirror follows once the
// controller has applied it.
func (s *Server) SetScreen(n int) error {
	if n < 0 || n > s.lastScreen {
		return fmt.Errorf("%w: %d (0..%d)", ErrInvalidScreen, n, s.lastScreen)
	}
	s.post(controller.ScreenChanged{Screen: n})
	return nil
}

// Next and Prev step the wizard, stopping at either end. They return the
// screen the controller ended on.
func (s *Server) Next() int { return s.navigate(1) }

func (s *Server) Prev() int { return s.navigate(-1) }

// Rerequest re-enters the current screen, which re-issues its request.
func (s *Server) Rerequest() int { return s.navigate(0) }

func (s *Server) navigate(delta int) int {
	reply := make(chan int, 1)
	if !s.post(controller.Navigate{Delta: delta, Reply: reply}) {
		return s.Screen()
	}
	select {
	case n := <-reply:
		return n
	case <-time.After(navigateTimeout):
		s.log.WithField("delta", delta).Warn("controller did not answer navigation")
		return s.Screen()
	}
}

// Connect opens the serial session and persists a newly detected port.
func (s *Server) Connect(port string) (ConnectResponse, error) {
	resp, err := s.dev.Connect(port)
	if err != nil {
		s.log.WithError(err).Warn("connect failed")
		return resp, err
	}
	s.log.WithField("port", resp.Port).Info("serial connected")
	if resp.PortUpdated && s.persist != nil {
		if perr := s.persist(resp.Port); perr != nil {
			s.log.WithError(perr).Warn("could not persist detected port")
		}
	}
	return resp, nil
}

func (s *Server) announce(n int) {
	key := s.params.SCREENS[n]
	s.ws.Broadcast(hub.Message{Type: "screen", Data: ScreenUpdate{Screen: n, Key: key}})
	if s.onScreen != nil {
		s.onScreen(n, key)
	}
}

// greet brings a new browser up to date: current screen, then every text.
func (s *Server) greet(c *hub.Client) {
	n := s.Screen()
	_ = c.Send(hub.Message{Type: "screen", Data: ScreenUpdate{Screen: n, Key: s.params.SCREENS[n]}})
	for _, rec := range s.display.Records() {
		_ = c.Send(hub.Message{Type: "display", Data: DisplayUpdate{Key: rec.Key, Text: rec.Text}})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, 200, HealthResponse{OK: true, Timestamp: time.Now()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	resp := StateResponse{
		Screen:     s.Screen(),
		LastScreen: s.lastScreen,
		Phase:      "idle",
		LastValues: map[models.MeasurementKey]float64{},
		Display:    s.display.Texts(),
		Serial:     s.dev.Status(),
	}
	s.mu.Lock()
	c := s.ctrl
	s.mu.Unlock()
	if c != nil {
		st := c.Snapshot()
		resp.Screen = st.Screen
		resp.Phase = st.Phase()
		resp.AwaitedKey = st.AwaitedKey
		resp.Awaiting = st.Awaiting
		resp.LockOnFirstValid = st.LockOnFirstValid
		resp.LastValues = st.LastValueByKey
		resp.LastStableWeight = st.LastStableWeight
	}
	s.writeJSON(w, 200, resp)
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req ScreenRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if err := s.SetScreen(req.Screen); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, ScreenResponse{Screen: req.Screen, Key: s.params.SCREENS[req.Screen]})
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	n := s.Next()
	s.writeJSON(w, 200, ScreenResponse{Screen: n, Key: s.params.SCREENS[n]})
}

func (s *Server) handlePrev(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	n := s.Prev()
	s.writeJSON(w, 200, ScreenResponse{Screen: n, Key: s.params.SCREENS[n]})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req ConnectRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	resp, err := s.Connect(req.Port)
	if err != nil {
		s.writeJSON(w, connectStatus(err), APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, resp)
}

func connectStatus(err error) int {
	switch {
	case errors.Is(err, serialpkg.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, serialpkg.ErrConnectionFailed):
		return http.StatusBadGateway
	}
	return http.StatusBadRequest
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.dev.Disconnect()
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	list := s.dev.Ports
	if list == nil {
		list = serialpkg.ListPorts
	}
	ports := list()
	if ports == nil {
		ports = []serialpkg.PortInfo{}
	}
	s.writeJSON(w, 200, PortsResponse{Ports: ports})
}
