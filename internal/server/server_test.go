package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CK6170/Vitals-go/controller"
	"github.com/CK6170/Vitals-go/models"
	serialpkg "github.com/CK6170/Vitals-go/serial"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type fakePort struct {
	r *io.PipeReader

	mu      sync.Mutex
	written bytes.Buffer
}

func (f *fakePort) Read(p []byte) (int, error) { return f.r.Read(p) }

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.Write(p)
}

func (f *fakePort) Close() error { return f.r.Close() }

func (f *fakePort) Written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

type fixture struct {
	srv   *Server
	ts    *httptest.Server
	ctrl  *controller.Controller
	port  *fakePort
	dev   *io.PipeWriter
	cache string

	mu        sync.Mutex
	opened    []string
	failPorts map[string]bool
	persisted []string
}

func (f *fixture) failPort(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPorts[name] = true
}

func (f *fixture) openedPorts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p := models.DefaultParameters()
	p.RETRYMS = 10
	p.SETTLEMS = 10
	p.ApplyDefaults()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	log := logrus.NewEntry(logger)

	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	f := &fixture{
		port:      &fakePort{r: pr},
		dev:       pw,
		cache:     filepath.Join(t.TempDir(), "ports.json"),
		failPorts: map[string]bool{},
	}
	f.srv = New(ctx, Options{
		Params:        p,
		PortCachePath: f.cache,
		Log:           log,
		PersistPort: func(port string) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.persisted = append(f.persisted, port)
			return nil
		},
	})
	f.srv.Device().Opener = func(cfg *models.SERIAL) (io.ReadWriteCloser, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.opened = append(f.opened, cfg.PORT)
		if f.failPorts[cfg.PORT] {
			return nil, errors.New("device busy")
		}
		return f.port, nil
	}
	f.srv.Device().Ports = func() []serialpkg.PortInfo {
		return []serialpkg.PortInfo{{Name: "/dev/ttyACM0", USB: true}}
	}

	f.ctrl = controller.New(controller.NewConfig(p), f.srv, f.srv.Device(), f.srv, log)
	f.srv.Attach(f.ctrl)
	done := make(chan struct{})
	go func() {
		f.ctrl.Run(ctx)
		close(done)
	}()

	f.ts = httptest.NewServer(f.srv.Handler())
	t.Cleanup(func() {
		f.ts.Close()
		f.srv.Close()
		_ = pw.Close()
		cancel()
		<-done
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.ts.URL, "http")+"/ws/display", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m wsMessage
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("ws read: %v", err)
	}
	return m
}

func readDisplay(t *testing.T, conn *websocket.Conn) DisplayUpdate {
	t.Helper()
	for {
		m := readWS(t, conn)
		if m.Type != "display" {
			continue
		}
		var d DisplayUpdate
		if err := json.Unmarshal(m.Data, &d); err != nil {
			t.Fatalf("display payload: %v", err)
		}
		return d
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	var resp HealthResponse
	if code := f.do(t, http.MethodGet, "/api/health", nil, &resp); code != 200 || !resp.OK {
		t.Fatalf("health mismatch: code=%d resp=%+v", code, resp)
	}
	if code := f.do(t, http.MethodPost, "/api/health", nil, nil); code != http.StatusNotFound {
		t.Fatalf("POST /api/health should 404, got %d", code)
	}
}

func TestMeasurementFlowOverHTTP(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	first := readWS(t, conn)
	if first.Type != "screen" {
		t.Fatalf("expected screen greeting, got %+v", first)
	}

	var cr ConnectResponse
	if code := f.do(t, http.MethodPost, "/api/connect", ConnectRequest{}, &cr); code != 200 {
		t.Fatalf("connect failed: %d", code)
	}
	if !cr.Connected || cr.Port != "/dev/ttyACM0" || !cr.PortUpdated {
		t.Fatalf("connect response mismatch: %+v", cr)
	}
	if len(cr.AutoDetectLog) == 0 {
		t.Fatalf("expected auto-detect trace")
	}

	var sr ScreenResponse
	if code := f.do(t, http.MethodPost, "/api/screen", ScreenRequest{Screen: 8}, &sr); code != 200 || sr.Key != models.HEART_RATE {
		t.Fatalf("screen mismatch: code=%d resp=%+v", code, sr)
	}
	if d := readDisplay(t, conn); d != (DisplayUpdate{Key: models.HEART_RATE, Text: "waiting…"}) {
		t.Fatalf("waiting display mismatch: %+v", d)
	}
	waitFor(t, "OXI request", func() bool { return f.port.Written() == "OXI\n" })

	if _, err := io.WriteString(f.dev, "noise\r\nHR: 400\r\nHR: 72\r\n"); err != nil {
		t.Fatalf("device write: %v", err)
	}
	if d := readDisplay(t, conn); d != (DisplayUpdate{Key: models.HEART_RATE, Text: "72 bpm"}) {
		t.Fatalf("reading display mismatch: %+v", d)
	}

	var st StateResponse
	if code := f.do(t, http.MethodGet, "/api/state", nil, &st); code != 200 {
		t.Fatalf("state failed: %d", code)
	}
	if st.Phase != "satisfied" || st.Screen != 8 || st.LastValues[models.HEART_RATE] != 72 {
		t.Fatalf("state mismatch: %+v", st)
	}
	if !st.Serial.Connected || st.Display[models.HEART_RATE] != "72 bpm" {
		t.Fatalf("state serial/display mismatch: %+v", st)
	}

	f.mu.Lock()
	persisted := append([]string(nil), f.persisted...)
	f.mu.Unlock()
	if len(persisted) != 1 || persisted[0] != "/dev/ttyACM0" {
		t.Fatalf("detected port not persisted: %v", persisted)
	}
	raw, err := os.ReadFile(f.cache)
	if err != nil || !strings.Contains(string(raw), "/dev/ttyACM0") {
		t.Fatalf("port cache not written: err=%v raw=%s", err, raw)
	}
}

func TestConnectErrors(t *testing.T) {
	t.Run("transport-unavailable", func(t *testing.T) {
		f := newFixture(t)
		f.srv.Device().Ports = func() []serialpkg.PortInfo { return nil }
		var e APIError
		if code := f.do(t, http.MethodPost, "/api/connect", nil, &e); code != http.StatusServiceUnavailable {
			t.Fatalf("status mismatch: %d", code)
		}
		if !strings.Contains(e.Error, serialpkg.ErrTransportUnavailable.Error()) {
			t.Fatalf("error mismatch: %q", e.Error)
		}
	})

	t.Run("connection-failed", func(t *testing.T) {
		f := newFixture(t)
		f.failPort("/dev/ttyS9")
		var e APIError
		if code := f.do(t, http.MethodPost, "/api/connect", ConnectRequest{Port: "/dev/ttyS9"}, &e); code != http.StatusBadGateway {
			t.Fatalf("status mismatch: %d", code)
		}
		if !strings.Contains(e.Error, "device busy") {
			t.Fatalf("driver error not surfaced: %q", e.Error)
		}
	})
}

func TestConnectUsesPortCache(t *testing.T) {
	f := newFixture(t)
	NewPortCache(f.cache).Set(deviceKey(f.srv.params), "/dev/ttyUSB7")
	f.srv.dev.cache = NewPortCache(f.cache)

	resp, err := f.srv.Connect("")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if resp.Port != "/dev/ttyUSB7" {
		t.Fatalf("cached port not used: %+v", resp)
	}
	if got := f.openedPorts(); len(got) != 1 || got[0] != "/dev/ttyUSB7" {
		t.Fatalf("opened mismatch: %v", got)
	}
}

func TestConnectFallsBackWhenCachedPortFails(t *testing.T) {
	f := newFixture(t)
	NewPortCache(f.cache).Set(deviceKey(f.srv.params), "/dev/ttyUSB7")
	f.srv.dev.cache = NewPortCache(f.cache)
	f.failPort("/dev/ttyUSB7")

	resp, err := f.srv.Connect("")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if resp.Port != "/dev/ttyACM0" {
		t.Fatalf("fallback port mismatch: %+v", resp)
	}
	if got := NewPortCache(f.cache).Get(deviceKey(f.srv.params)); got != "/dev/ttyACM0" {
		t.Fatalf("cache not refreshed: %q", got)
	}
}

func TestStableWeightAdvancesScreen(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	_ = readWS(t, conn)

	if code := f.do(t, http.MethodPost, "/api/screen", ScreenRequest{Screen: 5}, nil); code != 200 {
		t.Fatalf("screen failed: %d", code)
	}
	f.ctrl.Post(controller.WeightUpdate{Kg: 62.3, Stable: true})

	waitFor(t, "advance to height", func() bool {
		return f.srv.Screen() == 6 && f.ctrl.Snapshot().AwaitedKey == models.HEIGHT
	})

	var sawAdvance bool
	for i := 0; i < 6 && !sawAdvance; i++ {
		m := readWS(t, conn)
		if m.Type != "screen" {
			continue
		}
		var u ScreenUpdate
		_ = json.Unmarshal(m.Data, &u)
		sawAdvance = u.Screen == 6 && u.Key == models.HEIGHT
	}
	if !sawAdvance {
		t.Fatalf("advance not broadcast")
	}
}

func TestNextBehindQueuedSettleKeepsScreensInSync(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)

	blocked := make(chan struct{}, 1)
	f.srv.onShow = func(key models.MeasurementKey, text string) {
		if key == models.WEIGHT && text == "62.40 kg" {
			blocked <- struct{}{}
			<-gate
		}
	}

	if err := f.srv.SetScreen(5); err != nil {
		t.Fatalf("SetScreen: %v", err)
	}
	f.ctrl.Post(controller.WeightUpdate{Kg: 62.3, Stable: true})
	f.ctrl.Post(controller.WeightUpdate{Kg: 62.4})
	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatalf("controller never showed the live weight")
	}

	// The settle timer fires while the controller is busy and queues up
	// ahead of the operator's Next.
	time.Sleep(100 * time.Millisecond)
	next := make(chan int, 1)
	go func() { next <- f.srv.Next() }()
	release()

	select {
	case n := <-next:
		if n != 7 {
			t.Fatalf("next landed on %d, want 7", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Next did not return")
	}

	st := f.ctrl.Snapshot()
	if st.Screen != 7 || st.AwaitedKey != models.TEMPERATURE {
		t.Fatalf("controller mismatch: screen=%d awaited=%v", st.Screen, st.AwaitedKey)
	}
	if got := f.srv.Screen(); got != st.Screen {
		t.Fatalf("server on screen %d, controller on %d", got, st.Screen)
	}

	var resp StateResponse
	f.do(t, http.MethodGet, "/api/state", nil, &resp)
	if resp.Screen != 7 || resp.AwaitedKey != models.TEMPERATURE {
		t.Fatalf("state mismatch: %+v", resp)
	}
}

func TestNavigationBounds(t *testing.T) {
	f := newFixture(t)
	last := f.srv.lastScreen

	var sr ScreenResponse
	f.do(t, http.MethodPost, "/api/prev", nil, &sr)
	if sr.Screen != 0 {
		t.Fatalf("prev below zero: %d", sr.Screen)
	}

	var e APIError
	if code := f.do(t, http.MethodPost, "/api/screen", ScreenRequest{Screen: last + 1}, &e); code != 400 {
		t.Fatalf("out-of-range screen accepted: %d", code)
	}

	f.do(t, http.MethodPost, "/api/screen", ScreenRequest{Screen: last}, nil)
	f.do(t, http.MethodPost, "/api/next", nil, &sr)
	if sr.Screen != last {
		t.Fatalf("next past the end: %d", sr.Screen)
	}
	f.do(t, http.MethodPost, "/api/prev", nil, &sr)
	if sr.Screen != last-1 {
		t.Fatalf("prev mismatch: %d", sr.Screen)
	}
}

func TestLateClientReceivesDisplaySnapshot(t *testing.T) {
	f := newFixture(t)
	f.srv.Show(models.TEMPERATURE, "36.6 °C")

	conn := f.dial(t)
	if m := readWS(t, conn); m.Type != "screen" {
		t.Fatalf("expected screen first, got %+v", m)
	}
	if d := readDisplay(t, conn); d != (DisplayUpdate{Key: models.TEMPERATURE, Text: "36.6 °C"}) {
		t.Fatalf("snapshot mismatch: %+v", d)
	}
}

func TestPorts(t *testing.T) {
	f := newFixture(t)
	var resp PortsResponse
	if code := f.do(t, http.MethodGet, "/api/ports", nil, &resp); code != 200 {
		t.Fatalf("ports failed: %d", code)
	}
	if len(resp.Ports) != 1 || resp.Ports[0].Name != "/dev/ttyACM0" {
		t.Fatalf("ports mismatch: %+v", resp.Ports)
	}
}
