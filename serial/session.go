package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/CK6170/Vitals-go/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrTransportUnavailable means there is no serial device to open.
	ErrTransportUnavailable = errors.New("serial transport unavailable")
	// ErrConnectionFailed wraps a driver error raised while opening the port.
	ErrConnectionFailed = errors.New("serial connection failed")
	// ErrAlreadyOpen is returned when Open is called on a live session.
	ErrAlreadyOpen = errors.New("serial session already open")
)

// maxPending bounds the partial-line buffer.
const maxPending = 1024

// Session owns the request/response link with the sensor microcontroller.
//
// Lines are delivered to OnLine from the read-loop goroutine; the receiver is
// expected to hand them off to the controller queue and return quickly.
type Session struct {
	// Opener and Ports are replaceable for tests.
	Opener OpenFunc
	Ports  func() []PortInfo

	cfg      models.SERIAL
	commands map[models.MeasurementKey]string
	onLine   func(Line)
	log      *logrus.Entry

	mu    sync.Mutex
	port  io.ReadWriteCloser
	name  string
	trace []string
	done  chan struct{}
}

// NewSession builds an unopened session for p.SERIAL.
func NewSession(p *models.PARAMETERS, onLine func(Line), log *logrus.Entry) *Session {
	s := &Session{
		Opener:   OpenPort,
		Ports:    ListPorts,
		commands: map[models.MeasurementKey]string{},
		onLine:   onLine,
		log:      log,
	}
	if p != nil && p.SERIAL != nil {
		s.cfg = *p.SERIAL
	}
	if p != nil {
		for k, c := range p.COMMANDS {
			s.commands[k] = strings.TrimSpace(c)
		}
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	s.log = s.log.WithField("component", "serial")
	return s
}

// Open resolves the port, opens it and starts the read loop. The loop runs
// until ctx is cancelled, Close is called, or the device reports
// end-of-stream.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return ErrAlreadyOpen
	}

	name, trace := AutoDetectPortTrace(s.cfg.PORT, s.Ports)
	s.trace = trace
	if name == "" {
		s.log.Warn("no serial port available")
		return ErrTransportUnavailable
	}

	cfg := s.cfg
	cfg.PORT = name
	port, err := s.Opener(&cfg)
	if err != nil {
		s.log.WithField("port", name).WithError(err).Warn("open failed")
		return fmt.Errorf("%w: %s: %v", ErrConnectionFailed, name, err)
	}

	done := make(chan struct{})
	s.port = port
	s.name = name
	s.done = done
	s.log.WithField("port", name).WithField("baud", cfg.BAUDRATE).Info("port opened")

	go s.readLoop(port, done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-done:
		}
	}()
	return nil
}

// PortName returns the device path of the open port, or "".
func (s *Session) PortName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ""
	}
	return s.name
}

// Trace returns the port selection log of the last Open.
func (s *Session) Trace() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.trace...)
}

// Connected reports whether the read loop is alive.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

// Done is closed when the current read loop exits. Nil before Open.
// A port opened with OpenPort has it closed within one read timeout of Close.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Close shuts the port. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}

// SendRequest writes the command for key, newline-terminated. Keys without a
// command (WEIGHT is push-only) are a no-op. Write failures are logged and
// swallowed; the controller's retry path re-issues the request.
func (s *Session) SendRequest(key models.MeasurementKey) {
	cmd := s.commands[key]
	if cmd == "" {
		s.log.WithField("key", key).Debug("no request command")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		s.log.WithField("key", key).Warn("request dropped: not connected")
		return
	}
	if _, err := io.WriteString(s.port, cmd+"\n"); err != nil {
		s.log.WithField("key", key).WithField("command", cmd).WithError(err).Warn("write failed")
		return
	}
	s.log.WithField("key", key).WithField("command", cmd).Debug("request sent")
}

func (s *Session) readLoop(port io.ReadWriteCloser, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 256)
	pending := ""
	for {
		n, err := port.Read(buf)
		if n > 0 {
			pending = appendRaw(pending, string(buf[:n]), maxPending)
			for {
				frame, rest, ok := popSerialFrame(pending)
				if !ok {
					break
				}
				pending = rest
				s.handleFrame(frame)
			}
		}
		if err != nil {
			s.detach(port, err)
			return
		}
		if n == 0 && !s.owns(port) {
			s.log.Debug("read loop stopped after close")
			return
		}
	}
}

// owns reports whether port is still the session's live port.
func (s *Session) owns(port io.ReadWriteCloser) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port == port
}

func (s *Session) handleFrame(frame string) {
	trimmed := strings.TrimSpace(frame)
	if trimmed == "" {
		return
	}
	line, ok := ParseLine(trimmed)
	if !ok {
		s.log.WithField("raw", trimmed).Debug("line dropped")
		return
	}
	if s.onLine != nil {
		s.onLine(line)
	}
}

// detach forgets port after the read loop ended on its own.
func (s *Session) detach(port io.ReadWriteCloser, err error) {
	s.mu.Lock()
	owned := s.port == port
	if owned {
		s.port = nil
	}
	s.mu.Unlock()

	if !owned {
		s.log.Debug("read loop stopped after close")
		return
	}
	_ = port.Close()
	if errors.Is(err, io.EOF) {
		s.log.Info("device closed the stream")
		return
	}
	s.log.WithError(err).Warn("read loop terminated")
}
