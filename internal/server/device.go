package server

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/CK6170/Vitals-go/models"
	serialpkg "github.com/CK6170/Vitals-go/serial"
	"github.com/sirupsen/logrus"
)

// detachWait bounds how long a disconnect waits for the old read loop.
const detachWait = time.Second

// DeviceSession owns the (at most one) serial session with the sensor board
// and is the controller's Requester.
type DeviceSession struct {
	// Opener and Ports are handed to every new serial session; tests replace them.
	Opener serialpkg.OpenFunc
	Ports  func() []serialpkg.PortInfo

	ctx    context.Context
	params *models.PARAMETERS
	cache  *PortCache
	onLine func(serialpkg.Line)
	log    *logrus.Entry

	mu   sync.Mutex
	sess *serialpkg.Session
}

func newDeviceSession(ctx context.Context, p *models.PARAMETERS, cache *PortCache, onLine func(serialpkg.Line), log *logrus.Entry) *DeviceSession {
	return &DeviceSession{
		Opener: serialpkg.OpenPort,
		Ports:  serialpkg.ListPorts,
		ctx:    ctx,
		params: p,
		cache:  cache,
		onLine: onLine,
		log:    log,
	}
}

// Connect replaces the current session with a new one.
//
// Port precedence: the explicit port argument, then SERIAL.PORT from the
// config, then the port cache, then enumeration. A cached port that fails to
// open is forgotten for this attempt and enumeration is tried instead.
func (d *DeviceSession) Connect(port string) (ConnectResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnectLocked()

	configured := ""
	if d.params.SERIAL != nil {
		configured = strings.TrimSpace(d.params.SERIAL.PORT)
	}
	requested := strings.TrimSpace(port)
	key := deviceKey(d.params)

	candidate := requested
	fromCache := false
	if candidate == "" {
		candidate = configured
	}
	if candidate == "" {
		if cached := d.cache.Get(key); cached != "" {
			candidate = cached
			fromCache = true
		}
	}

	var trace []string
	sess, err := d.open(candidate)
	trace = append(trace, sess.Trace()...)
	if err != nil && fromCache {
		d.log.WithField("port", candidate).WithError(err).Warn("cached port failed, scanning")
		sess, err = d.open("")
		trace = append(trace, sess.Trace()...)
	}
	if err != nil {
		return ConnectResponse{Port: candidate, AutoDetectLog: trace}, err
	}

	d.sess = sess
	name := sess.PortName()
	d.cache.Set(key, name)
	baud := 0
	if d.params.SERIAL != nil {
		baud = d.params.SERIAL.BAUDRATE
	}
	return ConnectResponse{
		Connected:     true,
		Port:          name,
		Baud:          baud,
		AutoDetectLog: trace,
		PortUpdated:   requested == "" && !strings.EqualFold(name, configured),
	}, nil
}

func (d *DeviceSession) open(port string) (*serialpkg.Session, error) {
	p := *d.params
	ser := models.SERIAL{}
	if d.params.SERIAL != nil {
		ser = *d.params.SERIAL
	}
	ser.PORT = port
	p.SERIAL = &ser

	sess := serialpkg.NewSession(&p, d.onLine, d.log)
	if d.Opener != nil {
		sess.Opener = d.Opener
	}
	if d.Ports != nil {
		sess.Ports = d.Ports
	}
	return sess, sess.Open(d.ctx)
}

// Disconnect closes the current session, if any.
func (d *DeviceSession) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnectLocked()
}

// disconnectLocked closes the session and waits for its read loop so a
// reconnect on the same port never shares bytes with the old loop.
func (d *DeviceSession) disconnectLocked() {
	if d.sess == nil {
		return
	}
	sess := d.sess
	name := sess.PortName()
	d.sess = nil
	_ = sess.Close()
	select {
	case <-sess.Done():
	case <-time.After(detachWait):
		d.log.WithField("port", name).Warn("read loop still running after close")
	}
}

// Status reports whether a session is open and on which port.
func (d *DeviceSession) Status() SerialStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess == nil || !d.sess.Connected() {
		return SerialStatus{}
	}
	return SerialStatus{Connected: true, Port: d.sess.PortName()}
}

// SendRequest forwards to the open session. Without one the request is
// dropped with a warning; the operator reconnects and re-requests.
func (d *DeviceSession) SendRequest(key models.MeasurementKey) {
	d.mu.Lock()
	sess := d.sess
	d.mu.Unlock()
	if sess == nil {
		d.log.WithField("key", key).Warn("request dropped: no serial session")
		return
	}
	sess.SendRequest(key)
}
