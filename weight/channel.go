package weight

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/CK6170/Vitals-go/models"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// DefaultBackoff is the flat delay between reconnect attempts.
const DefaultBackoff = 1500 * time.Millisecond

// Channel is the client side of the bridge WebSocket. It reconnects forever
// with a flat backoff; the bridge is expected to come and go.
type Channel struct {
	URL     string
	Backoff time.Duration
	Dialer  *websocket.Dialer

	onMessage func(Message)
	log       *logrus.Entry

	connected atomic.Bool
	attempts  atomic.Int64
}

// NewChannel builds a channel for p.WEIGHT. onMessage runs on the channel
// goroutine.
func NewChannel(p *models.PARAMETERS, onMessage func(Message), log *logrus.Entry) *Channel {
	c := &Channel{
		Backoff:   DefaultBackoff,
		Dialer:    &websocket.Dialer{HandshakeTimeout: 3 * time.Second},
		onMessage: onMessage,
		log:       log,
	}
	if p != nil && p.WEIGHT != nil {
		c.URL = p.WEIGHT.URL
		if p.WEIGHT.BACKOFFMS > 0 {
			c.Backoff = time.Duration(p.WEIGHT.BACKOFFMS) * time.Millisecond
		}
	}
	if c.log == nil {
		c.log = logrus.NewEntry(logrus.StandardLogger())
	}
	c.log = c.log.WithField("component", "weight")
	return c
}

// Connected reports whether a bridge connection is currently up.
func (c *Channel) Connected() bool { return c.connected.Load() }

// Attempts is the number of dial attempts made so far.
func (c *Channel) Attempts() int64 { return c.attempts.Load() }

// Run blocks until ctx is cancelled.
func (c *Channel) Run(ctx context.Context) {
	c.log.WithField("url", c.URL).WithField("backoff", c.Backoff).Info("start")
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		c.log.WithError(err).WithField("retry_in", c.Backoff).Warn("disconnected")
		if !sleepWithContext(ctx, c.Backoff) {
			return
		}
	}
}

func (c *Channel) session(ctx context.Context) error {
	c.attempts.Add(1)
	conn, _, err := c.Dialer.DialContext(ctx, c.URL, http.Header{})
	if err != nil {
		return err
	}
	defer conn.Close()

	c.connected.Store(true)
	defer c.connected.Store(false)
	c.log.WithField("url", c.URL).Info("connected")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, ok := Decode(data)
		if !ok {
			c.log.WithField("raw", string(data)).Debug("message ignored")
			continue
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
