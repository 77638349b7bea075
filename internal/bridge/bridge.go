// Package bridge turns a serial platform scale into the weight push channel
// the wizard listens to: raw samples in, stabilised weight JSON out over
// WebSocket.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/CK6170/Vitals-go/internal/hub"
	"github.com/CK6170/Vitals-go/weight"
	"github.com/sirupsen/logrus"
)

// TickInterval is how often idle expiry is checked.
const TickInterval = time.Second

// Bridge fans stabiliser verdicts out to every connected wizard.
type Bridge struct {
	// Now is the clock used by Run; tests replace it.
	Now func() time.Time

	hub *hub.Hub
	log *logrus.Entry

	mu   sync.Mutex
	stab *weight.Stabilizer
}

// New builds a bridge around stab (weight.NewStabilizer when nil).
func New(stab *weight.Stabilizer, log *logrus.Entry) *Bridge {
	if stab == nil {
		stab = weight.NewStabilizer()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	b := &Bridge{
		Now:  time.Now,
		hub:  hub.New(),
		log:  log.WithField("component", "bridge"),
		stab: stab,
	}
	b.hub.OnJoin = func(c *hub.Client) {
		_ = c.Send(weight.StatusEnvelope("connected"))
		b.log.Info("client connected")
	}
	return b
}

// Handler serves the WebSocket on every path.
func (b *Bridge) Handler() http.Handler {
	return http.HandlerFunc(b.hub.Serve)
}

// Clients is the number of connected wizards.
func (b *Bridge) Clients() int { return b.hub.Len() }

// Ingest feeds one raw sample. Every accepted sample is pushed as a live
// reading; the settled mean follows once per weighing cycle.
func (b *Bridge) Ingest(now time.Time, kg float64) {
	b.mu.Lock()
	reset := b.stab.Expire(now)
	v := b.stab.Observe(now, kg)
	b.mu.Unlock()

	if reset {
		b.broadcastReset()
	}
	if !v.Accepted {
		b.log.WithField("kg", kg).Debug("sample outside sanity range")
		return
	}
	b.hub.Broadcast(weight.WeightEnvelope(v.Live, false))
	if v.Stable {
		b.log.WithField("kg", v.Settled).Info("weight stabilised")
		b.hub.Broadcast(weight.WeightEnvelope(v.Settled, true))
	}
}

// Tick ends an idle weighing cycle and tells clients to clear the weight.
func (b *Bridge) Tick(now time.Time) bool {
	b.mu.Lock()
	reset := b.stab.Expire(now)
	b.mu.Unlock()
	if reset {
		b.broadcastReset()
	}
	return reset
}

func (b *Bridge) broadcastReset() {
	b.log.Info("window reset, new weighing cycle")
	b.hub.Broadcast(weight.StatusEnvelope("reset"))
}

// Run reads scale lines from src until it fails or ctx ends. src is closed
// when ctx is cancelled so a blocked read returns.
func (b *Bridge) Run(ctx context.Context, src io.ReadCloser) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = src.Close()
	}()
	go func() {
		t := time.NewTicker(TickInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				b.Tick(b.Now())
			}
		}
	}()

	sc := bufio.NewScanner(src)
	sc.Split(scanLines)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		kg, ok := weight.ParseScaleLine(line)
		if !ok {
			b.log.WithField("raw", line).Debug("line dropped")
			continue
		}
		b.Ingest(b.Now(), kg)
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return io.EOF
}

// scanLines splits on \r, \n or \r\n; many scales end frames with a bare CR.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	for i, c := range data {
		if c != '\r' && c != '\n' {
			continue
		}
		adv := i + 1
		if c == '\r' && adv < len(data) && data[adv] == '\n' {
			adv++
		}
		return adv, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
