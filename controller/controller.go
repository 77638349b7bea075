package controller

import (
	"context"
	"sync"
	"time"

	"github.com/CK6170/Vitals-go/models"
	"github.com/sirupsen/logrus"
)

// Display is the UI sink: the controller is its only writer.
type Display interface {
	Show(key models.MeasurementKey, text string)
}

// Requester sends device request commands (the serial session).
type Requester interface {
	SendRequest(key models.MeasurementKey)
}

// Navigator is the wizard's page flow. Successor picks the screen that
// follows a settled weight; Entered is told about every screen the
// controller enters, after the state change and before its effects run.
type Navigator interface {
	Successor(screen int) int
	Entered(screen int)
}

// queueSize bounds the event queue; producers block when it is full.
const queueSize = 256

// Controller serialises every event through one goroutine (Run), so Step
// never sees concurrent input.
type Controller struct {
	cfg       Config
	display   Display
	requester Requester
	nav       Navigator
	log       *logrus.Entry

	// AfterFunc schedules timer events; tests may replace it before Run.
	AfterFunc func(d time.Duration, f func())

	events chan Event
	done   chan struct{}

	mu    sync.RWMutex
	state State
}

// New builds a controller in the initial idle state. Any collaborator may
// be nil, in which case the matching effects are dropped.
func New(cfg Config, display Display, requester Requester, nav Navigator, log *logrus.Entry) *Controller {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Controller{
		cfg:       cfg,
		display:   display,
		requester: requester,
		nav:       nav,
		log:       log.WithField("component", "controller"),
		AfterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		events:    make(chan Event, queueSize),
		done:      make(chan struct{}),
		state:     NewState(cfg),
	}
}

// Post enqueues ev. It is safe from any goroutine and becomes a no-op once
// Run has returned.
func (c *Controller) Post(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// Run consumes the queue until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Controller) handle(ev Event) {
	c.mu.Lock()
	prev := c.state
	next, effects := Step(c.cfg, prev, ev)
	c.state = next
	c.mu.Unlock()

	if next.Gen != prev.Gen && c.nav != nil {
		c.nav.Entered(next.Screen)
	}

	c.log.WithField("event", eventName(ev)).
		WithField("phase", next.Phase()).
		WithField("awaited", next.AwaitedKey).
		WithField("effects", len(effects)).
		Debug("event handled")

	for _, e := range effects {
		c.apply(e)
	}

	if nav, ok := ev.(Navigate); ok && nav.Reply != nil {
		select {
		case nav.Reply <- c.state.Screen:
		default:
		}
	}
}

func (c *Controller) apply(e Effect) {
	switch x := e.(type) {
	case Show:
		if c.display != nil {
			c.display.Show(x.Key, x.Text)
		}
	case Request:
		if c.requester != nil {
			c.requester.SendRequest(x.Key)
		}
	case Schedule:
		ev := x.Event
		c.AfterFunc(x.After, func() { c.Post(ev) })
	case Advance:
		// Only Run's goroutine writes c.state, so this read needs no lock.
		from := c.state.Screen
		screen := from + 1
		if c.nav != nil {
			screen = c.nav.Successor(from)
		}
		screen = c.cfg.Clamp(screen)
		c.log.WithField("screen", screen).Info("weight settled, advancing")
		c.handle(ScreenChanged{Screen: screen})
	}
}

func eventName(ev Event) string {
	switch ev.(type) {
	case ScreenChanged:
		return "screen"
	case Navigate:
		return "navigate"
	case SerialLine:
		return "serial"
	case WeightUpdate:
		return "weight"
	case WeightReset:
		return "weight-reset"
	case RetryDue:
		return "retry"
	case SettleDue:
		return "settle"
	}
	return "unknown"
}
