package controller

import (
	"time"

	"github.com/CK6170/Vitals-go/models"
)

// Event is anything the controller queue accepts.
type Event interface{ event() }

// ScreenChanged enters Screen.
type ScreenChanged struct{ Screen int }

// Navigate moves Delta screens from the current one, clamped to the wizard.
// Delta 0 re-enters the current screen. When Reply is set it receives the
// screen the controller ended on.
type Navigate struct {
	Delta int
	Reply chan<- int
}

// SerialLine is one parsed telemetry line. Key is the wire key as sent by
// the device; Sentinel marks NA/OUT.
type SerialLine struct {
	Key      string
	Token    string
	Value    float64
	Sentinel bool
}

// WeightUpdate is a push from the scale bridge.
type WeightUpdate struct {
	Kg     float64
	Stable bool
}

// WeightReset means the bridge cleared its weighing cycle.
type WeightReset struct{}

// RetryDue fires RetryDelay after a sentinel reply.
type RetryDue struct {
	Key models.MeasurementKey
	Gen uint64
}

// SettleDue fires SettleDelay after a new stable weight.
type SettleDue struct {
	Gen   uint64
	Epoch uint64
}

func (ScreenChanged) event() {}
func (Navigate) event()      {}
func (SerialLine) event()    {}
func (WeightUpdate) event()  {}
func (WeightReset) event()   {}
func (RetryDue) event()      {}
func (SettleDue) event()     {}

// Effect is a side effect Step asks the runtime to perform.
type Effect interface{ effect() }

// Show sets the displayed text for Key.
type Show struct {
	Key  models.MeasurementKey
	Text string
}

// Request asks the serial session to send the command for Key.
type Request struct{ Key models.MeasurementKey }

// Schedule posts Event back into the queue after After.
type Schedule struct {
	After time.Duration
	Event Event
}

// Advance moves the wizard to the next screen.
type Advance struct{}

func (Show) effect()     {}
func (Request) effect()  {}
func (Schedule) effect() {}
func (Advance) effect()  {}

// Reading is a classified serial value.
type Reading struct {
	Key   models.MeasurementKey
	Value float64
	Valid bool
}

// Classify resolves the wire key and range-checks the value. Sentinel lines
// are never valid.
func (c Config) Classify(l SerialLine) Reading {
	key := c.Resolve(l.Key)
	if key == models.NONE || l.Sentinel {
		return Reading{Key: key}
	}
	return Reading{Key: key, Value: l.Value, Valid: c.Table.Lookup(key).InRange(l.Value)}
}

// Step applies one event to s and returns the next state plus the effects to
// run, in order.
func Step(cfg Config, s State, ev Event) (State, []Effect) {
	switch e := ev.(type) {
	case ScreenChanged:
		return onScreenChange(cfg, s, e)
	case Navigate:
		return onScreenChange(cfg, s, ScreenChanged{Screen: cfg.Clamp(s.Screen + e.Delta)})
	case SerialLine:
		return onSerialLine(cfg, s, e)
	case WeightUpdate:
		return onWeightUpdate(cfg, s, e)
	case WeightReset:
		return onWeightReset(cfg, s)
	case RetryDue:
		return onRetryDue(s, e)
	case SettleDue:
		return onSettleDue(cfg, s, e)
	}
	return s, nil
}

func onScreenChange(cfg Config, s State, e ScreenChanged) (State, []Effect) {
	s.Screen = e.Screen
	s.Gen++
	s.RetryPending = false

	key := cfg.KeyForScreen(e.Screen)
	if key == models.NONE {
		s.AwaitedKey = models.NONE
		s.Awaiting = false
		return s, nil
	}
	s.AwaitedKey = key
	s.Awaiting = true

	effects := []Effect{Show{Key: key, Text: cfg.Waiting}}
	if key != models.WEIGHT {
		effects = append(effects, Request{Key: key})
	}
	return s, effects
}

func onSerialLine(cfg Config, s State, e SerialLine) (State, []Effect) {
	if e.Sentinel {
		key := cfg.Resolve(e.Key)
		if key == models.NONE || !s.awaits(key) {
			return s, nil
		}
		effects := []Effect{Show{Key: key, Text: cfg.NoValue}}
		if !s.RetryPending {
			s.RetryPending = true
			effects = append(effects, Schedule{After: cfg.RetryDelay, Event: RetryDue{Key: key, Gen: s.Gen}})
		}
		return s, effects
	}

	r := cfg.Classify(e)
	if !r.Valid {
		return s, nil
	}
	s.LastValueByKey = withValue(s.LastValueByKey, r.Key, r.Value)
	if !s.awaits(r.Key) {
		return s, nil
	}
	if s.LockOnFirstValid {
		s.Awaiting = false
	}
	return s, []Effect{Show{Key: r.Key, Text: cfg.Table.Lookup(r.Key).Format(r.Value)}}
}

func onWeightUpdate(cfg Config, s State, e WeightUpdate) (State, []Effect) {
	if cfg.KeyForScreen(s.Screen) != models.WEIGHT {
		return s, nil
	}
	spec := cfg.Table.Lookup(models.WEIGHT)
	text := spec.FormatUnclamped(e.Kg)
	if !e.Stable {
		return s, []Effect{Show{Key: models.WEIGHT, Text: text}}
	}
	if s.LastStableWeight != nil && *s.LastStableWeight == e.Kg {
		return s, nil
	}

	kg := e.Kg
	s.LastStableWeight = &kg
	if spec.InRange(kg) {
		s.LastValueByKey = withValue(s.LastValueByKey, models.WEIGHT, kg)
	}
	if s.LockOnFirstValid && s.awaits(models.WEIGHT) {
		s.Awaiting = false
	}
	return s, []Effect{
		Show{Key: models.WEIGHT, Text: text},
		Schedule{After: cfg.SettleDelay, Event: SettleDue{Gen: s.Gen, Epoch: s.WeightEpoch}},
	}
}

func onWeightReset(cfg Config, s State) (State, []Effect) {
	s.LastStableWeight = nil
	s.WeightEpoch++
	if cfg.KeyForScreen(s.Screen) != models.WEIGHT {
		return s, nil
	}
	s.AwaitedKey = models.WEIGHT
	s.Awaiting = true
	return s, []Effect{Show{Key: models.WEIGHT, Text: cfg.Waiting}}
}

func onRetryDue(s State, e RetryDue) (State, []Effect) {
	if e.Gen != s.Gen {
		return s, nil
	}
	s.RetryPending = false
	if !s.awaits(e.Key) {
		return s, nil
	}
	return s, []Effect{Request{Key: e.Key}}
}

func onSettleDue(cfg Config, s State, e SettleDue) (State, []Effect) {
	if e.Gen != s.Gen || e.Epoch != s.WeightEpoch {
		return s, nil
	}
	if cfg.KeyForScreen(s.Screen) != models.WEIGHT {
		return s, nil
	}
	return s, []Effect{Advance{}}
}
