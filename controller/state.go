// Package controller holds the measurement state machine: which reading the
// wizard is waiting for, what the operator sees, and when the weight screen
// advances on its own.
//
// Step is pure; Controller owns the single State value and feeds it events
// from one ordered queue.
package controller

import (
	"strings"
	"time"

	"github.com/CK6170/Vitals-go/models"
)

// Config is the static policy the state machine runs under.
type Config struct {
	Screens          map[int]models.MeasurementKey
	Aliases          map[string]models.MeasurementKey
	Table            models.Table
	LastScreen       int
	LockOnFirstValid bool
	RetryDelay       time.Duration
	SettleDelay      time.Duration
	Waiting          string
	NoValue          string
}

// NewConfig derives the controller policy from a config file. p must have
// defaults applied.
func NewConfig(p *models.PARAMETERS) Config {
	c := Config{
		Screens:          p.SCREENS,
		Aliases:          make(map[string]models.MeasurementKey, len(p.ALIASES)),
		Table:            models.NewTable(p.RANGES),
		LastScreen:       p.LastScreen(),
		LockOnFirstValid: p.LockOnFirstValid(),
		RetryDelay:       time.Duration(p.RETRYMS) * time.Millisecond,
		SettleDelay:      time.Duration(p.SETTLEMS) * time.Millisecond,
	}
	for alias, k := range p.ALIASES {
		c.Aliases[strings.ToUpper(strings.TrimSpace(alias))] = k
	}
	if p.PLACEHOLDERS != nil {
		c.Waiting = p.PLACEHOLDERS.WAITING
		c.NoValue = p.PLACEHOLDERS.NOVALUE
	}
	return c
}

// KeyForScreen is total: screens without a measurement map to NONE.
func (c Config) KeyForScreen(screen int) models.MeasurementKey {
	return c.Screens[screen]
}

// Resolve maps a wire key ("HR") to a measurement key. Canonical names are
// accepted as-is; anything else resolves to NONE.
func (c Config) Resolve(wire string) models.MeasurementKey {
	if k, ok := c.Aliases[strings.ToUpper(strings.TrimSpace(wire))]; ok {
		return k
	}
	k, err := models.ParseKey(wire)
	if err != nil {
		return models.NONE
	}
	return k
}

// Clamp bounds a screen index to 0..LastScreen.
func (c Config) Clamp(screen int) int {
	switch {
	case screen < 0:
		return 0
	case screen > c.LastScreen:
		return c.LastScreen
	}
	return screen
}

// State is the whole mutable session state. It is only ever replaced by
// Step's return value.
type State struct {
	Screen           int
	AwaitedKey       models.MeasurementKey
	Awaiting         bool
	LastValueByKey   map[models.MeasurementKey]float64
	LockOnFirstValid bool
	LastStableWeight *float64

	// RetryPending is set while a sentinel retry is scheduled.
	RetryPending bool
	// Gen changes on every screen change; WeightEpoch on every scale reset.
	// Timer events carry the values they were issued under.
	Gen         uint64
	WeightEpoch uint64
}

// NewState returns the process-start state: idle on screen 0.
func NewState(cfg Config) State {
	return State{
		LastValueByKey:   map[models.MeasurementKey]float64{},
		LockOnFirstValid: cfg.LockOnFirstValid,
	}
}

// Clone deep-copies s so snapshots can leave the controller goroutine.
func (s State) Clone() State {
	out := s
	out.LastValueByKey = make(map[models.MeasurementKey]float64, len(s.LastValueByKey))
	for k, v := range s.LastValueByKey {
		out.LastValueByKey[k] = v
	}
	if s.LastStableWeight != nil {
		w := *s.LastStableWeight
		out.LastStableWeight = &w
	}
	return out
}

// Phase names the conceptual state: Idle, Awaiting or Satisfied.
func (s State) Phase() string {
	switch {
	case s.AwaitedKey == models.NONE:
		return "idle"
	case s.Awaiting:
		return "awaiting"
	default:
		return "satisfied"
	}
}

// awaits reports whether a reading for key would be applied to the display.
func (s State) awaits(key models.MeasurementKey) bool {
	return s.Awaiting && s.AwaitedKey == key
}

func withValue(m map[models.MeasurementKey]float64, k models.MeasurementKey, v float64) map[models.MeasurementKey]float64 {
	out := make(map[models.MeasurementKey]float64, len(m)+1)
	for kk, vv := range m {
		out[kk] = vv
	}
	out[k] = v
	return out
}
