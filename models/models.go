// Package models defines the JSON-serialized configuration structures shared
// between the measurement controller, the serial/weight sessions and the web
// server.
//
// These types mirror the shape of `config.json`.
package models

import (
	"fmt"
	"strings"
)

// MeasurementKey identifies both a physical quantity and the UI target that
// displays it.
type MeasurementKey string

const (
	// NONE marks screens that have no associated measurement.
	NONE          MeasurementKey = ""
	WEIGHT        MeasurementKey = "WEIGHT"
	HEIGHT        MeasurementKey = "HEIGHT"
	HEART_RATE    MeasurementKey = "HEART_RATE"
	SPO2          MeasurementKey = "SPO2"
	TEMPERATURE   MeasurementKey = "TEMPERATURE"
	SKIN_RESPONSE MeasurementKey = "SKIN_RESPONSE"
)

// Keys lists every measurement key in wizard order.
var Keys = []MeasurementKey{WEIGHT, HEIGHT, HEART_RATE, SPO2, TEMPERATURE, SKIN_RESPONSE}

// String implements fmt.Stringer.
func (k MeasurementKey) String() string {
	if k == NONE {
		return "NONE"
	}
	return string(k)
}

// Valid reports whether k is one of the enumerated keys.
func (k MeasurementKey) Valid() bool {
	for _, v := range Keys {
		if v == k {
			return true
		}
	}
	return false
}

// ParseKey resolves a case-insensitive key name.
func ParseKey(s string) (MeasurementKey, error) {
	k := MeasurementKey(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return NONE, fmt.Errorf("unknown measurement key %q", s)
	}
	return k, nil
}

// PARAMETERS is the primary configuration model (the typical `config.json`).
//
// Everything here is static for the process lifetime.
type PARAMETERS struct {
	SERIAL           *SERIAL                   `json:"SERIAL"`
	WEIGHT           *WEIGHTCHANNEL            `json:"WEIGHT,omitempty"`
	LOCKONFIRSTVALID *bool                     `json:"LOCKONFIRSTVALID,omitempty"`
	RETRYMS          int                       `json:"RETRYMS,omitempty"`
	SETTLEMS         int                       `json:"SETTLEMS,omitempty"`
	SCREENS          map[int]MeasurementKey    `json:"SCREENS,omitempty"`
	COMMANDS         map[MeasurementKey]string `json:"COMMANDS,omitempty"`
	ALIASES          map[string]MeasurementKey `json:"ALIASES,omitempty"`
	RANGES           map[MeasurementKey]*RANGE `json:"RANGES,omitempty"`
	PLACEHOLDERS     *PLACEHOLDERS             `json:"PLACEHOLDERS,omitempty"`
	DEBUG            bool                      `json:"DEBUG"`
}

// SERIAL contains the serial-port connection settings used to talk to the
// sensor microcontroller.
type SERIAL struct {
	PORT     string `json:"PORT"`
	BAUDRATE int    `json:"BAUDRATE"`
}

// WEIGHTCHANNEL points at the scale bridge WebSocket.
type WEIGHTCHANNEL struct {
	URL       string `json:"URL"`
	BACKOFFMS int    `json:"BACKOFFMS,omitempty"`
}

// RANGE is the per-key valid interval plus its display rule.
type RANGE struct {
	MIN      float64 `json:"MIN"`
	MAX      float64 `json:"MAX"`
	UNIT     string  `json:"UNIT,omitempty"`
	DECIMALS int     `json:"DECIMALS,omitempty"`
	ROUND    bool    `json:"ROUND,omitempty"`
}

// PLACEHOLDERS are the texts shown while a value is pending or missing.
type PLACEHOLDERS struct {
	WAITING string `json:"WAITING"`
	NOVALUE string `json:"NOVALUE"`
}

// LockOnFirstValid returns the configured flag, true when unset.
func (p *PARAMETERS) LockOnFirstValid() bool {
	if p == nil || p.LOCKONFIRSTVALID == nil {
		return true
	}
	return *p.LOCKONFIRSTVALID
}

// LastScreen is one past the highest measurement screen: the summary.
func (p *PARAMETERS) LastScreen() int {
	last := 0
	for idx := range p.SCREENS {
		if idx > last {
			last = idx
		}
	}
	return last + 1
}

// DefaultParameters returns the stock wizard layout.
//
// Screen 5 is the weight screen; the vitals follow it in order.
func DefaultParameters() *PARAMETERS {
	lock := true
	return &PARAMETERS{
		SERIAL:           &SERIAL{BAUDRATE: 115200},
		WEIGHT:           &WEIGHTCHANNEL{URL: "ws://127.0.0.1:8765", BACKOFFMS: 1500},
		LOCKONFIRSTVALID: &lock,
		RETRYMS:          1000,
		SETTLEMS:         1000,
		SCREENS: map[int]MeasurementKey{
			5:  WEIGHT,
			6:  HEIGHT,
			7:  TEMPERATURE,
			8:  HEART_RATE,
			9:  SPO2,
			10: SKIN_RESPONSE,
		},
		COMMANDS: map[MeasurementKey]string{
			HEART_RATE:    "OXI",
			SPO2:          "OXI",
			HEIGHT:        "ALTURA",
			TEMPERATURE:   "TEMP",
			SKIN_RESPONSE: "GSR",
		},
		ALIASES: map[string]MeasurementKey{
			"HR":          HEART_RATE,
			"BPM":         HEART_RATE,
			"SPO2":        SPO2,
			"OXI":         SPO2,
			"TEMP":        TEMPERATURE,
			"TEMPERATURA": TEMPERATURE,
			"ALTURA":      HEIGHT,
			"HEIGHT":      HEIGHT,
			"GSR":         SKIN_RESPONSE,
			"PESO":        WEIGHT,
			"WEIGHT":      WEIGHT,
		},
		RANGES: map[MeasurementKey]*RANGE{
			WEIGHT:        {MIN: 5, MAX: 150, UNIT: "kg", DECIMALS: 2},
			HEIGHT:        {MIN: 50, MAX: 250, UNIT: "cm", DECIMALS: 1},
			HEART_RATE:    {MIN: 30, MAX: 220, UNIT: "bpm", ROUND: true},
			SPO2:          {MIN: 70, MAX: 100, UNIT: "%", ROUND: true},
			TEMPERATURE:   {MIN: 30, MAX: 45, UNIT: "°C", DECIMALS: 1},
			SKIN_RESPONSE: {MIN: 0, MAX: 4095, ROUND: true},
		},
		PLACEHOLDERS: &PLACEHOLDERS{WAITING: "waiting…", NOVALUE: "--"},
	}
}

// ApplyDefaults fills every section left empty in p from DefaultParameters.
func (p *PARAMETERS) ApplyDefaults() {
	d := DefaultParameters()
	if p.SERIAL == nil {
		p.SERIAL = d.SERIAL
	}
	if p.SERIAL.BAUDRATE <= 0 {
		p.SERIAL.BAUDRATE = d.SERIAL.BAUDRATE
	}
	if p.WEIGHT == nil {
		p.WEIGHT = d.WEIGHT
	}
	if p.WEIGHT.BACKOFFMS <= 0 {
		p.WEIGHT.BACKOFFMS = d.WEIGHT.BACKOFFMS
	}
	if p.LOCKONFIRSTVALID == nil {
		p.LOCKONFIRSTVALID = d.LOCKONFIRSTVALID
	}
	if p.RETRYMS <= 0 {
		p.RETRYMS = d.RETRYMS
	}
	if p.SETTLEMS <= 0 {
		p.SETTLEMS = d.SETTLEMS
	}
	if len(p.SCREENS) == 0 {
		p.SCREENS = d.SCREENS
	}
	if len(p.COMMANDS) == 0 {
		p.COMMANDS = d.COMMANDS
	}
	if len(p.ALIASES) == 0 {
		p.ALIASES = d.ALIASES
	}
	if len(p.RANGES) == 0 {
		p.RANGES = d.RANGES
	}
	if p.PLACEHOLDERS == nil {
		p.PLACEHOLDERS = d.PLACEHOLDERS
	}
}

// Validate checks that every key referenced by the config is a known one.
func (p *PARAMETERS) Validate() error {
	for screen, k := range p.SCREENS {
		if k != NONE && !k.Valid() {
			return fmt.Errorf("SCREENS[%d]: unknown key %q", screen, k)
		}
	}
	for k := range p.COMMANDS {
		if !k.Valid() {
			return fmt.Errorf("COMMANDS: unknown key %q", k)
		}
	}
	if cmd, ok := p.COMMANDS[WEIGHT]; ok && cmd != "" {
		return fmt.Errorf("COMMANDS: WEIGHT is push-only and cannot have a request command")
	}
	for alias, k := range p.ALIASES {
		if !k.Valid() {
			return fmt.Errorf("ALIASES[%s]: unknown key %q", alias, k)
		}
	}
	for k, r := range p.RANGES {
		if !k.Valid() {
			return fmt.Errorf("RANGES: unknown key %q", k)
		}
		if r != nil && r.MIN > r.MAX {
			return fmt.Errorf("RANGES[%s]: MIN %v > MAX %v", k, r.MIN, r.MAX)
		}
	}
	return nil
}
