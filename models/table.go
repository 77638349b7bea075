package models

import (
	"math"
	"strconv"
	"strings"
)

// Spec is one row of the range/format table.
//
// HasRange is false for keys without a declared interval; such keys accept
// any finite value and format as a plain number.
type Spec struct {
	Key      MeasurementKey
	HasRange bool
	Min      float64
	Max      float64
	Unit     string
	Decimals int
	Round    bool
}

// Table maps measurement keys to their valid range and display rule.
type Table map[MeasurementKey]Spec

// NewTable builds the lookup table from the RANGES section of a config.
func NewTable(ranges map[MeasurementKey]*RANGE) Table {
	t := make(Table, len(ranges))
	for k, r := range ranges {
		if r == nil {
			continue
		}
		t[k] = Spec{
			Key:      k,
			HasRange: true,
			Min:      r.MIN,
			Max:      r.MAX,
			Unit:     strings.TrimSpace(r.UNIT),
			Decimals: r.DECIMALS,
			Round:    r.ROUND,
		}
	}
	return t
}

// Lookup never fails: an unknown key yields "no constraint, plain number".
func (t Table) Lookup(k MeasurementKey) Spec {
	if s, ok := t[k]; ok {
		return s
	}
	return Spec{Key: k, Decimals: -1}
}

// InRange reports whether v lies within the inclusive interval.
func (s Spec) InRange(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	if !s.HasRange {
		return true
	}
	return v >= s.Min && v <= s.Max
}

// Clamp pins v to [Min, Max].
func (s Spec) Clamp(v float64) float64 {
	if !s.HasRange {
		return v
	}
	return math.Min(math.Max(v, s.Min), s.Max)
}

// Format renders v clamped to the valid range.
func (s Spec) Format(v float64) string {
	return s.FormatUnclamped(s.Clamp(v))
}

// FormatUnclamped renders v with the configured precision and unit suffix.
func (s Spec) FormatUnclamped(v float64) string {
	var out string
	switch {
	case s.Round:
		out = strconv.FormatFloat(math.Round(v), 'f', 0, 64)
	case s.Decimals >= 0 && s.HasRange:
		out = strconv.FormatFloat(v, 'f', s.Decimals, 64)
	default:
		out = strconv.FormatFloat(v, 'f', -1, 64)
	}
	if s.Unit == "" {
		return out
	}
	return out + " " + s.Unit
}
