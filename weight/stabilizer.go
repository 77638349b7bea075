package weight

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stabilizer decides when a stream of raw scale samples has settled.
//
// It keeps the last Window in-range samples; once the window is full and its
// spread is within Tolerance, the rounded mean is reported as stable exactly
// once per weighing cycle. A cycle ends after IdleReset without samples.
type Stabilizer struct {
	Window    int
	Tolerance float64
	Min, Max  float64
	IdleReset time.Duration

	samples  []float64
	sent     bool
	lastSeen time.Time
}

// Verdict is the outcome of one observed sample.
type Verdict struct {
	Accepted bool
	Live     float64
	Stable   bool
	Settled  float64
}

// NewStabilizer returns the defaults the bridge ships with: 3 samples,
// 0.1 kg spread, 5–150 kg sanity range, 20 s idle reset.
func NewStabilizer() *Stabilizer {
	return &Stabilizer{
		Window:    3,
		Tolerance: 0.1,
		Min:       5,
		Max:       150,
		IdleReset: 20 * time.Second,
	}
}

// Observe feeds one raw sample taken at now.
func (s *Stabilizer) Observe(now time.Time, kg float64) Verdict {
	if !finite(kg) || kg < s.Min || kg > s.Max {
		return Verdict{}
	}
	s.lastSeen = now
	s.samples = append(s.samples, kg)
	if len(s.samples) > s.Window {
		s.samples = s.samples[len(s.samples)-s.Window:]
	}

	v := Verdict{Accepted: true, Live: kg}
	if s.sent || len(s.samples) < s.Window {
		return v
	}
	if floats.Max(s.samples)-floats.Min(s.samples) > s.Tolerance {
		return v
	}
	s.sent = true
	v.Stable = true
	v.Settled = math.Round(stat.Mean(s.samples, nil)*100) / 100
	return v
}

// Expire ends the current cycle when no sample arrived for IdleReset.
// It reports whether a reset happened.
func (s *Stabilizer) Expire(now time.Time) bool {
	if s.lastSeen.IsZero() || now.Sub(s.lastSeen) <= s.IdleReset {
		return false
	}
	s.Reset()
	return true
}

// Reset clears the window and re-arms the stable report.
func (s *Stabilizer) Reset() {
	s.samples = s.samples[:0]
	s.sent = false
	s.lastSeen = time.Time{}
}
