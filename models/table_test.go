package models

import (
	"math"
	"testing"
)

func TestTableFormat(t *testing.T) {
	table := NewTable(DefaultParameters().RANGES)

	tests := []struct {
		name string
		key  MeasurementKey
		v    float64
		want string
	}{
		{name: "heart-rate-rounds", key: HEART_RATE, v: 187.4, want: "187 bpm"},
		{name: "heart-rate-rounds-up", key: HEART_RATE, v: 72.5, want: "73 bpm"},
		{name: "weight-two-decimals", key: WEIGHT, v: 62.3, want: "62.30 kg"},
		{name: "temperature-one-decimal", key: TEMPERATURE, v: 36.55, want: "36.5 °C"},
		{name: "spo2-percent", key: SPO2, v: 97.6, want: "98 %"},
		{name: "gsr-no-unit", key: SKIN_RESPONSE, v: 512.2, want: "512"},
		{name: "clamped-high", key: SPO2, v: 101, want: "100 %"},
		{name: "unknown-key-plain", key: MeasurementKey("FOO"), v: 12.25, want: "12.25"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := table.Lookup(tc.key).Format(tc.v)
			if got != tc.want {
				t.Fatalf("format mismatch: got=%q want=%q", got, tc.want)
			}
		})
	}
}

func TestTableInRange(t *testing.T) {
	spec := NewTable(DefaultParameters().RANGES).Lookup(HEART_RATE)

	for _, v := range []float64{30, 100, 220} {
		if !spec.InRange(v) {
			t.Fatalf("expected %v in range", v)
		}
	}
	for _, v := range []float64{29.9, 220.1, 400, math.NaN(), math.Inf(1)} {
		if spec.InRange(v) {
			t.Fatalf("expected %v out of range", v)
		}
	}
}

func TestTableUnknownKeyHasNoConstraint(t *testing.T) {
	spec := Table{}.Lookup(HEIGHT)
	if spec.HasRange {
		t.Fatalf("expected no range for missing key")
	}
	if !spec.InRange(-1e9) {
		t.Fatalf("expected unconstrained key to accept any finite value")
	}
	if got := spec.Clamp(-5); got != -5 {
		t.Fatalf("clamp should be identity, got=%v", got)
	}
}

func TestParametersValidate(t *testing.T) {
	p := DefaultParameters()
	if err := p.Validate(); err != nil {
		t.Fatalf("default parameters invalid: %v", err)
	}

	p.COMMANDS[WEIGHT] = "PESO"
	if err := p.Validate(); err == nil {
		t.Fatalf("expected error for WEIGHT request command")
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	lock := false
	p := &PARAMETERS{
		SERIAL:           &SERIAL{PORT: "/dev/ttyACM0"},
		LOCKONFIRSTVALID: &lock,
		RETRYMS:          250,
	}
	p.ApplyDefaults()

	if p.SERIAL.PORT != "/dev/ttyACM0" || p.SERIAL.BAUDRATE != 115200 {
		t.Fatalf("serial mismatch: %+v", p.SERIAL)
	}
	if p.LockOnFirstValid() {
		t.Fatalf("explicit LOCKONFIRSTVALID=false was overwritten")
	}
	if p.RETRYMS != 250 || p.SETTLEMS != 1000 {
		t.Fatalf("timing mismatch: retry=%d settle=%d", p.RETRYMS, p.SETTLEMS)
	}
	if p.SCREENS[8] != HEART_RATE {
		t.Fatalf("screen table not defaulted: %v", p.SCREENS)
	}
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey(" heart_rate ")
	if err != nil || k != HEART_RATE {
		t.Fatalf("ParseKey mismatch: k=%v err=%v", k, err)
	}
	if _, err := ParseKey("pulse"); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestLastScreenFollowsHighestMeasurement(t *testing.T) {
	p := DefaultParameters()
	if got := p.LastScreen(); got != 11 {
		t.Fatalf("last screen mismatch: got=%d", got)
	}
	p.SCREENS = map[int]MeasurementKey{2: WEIGHT}
	if got := p.LastScreen(); got != 3 {
		t.Fatalf("last screen mismatch: got=%d", got)
	}
}

func TestFormatUnclampedKeepsValue(t *testing.T) {
	spec := NewTable(DefaultParameters().RANGES).Lookup(WEIGHT)
	if got := spec.FormatUnclamped(180); got != "180.00 kg" {
		t.Fatalf("unclamped mismatch: got=%q", got)
	}
	if got := spec.Format(180); got != "150.00 kg" {
		t.Fatalf("clamped mismatch: got=%q", got)
	}
}
