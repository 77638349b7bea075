package serial

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Sentinel tokens the microcontroller sends instead of a number.
const (
	TokenNA  = "NA"
	TokenOut = "OUT"
)

var lineRegex = regexp.MustCompile(`(?i)^([\p{L}\p{N}_]+)\s*:\s*([-+]?(?:\d+(?:\.\d*)?|\.\d+)|NA|OUT)$`)

// Line is one decoded telemetry line.
//
// Sentinel is true for NA/OUT, in which case Value is meaningless.
type Line struct {
	Key      string
	Token    string
	Value    float64
	Sentinel bool
}

// ParseLine decodes `KEY: VALUE`. ok=false means "not a measurement line";
// the device emits boot banners and debug noise, so callers just drop those.
func ParseLine(raw string) (Line, bool) {
	m := lineRegex.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Line{}, false
	}
	key := strings.ToUpper(m[1])
	token := strings.ToUpper(m[2])

	if token == TokenNA || token == TokenOut {
		return Line{Key: key, Token: token, Sentinel: true}, true
	}

	v, err := strconv.ParseFloat(token, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return Line{}, false
	}
	return Line{Key: key, Token: token, Value: v}, true
}

// popSerialFrame splits off the first complete line. Consecutive CR/LF
// bytes are consumed together; a trailing partial line stays in rest.
func popSerialFrame(buf string) (frame, rest string, ok bool) {
	idx := strings.IndexAny(buf, "\r\n")
	if idx < 0 {
		return "", buf, false
	}

	frame = buf[:idx]
	j := idx
	for j < len(buf) {
		if buf[j] != '\r' && buf[j] != '\n' {
			break
		}
		j++
	}
	rest = buf[j:]
	return frame, rest, true
}

// appendRaw keeps at most max bytes of pending input so a device that never
// sends a line terminator cannot grow the buffer without bound.
func appendRaw(existing, chunk string, max int) string {
	combined := existing + chunk
	if len(combined) <= max {
		return combined
	}
	return combined[len(combined)-max:]
}
