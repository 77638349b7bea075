package weight

import (
	"regexp"
	"strconv"
	"strings"
)

var scaleRegex = regexp.MustCompile(`(?i)([-+]?\d+(?:[.,]\d+)?)\s*(kg|g|lbs|lb|oz)?\b`)

// ParseScaleLine extracts a weight in kilograms from one line printed by a
// serial platform scale ("ST,GS,+  62.30kg", "62300 g", "137.4 lb").
// The last number on the line wins; a missing unit means kilograms.
func ParseScaleLine(raw string) (float64, bool) {
	matches := scaleRegex.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return 0, false
	}

	m := matches[len(matches)-1]
	v := strings.ReplaceAll(strings.TrimSpace(m[1]), ",", ".")
	w, err := strconv.ParseFloat(v, 64)
	if err != nil || !finite(w) {
		return 0, false
	}

	switch strings.ToLower(m[2]) {
	case "g":
		w /= 1000
	case "lb", "lbs":
		w *= 0.45359237
	case "oz":
		w *= 0.028349523125
	}
	return w, true
}
