// Package weight implements both ends of the push channel that carries body
// weight from the scale bridge to the measurement controller.
package weight

import (
	"encoding/json"
	"math"
	"strings"
)

// Message is one decoded push from the bridge: either a reset notification
// or a weight reading.
type Message struct {
	Reset  bool
	Kg     float64
	Stable bool
}

// Envelope is the JSON shape on the wire.
//
//	{"type":"weight","kg":62.3,"stable":true}
//	{"type":"status","msg":"reset"}
type Envelope struct {
	Type   string   `json:"type"`
	Msg    string   `json:"msg,omitempty"`
	Kg     *float64 `json:"kg,omitempty"`
	Stable bool     `json:"stable,omitempty"`
}

// nested is the alternate form some bridge builds emit:
//
//	{"status":"reset"}
//	{"weight":{"value":62.3,"stable":true}}
type nested struct {
	Status string `json:"status"`
	Weight *struct {
		Value  *float64 `json:"value"`
		Stable bool     `json:"stable"`
	} `json:"weight"`
}

const (
	typeWeight  = "weight"
	typeStatus  = "status"
	statusReset = "reset"
)

// WeightEnvelope builds the weight push for kg.
func WeightEnvelope(kg float64, stable bool) Envelope {
	return Envelope{Type: typeWeight, Kg: &kg, Stable: stable}
}

// StatusEnvelope builds a status push ("connected", "reset").
func StatusEnvelope(msg string) Envelope {
	return Envelope{Type: typeStatus, Msg: msg}
}

// Decode parses one frame. ok=false for anything that is not a reset or a
// finite weight; the channel is best-effort telemetry so callers drop those.
func Decode(raw []byte) (Message, bool) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, false
	}
	switch strings.ToLower(strings.TrimSpace(env.Type)) {
	case typeStatus:
		if strings.EqualFold(strings.TrimSpace(env.Msg), statusReset) {
			return Message{Reset: true}, true
		}
		return Message{}, false
	case typeWeight:
		if env.Kg == nil || !finite(*env.Kg) {
			return Message{}, false
		}
		return Message{Kg: *env.Kg, Stable: env.Stable}, true
	case "":
	default:
		return Message{}, false
	}

	var n nested
	if err := json.Unmarshal(raw, &n); err != nil {
		return Message{}, false
	}
	if strings.EqualFold(strings.TrimSpace(n.Status), statusReset) {
		return Message{Reset: true}, true
	}
	if n.Weight != nil && n.Weight.Value != nil && finite(*n.Weight.Value) {
		return Message{Kg: *n.Weight.Value, Stable: n.Weight.Stable}, true
	}
	return Message{}, false
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
