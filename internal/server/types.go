package server

import (
	"time"

	"github.com/CK6170/Vitals-go/models"
	serialpkg "github.com/CK6170/Vitals-go/serial"
)

// APIError is the canonical error envelope returned by JSON endpoints.
// The frontend expects the `error` field and will surface it to the user.
type APIError struct {
	Error string `json:"error"`
}

// HealthResponse is returned by /api/health to confirm the server is running.
type HealthResponse struct {
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
}

// StateResponse is the controller snapshot served by /api/state.
type StateResponse struct {
	Screen           int                               `json:"screen"`
	LastScreen       int                               `json:"lastScreen"`
	Phase            string                            `json:"phase"`
	AwaitedKey       models.MeasurementKey             `json:"awaitedKey,omitempty"`
	Awaiting         bool                              `json:"awaiting"`
	LockOnFirstValid bool                              `json:"lockOnFirstValid"`
	LastValues       map[models.MeasurementKey]float64 `json:"lastValues"`
	LastStableWeight *float64                          `json:"lastStableWeight,omitempty"`
	Display          map[models.MeasurementKey]string  `json:"display"`
	Serial           SerialStatus                      `json:"serial"`
}

// SerialStatus reports the device link.
type SerialStatus struct {
	Connected bool   `json:"connected"`
	Port      string `json:"port,omitempty"`
}

// ScreenRequest selects the wizard screen to show.
type ScreenRequest struct {
	Screen int `json:"screen"`
}

// ScreenResponse is returned by the navigation endpoints.
type ScreenResponse struct {
	Screen int                   `json:"screen"`
	Key    models.MeasurementKey `json:"key,omitempty"`
}

// ConnectRequest optionally overrides SERIAL.PORT for this connection.
type ConnectRequest struct {
	Port string `json:"port,omitempty"`
}

// ConnectResponse is returned by /api/connect.
//
// AutoDetectLog is the port selection trace; PortUpdated is true when the
// port came from auto-detection or the port cache rather than the request or
// config file.
type ConnectResponse struct {
	Connected     bool     `json:"connected"`
	Port          string   `json:"port"`
	Baud          int      `json:"baud"`
	AutoDetectLog []string `json:"autoDetectLog,omitempty"`
	PortUpdated   bool     `json:"portUpdated,omitempty"`
}

// PortsResponse lists candidate serial devices.
type PortsResponse struct {
	Ports []serialpkg.PortInfo `json:"ports"`
}

// DisplayUpdate is the data of a "display" WebSocket message.
type DisplayUpdate struct {
	Key  models.MeasurementKey `json:"key"`
	Text string                `json:"text"`
}

// ScreenUpdate is the data of a "screen" WebSocket message.
type ScreenUpdate struct {
	Screen int                   `json:"screen"`
	Key    models.MeasurementKey `json:"key,omitempty"`
}
