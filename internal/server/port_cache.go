package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/CK6170/Vitals-go/models"
)

// PortCache stores a best-effort mapping of "device identity" -> last working
// serial port, persisted as JSON.
//
// Config files are usually shipped with SERIAL.PORT blank, so without the
// cache every start would fall back to enumeration order.
type PortCache struct {
	mu   sync.Mutex
	path string
	m    map[string]string
}

func NewPortCache(path string) *PortCache {
	pc := &PortCache{
		path: path,
		m:    map[string]string{},
	}
	_ = pc.load()
	return pc
}

func (pc *PortCache) Get(key string) string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return strings.TrimSpace(pc.m[key])
}

func (pc *PortCache) Set(key string, port string) {
	key = strings.TrimSpace(key)
	port = strings.TrimSpace(port)
	if key == "" || port == "" {
		return
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.m == nil {
		pc.m = map[string]string{}
	}
	if strings.EqualFold(strings.TrimSpace(pc.m[key]), port) {
		return
	}
	pc.m[key] = port
	_ = pc.saveLocked()
}

func (pc *PortCache) load() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	b, err := os.ReadFile(pc.path)
	if err != nil {
		return nil // best-effort
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	pc.m = m
	return nil
}

func (pc *PortCache) saveLocked() error {
	if pc.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(pc.path), 0o755); err != nil {
		return nil
	}
	// encoding/json sorts map keys, so the file is stable across writes.
	b, err := json.MarshalIndent(pc.m, "", "  ")
	if err != nil {
		return nil
	}
	return os.WriteFile(pc.path, b, 0o644)
}

// deviceKey identifies a sensor board setup by baud rate and command table.
// SERIAL.PORT is excluded so a blank or stale port maps to the same key.
func deviceKey(p *models.PARAMETERS) string {
	if p == nil || p.SERIAL == nil {
		return ""
	}
	type cmdKey struct {
		Key     models.MeasurementKey `json:"key"`
		Command string                `json:"command"`
	}
	payload := struct {
		Baud     int      `json:"baud"`
		Commands []cmdKey `json:"commands"`
	}{
		Baud:     p.SERIAL.BAUDRATE,
		Commands: make([]cmdKey, 0, len(p.COMMANDS)),
	}
	for k, c := range p.COMMANDS {
		payload.Commands = append(payload.Commands, cmdKey{Key: k, Command: strings.TrimSpace(c)})
	}
	sort.Slice(payload.Commands, func(i, j int) bool { return payload.Commands[i].Key < payload.Commands[j].Key })
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
