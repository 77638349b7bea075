package server

import (
	"sync"
	"time"

	"github.com/CK6170/Vitals-go/models"
)

// DisplayRecord is the last text shown for one measurement.
type DisplayRecord struct {
	Key       models.MeasurementKey
	Text      string
	UpdatedAt time.Time
}

// DisplayStore keeps what the operator currently sees, so a browser that
// connects late can be brought up to date.
type DisplayStore struct {
	mu sync.RWMutex
	m  map[models.MeasurementKey]*DisplayRecord
}

func NewDisplayStore() *DisplayStore {
	return &DisplayStore{m: make(map[models.MeasurementKey]*DisplayRecord)}
}

func (s *DisplayStore) Put(key models.MeasurementKey, text string) *DisplayRecord {
	rec := &DisplayRecord{Key: key, Text: text, UpdatedAt: time.Now()}
	s.mu.Lock()
	s.m[key] = rec
	s.mu.Unlock()
	return rec
}

func (s *DisplayStore) Get(key models.MeasurementKey) (*DisplayRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.m[key]
	return r, ok
}

// Texts returns a copy of key -> text.
func (s *DisplayStore) Texts() map[models.MeasurementKey]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.MeasurementKey]string, len(s.m))
	for k, r := range s.m {
		out[k] = r.Text
	}
	return out
}

// Records returns the stored records in canonical key order.
func (s *DisplayStore) Records() []DisplayRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DisplayRecord, 0, len(s.m))
	for _, k := range models.Keys {
		if r, ok := s.m[k]; ok {
			out = append(out, *r)
		}
	}
	return out
}
