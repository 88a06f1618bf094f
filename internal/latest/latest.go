// Package latest keeps the most recently received upload for diagnostics.
package latest

import (
	"sync/atomic"
	"time"
)

type Sample struct {
	// Payload is the request body exactly as received.
	Payload    []byte
	DeviceID   string
	ReceivedAt time.Time
}

// Slot is a single last-writer-wins cell. Readers always see a whole sample.
type Slot struct {
	p atomic.Pointer[Sample]
}

func (s *Slot) Store(sample Sample) {
	s.p.Store(&sample)
}

func (s *Slot) Load() (Sample, bool) {
	v := s.p.Load()
	if v == nil {
		return Sample{}, false
	}
	return *v, true
}
