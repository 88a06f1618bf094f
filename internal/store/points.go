package store

import (
	"sync"

	"gps-relay/internal/model"
)

type pointRecord struct {
	Seq   int64          `json:"seq"`
	Point model.GPSPoint `json:"point"`
}

type pointStore struct {
	mu   sync.RWMutex
	data map[string][]pointRecord
}

func newPointStore() *pointStore {
	return &pointStore{data: make(map[string][]pointRecord)}
}

func (p *pointStore) append(sessionID string, rec pointRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.data[sessionID] = append(p.data[sessionID], rec)
}

func (p *pointStore) list(sessionID string) []model.GPSPoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	recs := p.data[sessionID]
	result := make([]model.GPSPoint, 0, len(recs))
	for _, r := range recs {
		result = append(result, r.Point)
	}
	return result
}

func (p *pointStore) snapshot() []pointRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]pointRecord, 0)
	for _, recs := range p.data {
		result = append(result, recs...)
	}
	return result
}

func (p *pointStore) count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, recs := range p.data {
		n += len(recs)
	}
	return n
}
