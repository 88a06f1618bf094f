package store

import "sync"

type seqGenerator struct {
	mu         sync.Mutex
	perSession map[string]int64
}

func newSeqGenerator() *seqGenerator {
	return &seqGenerator{perSession: make(map[string]int64)}
}

func (g *seqGenerator) nextForSession(sessionID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.perSession[sessionID]++
	return g.perSession[sessionID]
}

// restore raises the counter so ids loaded from a snapshot are not reused.
func (g *seqGenerator) restore(sessionID string, seq int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if seq > g.perSession[sessionID] {
		g.perSession[sessionID] = seq
	}
}
