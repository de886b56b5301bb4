package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDGenerator produces "<prefix>-1", "<prefix>-2", ...
//
// Stream sessions are compared by identity, so a generator that returned the
// same id twice would defeat stale-completion detection. This generator keeps
// ids unique while staying deterministic for golden comparison.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDGenerator creates a generator. An empty prefix defaults to
// "session".
func NewSequentialIDGenerator(prefix string) *SequentialIDGenerator {
	if prefix == "" {
		prefix = "session"
	}
	return &SequentialIDGenerator{prefix: prefix}
}

// Generate returns the next id.
//
// Implements engine.IDGenerator.
func (g *SequentialIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
