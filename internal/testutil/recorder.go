package testutil

import (
	"context"
	"sync"

	"github.com/roach88/sopsync/internal/formstate"
)

// ChangeLog records formstate changes in memory.
type ChangeLog struct {
	mu      sync.Mutex
	changes []formstate.Change
	failing bool
}

func (l *ChangeLog) RecordChange(_ context.Context, c formstate.Change) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failing {
		return ErrInjected
	}
	l.changes = append(l.changes, c)
	return nil
}

// SetFailing toggles failure injection.
func (l *ChangeLog) SetFailing(failing bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failing = failing
}

// Changes returns a copy of everything recorded.
func (l *ChangeLog) Changes() []formstate.Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]formstate.Change(nil), l.changes...)
}
