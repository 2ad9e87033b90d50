// Package memory provides an in-process episode log for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/reachrl/trainwatch/internal/episodelog"
)

// Log is an append-only, in-memory episode stream. It is safe for concurrent
// use by one writer and many readers.
type Log struct {
	mu      sync.RWMutex
	entries []episodelog.Entry
}

// NewLog creates an empty Log.
func NewLog() *Log {
	return &Log{}
}

// Append adds an entry to the end of the stream.
func (l *Log) Append(_ context.Context, entry episodelog.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// ReadAll returns a copy of every entry appended so far, oldest first.
func (l *Log) ReadAll(context.Context) ([]episodelog.Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]episodelog.Entry, len(l.entries))
	copy(out, l.entries)
	return out, nil
}

// Len reports the number of entries without copying them.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
