// Package checkpoint provides durable snapshot storage for suspended and
// resumable conversation workflows.
package checkpoint

import (
	"errors"
	"time"
)

// Store persists workflow checkpoints keyed by conversation thread.
// A thread holds at most one checkpoint: the latest snapshot wins.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores the checkpoint for a thread, replacing any previous one.
	Save(threadID string, data []byte) error

	// Load retrieves the checkpoint for a thread.
	// Returns ErrNotFound if no checkpoint exists.
	Load(threadID string) ([]byte, error)

	// Clear removes the checkpoint for a thread.
	// Returns nil if no checkpoint exists.
	Clear(threadID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading full state.
type Info struct {
	ThreadID  string
	NodeID    string
	Sequence  int
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
