// Package queuestore defines persistence contracts for the durable offline write queue.
package queuestore

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
)

// Category names one offline queue lineage.
type Category string

const (
	// CategoryPlays queues play events recorded while offline.
	CategoryPlays Category = "plays"
	// CategoryClaims queues prize and faucet claims recorded while offline.
	CategoryClaims Category = "claims"
)

// Categories lists every queue lineage in replay order.
func Categories() []Category {
	return []Category{CategoryPlays, CategoryClaims}
}

// Valid reports whether c names a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryPlays, CategoryClaims:
		return true
	}
	return false
}

// Record captures the persisted state of one queued entry.
type Record struct {
	ID        int64
	Payload   json.RawMessage
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// Store abstracts persistence operations for the offline queue.
//
// Delete is idempotent: removing an identifier that is no longer present is a
// no-op, so overlapping replay passes converge without coordination.
type Store interface {
	Enqueue(ctx context.Context, category Category, payload json.RawMessage) (Record, error)
	List(ctx context.Context, category Category) ([]Record, error)
	Delete(ctx context.Context, category Category, id int64) error
	MarkFailed(ctx context.Context, category Category, id int64, lastError string) error
}
