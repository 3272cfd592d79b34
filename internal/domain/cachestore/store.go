// Package cachestore defines the generation-scoped resource cache contract.
package cachestore

import (
	"context"
	"net/http"
	"strings"
)

// GenerationPrefix is the common prefix carried by every cache generation
// owned by this agent. Generations without the prefix belong to someone
// else and are never touched during cleanup.
const GenerationPrefix = "claw-pizza-"

// Snapshot is a cached response: enough to replay the response to a
// client without contacting the origin.
type Snapshot struct {
	Status int
	Header http.Header
	Body   []byte
}

// Clone returns a deep copy so callers can mutate headers and body freely.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Status: s.Status, Header: s.Header.Clone()}
	if s.Body != nil {
		out.Body = make([]byte, len(s.Body))
		copy(out.Body, s.Body)
	}
	return out
}

// Identity derives the cache key for a request. Only the method and the
// full URL participate; headers never do.
func Identity(method, url string) string {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		m = http.MethodGet
	}
	return m + " " + url
}

// Store is a versioned response cache. Entries live inside a named
// generation; deleting the generation removes every entry at once.
type Store interface {
	// Get returns the snapshot stored under identity in the given
	// generation. Found reports whether the entry exists.
	Get(ctx context.Context, generation, identity string) (snap Snapshot, found bool, err error)

	// Put stores a snapshot under identity, creating the generation's
	// marker if it does not exist yet.
	Put(ctx context.Context, generation, identity string, snap Snapshot) error

	// BulkPopulate stores every snapshot in one atomic step: either all
	// entries land in the generation or none do.
	BulkPopulate(ctx context.Context, generation string, entries map[string]Snapshot) error

	// ListGenerations returns every generation tag present in the store.
	ListGenerations(ctx context.Context) ([]string, error)

	// DeleteGeneration removes a generation and all of its entries.
	// Deleting an absent generation is not an error.
	DeleteGeneration(ctx context.Context, generation string) error

	// Close releases the underlying storage.
	Close() error
}

// Cleanup removes every generation carrying GenerationPrefix except
// current. Foreign generations are preserved.
func Cleanup(ctx context.Context, store Store, current string) error {
	tags, err := store.ListGenerations(ctx)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		if tag == current {
			continue
		}
		if !strings.HasPrefix(tag, GenerationPrefix) {
			continue
		}
		if err := store.DeleteGeneration(ctx, tag); err != nil {
			return err
		}
	}
	return nil
}
