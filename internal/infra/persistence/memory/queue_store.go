// Package memory provides in-memory store implementations for tests and
// single-binary development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/clawpizza/agent/internal/domain/queuestore"
)

// QueueStore keeps queue entries in process memory. It mirrors the Postgres
// store's semantics, including idempotent deletes and id-ordered snapshots.
type QueueStore struct {
	mu      sync.Mutex
	nextID  int64
	entries map[queuestore.Category]map[int64]queuestore.Record
}

// NewQueueStore constructs an empty in-memory queue store.
func NewQueueStore() *QueueStore {
	store := new(QueueStore)
	store.nextID = 1
	store.entries = make(map[queuestore.Category]map[int64]queuestore.Record)
	for _, category := range queuestore.Categories() {
		store.entries[category] = make(map[int64]queuestore.Record)
	}
	return store
}

// Enqueue validates and appends a new entry, assigning the next identifier.
func (s *QueueStore) Enqueue(_ context.Context, category queuestore.Category, payload json.RawMessage) (queuestore.Record, error) {
	if !category.Valid() {
		return queuestore.Record{}, fmt.Errorf("memory queue: unknown category %q", category)
	}
	if err := queuestore.ValidatePayload(category, payload); err != nil {
		return queuestore.Record{}, fmt.Errorf("memory queue: validate payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	record := queuestore.Record{
		ID:        s.nextID,
		Payload:   append(json.RawMessage(nil), payload...),
		Attempts:  0,
		LastError: "",
		CreatedAt: time.Now(),
	}
	s.nextID++
	s.entries[category][record.ID] = record
	return record, nil
}

// List returns a snapshot of the category's entries in id order.
func (s *QueueStore) List(_ context.Context, category queuestore.Category) ([]queuestore.Record, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("memory queue: unknown category %q", category)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]queuestore.Record, 0, len(s.entries[category]))
	for _, record := range s.entries[category] {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Delete removes an entry. Absent identifiers are a no-op.
func (s *QueueStore) Delete(_ context.Context, category queuestore.Category, id int64) error {
	if !category.Valid() {
		return fmt.Errorf("memory queue: unknown category %q", category)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries[category], id)
	return nil
}

// MarkFailed increments the attempt counter and records the failure reason.
func (s *QueueStore) MarkFailed(_ context.Context, category queuestore.Category, id int64, lastError string) error {
	if !category.Valid() {
		return fmt.Errorf("memory queue: unknown category %q", category)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.entries[category][id]
	if !ok {
		return fmt.Errorf("memory queue: mark failed %s/%d: no such entry", category, id)
	}
	record.Attempts++
	record.LastError = lastError
	s.entries[category][id] = record
	return nil
}

var _ queuestore.Store = (*QueueStore)(nil)
