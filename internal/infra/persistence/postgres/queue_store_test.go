package postgres

import (
	"context"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/clawpizza/agent/internal/domain/queuestore"
)

func TestQueueStoreNilPool(t *testing.T) {
	store := NewQueueStore(nil)
	ctx := context.Background()
	payload := json.RawMessage(`{"machineId":"m-01","result":"win","playedAt":"2026-08-30T12:00:00Z"}`)

	if _, err := store.Enqueue(ctx, queuestore.CategoryPlays, payload); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.List(ctx, queuestore.CategoryPlays); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.Delete(ctx, queuestore.CategoryPlays, 1); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.MarkFailed(ctx, queuestore.CategoryPlays, 1, "error"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
}

func TestQueueStoreRejectsUnknownCategory(t *testing.T) {
	store := NewQueueStore(nil)
	if _, err := tableFor(queuestore.Category("bets")); err == nil {
		t.Fatalf("expected unknown category error")
	}
	if _, err := store.List(context.Background(), queuestore.Category("bets")); err == nil {
		t.Fatalf("expected unknown category error from List")
	}
}

func TestTableMapping(t *testing.T) {
	plays, err := tableFor(queuestore.CategoryPlays)
	if err != nil || plays != "play_events" {
		t.Fatalf("expected play_events, got %q (%v)", plays, err)
	}
	claims, err := tableFor(queuestore.CategoryClaims)
	if err != nil || claims != "claim_events" {
		t.Fatalf("expected claim_events, got %q (%v)", claims, err)
	}
}
