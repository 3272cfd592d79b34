// Package postgres implements the offline queue store on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clawpizza/agent/internal/domain/queuestore"
)

// QueueStore persists offline queue entries awaiting replay.
type QueueStore struct {
	pool *pgxpool.Pool
}

// NewQueueStore constructs a QueueStore backed by the provided pool.
func NewQueueStore(pool *pgxpool.Pool) *QueueStore {
	return &QueueStore{pool: pool}
}

const (
	queueInsertSQL = `
INSERT INTO %s (payload)
VALUES (COALESCE($1::jsonb, '{}'::jsonb))
RETURNING id, payload, attempts, last_error, created_at;
`

	queueListSQL = `
SELECT id, payload, attempts, last_error, created_at
FROM %s
ORDER BY id ASC;
`

	queueDeleteSQL = `
DELETE FROM %s
WHERE id = $1;
`

	queueMarkFailedSQL = `
UPDATE %s
SET attempts = attempts + 1,
    last_error = $2
WHERE id = $1;
`
)

func tableFor(category queuestore.Category) (string, error) {
	switch category {
	case queuestore.CategoryPlays:
		return "play_events", nil
	case queuestore.CategoryClaims:
		return "claim_events", nil
	default:
		return "", fmt.Errorf("queue store: unknown category %q", category)
	}
}

// Enqueue validates and inserts a new entry into the category's record store.
func (s *QueueStore) Enqueue(ctx context.Context, category queuestore.Category, payload json.RawMessage) (queuestore.Record, error) {
	if s.pool == nil {
		return queuestore.Record{}, fmt.Errorf("queue store: nil pool")
	}
	table, err := tableFor(category)
	if err != nil {
		return queuestore.Record{}, err
	}
	if err := queuestore.ValidatePayload(category, payload); err != nil {
		return queuestore.Record{}, fmt.Errorf("queue store: validate payload: %w", err)
	}
	row := s.pool.QueryRow(ctx, fmt.Sprintf(queueInsertSQL, table), payload)
	record, err := scanQueueRecord(row)
	if err != nil {
		return queuestore.Record{}, err
	}
	return record, nil
}

// List returns a point-in-time snapshot of the category's entries in id order.
func (s *QueueStore) List(ctx context.Context, category queuestore.Category) ([]queuestore.Record, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("queue store: nil pool")
	}
	table, err := tableFor(category)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(queueListSQL, table))
	if err != nil {
		return nil, fmt.Errorf("queue store: list %s: %w", category, err)
	}
	defer rows.Close()

	var records []queuestore.Record
	for rows.Next() {
		record, err := scanQueueRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue store: iterate %s: %w", category, err)
	}
	return records, nil
}

// Delete removes an entry by identifier. Deleting an absent id is a no-op.
func (s *QueueStore) Delete(ctx context.Context, category queuestore.Category, id int64) error {
	if s.pool == nil {
		return fmt.Errorf("queue store: nil pool")
	}
	table, err := tableFor(category)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(queueDeleteSQL, table), id); err != nil {
		return fmt.Errorf("queue store: delete %s/%d: %w", category, id, err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt against an entry.
func (s *QueueStore) MarkFailed(ctx context.Context, category queuestore.Category, id int64, lastError string) error {
	if s.pool == nil {
		return fmt.Errorf("queue store: nil pool")
	}
	table, err := tableFor(category)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(queueMarkFailedSQL, table), id, strings.TrimSpace(lastError))
	if err != nil {
		return fmt.Errorf("queue store: mark failed %s/%d: %w", category, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("queue store: mark failed %s/%d: no rows updated", category, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueRecord(row rowScanner) (queuestore.Record, error) {
	var (
		record    queuestore.Record
		payload   []byte
		lastError pgtype.Text
	)
	if err := row.Scan(
		&record.ID,
		&payload,
		&record.Attempts,
		&lastError,
		&record.CreatedAt,
	); err != nil {
		return queuestore.Record{}, fmt.Errorf("queue store: scan record: %w", err)
	}
	record.Payload = payload
	if lastError.Valid {
		record.LastError = lastError.String
	}
	return record, nil
}

var _ queuestore.Store = (*QueueStore)(nil)
