// Package leveldb provides the on-disk generation cache backed by goleveldb.
package leveldb

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/clawpizza/agent/errs"
	"github.com/clawpizza/agent/internal/domain/cachestore"
)

const component = "cachestore.leveldb"

// Key layout:
//
//	t:<generation>              marker, value is empty
//	g:<generation>:<identity>   serialized snapshot
const (
	markerPrefix = "t:"
	entryPrefix  = "g:"
)

// CacheStore persists response snapshots grouped by generation tag.
type CacheStore struct {
	db *leveldb.DB
}

var _ cachestore.Store = (*CacheStore)(nil)

// Open opens (or creates) the cache database at path.
func Open(path string) (*CacheStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errs.New(component, errs.CodeStore,
			errs.WithMessage(fmt.Sprintf("open cache at %s", path)),
			errs.WithCause(err))
	}
	return &CacheStore{db: db}, nil
}

func markerKey(generation string) []byte {
	return []byte(markerPrefix + generation)
}

func entryKey(generation, identity string) []byte {
	return []byte(entryPrefix + generation + ":" + identity)
}

type storedSnapshot struct {
	Status int                 `json:"status"`
	Header map[string][]string `json:"header,omitempty"`
	Body   []byte              `json:"body,omitempty"`
}

func encodeSnapshot(snap cachestore.Snapshot) ([]byte, error) {
	return json.Marshal(storedSnapshot{
		Status: snap.Status,
		Header: snap.Header,
		Body:   snap.Body,
	})
}

func decodeSnapshot(raw []byte) (cachestore.Snapshot, error) {
	var stored storedSnapshot
	if err := json.Unmarshal(raw, &stored); err != nil {
		return cachestore.Snapshot{}, err
	}
	return cachestore.Snapshot{
		Status: stored.Status,
		Header: stored.Header,
		Body:   stored.Body,
	}, nil
}

// Get implements cachestore.Store.
func (s *CacheStore) Get(ctx context.Context, generation, identity string) (cachestore.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return cachestore.Snapshot{}, false, err
	}
	raw, err := s.db.Get(entryKey(generation, identity), nil)
	if err == leveldb.ErrNotFound {
		return cachestore.Snapshot{}, false, nil
	}
	if err != nil {
		return cachestore.Snapshot{}, false, errs.New(component, errs.CodeStore,
			errs.WithMessage("read cache entry"), errs.WithCause(err),
			errs.WithField("generation", generation))
	}
	snap, err := decodeSnapshot(raw)
	if err != nil {
		return cachestore.Snapshot{}, false, errs.New(component, errs.CodeStore,
			errs.WithMessage("decode cache entry"), errs.WithCause(err),
			errs.WithField("generation", generation))
	}
	return snap, true, nil
}

// Put implements cachestore.Store.
func (s *CacheStore) Put(ctx context.Context, generation, identity string, snap cachestore.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := encodeSnapshot(snap)
	if err != nil {
		return errs.New(component, errs.CodeStore,
			errs.WithMessage("encode cache entry"), errs.WithCause(err))
	}
	batch := new(leveldb.Batch)
	batch.Put(markerKey(generation), nil)
	batch.Put(entryKey(generation, identity), encoded)
	if err := s.db.Write(batch, nil); err != nil {
		return errs.New(component, errs.CodeStore,
			errs.WithMessage("write cache entry"), errs.WithCause(err),
			errs.WithField("generation", generation))
	}
	return nil
}

// BulkPopulate implements cachestore.Store. All entries land in a single
// write batch, so a failure leaves the generation untouched.
func (s *CacheStore) BulkPopulate(ctx context.Context, generation string, entries map[string]cachestore.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(markerKey(generation), nil)
	for identity, snap := range entries {
		encoded, err := encodeSnapshot(snap)
		if err != nil {
			return errs.New(component, errs.CodeStore,
				errs.WithMessage("encode cache entry"), errs.WithCause(err),
				errs.WithField("identity", identity))
		}
		batch.Put(entryKey(generation, identity), encoded)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return errs.New(component, errs.CodeStore,
			errs.WithMessage("populate generation"), errs.WithCause(err),
			errs.WithField("generation", generation))
	}
	return nil
}

// ListGenerations implements cachestore.Store.
func (s *CacheStore) ListGenerations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	iter := s.db.NewIterator(util.BytesPrefix([]byte(markerPrefix)), nil)
	defer iter.Release()
	var tags []string
	for iter.Next() {
		tags = append(tags, string(iter.Key()[len(markerPrefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, errs.New(component, errs.CodeStore,
			errs.WithMessage("scan generations"), errs.WithCause(err))
	}
	return tags, nil
}

// DeleteGeneration implements cachestore.Store.
func (s *CacheStore) DeleteGeneration(ctx context.Context, generation string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	iter := s.db.NewIterator(util.BytesPrefix([]byte(entryPrefix+generation+":")), nil)
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return errs.New(component, errs.CodeStore,
			errs.WithMessage("scan generation entries"), errs.WithCause(err),
			errs.WithField("generation", generation))
	}
	batch.Delete(markerKey(generation))
	if err := s.db.Write(batch, nil); err != nil {
		return errs.New(component, errs.CodeStore,
			errs.WithMessage("delete generation"), errs.WithCause(err),
			errs.WithField("generation", generation))
	}
	return nil
}

// Close implements cachestore.Store.
func (s *CacheStore) Close() error {
	if err := s.db.Close(); err != nil {
		return errs.New(component, errs.CodeStore,
			errs.WithMessage("close cache"), errs.WithCause(err))
	}
	return nil
}
