// Package memory provides an in-process StateStore.
//
// Records live in a map guarded by a mutex and are lost when the process
// exits. It is intended for tests, demos and single-process tools.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/learnfeed/learnfeed-go/pkg/storage"
)

// Store implements StateStore with an in-memory map.
type Store struct {
	mu      sync.RWMutex
	records map[string]*storage.Record
	closed  bool
}

// New creates an empty store.
func New() *Store {
	return &Store{records: make(map[string]*storage.Record)}
}

// Load returns a copy of the stored record.
func (s *Store) Load(ctx context.Context, kind storage.Kind, learnerID string) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrStoreClosed
	}

	rec, ok := s.records[storage.RecordKey(kind, learnerID)]
	if !ok {
		return nil, storage.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// Save stores a copy of rec.
func (s *Store) Save(ctx context.Context, rec *storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("Save: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStoreClosed
	}

	key := rec.Key()
	var current int64
	if existing, ok := s.records[key]; ok {
		current = existing.Version
		if existing.ID != 0 && rec.ID == 0 {
			rec.ID = existing.ID
		}
		rec.CreatedAt = existing.CreatedAt
	}
	if rec.Version != current {
		return fmt.Errorf("Save %s: %w (have %d, stored %d)", key, storage.ErrVersionConflict, rec.Version, current)
	}

	storage.Touch(rec)
	rec.Version++
	s.records[key] = rec.Clone()
	return nil
}

// Delete removes the record if present.
func (s *Store) Delete(ctx context.Context, kind storage.Kind, learnerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStoreClosed
	}
	delete(s.records, storage.RecordKey(kind, learnerID))
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
