// Package filestore provides a StateStore backed by a single JSON file.
//
// Records are kept in a keshon/datastore key-value map keyed by
// "<kind>/<learner>". The datastore writes the file periodically and once
// more on Close.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/keshon/datastore"

	"github.com/learnfeed/learnfeed-go/pkg/storage"
)

// Config contains configuration for the file store.
type Config struct {
	// Path is the JSON file holding every record.
	Path string

	// SaveInterval is how often pending changes are written. Zero keeps the
	// datastore default.
	SaveInterval time.Duration

	// Logger receives datastore lifecycle messages. Nil discards them.
	Logger *slog.Logger
}

// Store implements StateStore on top of datastore.DataStore.
type Store struct {
	ds *datastore.DataStore

	// cancel stops the autosave goroutine; DataStore.Close waits for it.
	cancel context.CancelFunc

	// mu serializes read-check-write sequences so version checks are atomic.
	mu     sync.Mutex
	closed bool
}

// New opens or creates the file at cfg.Path.
func New(cfg *Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("NewFileStore: empty path")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts := []datastore.Option{datastore.WithLogger(logger)}
	if cfg.SaveInterval > 0 {
		opts = append(opts, datastore.WithSaveInterval(cfg.SaveInterval))
	}

	ctx, cancel := context.WithCancel(context.Background())
	ds, err := datastore.New(ctx, cfg.Path, opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("NewFileStore: %w", err)
	}
	return &Store{ds: ds, cancel: cancel}, nil
}

// Load returns the record of kind for learnerID.
func (s *Store) Load(ctx context.Context, kind storage.Kind, learnerID string) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrStoreClosed
	}
	return s.get(storage.RecordKey(kind, learnerID))
}

func (s *Store) get(key string) (*storage.Record, error) {
	var rec storage.Record
	found, err := s.ds.Get(key, &rec)
	if err != nil {
		return nil, fmt.Errorf("Load %s: %w", key, err)
	}
	if !found {
		return nil, storage.ErrRecordNotFound
	}
	return &rec, nil
}

// Save upserts rec, guarded by its version.
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
	existing, err := s.get(key)
	switch {
	case err == nil:
		current = existing.Version
		rec.CreatedAt = existing.CreatedAt
	case !errors.Is(err, storage.ErrRecordNotFound):
		return err
	}
	if rec.Version != current {
		return fmt.Errorf("Save %s: %w (have %d, stored %d)", key, storage.ErrVersionConflict, rec.Version, current)
	}

	storage.Touch(rec)
	stored := rec.Clone()
	stored.Version++
	if err := s.ds.Set(key, stored); err != nil {
		return fmt.Errorf("Save %s: %w", key, err)
	}

	rec.Version = stored.Version
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
	key := storage.RecordKey(kind, learnerID)
	if err := s.ds.Delete(key); err != nil {
		return fmt.Errorf("Delete %s: %w", key, err)
	}
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	return s.ds.Len()
}

// Close stops the autosave loop and writes the file a last time.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return s.ds.Close()
}
