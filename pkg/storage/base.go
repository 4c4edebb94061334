// Package storage provides the state store contract for per-learner records.
//
// It defines the StateStore interface that all storage implementations must satisfy,
// along with the record type and the errors shared by every backend.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind names one of the per-learner state records.
type Kind string

const (
	// KindMemoryState holds the learner's memory book (one state per item).
	KindMemoryState Kind = "memory_state"

	// KindLevelProfile holds the learner's level, known words and evidence.
	KindLevelProfile Kind = "level_profile"

	// KindEngagementProfile holds the learner's viewing behavior and interests.
	KindEngagementProfile Kind = "engagement_profile"

	// KindGamificationState holds XP, streak and achievements.
	KindGamificationState Kind = "gamification_state"
)

// Kinds lists every record kind in load order.
var Kinds = []Kind{KindMemoryState, KindLevelProfile, KindEngagementProfile, KindGamificationState}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, kk := range Kinds {
		if kk == k {
			return true
		}
	}
	return false
}

var (
	// ErrRecordNotFound is returned by Load when no record exists for the key.
	// It is the only error that callers may treat as "start from defaults".
	ErrRecordNotFound = errors.New("record not found")

	// ErrVersionConflict is returned by Save when the stored version does not
	// match the version the caller loaded.
	ErrVersionConflict = errors.New("record version conflict")

	// ErrStoreClosed is returned by every call made after Close.
	ErrStoreClosed = errors.New("store is closed")
)

// Record is one persisted per-learner state.
type Record struct {
	// ID is the unique identifier of the record, assigned by the caller on first save.
	ID int64 `json:"id"`

	// LearnerID identifies the learner who owns this record.
	LearnerID string `json:"learner_id"`

	// Kind selects which state the record holds.
	Kind Kind `json:"kind"`

	// Data is the JSON encoding of the state.
	Data json.RawMessage `json:"data"`

	// Version is 0 for a record that has never been saved. Save increments it.
	Version int64 `json:"version"`

	// CreatedAt is when the record was first saved.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record was last saved.
	UpdatedAt time.Time `json:"updated_at"`
}

// Key renders the (kind, learner) pair identifying r.
func (r *Record) Key() string {
	return RecordKey(r.Kind, r.LearnerID)
}

// RecordKey renders the (kind, learner) pair used by key-value backends.
func RecordKey(kind Kind, learnerID string) string {
	return string(kind) + "/" + learnerID
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Data = append(json.RawMessage(nil), r.Data...)
	return &out
}

// Validate checks the fields every backend relies on.
func (r *Record) Validate() error {
	if r == nil {
		return errors.New("nil record")
	}
	if r.LearnerID == "" {
		return errors.New("record has no learner id")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown record kind %q", r.Kind)
	}
	if len(r.Data) == 0 {
		return errors.New("record has no data")
	}
	return nil
}

// StateStore defines the interface for per-learner state backends.
//
// All storage implementations (memory, SQLite, PostgreSQL, MySQL, file) must implement this interface.
type StateStore interface {
	// Load returns the record of kind for learnerID, or ErrRecordNotFound.
	Load(ctx context.Context, kind Kind, learnerID string) (*Record, error)

	// Save upserts rec on (learner, kind).
	//
	// rec.Version must equal the stored version (0 when the record does not
	// exist yet); otherwise ErrVersionConflict is returned and nothing is
	// written. On success rec.Version is incremented and the timestamps are set.
	Save(ctx context.Context, rec *Record) error

	// Delete removes the record of kind for learnerID. Deleting a missing
	// record is not an error.
	Delete(ctx context.Context, kind Kind, learnerID string) error

	// Close closes the store and releases resources.
	Close() error
}

// DeleteLearner removes every record kind of learnerID from store.
func DeleteLearner(ctx context.Context, store StateStore, learnerID string) error {
	for _, kind := range Kinds {
		if err := store.Delete(ctx, kind, learnerID); err != nil {
			return fmt.Errorf("DeleteLearner %s: %w", kind, err)
		}
	}
	return nil
}

// Touch sets the timestamps Save is about to persist. A zero UpdatedAt is
// replaced with the current time.
func Touch(rec *Record) {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if rec.Version == 0 || rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
}
