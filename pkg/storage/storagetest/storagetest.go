// Package storagetest holds the behavior every StateStore backend must share.
package storagetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnfeed/learnfeed-go/pkg/storage"
)

// Setup returns a fresh, empty store and its cleanup function.
type Setup func(t *testing.T) (storage.StateStore, func())

// NewRecord returns an unsaved record holding data.
func NewRecord(kind storage.Kind, learnerID string, data string) *storage.Record {
	return &storage.Record{
		ID:        42,
		LearnerID: learnerID,
		Kind:      kind,
		Data:      json.RawMessage(data),
		UpdatedAt: time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC),
	}
}

// Run exercises the StateStore contract against the stores built by setup.
func Run(t *testing.T, setup Setup) {
	t.Run("load missing", func(t *testing.T) {
		store, cleanup := setup(t)
		defer cleanup()

		_, err := store.Load(context.Background(), storage.KindLevelProfile, "nobody")
		assert.ErrorIs(t, err, storage.ErrRecordNotFound)
	})

	t.Run("save and load", func(t *testing.T) {
		store, cleanup := setup(t)
		defer cleanup()
		ctx := context.Background()

		rec := NewRecord(storage.KindGamificationState, "u1", `{"xp":120,"level":2}`)
		require.NoError(t, store.Save(ctx, rec))
		assert.Equal(t, int64(1), rec.Version)

		got, err := store.Load(ctx, storage.KindGamificationState, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(42), got.ID)
		assert.Equal(t, "u1", got.LearnerID)
		assert.Equal(t, storage.KindGamificationState, got.Kind)
		assert.Equal(t, int64(1), got.Version)
		assert.JSONEq(t, `{"xp":120,"level":2}`, string(got.Data))
		assert.True(t, got.UpdatedAt.Equal(rec.UpdatedAt), "updated_at %s != %s", got.UpdatedAt, rec.UpdatedAt)
	})

	t.Run("kinds and learners are isolated", func(t *testing.T) {
		store, cleanup := setup(t)
		defer cleanup()
		ctx := context.Background()

		require.NoError(t, store.Save(ctx, NewRecord(storage.KindLevelProfile, "u1", `{"current_level":"B1"}`)))
		require.NoError(t, store.Save(ctx, NewRecord(storage.KindLevelProfile, "u2", `{"current_level":"A1"}`)))

		_, err := store.Load(ctx, storage.KindEngagementProfile, "u1")
		assert.ErrorIs(t, err, storage.ErrRecordNotFound)

		got, err := store.Load(ctx, storage.KindLevelProfile, "u2")
		require.NoError(t, err)
		assert.JSONEq(t, `{"current_level":"A1"}`, string(got.Data))
	})

	t.Run("versioned update", func(t *testing.T) {
		store, cleanup := setup(t)
		defer cleanup()
		ctx := context.Background()

		require.NoError(t, store.Save(ctx, NewRecord(storage.KindMemoryState, "u1", `{"items":{}}`)))

		loaded, err := store.Load(ctx, storage.KindMemoryState, "u1")
		require.NoError(t, err)
		stale := loaded.Clone()

		loaded.Data = json.RawMessage(`{"items":{"hola":{"half_life_days":2}}}`)
		loaded.UpdatedAt = loaded.UpdatedAt.Add(time.Hour)
		require.NoError(t, store.Save(ctx, loaded))
		assert.Equal(t, int64(2), loaded.Version)

		stale.Data = json.RawMessage(`{"items":{}}`)
		err = store.Save(ctx, stale)
		assert.ErrorIs(t, err, storage.ErrVersionConflict)

		got, err := store.Load(ctx, storage.KindMemoryState, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		assert.JSONEq(t, `{"items":{"hola":{"half_life_days":2}}}`, string(got.Data))
	})

	t.Run("duplicate insert conflicts", func(t *testing.T) {
		store, cleanup := setup(t)
		defer cleanup()
		ctx := context.Background()

		require.NoError(t, store.Save(ctx, NewRecord(storage.KindEngagementProfile, "u1", `{"a":1}`)))
		err := store.Save(ctx, NewRecord(storage.KindEngagementProfile, "u1", `{"a":2}`))
		assert.ErrorIs(t, err, storage.ErrVersionConflict)
	})

	t.Run("invalid record", func(t *testing.T) {
		store, cleanup := setup(t)
		defer cleanup()

		err := store.Save(context.Background(), NewRecord("bogus", "u1", `{}`))
		assert.Error(t, err)
		err = store.Save(context.Background(), NewRecord(storage.KindLevelProfile, "", `{}`))
		assert.Error(t, err)
	})

	t.Run("delete learner", func(t *testing.T) {
		store, cleanup := setup(t)
		defer cleanup()
		ctx := context.Background()

		for _, kind := range storage.Kinds {
			require.NoError(t, store.Save(ctx, NewRecord(kind, "u1", `{}`)))
		}
		require.NoError(t, store.Save(ctx, NewRecord(storage.KindLevelProfile, "u2", `{}`)))

		require.NoError(t, storage.DeleteLearner(ctx, store, "u1"))
		for _, kind := range storage.Kinds {
			_, err := store.Load(ctx, kind, "u1")
			assert.ErrorIs(t, err, storage.ErrRecordNotFound, string(kind))
		}
		_, err := store.Load(ctx, storage.KindLevelProfile, "u2")
		assert.NoError(t, err)

		assert.NoError(t, store.Delete(ctx, storage.KindLevelProfile, "missing"))
	})
}
