package filestore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnfeed/learnfeed-go/pkg/storage"
	"github.com/learnfeed/learnfeed-go/pkg/storage/filestore"
	"github.com/learnfeed/learnfeed-go/pkg/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) (storage.StateStore, func()) {
		store, err := filestore.New(&filestore.Config{Path: filepath.Join(t.TempDir(), "state.json")})
		require.NoError(t, err)
		return store, func() { _ = store.Close() }
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	store, err := filestore.New(&filestore.Config{Path: path})
	require.NoError(t, err)
	rec := storagetest.NewRecord(storage.KindLevelProfile, "u1", `{"current_level":"B2"}`)
	require.NoError(t, store.Save(ctx, rec))
	closeWithin(t, store, 5*time.Second)

	reopened, err := filestore.New(&filestore.Config{Path: path})
	require.NoError(t, err)
	defer closeWithin(t, reopened, 5*time.Second)

	got, err := reopened.Load(ctx, storage.KindLevelProfile, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.JSONEq(t, `{"current_level":"B2"}`, string(got.Data))
}

func TestStore_CloseStopsAutosave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	store, err := filestore.New(&filestore.Config{Path: path, SaveInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, storagetest.NewRecord(storage.KindGamificationState, "u1", `{"xp":40}`)))
	require.NoError(t, store.Save(ctx, storagetest.NewRecord(storage.KindLevelProfile, "u1", `{"current_level":"A1"}`)))
	require.NoError(t, store.Delete(ctx, storage.KindLevelProfile, "u1"))
	assert.Equal(t, 1, store.Len())

	time.Sleep(30 * time.Millisecond)
	closeWithin(t, store, 5*time.Second)
	require.NoError(t, store.Close())

	_, err = store.Load(ctx, storage.KindGamificationState, "u1")
	assert.ErrorIs(t, err, storage.ErrStoreClosed)

	reopened, err := filestore.New(&filestore.Config{Path: path})
	require.NoError(t, err)
	defer closeWithin(t, reopened, 5*time.Second)

	got, err := reopened.Load(ctx, storage.KindGamificationState, "u1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"xp":40}`, string(got.Data))

	_, err = reopened.Load(ctx, storage.KindLevelProfile, "u1")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func closeWithin(t *testing.T, store *filestore.Store, limit time.Duration) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- store.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(limit):
		t.Fatalf("Close did not return within %s", limit)
	}
}

func TestStore_EmptyPath(t *testing.T) {
	_, err := filestore.New(&filestore.Config{})
	assert.Error(t, err)
}
