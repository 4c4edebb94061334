package core_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/learnfeed/learnfeed-go/pkg/catalog"
	"github.com/learnfeed/learnfeed-go/pkg/clock"
	core "github.com/learnfeed/learnfeed-go/pkg/core"
	"github.com/learnfeed/learnfeed-go/pkg/intelligence"
	"github.com/learnfeed/learnfeed-go/pkg/storage"
	"github.com/learnfeed/learnfeed-go/pkg/storage/memory"
)

var testStart = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

var (
	testLevels = []intelligence.Level{
		intelligence.LevelA1, intelligence.LevelA2, intelligence.LevelB1,
		intelligence.LevelB2, intelligence.LevelC1, intelligence.LevelC2,
	}
	testCategories = []string{"travel", "food", "music"}
)

// testItems returns 30 items: five per level, ten per category.
func testItems() []intelligence.ContentItem {
	items := make([]intelligence.ContentItem, 0, 30)
	for i := 0; i < 30; i++ {
		items = append(items, intelligence.ContentItem{
			ID:              fmt.Sprintf("v%02d", i),
			Title:           fmt.Sprintf("Clip %d", i),
			Level:           testLevels[i%len(testLevels)],
			Category:        testCategories[i%len(testCategories)],
			CreatorID:       fmt.Sprintf("creator_%d", i%4),
			Text:            "el viaje con mi amigo fue muy bonito",
			DurationSeconds: 30,
			Metrics: intelligence.EngagementMetrics{
				Views:       int64(100 + i*50),
				Likes:       int64(i * 5),
				Shares:      int64(i),
				Comments:    int64(i * 2),
				Completions: int64(50 + i*20),
			},
		})
	}
	return items
}

type harness struct {
	engine *core.Engine
	mem    *memory.Store
	clock  *clock.Fake
}

// newHarness builds an engine over an in-memory store, a fake clock and a
// seeded rand. Learners start at B1.
func newHarness(t *testing.T, mutate ...func(*core.Config)) *harness {
	t.Helper()
	mem := memory.New()
	h := newHarnessWithStore(t, mem, mutate...)
	h.mem = mem
	return h
}

func newHarnessWithStore(t *testing.T, store storage.StateStore, mutate ...func(*core.Config)) *harness {
	t.Helper()

	cfg := core.DefaultConfig()
	cfg.Engine.DefaultLevel = intelligence.LevelB1
	for _, m := range mutate {
		m(cfg)
	}

	cat, err := catalog.NewStaticCatalog(testItems())
	require.NoError(t, err)

	fake := clock.NewFake(testStart)
	engine, err := core.NewEngine(cfg,
		core.WithStore(store),
		core.WithCatalog(cat),
		core.WithClock(fake),
		core.WithRand(rand.New(rand.NewSource(42))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return &harness{engine: engine, clock: fake}
}

func (h *harness) track(t *testing.T, learnerID string, event core.InteractionEvent) *core.InteractionResult {
	t.Helper()
	result, err := h.engine.TrackInteraction(context.Background(), learnerID, event)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func boolPtr(b bool) *bool { return &b }

func floatPtr(f float64) *float64 { return &f }

var errInjected = errors.New("injected store failure")

// faultyStore fails loads or saves of selected record kinds.
type faultyStore struct {
	*memory.Store

	mu       sync.Mutex
	failLoad map[storage.Kind]bool
	failSave map[storage.Kind]bool
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		Store:    memory.New(),
		failLoad: make(map[storage.Kind]bool),
		failSave: make(map[storage.Kind]bool),
	}
}

func (s *faultyStore) FailLoad(kinds ...storage.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range kinds {
		s.failLoad[k] = true
	}
}

func (s *faultyStore) FailSave(kinds ...storage.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range kinds {
		s.failSave[k] = true
	}
}

func (s *faultyStore) Load(ctx context.Context, kind storage.Kind, learnerID string) (*storage.Record, error) {
	s.mu.Lock()
	fail := s.failLoad[kind]
	s.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return s.Store.Load(ctx, kind, learnerID)
}

func (s *faultyStore) Save(ctx context.Context, rec *storage.Record) error {
	s.mu.Lock()
	fail := s.failSave[rec.Kind]
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	return s.Store.Save(ctx, rec)
}
