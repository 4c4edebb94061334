package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/learnfeed/learnfeed-go/pkg/core"
	"github.com/learnfeed/learnfeed-go/pkg/intelligence"
	"github.com/learnfeed/learnfeed-go/pkg/storage"
)

func TestGenerateFeed_ColdStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	feed, err := h.engine.GenerateFeed(ctx, "u1", core.WithCount(10))
	require.NoError(t, err)

	assert.Equal(t, "u1", feed.LearnerID)
	assert.Equal(t, intelligence.StageColdStart, feed.Stage)
	assert.Equal(t, intelligence.LevelB1, feed.Level)
	assert.Empty(t, feed.Degraded)
	assert.Empty(t, feed.DueWords)
	require.NotEmpty(t, feed.Items)
	assert.LessOrEqual(t, len(feed.Items), 10)

	for i, item := range feed.Items {
		assert.Equal(t, intelligence.SourceColdStart, item.Source)
		require.NotNil(t, item.Comprehensibility)
		if i > 0 {
			assert.GreaterOrEqual(t, feed.Items[i-1].Priority, item.Priority)
		}
	}

	// Generating a feed never writes learner state.
	assert.Equal(t, 0, h.mem.Len())
}

func TestGenerateFeed_DifficultyMix(t *testing.T) {
	h := newHarness(t)

	feed, err := h.engine.GenerateFeed(context.Background(), "u1", core.WithCount(10))
	require.NoError(t, err)

	// 10 slots split 7/2/1; only five B1 items exist, and buckets never borrow.
	var atLevel, easier, harder int
	for _, item := range feed.Items {
		switch idx := item.Item.Level.Index(); {
		case idx == intelligence.LevelB1.Index():
			atLevel++
		case idx < intelligence.LevelB1.Index():
			easier++
		default:
			harder++
		}
	}
	assert.Equal(t, 5, atLevel)
	assert.Equal(t, 2, easier)
	assert.Equal(t, 1, harder)
	assert.Len(t, feed.Items, 8)
}

func TestGenerateFeed_Filters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	feed, err := h.engine.GenerateFeed(ctx, "u1", core.WithCategories("food"))
	require.NoError(t, err)
	require.NotEmpty(t, feed.Items)
	for _, item := range feed.Items {
		assert.Equal(t, "food", item.Item.Category)
	}

	feed, err = h.engine.GenerateFeed(ctx, "u1", core.WithExcludedIDs("v02", "v08"))
	require.NoError(t, err)
	for _, item := range feed.Items {
		assert.NotContains(t, []string{"v02", "v08"}, item.Item.ID)
	}
}

func TestGenerateFeed_ReportsMissingIDs(t *testing.T) {
	h := newHarness(t)

	feed, err := h.engine.GenerateFeed(context.Background(), "u1",
		core.WithCandidateIDs("v02", "nope", "v08", "nope"),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"nope"}, feed.Missing)
	for _, item := range feed.Items {
		assert.Contains(t, []string{"v02", "v08"}, item.Item.ID)
	}
}

func TestGenerateFeed_SkipsWatchedContent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.track(t, "u1", core.InteractionEvent{
		Action:          core.ActionView,
		ContentID:       "v02",
		WatchSeconds:    20,
		DurationSeconds: 30,
	})

	feed, err := h.engine.GenerateFeed(ctx, "u1", core.WithCount(20))
	require.NoError(t, err)
	require.NotEmpty(t, feed.Items)
	for _, item := range feed.Items {
		assert.NotEqual(t, "v02", item.Item.ID)
	}
}

func TestGenerateFeed_AnnotatesDueWords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.track(t, "u1", core.InteractionEvent{
		Action:  core.ActionPractice,
		Words:   []core.WordPractice{{Word: "Viaje"}},
	})
	h.clock.Advance(14 * 24 * time.Hour)

	feed, err := h.engine.GenerateFeed(ctx, "u1", core.WithCount(10))
	require.NoError(t, err)

	require.Len(t, feed.DueWords, 1)
	assert.Equal(t, "viaje", feed.DueWords[0].Key.ItemID)
	assert.Equal(t, intelligence.UrgencyOverdue, feed.DueWords[0].Urgency)

	require.NotEmpty(t, feed.Items)
	for _, item := range feed.Items {
		assert.Equal(t, []string{"viaje"}, item.DueWords)
	}
}

func TestGenerateFeed_DegradesWhenStateUnavailable(t *testing.T) {
	store := newFaultyStore()
	store.FailLoad(storage.KindEngagementProfile, storage.KindMemoryState)
	h := newHarnessWithStore(t, store)

	feed, err := h.engine.GenerateFeed(context.Background(), "u1", core.WithCount(5))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"engagement", "memory"}, feed.Degraded)
	assert.Equal(t, intelligence.StageColdStart, feed.Stage)
	assert.NotEmpty(t, feed.Items)
}

func TestGenerateFeed_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		learnerID string
		opts      []core.FeedOption
	}{
		{name: "missing learner", learnerID: ""},
		{name: "zero count", learnerID: "u1", opts: []core.FeedOption{core.WithCount(0)}},
		{name: "negative count", learnerID: "u1", opts: []core.FeedOption{core.WithCount(-3)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed, err := h.engine.GenerateFeed(ctx, tt.learnerID, tt.opts...)
			assert.Nil(t, feed)
			assert.ErrorIs(t, err, core.ErrValidation)
			assert.True(t, core.IsValidationError(err))
		})
	}
}

func TestGenerateFeed_PersonalizedAfterColdStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Fifteen watches move the learner out of cold start.
	for i := 0; i < 15; i++ {
		h.track(t, "u1", core.InteractionEvent{
			Action:          core.ActionComplete,
			ContentID:       testItems()[i].ID,
			WatchSeconds:    30,
			DurationSeconds: 30,
		})
	}

	feed, err := h.engine.GenerateFeed(ctx, "u1", core.WithCount(6))
	require.NoError(t, err)
	assert.NotEqual(t, intelligence.StageColdStart, feed.Stage)
	require.NotEmpty(t, feed.Items)
	for _, item := range feed.Items {
		assert.Contains(t,
			[]intelligence.FeedSource{intelligence.SourceExploit, intelligence.SourceExplore},
			item.Source)
	}
}
