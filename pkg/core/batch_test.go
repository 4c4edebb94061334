package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/learnfeed/learnfeed-go/pkg/core"
	"github.com/learnfeed/learnfeed-go/pkg/intelligence"
)

func TestTrackBatch(t *testing.T) {
	h := newHarness(t, func(cfg *core.Config) {
		cfg.Engine.BatchConcurrency = 2
	})
	ctx := context.Background()

	events := []core.BatchEvent{
		{LearnerID: "u1", Event: core.InteractionEvent{Action: core.ActionLogin}},
		{LearnerID: "u2", Event: core.InteractionEvent{Action: core.ActionView, ContentID: "v00", WatchSeconds: 12}},
		{LearnerID: "u1", Event: core.InteractionEvent{Action: core.ActionQuiz}},
		{LearnerID: "u3", Event: core.InteractionEvent{Action: core.ActionLike, ContentID: "v05"}},
		{LearnerID: "u1", Event: core.InteractionEvent{
			Action:  core.ActionQuiz,
			Correct: boolPtr(true),
			Words:   []core.WordPractice{{Word: "hola"}},
		}},
		{LearnerID: "", Event: core.InteractionEvent{Action: core.ActionLogin}},
	}

	result, err := h.engine.TrackBatch(ctx, events)
	require.NoError(t, err)

	assert.Equal(t, 6, result.Total)
	assert.Equal(t, 4, result.SucceededCount)
	assert.Equal(t, 2, result.FailedCount)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, 2, result.Failed[0].Index)
	assert.Equal(t, "u1", result.Failed[0].LearnerID)
	assert.ErrorIs(t, result.Failed[0].Error, core.ErrValidation)
	assert.Equal(t, 5, result.Failed[1].Index)

	require.Len(t, result.Results, 6)
	assert.Nil(t, result.Results[2])
	for _, i := range []int{0, 1, 3, 4} {
		require.NotNil(t, result.Results[i], "event %d", i)
		assert.Equal(t, events[i].LearnerID, result.Results[i].LearnerID)
	}

	// u1's events ran in order: the login started the streak.
	assert.Equal(t, intelligence.StreakStarted, result.Results[0].Streak.Status)
	assert.Equal(t, intelligence.StreakMaintained, result.Results[4].Streak.Status)

	dash, err := h.engine.GetDashboard(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, dash.KnownWords)
}

func TestTrackBatch_Empty(t *testing.T) {
	h := newHarness(t)

	result, err := h.engine.TrackBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
	assert.Empty(t, result.Failed)
}

func TestTrackBatch_CanceledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.engine.TrackBatch(ctx, []core.BatchEvent{
		{LearnerID: "u1", Event: core.InteractionEvent{Action: core.ActionLogin}},
		{LearnerID: "u1", Event: core.InteractionEvent{Action: core.ActionLogin}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.FailedCount)
	assert.ErrorIs(t, result.Failed[0].Error, context.Canceled)
	assert.Equal(t, 0, h.mem.Len())
}
