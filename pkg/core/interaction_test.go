package core_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/learnfeed/learnfeed-go/pkg/core"
	"github.com/learnfeed/learnfeed-go/pkg/intelligence"
	"github.com/learnfeed/learnfeed-go/pkg/storage"
)

func TestTrackInteraction_Validation(t *testing.T) {
	tests := []struct {
		name      string
		learnerID string
		event     core.InteractionEvent
	}{
		{
			name:  "missing learner",
			event: core.InteractionEvent{Action: core.ActionLogin},
		},
		{
			name:      "unknown action",
			learnerID: "u1",
			event:     core.InteractionEvent{Action: "dance"},
		},
		{
			name:      "negative watch time",
			learnerID: "u1",
			event:     core.InteractionEvent{Action: core.ActionView, ContentID: "v00", WatchSeconds: -1},
		},
		{
			name:      "infinite duration",
			learnerID: "u1",
			event:     core.InteractionEvent{Action: core.ActionView, ContentID: "v00", DurationSeconds: math.Inf(1)},
		},
		{
			name:      "difficulty above ten",
			learnerID: "u1",
			event:     core.InteractionEvent{Action: core.ActionLike, ContentID: "v00", Difficulty: 11},
		},
		{
			name:      "invalid content level",
			learnerID: "u1",
			event:     core.InteractionEvent{Action: core.ActionLike, ContentID: "v00", ContentLevel: "D9"},
		},
		{
			name:      "watch without content",
			learnerID: "u1",
			event:     core.InteractionEvent{Action: core.ActionView},
		},
		{
			name:      "quiz without grade",
			learnerID: "u1",
			event:     core.InteractionEvent{Action: core.ActionQuiz},
		},
		{
			name:      "follow without creator",
			learnerID: "u1",
			event:     core.InteractionEvent{Action: core.ActionFollow},
		},
		{
			name:      "session without summary",
			learnerID: "u1",
			event:     core.InteractionEvent{Action: core.ActionSession},
		},
		{
			name:      "empty word",
			learnerID: "u1",
			event: core.InteractionEvent{
				Action: core.ActionPractice,
				Words:  []core.WordPractice{{Word: "hola"}, {Word: "  "}},
			},
		},
		{
			name:      "confidence above one",
			learnerID: "u1",
			event: core.InteractionEvent{
				Action: core.ActionPractice,
				Words:  []core.WordPractice{{Word: "hola", Confidence: floatPtr(1.5)}},
			},
		},
		{
			name:      "negative response time",
			learnerID: "u1",
			event: core.InteractionEvent{
				Action: core.ActionPractice,
				Words:  []core.WordPractice{{Word: "hola", ResponseTime: -time.Second}},
			},
		},
		{
			name:      "session rate outside unit",
			learnerID: "u1",
			event: core.InteractionEvent{
				Action:  core.ActionSession,
				Session: &intelligence.SessionSummary{Accuracy: 1.2},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			result, err := h.engine.TrackInteraction(context.Background(), tt.learnerID, tt.event)
			assert.Nil(t, result)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrValidation)

			// Nothing is applied when validation fails.
			assert.Equal(t, 0, h.mem.Len())
		})
	}
}

func TestTrackInteraction_QuizWithWords(t *testing.T) {
	h := newHarness(t)

	result := h.track(t, "u1", core.InteractionEvent{
		Action:  core.ActionQuiz,
		Correct: boolPtr(true),
		Words: []core.WordPractice{
			{Word: "Hola"},
			{Word: "amigo", Correct: boolPtr(false)},
		},
	})

	assert.NotEmpty(t, result.EventID)
	assert.Equal(t, "u1", result.LearnerID)
	assert.Equal(t, testStart, result.At)
	assert.Empty(t, result.Warnings)

	require.Len(t, result.MemoryUpdates, 2)
	assert.Equal(t, "hola", result.MemoryUpdates[0].Key.ItemID)
	assert.Equal(t, 1, result.MemoryUpdates[0].State.CorrectRecalls)
	assert.Equal(t, 1, result.MemoryUpdates[1].State.IncorrectRecalls)

	require.NotNil(t, result.Level)
	assert.Equal(t, intelligence.LevelB1, result.Level.CurrentLevel)
	assert.Equal(t, 1, result.Level.KnownWordsAdded)
	require.NotNil(t, result.Level.Assessment)
	assert.False(t, result.Level.Assessment.ShouldAdjust)
	assert.Nil(t, result.Level.Change)

	// A quiz is not a watch or a reaction.
	assert.Nil(t, result.Engagement)

	require.NotNil(t, result.Streak)
	assert.Equal(t, intelligence.StreakStarted, result.Streak.Status)
	assert.Equal(t, 1, result.Streak.StreakDays)

	require.NotNil(t, result.XP)
	require.Len(t, result.XP.Awards, 1)
	assert.Equal(t, intelligence.ActionCompleteQuiz, result.XP.Awards[0].Action)
	assert.Positive(t, result.XP.Awarded)
	assert.Equal(t, result.XP.Awarded, result.XP.TotalXP)

	// memory, level and gamification records.
	assert.Equal(t, 3, h.mem.Len())

	dash, err := h.engine.GetDashboard(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, dash.KnownWords)
	assert.Equal(t, 2, dash.TotalItems)
	assert.Equal(t, result.XP.TotalXP, dash.Gamification.XP)
	assert.EqualValues(t, 1, dash.Gamification.LessonsCompleted)
}

func TestTrackInteraction_Watch(t *testing.T) {
	h := newHarness(t)

	result := h.track(t, "u1", core.InteractionEvent{
		Action:       core.ActionComplete,
		ContentID:    "v00",
		WatchSeconds: 30,
	})

	// The catalog supplies category, level and duration.
	require.NotNil(t, result.Engagement)
	require.NotNil(t, result.Engagement.PassedHook)
	assert.True(t, *result.Engagement.PassedHook)
	require.NotNil(t, result.Engagement.WatchQuality)
	assert.InDelta(t, 1.0, result.Engagement.WatchQuality.CompletionRate, 1e-9)
	assert.Equal(t, intelligence.StageColdStart, result.Engagement.Stage)
	assert.Equal(t, []string{"travel"}, result.Engagement.TopInterests)

	assert.Nil(t, result.Level)
	assert.Nil(t, result.MemoryUpdates)
	require.NotNil(t, result.XP)
	assert.Equal(t, intelligence.ActionWatchToCompletion, result.XP.Awards[0].Action)

	dash, err := h.engine.GetDashboard(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, dash.Engagement.WatchCount)
	assert.InDelta(t, 1.0, dash.Engagement.AvgCompletionRate, 1e-9)
	assert.EqualValues(t, 1, dash.Gamification.VideosWatched)
}

func TestTrackInteraction_ScrolledAwayFailsHook(t *testing.T) {
	h := newHarness(t)

	result := h.track(t, "u1", core.InteractionEvent{
		Action:       core.ActionView,
		ContentID:    "v01",
		WatchSeconds: 1,
		ScrolledAway: true,
	})

	require.NotNil(t, result.Engagement)
	require.NotNil(t, result.Engagement.PassedHook)
	assert.False(t, *result.Engagement.PassedHook)
	require.NotNil(t, result.XP)
	assert.Equal(t, intelligence.ActionVideoView, result.XP.Awards[0].Action)
}

func TestTrackInteraction_Reactions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.track(t, "u1", core.InteractionEvent{Action: core.ActionLike, ContentID: "v01"})
	h.track(t, "u1", core.InteractionEvent{Action: core.ActionFollow, ContentID: "v01"})
	result := h.track(t, "u1", core.InteractionEvent{Action: core.ActionFollow, CreatorID: "creator_9"})

	require.NotNil(t, result.Engagement)
	assert.Equal(t, []string{"food"}, result.Engagement.TopInterests)

	dash, err := h.engine.GetDashboard(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, dash.Engagement.FollowedCreators)
	assert.Equal(t, 0, dash.Engagement.WatchCount)
}

func TestTrackInteraction_UnknownContentWarns(t *testing.T) {
	h := newHarness(t)

	result := h.track(t, "u1", core.InteractionEvent{
		Action:       core.ActionView,
		ContentID:    "missing",
		WatchSeconds: 5,
		Category:     "travel",
	})

	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], core.ErrNotFound.Error())
	assert.Contains(t, result.Warnings[0], "missing")
	require.NotNil(t, result.Engagement)
	assert.Equal(t, []string{"travel"}, result.Engagement.TopInterests)
}

func TestTrackInteraction_Session(t *testing.T) {
	h := newHarness(t)

	result := h.track(t, "u1", core.InteractionEvent{
		Action: core.ActionSession,
		Session: &intelligence.SessionSummary{
			Accuracy:       0.8,
			CompletionRate: 0.9,
		},
	})

	require.NotNil(t, result.Level)
	assert.True(t, result.Level.SessionRecorded)
	assert.Nil(t, result.Level.Assessment)
	require.NotNil(t, result.Engagement)
	assert.Nil(t, result.XP)
	require.NotNil(t, result.Streak)
}

func TestTrackInteraction_StreakAcrossDays(t *testing.T) {
	h := newHarness(t)
	login := core.InteractionEvent{Action: core.ActionLogin}

	first := h.track(t, "u1", login)
	assert.Equal(t, intelligence.StreakStarted, first.Streak.Status)

	h.clock.Advance(2 * time.Hour)
	same := h.track(t, "u1", login)
	assert.Equal(t, intelligence.StreakMaintained, same.Streak.Status)
	assert.Equal(t, 1, same.Streak.StreakDays)

	h.clock.Advance(24 * time.Hour)
	next := h.track(t, "u1", login)
	assert.Equal(t, intelligence.StreakIncreased, next.Streak.Status)
	assert.Equal(t, 2, next.Streak.StreakDays)

	h.clock.Advance(72 * time.Hour)
	broken := h.track(t, "u1", login)
	assert.Equal(t, intelligence.StreakBroken, broken.Streak.Status)
	assert.Equal(t, 1, broken.Streak.StreakDays)
	assert.Equal(t, 2, broken.Streak.PreviousStreak)
}

func TestTrackInteraction_Freeze(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.track(t, "u1", core.InteractionEvent{Action: core.ActionLogin})

	// No freeze earned yet.
	h.clock.Advance(21 * time.Hour)
	_, err := h.engine.TrackInteraction(ctx, "u1", core.InteractionEvent{Action: core.ActionFreeze})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.ErrorIs(t, err, intelligence.ErrNoStreakFreeze)

	data, err := h.engine.ExportLearnerData(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, data.Gamification)
	data.Gamification.StreakFreezes = 1
	data.Gamification.StreakDays = 9
	require.NoError(t, h.engine.ImportLearnerData(ctx, "u1", data))

	result := h.track(t, "u1", core.InteractionEvent{Action: core.ActionFreeze})
	require.NotNil(t, result.Freeze)
	assert.Equal(t, 9, result.Freeze.StreakDays)
	assert.Equal(t, 0, result.Freeze.RemainingFreezes)
	assert.Nil(t, result.XP)

	// The streak is safe again.
	_, err = h.engine.TrackInteraction(ctx, "u1", core.InteractionEvent{Action: core.ActionFreeze})
	assert.ErrorIs(t, err, intelligence.ErrNoStreakFreeze)
}

func TestTrackInteraction_FreezeNotAtRisk(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.ImportLearnerData(ctx, "u1", &core.LearnerData{
		Format: core.LearnerDataFormat,
		Gamification: &intelligence.GamificationState{
			Level:          1,
			StreakDays:     4,
			StreakFreezes:  2,
			LastActiveDate: testStart.Format("2006-01-02"),
			LastActiveAt:   testStart,
		},
	}))

	_, err := h.engine.TrackInteraction(ctx, "u1", core.InteractionEvent{Action: core.ActionFreeze})
	assert.ErrorIs(t, err, intelligence.ErrStreakNotAtRisk)
	assert.True(t, core.IsValidationError(err))
}

func TestTrackInteraction_AutoLevelUp(t *testing.T) {
	h := newHarness(t)

	var last *core.InteractionResult
	for i := 0; i < 10; i++ {
		last = h.track(t, "u1", core.InteractionEvent{
			Action:  core.ActionQuiz,
			Correct: boolPtr(true),
		})
		if i < 9 {
			assert.Nil(t, last.Level.Change, "answer %d", i)
		}
	}

	require.NotNil(t, last.Level.Change)
	assert.Equal(t, intelligence.LevelB1, last.Level.Change.From)
	assert.Equal(t, intelligence.LevelB2, last.Level.Change.To)
	assert.Equal(t, intelligence.LevelB2, last.Level.CurrentLevel)

	// The level-up earns a second quiz award.
	require.NotNil(t, last.XP)
	require.Len(t, last.XP.Awards, 2)
	assert.Equal(t, intelligence.ActionCompleteQuiz, last.XP.Awards[1].Action)
	assert.True(t, last.XP.Awards[1].DifficultyBonus)

	feed, err := h.engine.GenerateFeed(context.Background(), "u1", core.WithCount(5))
	require.NoError(t, err)
	assert.Equal(t, intelligence.LevelB2, feed.Level)
}

func TestTrackInteraction_AutoLevelAdjustDisabled(t *testing.T) {
	h := newHarness(t, func(cfg *core.Config) {
		cfg.Engine.AutoLevelAdjust = false
	})

	for i := 0; i < 12; i++ {
		result := h.track(t, "u1", core.InteractionEvent{Action: core.ActionQuiz, Correct: boolPtr(true)})
		assert.Nil(t, result.Level.Assessment)
		assert.Equal(t, intelligence.LevelB1, result.Level.CurrentLevel)
	}
}

func TestTrackInteraction_RescuedWordEarnsXP(t *testing.T) {
	h := newHarness(t)
	practice := core.InteractionEvent{
		Action: core.ActionPractice,
		Words:  []core.WordPractice{{Word: "viaje"}},
	}

	first := h.track(t, "u1", practice)
	require.NotNil(t, first.Streak)
	assert.Nil(t, first.XP)

	h.clock.Advance(14 * 24 * time.Hour)
	second := h.track(t, "u1", practice)

	require.Len(t, second.MemoryUpdates, 1)
	assert.Equal(t, intelligence.UrgencyOverdue, second.MemoryUpdates[0].ReviewedAt.Urgency)
	require.NotNil(t, second.XP)
	require.Len(t, second.XP.Awards, 1)
	award := second.XP.Awards[0]
	assert.Equal(t, intelligence.ActionMasterWeakWord, award.Action)
	assert.True(t, award.RescuedBonus)
}

func TestTrackInteraction_PartialResultOnStoreFailure(t *testing.T) {
	store := newFaultyStore()
	store.FailSave(storage.KindEngagementProfile)
	h := newHarnessWithStore(t, store)
	ctx := context.Background()

	result, err := h.engine.TrackInteraction(ctx, "u1", core.InteractionEvent{
		Action:       core.ActionComplete,
		ContentID:    "v00",
		WatchSeconds: 30,
		Correct:      boolPtr(true),
		Words:        []core.WordPractice{{Word: "viaje"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.True(t, errors.Is(err, errInjected))
	assert.False(t, core.IsValidationError(err))

	// Steps before the failure stay recorded.
	require.NotNil(t, result)
	assert.Len(t, result.MemoryUpdates, 1)
	assert.NotNil(t, result.Level)
	assert.Nil(t, result.Engagement)
	assert.Nil(t, result.XP)

	_, err = store.Load(ctx, storage.KindMemoryState, "u1")
	assert.NoError(t, err)
	_, err = store.Load(ctx, storage.KindGamificationState, "u1")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestTrackInteraction_SerializesPerLearner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const n = 25
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		awarded int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.engine.TrackInteraction(ctx, "u1", core.InteractionEvent{
				Action:    core.ActionLike,
				ContentID: "v03",
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			awarded += result.XP.Awarded
			mu.Unlock()
		}()
	}
	wg.Wait()

	dash, err := h.engine.GetDashboard(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, awarded, dash.Gamification.XP)
	assert.Equal(t, n, dash.Gamification.ActionsToday)
}

func TestTrackInteraction_Closed(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Close())

	_, err := h.engine.TrackInteraction(context.Background(), "u1", core.InteractionEvent{Action: core.ActionLogin})
	assert.ErrorIs(t, err, core.ErrClosed)
}
