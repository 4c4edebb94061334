package intelligence_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnfeed/learnfeed-go/pkg/intelligence"
)

var baseTime = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func newHalfLifeModel() *intelligence.HalfLifeModel {
	return intelligence.NewHalfLifeModel(intelligence.DefaultHalfLifeConfig())
}

func daysAgo(days float64) *time.Time {
	t := baseTime.Add(-time.Duration(days * 24 * float64(time.Hour)))
	return &t
}

func TestPredictRecall(t *testing.T) {
	model := newHalfLifeModel()

	assert.Equal(t, 1.0, model.PredictRecall(0, 3))
	assert.InDelta(t, 0.5, model.PredictRecall(3, 3), 1e-12)
	assert.Equal(t, 0.0, model.PredictRecall(1, 0))
	assert.Equal(t, 0.0, model.PredictRecall(1, -2))

	for _, h := range []float64{0.25, 1, 7.5, 365} {
		prev := model.PredictRecall(0, h)
		for lag := 0.5; lag <= 60; lag += 0.5 {
			p := model.PredictRecall(lag, h)
			assert.Less(t, p, prev, "recall should decrease with lag (h=%v, lag=%v)", h, lag)
			assert.Greater(t, p, 0.0)
			prev = p
		}
	}
}

func TestEstimateHalfLife(t *testing.T) {
	model := newHalfLifeModel()

	t.Run("defaults for missing features", func(t *testing.T) {
		got := model.EstimateHalfLife(intelligence.HalfLifeFeatures{})
		want := math.Pow(2, -0.05*math.Log(5)+0.10*math.Log(1001))
		assert.InDelta(t, want, got, 1e-9)
	})

	t.Run("cognates last longer than irregular words", func(t *testing.T) {
		base := intelligence.HalfLifeFeatures{TotalExposures: 3, CorrectRecalls: 2, IncorrectRecalls: 1}
		cognate := base
		cognate.IsCognate = true
		irregular := base
		irregular.IsIrregular = true

		assert.Greater(t, model.EstimateHalfLife(cognate), model.EstimateHalfLife(base))
		assert.Less(t, model.EstimateHalfLife(irregular), model.EstimateHalfLife(base))
	})

	t.Run("clamped to range", func(t *testing.T) {
		assert.Equal(t, 365.0, model.EstimateHalfLife(intelligence.HalfLifeFeatures{TotalExposures: 100000, CorrectRecalls: 100000}))
		assert.Equal(t, 0.25, model.EstimateHalfLife(intelligence.HalfLifeFeatures{TotalExposures: 10000, IncorrectRecalls: 10000}))
	})

	t.Run("malformed inputs are clamped", func(t *testing.T) {
		got := model.EstimateHalfLife(intelligence.HalfLifeFeatures{
			TotalExposures:   -4,
			LastIntervalDays: -10,
			WordFeatures:     intelligence.WordFeatures{WordLength: -3, WordFrequency: -50},
		})
		assert.False(t, math.IsNaN(got))
		assert.GreaterOrEqual(t, got, 0.25)
		assert.LessOrEqual(t, got, 365.0)
	})
}

func TestRecordPractice_FailureReset(t *testing.T) {
	model := newHalfLifeModel()
	features := intelligence.WordFeatures{WordLength: 6, WordFrequency: 800}

	state := model.NewMemoryState("perro")
	state.TotalExposures = 4
	state.CorrectRecalls = 4
	state.HalfLifeDays = 6
	state.LastIntervalDays = 3
	state.LastReviewAt = daysAgo(5)

	estimate := model.EstimateHalfLife(intelligence.HalfLifeFeatures{
		TotalExposures:   5,
		CorrectRecalls:   4,
		IncorrectRecalls: 1,
		LastIntervalDays: 3,
		WordFeatures:     features,
	})

	key := intelligence.ItemKey{LearnerID: "u1", ItemID: "perro"}
	out := model.RecordPractice(key, state, intelligence.PracticeResult{Correct: false}, features, baseTime)

	assert.InDelta(t, math.Max(0.5, estimate*0.5), state.HalfLifeDays, 1e-12)
	assert.LessOrEqual(t, state.HalfLifeDays, estimate*0.5+1e-12)
	assert.GreaterOrEqual(t, state.HalfLifeDays, 0.5)
	assert.Equal(t, 5, state.TotalExposures)
	assert.Equal(t, 1, state.IncorrectRecalls)
	assert.InDelta(t, 5.0, state.LastIntervalDays, 1e-9)
	assert.Equal(t, 5, out.XPReward)
	assert.Equal(t, key, out.Key)
}

func TestRecordPractice_FirstExposureFailureKeepsHalfLife(t *testing.T) {
	model := newHalfLifeModel()
	state := model.NewMemoryState("gato")

	model.RecordPractice(intelligence.ItemKey{LearnerID: "u1", ItemID: "gato"}, state,
		intelligence.PracticeResult{Correct: false}, intelligence.WordFeatures{}, baseTime)

	assert.Equal(t, 1.0, state.HalfLifeDays)
	assert.Equal(t, 1, state.TotalExposures)
	require.NotNil(t, state.LastReviewAt)
	assert.Equal(t, baseTime, *state.LastReviewAt)
}

func TestRecordPractice_SpacingEffect(t *testing.T) {
	model := newHalfLifeModel()
	features := intelligence.WordFeatures{WordLength: 5, WordFrequency: 1200}
	key := intelligence.ItemKey{LearnerID: "u1", ItemID: "casa"}
	state := model.NewMemoryState("casa")

	prev := state.HalfLifeDays
	now := baseTime
	for i := 0; i < 12; i++ {
		model.RecordPractice(key, state, intelligence.PracticeResult{Correct: true, Confidence: 0.9}, features, now)
		assert.Greater(t, state.HalfLifeDays, prev, "practice %d should lengthen the half-life", i+1)
		prev = state.HalfLifeDays
		now = now.Add(24 * time.Hour)
	}
	assert.Equal(t, 12, state.CorrectRecalls)
}

func TestRecordPractice_HistoryIsBounded(t *testing.T) {
	cfg := intelligence.DefaultHalfLifeConfig()
	cfg.HistoryLimit = 3
	model := intelligence.NewHalfLifeModel(cfg)
	state := model.NewMemoryState("agua")

	now := baseTime
	for i := 0; i < 5; i++ {
		model.RecordPractice(intelligence.ItemKey{LearnerID: "u1", ItemID: "agua"}, state,
			intelligence.PracticeResult{Correct: true}, intelligence.WordFeatures{}, now)
		now = now.Add(time.Hour)
	}

	require.Len(t, state.History, 3)
	assert.Equal(t, baseTime.Add(4*time.Hour), state.History[2].At)
}

func TestScheduleNextReview(t *testing.T) {
	model := newHalfLifeModel()

	testCases := []struct {
		name    string
		lagDays float64
		urgency intelligence.Urgency
		bars    int
	}{
		{"just reviewed", 0, intelligence.UrgencyTooFresh, 4},
		{"optimal", 0.1, intelligence.UrgencyOptimal, 3},
		{"due soon", 0.3, intelligence.UrgencyDueSoon, 2},
		{"overdue", 1, intelligence.UrgencyOverdue, 1},
		{"forgotten", 3, intelligence.UrgencyOverdue, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			state := model.NewMemoryState("x")
			state.LastReviewAt = daysAgo(tc.lagDays)

			s := model.ScheduleNextReview(state, baseTime)
			assert.Equal(t, tc.urgency, s.Urgency)
			assert.Equal(t, tc.bars, s.StrengthBars)
			assert.InDelta(t, math.Pow(2, -tc.lagDays), s.CurrentRecall, 1e-9)
			assert.GreaterOrEqual(t, s.DaysUntilReview, 0.0)
		})
	}

	state := model.NewMemoryState("fresh")
	state.LastReviewAt = daysAgo(0)
	s := model.ScheduleNextReview(state, baseTime)
	assert.InDelta(t, -math.Log2(0.9), s.DaysUntilReview, 1e-9)
	assert.True(t, s.NextReviewAt.After(baseTime))
}

func TestCalculateXPReward(t *testing.T) {
	model := newHalfLifeModel()
	strong := &intelligence.MemoryState{HalfLifeDays: 10}
	weak := &intelligence.MemoryState{HalfLifeDays: 1}

	testCases := []struct {
		state   *intelligence.MemoryState
		urgency intelligence.Urgency
		correct bool
		want    int
	}{
		{strong, intelligence.UrgencyOverdue, false, 5},
		{strong, intelligence.UrgencyOverdue, true, 50},
		{strong, intelligence.UrgencyDueSoon, true, 100},
		{strong, intelligence.UrgencyOptimal, true, 30},
		{strong, intelligence.UrgencyTooFresh, true, 10},
		{weak, intelligence.UrgencyDueSoon, true, 150},
		{weak, intelligence.UrgencyTooFresh, true, 15},
	}

	for _, tc := range testCases {
		got := model.CalculateXPReward(tc.state, intelligence.ReviewSchedule{Urgency: tc.urgency}, tc.correct)
		assert.Equal(t, tc.want, got, "urgency=%s correct=%v h=%v", tc.urgency, tc.correct, tc.state.HalfLifeDays)
	}
}

func TestWeakestWords(t *testing.T) {
	model := newHalfLifeModel()
	book := intelligence.NewMemoryBook("u1")

	add := func(id string, lag float64) {
		st := model.NewMemoryState(id)
		st.LastReviewAt = daysAgo(lag)
		book.Items[id] = st
	}
	add("fresh", 0)
	add("overdue-mild", 1)
	add("overdue-bad", 3)
	add("due", 0.3)
	add("optimal", 0.1)

	got := model.WeakestWords(book, 10, baseTime)
	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.Key.ItemID
		assert.Equal(t, "u1", r.Key.LearnerID)
	}
	assert.Equal(t, []string{"overdue-bad", "overdue-mild", "due", "optimal", "fresh"}, ids)

	assert.Len(t, model.WeakestWords(book, 2, baseTime), 2)
	assert.Empty(t, model.WeakestWords(nil, 2, baseTime))
}

func TestSkillStrength(t *testing.T) {
	model := newHalfLifeModel()
	book := intelligence.NewMemoryBook("u1")
	st := model.NewMemoryState("hola")
	st.LastReviewAt = daysAgo(0)
	book.Items["hola"] = st

	s := model.SkillStrength(book, []string{"hola", "adios"}, baseTime)
	assert.Equal(t, 2, s.TotalWords)
	assert.Equal(t, 2, s.WordsByUrgency[intelligence.UrgencyTooFresh])
	assert.Equal(t, 4, s.StrengthBars)
	assert.True(t, s.IsGolden)
	assert.False(t, s.NeedsPractice)
}

func TestModelAccuracy(t *testing.T) {
	model := newHalfLifeModel()

	_, ok := model.ModelAccuracy()
	assert.False(t, ok)

	state := model.NewMemoryState("sol")
	model.RecordPractice(intelligence.ItemKey{LearnerID: "u1", ItemID: "sol"}, state,
		intelligence.PracticeResult{Correct: true}, intelligence.WordFeatures{}, baseTime)

	acc, ok := model.ModelAccuracy()
	require.True(t, ok)
	assert.Equal(t, 1, acc.DataPoints)
	assert.InDelta(t, 1.0, acc.Accuracy, 1e-9)
}

func TestCalibrationRingIsBounded(t *testing.T) {
	cfg := intelligence.DefaultHalfLifeConfig()
	cfg.CalibrationLimit = 4
	model := intelligence.NewHalfLifeModel(cfg)
	state := model.NewMemoryState("mar")

	for i := 0; i < 10; i++ {
		model.RecordPractice(intelligence.ItemKey{LearnerID: "u1", ItemID: "mar"}, state,
			intelligence.PracticeResult{Correct: i%2 == 0}, intelligence.WordFeatures{}, baseTime)
	}

	acc, ok := model.ModelAccuracy()
	require.True(t, ok)
	assert.Equal(t, 4, acc.DataPoints)
}
