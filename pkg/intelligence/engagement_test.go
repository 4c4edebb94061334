package intelligence_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnfeed/learnfeed-go/pkg/intelligence"
)

// fixedRand always rolls the same float and picks the first index.
type fixedRand struct{ f float64 }

func (r fixedRand) Float64() float64            { return r.f }
func (r fixedRand) Intn(int) int                { return 0 }
func (r fixedRand) Shuffle(int, func(i, j int)) {}

func newRanker() *intelligence.EngagementRanker {
	return intelligence.NewEngagementRanker(intelligence.DefaultEngagementConfig())
}

func TestCalculateEngagementScore(t *testing.T) {
	r := newRanker()

	score := r.CalculateEngagementScore(intelligence.EngagementMetrics{
		Views: 100, Rewatches: 10, Completions: 50, Shares: 5, Comments: 10, Likes: 20,
	})
	assert.InDelta(t, 3.05, score, 1e-9)

	zeroViews := r.CalculateEngagementScore(intelligence.EngagementMetrics{Likes: 2})
	assert.InDelta(t, 2.0, zeroViews, 1e-9)
}

func TestViralStage(t *testing.T) {
	r := newRanker()
	item := func(views, completions int64) intelligence.ContentItem {
		return intelligence.ContentItem{ID: "v", Metrics: intelligence.EngagementMetrics{Views: views, Completions: completions}}
	}

	testCases := []struct {
		name  string
		item  intelligence.ContentItem
		stage intelligence.ViralStage
	}{
		{"below test size", item(299, 299), intelligence.StageTesting},
		{"weak engagement", item(300, 3), intelligence.StageFailed},
		{"ranking", item(5000, 4000), intelligence.StageRanking},
		{"spreading", item(20000, 16000), intelligence.StageSpreading},
		{"many views, low completion", item(20000, 10000), intelligence.StageRanking},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.stage, r.ViralStage(tc.item))
		})
	}

	for views := int64(0); views < 30000; views += 250 {
		stage := r.ViralStage(item(views, views*8/10))
		if views < 300 {
			assert.Equal(t, intelligence.StageTesting, stage, "views=%d", views)
			continue
		}
		assert.NotEqual(t, intelligence.StageTesting, stage, "views=%d", views)
		if views < 10000 {
			assert.NotEqual(t, intelligence.StageSpreading, stage, "views=%d", views)
		}
	}

	pred := r.PredictVirality(item(20000, 16000))
	assert.True(t, pred.WillGoViral)
	assert.Equal(t, intelligence.StageSpreading, pred.Stage)
	assert.InDelta(t, 0.8, pred.CompletionRate, 1e-9)
}

func TestPassedHookTest(t *testing.T) {
	r := newRanker()

	assert.False(t, r.PassedHookTest(intelligence.HookData{WatchTime: 2 * time.Second, ScrolledAway: true}))
	assert.False(t, r.PassedHookTest(intelligence.HookData{WatchTime: 2500 * time.Millisecond}))
	assert.True(t, r.PassedHookTest(intelligence.HookData{WatchTime: 3 * time.Second, ScrolledAway: true}))
	assert.True(t, r.PassedHookTest(intelligence.HookData{WatchTime: 10 * time.Second}))
}

func TestWatchTimeQuality(t *testing.T) {
	r := newRanker()

	q := r.WatchTimeQuality(intelligence.WatchRecord{WatchSeconds: 30, DurationSeconds: 60, Rewatched: true}, 30)
	assert.InDelta(t, 0.65, q.Quality, 1e-9)
	assert.Equal(t, 5.0, q.RewatchBonus)
	assert.Zero(t, q.CompletionBonus)

	over := r.WatchTimeQuality(intelligence.WatchRecord{WatchSeconds: 90, DurationSeconds: 60, Completed: true}, 0)
	assert.Equal(t, 1.0, over.CompletionRate)
	assert.Equal(t, 4.0, over.CompletionBonus)
}

func TestPersonalizationStage(t *testing.T) {
	r := newRanker()

	testCases := []struct {
		watched int
		minutes float64
		stage   intelligence.PersonalizationStage
		ratio   float64
	}{
		{0, 0, intelligence.StageColdStart, 0.2},
		{14, 500, intelligence.StageColdStart, 0.2},
		{15, 0, intelligence.StageLearning, 0.3},
		{300, 20, intelligence.StageLearning, 0.3},
		{224, 36, intelligence.StageRobust, 0.4},
		{224, 120, intelligence.StageStable, 0.4},
	}
	for _, tc := range testCases {
		stage := r.PersonalizationStage(tc.watched, tc.minutes*60)
		assert.Equal(t, tc.stage, stage, "watched=%d minutes=%v", tc.watched, tc.minutes)
		assert.Equal(t, tc.ratio, r.ExploitRatio(stage))
	}
}

func TestRecordWatch(t *testing.T) {
	r := newRanker()
	p := intelligence.NewEngagementProfile("u1")

	r.RecordWatch(p, intelligence.WatchRecord{ContentID: "travel-1", Category: "travel", WatchSeconds: 5, DurationSeconds: 30, Skipped: true}, baseTime)
	for i := 0; i < 20; i++ {
		r.RecordWatch(p, intelligence.WatchRecord{
			ContentID:       "c" + string(rune('a'+i)),
			Category:        "food",
			Level:           intelligence.LevelB1,
			WatchSeconds:    30,
			DurationSeconds: 30,
			Completed:       true,
			Liked:           i%2 == 0,
		}, baseTime)
	}

	assert.Equal(t, 21, p.WatchCount)
	assert.Equal(t, intelligence.StageLearning, p.Stage)
	assert.True(t, p.HasSeen("ca"))
	assert.Equal(t, 20, p.PreferredLevels[intelligence.LevelB1])
	assert.Equal(t, 10, p.InteractionCount)
	assert.InDelta(t, 20.0/21.0, p.AvgCompletionRate, 1e-9)
	assert.InDelta(t, 1.0/21.0, p.SkipRate, 1e-9)
	for c, w := range p.Interests {
		assert.GreaterOrEqual(t, w, 0.0, c)
		assert.LessOrEqual(t, w, 1.0, c)
	}
	assert.Equal(t, []string{"food", "travel"}, p.TopInterests(5))
}

func TestRecordReaction(t *testing.T) {
	r := newRanker()

	liked := intelligence.NewEngagementProfile("u1")
	liked.Interests["music"] = 0.1
	r.RecordReaction(liked, "news", "", intelligence.ReactionLike, baseTime)

	shared := intelligence.NewEngagementProfile("u2")
	shared.Interests["music"] = 0.1
	r.RecordReaction(shared, "news", "", intelligence.ReactionShare, baseTime)

	assert.Greater(t, shared.Interests["news"]-shared.Interests["music"], liked.Interests["news"]-liked.Interests["music"])

	r.RecordReaction(liked, "", "creator-9", intelligence.ReactionFollow, baseTime)
	assert.True(t, liked.FollowedCreators["creator-9"])
	assert.Equal(t, 2, liked.InteractionCount)
	assert.Equal(t, baseTime, liked.LastActiveAt)
}

func feedCandidates() []intelligence.ContentItem {
	return []intelligence.ContentItem{
		{ID: "food-1", Category: "food", Level: intelligence.LevelB1, Metrics: intelligence.EngagementMetrics{Views: 100, Completions: 90}},
		{ID: "food-2", Category: "food", Level: intelligence.LevelB1, Metrics: intelligence.EngagementMetrics{Views: 100, Completions: 80}},
		{ID: "food-3", Category: "food", Level: intelligence.LevelA2, Metrics: intelligence.EngagementMetrics{Views: 100, Completions: 10}},
		{ID: "travel-1", Category: "travel", Level: intelligence.LevelB1, Metrics: intelligence.EngagementMetrics{Views: 100, Completions: 70}},
		{ID: "travel-2", Category: "travel", Level: intelligence.LevelB2, CreatorID: "maria", Metrics: intelligence.EngagementMetrics{Views: 100, Completions: 60}},
	}
}

func TestPersonalizedFeed(t *testing.T) {
	r := newRanker()

	t.Run("exploit prefers followed creators and interests", func(t *testing.T) {
		p := intelligence.NewEngagementProfile("u1")
		p.Stage = intelligence.StageStable
		p.Interests["food"] = 1
		p.FollowedCreators["maria"] = true

		feed := r.PersonalizedFeed(p, feedCandidates(), 2, fixedRand{f: 0})
		require.Len(t, feed, 2)
		assert.Equal(t, "travel-2", feed[0].Item.ID)
		assert.Equal(t, "food-1", feed[1].Item.ID)
		for _, it := range feed {
			assert.Equal(t, intelligence.SourceExploit, it.Source)
		}
	})

	t.Run("explore skips top interests", func(t *testing.T) {
		p := intelligence.NewEngagementProfile("u1")
		p.Interests["food"] = 1

		feed := r.PersonalizedFeed(p, feedCandidates(), 3, fixedRand{f: 0.99})
		require.Len(t, feed, 3)
		assert.Equal(t, "travel-1", feed[0].Item.ID)
		assert.Equal(t, "travel-2", feed[1].Item.ID)
		assert.Equal(t, "food", feed[2].Item.Category)
		for _, it := range feed {
			assert.Equal(t, intelligence.SourceExplore, it.Source)
		}
	})

	t.Run("never returns seen items or duplicates", func(t *testing.T) {
		p := intelligence.NewEngagementProfile("u1")
		p.Seen["food-1"] = baseTime

		feed := r.PersonalizedFeed(p, feedCandidates(), 10, rand.New(rand.NewSource(42)))
		require.Len(t, feed, 4)
		ids := map[string]bool{}
		for _, it := range feed {
			assert.NotEqual(t, "food-1", it.Item.ID)
			assert.False(t, ids[it.Item.ID], "duplicate %s", it.Item.ID)
			ids[it.Item.ID] = true
		}
	})

	t.Run("reproducible with the same seed", func(t *testing.T) {
		p := intelligence.NewEngagementProfile("u1")
		a := r.PersonalizedFeed(p, feedCandidates(), 3, rand.New(rand.NewSource(5)))
		b := r.PersonalizedFeed(p, feedCandidates(), 3, rand.New(rand.NewSource(5)))
		assert.Equal(t, a, b)
	})
}

func TestColdStartRecommendations(t *testing.T) {
	r := newRanker()

	p := intelligence.NewEngagementProfile("u1")
	recs := r.ColdStartRecommendations(p, feedCandidates(), 3)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"food-1", "food-2", "travel-1"}, []string{recs[0].Item.ID, recs[1].Item.ID, recs[2].Item.ID})
	assert.Equal(t, intelligence.SourceColdStart, recs[0].Source)

	p.Interests["travel"] = 0.5
	p.Seen["travel-1"] = baseTime
	recs = r.ColdStartRecommendations(p, feedCandidates(), 0)
	require.Len(t, recs, 1)
	assert.Equal(t, "travel-2", recs[0].Item.ID)

	p.Interests = map[string]float64{"sports": 1}
	recs = r.ColdStartRecommendations(p, feedCandidates(), 10)
	assert.Len(t, recs, 4, "falls back to all unseen items when no interest matches")
}

func TestBuildUserProfile(t *testing.T) {
	r := newRanker()
	history := make([]intelligence.WatchRecord, 15)
	for i := range history {
		history[i] = intelligence.WatchRecord{ContentID: string(rune('a' + i)), Category: "music", WatchSeconds: 60, DurationSeconds: 60}
	}

	p := r.BuildUserProfile("u1", history, baseTime)
	assert.Equal(t, 15, p.WatchCount)
	assert.Equal(t, intelligence.StageLearning, p.Stage)
	assert.Equal(t, 900.0, p.TotalWatchSeconds)
	assert.Equal(t, 1.0, p.Interests["music"])
}
