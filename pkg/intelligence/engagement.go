package intelligence

import (
	"math"
	"sort"
	"time"
)

// ViralStage is the one-way propagation classification of a content item.
type ViralStage string

// Viral stages.
const (
	StageTesting   ViralStage = "testing"
	StageRanking   ViralStage = "ranking"
	StageSpreading ViralStage = "spreading"
	StageFailed    ViralStage = "failed"
)

// PersonalizationStage describes how much behavioral history a learner has.
type PersonalizationStage string

// Personalization stages.
const (
	StageColdStart PersonalizationStage = "cold_start"
	StageLearning  PersonalizationStage = "learning"
	StageRobust    PersonalizationStage = "robust"
	StageStable    PersonalizationStage = "stable"
)

// FeedSource tags where a feed item came from.
type FeedSource string

// Feed sources.
const (
	SourceExploit   FeedSource = "exploit"
	SourceExplore   FeedSource = "explore"
	SourceColdStart FeedSource = "cold_start"
)

// EngagementWeights weight per-view interaction rates.
type EngagementWeights struct {
	Rewatch    float64 `json:"rewatch" toml:"rewatch"`
	Completion float64 `json:"completion" toml:"completion"`
	Share      float64 `json:"share" toml:"share"`
	Comment    float64 `json:"comment" toml:"comment"`
	Like       float64 `json:"like" toml:"like"`
}

// EngagementConfig contains the tunables of the engagement ranker.
type EngagementConfig struct {
	Weights EngagementWeights `json:"weights" toml:"weights"`

	InitialTestSize      int64         `json:"initial_test_size" toml:"initial_test_size"`
	ViralThreshold       float64       `json:"viral_threshold" toml:"viral_threshold"`
	SpreadingViews       int64         `json:"spreading_views" toml:"spreading_views"`
	CompletionRateTarget float64       `json:"completion_rate_target" toml:"completion_rate_target"`
	HookWindow           time.Duration `json:"hook_window" toml:"hook_window"`

	// Exploit ratios per personalization stage; robust and stable share StableExploit.
	ColdStartExploit float64 `json:"cold_start_exploit" toml:"cold_start_exploit"`
	LearningExploit  float64 `json:"learning_exploit" toml:"learning_exploit"`
	StableExploit    float64 `json:"stable_exploit" toml:"stable_exploit"`

	ExploitTopN    int     `json:"exploit_top_n" toml:"exploit_top_n"`
	ExploreTopN    int     `json:"explore_top_n" toml:"explore_top_n"`
	ExploreJitter  float64 `json:"explore_jitter" toml:"explore_jitter"`
	FollowedBoost  float64 `json:"followed_boost" toml:"followed_boost"`
	NoveltyTopics  int     `json:"novelty_topics" toml:"novelty_topics"`
	ColdStartLimit int     `json:"cold_start_limit" toml:"cold_start_limit"`

	// InterestDecay is applied to every interest weight before each boost.
	InterestDecay float64 `json:"interest_decay" toml:"interest_decay"`
	LikeBoost     float64 `json:"like_boost" toml:"like_boost"`
	CommentBoost  float64 `json:"comment_boost" toml:"comment_boost"`
	ShareBoost    float64 `json:"share_boost" toml:"share_boost"`

	// Personalization stage boundaries.
	ColdStartItems  int     `json:"cold_start_items" toml:"cold_start_items"`
	LearningItems   int     `json:"learning_items" toml:"learning_items"`
	LearningMinutes float64 `json:"learning_minutes" toml:"learning_minutes"`
	RobustMinutes   float64 `json:"robust_minutes" toml:"robust_minutes"`
}

// DefaultEngagementConfig returns the five-signal ranking defaults.
func DefaultEngagementConfig() EngagementConfig {
	return EngagementConfig{
		Weights: EngagementWeights{
			Rewatch:    5,
			Completion: 4,
			Share:      3,
			Comment:    2,
			Like:       1,
		},
		InitialTestSize:      300,
		ViralThreshold:       50,
		SpreadingViews:       10000,
		CompletionRateTarget: 0.70,
		HookWindow:           3 * time.Second,
		ColdStartExploit:     0.2,
		LearningExploit:      0.3,
		StableExploit:        0.4,
		ExploitTopN:          10,
		ExploreTopN:          15,
		ExploreJitter:        2,
		FollowedBoost:        10,
		NoveltyTopics:        3,
		ColdStartLimit:       20,
		InterestDecay:        0.98,
		LikeBoost:            0.5,
		CommentBoost:         1.0,
		ShareBoost:           1.5,
		ColdStartItems:       15,
		LearningItems:        224,
		LearningMinutes:      36,
		RobustMinutes:        120,
	}
}

// EngagementProfile is a learner's viewing behavior.
type EngagementProfile struct {
	LearnerID string `json:"learner_id"`

	// Seen maps content IDs to the time they were first watched.
	Seen map[string]time.Time `json:"seen"`

	// Interests maps category to a decayed weight in [0,1].
	Interests         map[string]float64 `json:"interests"`
	CategoryExposures map[string]int     `json:"category_exposures"`
	PreferredLevels   map[Level]int      `json:"preferred_levels"`
	FollowedCreators  map[string]bool    `json:"followed_creators"`

	WatchCount        int     `json:"watch_count"`
	TotalWatchSeconds float64 `json:"total_watch_seconds"`
	SessionCount      int     `json:"session_count"`
	InteractionCount  int     `json:"interaction_count"`

	AvgCompletionRate float64 `json:"avg_completion_rate"`
	AvgWatchSeconds   float64 `json:"avg_watch_seconds"`
	SkipRate          float64 `json:"skip_rate"`
	RewatchRate       float64 `json:"rewatch_rate"`

	Stage        PersonalizationStage `json:"stage"`
	LastActiveAt time.Time            `json:"last_active_at"`
}

// NewEngagementProfile returns the lazily-initialized profile of a learner.
func NewEngagementProfile(learnerID string) *EngagementProfile {
	p := &EngagementProfile{LearnerID: learnerID, Stage: StageColdStart}
	p.ensureMaps()
	return p
}

func (p *EngagementProfile) ensureMaps() {
	if p.Seen == nil {
		p.Seen = make(map[string]time.Time)
	}
	if p.Interests == nil {
		p.Interests = make(map[string]float64)
	}
	if p.CategoryExposures == nil {
		p.CategoryExposures = make(map[string]int)
	}
	if p.PreferredLevels == nil {
		p.PreferredLevels = make(map[Level]int)
	}
	if p.FollowedCreators == nil {
		p.FollowedCreators = make(map[string]bool)
	}
}

// HasSeen reports whether contentID has been watched.
func (p *EngagementProfile) HasSeen(contentID string) bool {
	_, ok := p.Seen[contentID]
	return ok
}

// TopInterests returns up to n categories by descending weight, ties by name.
func (p *EngagementProfile) TopInterests(n int) []string {
	cats := make([]string, 0, len(p.Interests))
	for c := range p.Interests {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		wi, wj := p.Interests[cats[i]], p.Interests[cats[j]]
		if wi != wj {
			return wi > wj
		}
		return cats[i] < cats[j]
	})
	if len(cats) > n {
		cats = cats[:n]
	}
	return cats
}

// WatchRecord is one viewing of a content item.
type WatchRecord struct {
	ContentID       string  `json:"content_id"`
	Category        string  `json:"category,omitempty"`
	Level           Level   `json:"level,omitempty"`
	CreatorID       string  `json:"creator_id,omitempty"`
	WatchSeconds    float64 `json:"watch_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
	Completed       bool    `json:"completed"`
	Skipped         bool    `json:"skipped"`
	Rewatched       bool    `json:"rewatched"`
	Liked           bool    `json:"liked"`
	Shared          bool    `json:"shared"`
	Commented       bool    `json:"commented"`
}

// Reaction is an explicit signal on a content item outside a watch.
type Reaction string

// Reactions.
const (
	ReactionLike    Reaction = "like"
	ReactionShare   Reaction = "share"
	ReactionComment Reaction = "comment"
	ReactionFollow  Reaction = "follow"
)

// WatchQuality describes how well a single viewing went.
type WatchQuality struct {
	CompletionRate  float64 `json:"completion_rate"`
	WatchSeconds    float64 `json:"watch_seconds"`
	DwellSeconds    float64 `json:"dwell_seconds"`
	RewatchBonus    float64 `json:"rewatch_bonus"`
	CompletionBonus float64 `json:"completion_bonus"`
	Quality         float64 `json:"quality"`
}

// HookData is the first-seconds behavior of a viewer.
type HookData struct {
	WatchTime    time.Duration `json:"watch_time"`
	ScrolledAway bool          `json:"scrolled_away"`
}

// ViralityPrediction is the outcome of PredictVirality.
type ViralityPrediction struct {
	Stage          ViralStage `json:"stage"`
	Score          float64    `json:"score"`
	CompletionRate float64    `json:"completion_rate"`
	WillGoViral    bool       `json:"will_go_viral"`
	Confidence     float64    `json:"confidence"`
}

// RankedItem is a candidate chosen by the ranker.
type RankedItem struct {
	Item                 ContentItem `json:"item"`
	Source               FeedSource  `json:"source"`
	Score                float64     `json:"score"`
	PersonalizationScore float64     `json:"personalization_score"`
}

// EngagementRanker scores content by interaction quality and builds
// personalized candidate lists with an exploit/explore split.
type EngagementRanker struct {
	cfg EngagementConfig
}

// NewEngagementRanker creates a ranker with the given configuration.
func NewEngagementRanker(cfg EngagementConfig) *EngagementRanker {
	return &EngagementRanker{cfg: cfg}
}

// Config returns the ranker configuration.
func (r *EngagementRanker) Config() EngagementConfig {
	return r.cfg
}

// CalculateEngagementScore sums weighted per-view interaction rates.
func (r *EngagementRanker) CalculateEngagementScore(m EngagementMetrics) float64 {
	views := float64(maxInt64(m.Views, 1))
	w := r.cfg.Weights
	return float64(m.Rewatches)/views*w.Rewatch +
		float64(m.Completions)/views*w.Completion +
		float64(m.Shares)/views*w.Share +
		float64(m.Comments)/views*w.Comment +
		float64(m.Likes)/views*w.Like
}

// ViralStage classifies item from its view count and completion rate.
func (r *EngagementRanker) ViralStage(item ContentItem) ViralStage {
	m := item.Metrics
	if m.Views < r.cfg.InitialTestSize {
		return StageTesting
	}

	score := r.CalculateEngagementScore(m)
	if score*float64(m.Views)/float64(r.cfg.InitialTestSize) < r.cfg.ViralThreshold {
		return StageFailed
	}

	completion := m.CompletionRate()
	if m.Views >= r.cfg.SpreadingViews && completion >= r.cfg.CompletionRateTarget {
		return StageSpreading
	}
	return StageRanking
}

// PredictVirality projects whether item will spread.
func (r *EngagementRanker) PredictVirality(item ContentItem) ViralityPrediction {
	stage := r.ViralStage(item)
	score := r.CalculateEngagementScore(item.Metrics)
	return ViralityPrediction{
		Stage:          stage,
		Score:          score,
		CompletionRate: item.Metrics.CompletionRate(),
		WillGoViral:    stage == StageSpreading || (stage == StageRanking && score > r.cfg.ViralThreshold*1.5),
		Confidence:     math.Min(score/r.cfg.ViralThreshold, 1),
	}
}

// WatchTimeQuality scores one viewing. dwellSeconds is the time spent before
// scrolling away.
func (r *EngagementRanker) WatchTimeQuality(rec WatchRecord, dwellSeconds float64) WatchQuality {
	duration := rec.DurationSeconds
	if duration <= 0 {
		duration = 1
	}
	completion := math.Min(rec.WatchSeconds/duration, 1)
	q := WatchQuality{
		CompletionRate: completion,
		WatchSeconds:   rec.WatchSeconds,
		DwellSeconds:   dwellSeconds,
		Quality:        completion*0.4 + dwellSeconds/duration*0.3,
	}
	if rec.Rewatched {
		q.RewatchBonus = r.cfg.Weights.Rewatch
		q.Quality += 0.3
	}
	if rec.Completed {
		q.CompletionBonus = r.cfg.Weights.Completion
	}
	return q
}

// PassedHookTest reports whether the viewer stayed through the hook window.
func (r *EngagementRanker) PassedHookTest(h HookData) bool {
	if h.ScrolledAway && h.WatchTime < r.cfg.HookWindow {
		return false
	}
	return h.WatchTime >= r.cfg.HookWindow
}

// PersonalizationStage derives the stage from watched items and cumulative watch time.
func (r *EngagementRanker) PersonalizationStage(watched int, watchSeconds float64) PersonalizationStage {
	minutes := watchSeconds / 60
	switch {
	case watched < r.cfg.ColdStartItems:
		return StageColdStart
	case watched < r.cfg.LearningItems || minutes < r.cfg.LearningMinutes:
		return StageLearning
	case minutes < r.cfg.RobustMinutes:
		return StageRobust
	default:
		return StageStable
	}
}

// ExploitRatio returns the share of exploit slots for stage.
func (r *EngagementRanker) ExploitRatio(stage PersonalizationStage) float64 {
	switch stage {
	case StageColdStart:
		return r.cfg.ColdStartExploit
	case StageLearning:
		return r.cfg.LearningExploit
	default:
		return r.cfg.StableExploit
	}
}

// RecordWatch folds a viewing into profile.
func (r *EngagementRanker) RecordWatch(p *EngagementProfile, rec WatchRecord, now time.Time) {
	p.ensureMaps()

	if rec.ContentID != "" && !p.HasSeen(rec.ContentID) {
		p.Seen[rec.ContentID] = now
	}
	p.WatchCount++
	n := float64(p.WatchCount)
	watch := math.Max(rec.WatchSeconds, 0)
	p.TotalWatchSeconds += watch

	completion := 0.0
	if rec.Completed {
		completion = 1
	}
	p.AvgCompletionRate += (completion - p.AvgCompletionRate) / n
	p.AvgWatchSeconds += (watch - p.AvgWatchSeconds) / n
	p.SkipRate += (boolRate(rec.Skipped) - p.SkipRate) / n
	p.RewatchRate += (boolRate(rec.Rewatched) - p.RewatchRate) / n

	if rec.Level.Valid() {
		p.PreferredLevels[rec.Level]++
	}

	boost := 1.0
	if rec.Liked {
		boost += r.cfg.LikeBoost
		p.InteractionCount++
	}
	if rec.Shared {
		boost += r.cfg.ShareBoost
		p.InteractionCount++
	}
	if rec.Commented {
		boost += r.cfg.CommentBoost
		p.InteractionCount++
	}
	if rec.Category != "" {
		p.CategoryExposures[rec.Category]++
		r.bumpInterest(p, rec.Category, boost)
	}

	p.LastActiveAt = now
	p.Stage = r.PersonalizationStage(p.WatchCount, p.TotalWatchSeconds)
}

// RecordReaction folds an explicit like, share, comment or follow into profile.
func (r *EngagementRanker) RecordReaction(p *EngagementProfile, category, creatorID string, reaction Reaction, now time.Time) {
	p.ensureMaps()

	var boost float64
	switch reaction {
	case ReactionLike:
		boost = r.cfg.LikeBoost
	case ReactionShare:
		boost = r.cfg.ShareBoost
	case ReactionComment:
		boost = r.cfg.CommentBoost
	case ReactionFollow:
		if creatorID != "" {
			p.FollowedCreators[creatorID] = true
		}
	}
	p.InteractionCount++
	if boost > 0 && category != "" {
		r.bumpInterest(p, category, boost)
	}
	p.LastActiveAt = now
}

// bumpInterest decays every weight, adds boost to category and rescales so
// the strongest interest is at most 1.
func (r *EngagementRanker) bumpInterest(p *EngagementProfile, category string, boost float64) {
	for c := range p.Interests {
		p.Interests[c] *= r.cfg.InterestDecay
	}
	p.Interests[category] += boost

	top := 0.0
	for _, w := range p.Interests {
		top = math.Max(top, w)
	}
	if top > 1 {
		for c := range p.Interests {
			p.Interests[c] /= top
		}
	}
}

// BuildUserProfile folds a full watch history into a fresh profile.
func (r *EngagementRanker) BuildUserProfile(learnerID string, history []WatchRecord, now time.Time) *EngagementProfile {
	p := NewEngagementProfile(learnerID)
	for _, rec := range history {
		r.RecordWatch(p, rec, now)
	}
	p.Stage = r.PersonalizationStage(p.WatchCount, p.TotalWatchSeconds)
	return p
}

// ColdStartRecommendations returns the most engaging unseen candidates,
// restricted to the profile's interests when it has any.
func (r *EngagementRanker) ColdStartRecommendations(p *EngagementProfile, candidates []ContentItem, limit int) []RankedItem {
	if limit <= 0 {
		limit = r.cfg.ColdStartLimit
	}

	unseen := make([]ContentItem, 0, len(candidates))
	for _, c := range candidates {
		if p == nil || !p.HasSeen(c.ID) {
			unseen = append(unseen, c)
		}
	}

	pool := unseen
	if p != nil && len(p.Interests) > 0 {
		var matched []ContentItem
		for _, c := range unseen {
			if p.Interests[c.Category] > 0 {
				matched = append(matched, c)
			}
		}
		if len(matched) > 0 {
			pool = matched
		}
	}

	ranked := make([]RankedItem, len(pool))
	for i, c := range pool {
		ranked[i] = RankedItem{Item: c, Source: SourceColdStart, Score: r.CalculateEngagementScore(c.Metrics)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// PersonalizedFeed fills count slots from unseen candidates. Each slot is an
// exploit pick with probability ExploitRatio(stage), otherwise an explore pick.
func (r *EngagementRanker) PersonalizedFeed(p *EngagementProfile, candidates []ContentItem, count int, rng Rand) []RankedItem {
	pool := make([]ContentItem, 0, len(candidates))
	for _, c := range candidates {
		if !p.HasSeen(c.ID) {
			pool = append(pool, c)
		}
	}

	ratio := r.ExploitRatio(p.Stage)
	feed := make([]RankedItem, 0, count)
	for i := 0; i < count && len(pool) > 0; i++ {
		var (
			idx  int
			item RankedItem
		)
		if rng.Float64() < ratio {
			idx, item.Score = r.selectFromInterests(p, pool, rng)
			item.Source = SourceExploit
			item.PersonalizationScore = 0.83
		} else {
			idx, item.Score = r.selectNovel(p, pool, rng)
			item.Source = SourceExplore
			item.PersonalizationScore = 0.08
		}
		item.Item = pool[idx]
		feed = append(feed, item)
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return feed
}

type scoredIndex struct {
	idx   int
	score float64
}

func (r *EngagementRanker) selectFromInterests(p *EngagementProfile, pool []ContentItem, rng Rand) (int, float64) {
	scored := make([]scoredIndex, len(pool))
	for i, c := range pool {
		s := p.Interests[c.Category] * 2
		if p.WatchCount > 0 {
			s += float64(p.PreferredLevels[c.Level]) / float64(p.WatchCount)
		}
		if c.CreatorID != "" && p.FollowedCreators[c.CreatorID] {
			s += r.cfg.FollowedBoost
		}
		s += r.CalculateEngagementScore(c.Metrics) * 5
		scored[i] = scoredIndex{idx: i, score: s}
	}
	return pickTop(scored, r.cfg.ExploitTopN, rng)
}

func (r *EngagementRanker) selectNovel(p *EngagementProfile, pool []ContentItem, rng Rand) (int, float64) {
	top := make(map[string]bool)
	for _, c := range p.TopInterests(r.cfg.NoveltyTopics) {
		top[c] = true
	}

	var scored []scoredIndex
	for i, c := range pool {
		if top[c.Category] {
			continue
		}
		scored = append(scored, scoredIndex{
			idx:   i,
			score: r.CalculateEngagementScore(c.Metrics) + rng.Float64()*r.cfg.ExploreJitter,
		})
	}
	if len(scored) == 0 {
		i := rng.Intn(len(pool))
		return i, r.CalculateEngagementScore(pool[i].Metrics)
	}
	return pickTop(scored, r.cfg.ExploreTopN, rng)
}

func pickTop(scored []scoredIndex, n int, rng Rand) (int, float64) {
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if n <= 0 || n > len(scored) {
		n = len(scored)
	}
	chosen := scored[rng.Intn(n)]
	return chosen.idx, chosen.score
}

func boolRate(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
