package core

import (
	"context"
	"sort"
	"time"

	"github.com/learnfeed/learnfeed-go/pkg/catalog"
	"github.com/learnfeed/learnfeed-go/pkg/intelligence"
)

// Feed priority weights.
const (
	priorityEngagementWeight = 10
	prioritySpreading        = 20
	priorityRanking          = 10
	priorityOptimal          = 30
	priorityPerDueWord       = 15
	priorityExploit          = 10
)

// Degraded feed inputs.
const (
	degradedMemory     = "memory"
	degradedLevel      = "level"
	degradedEngagement = "engagement"
	degradedDifficulty = "difficulty"
)

// GenerateFeed ranks catalog content for a learner.
//
// The candidates are ranked by the engagement model (a cold-start list for
// new learners, the exploit/explore bandit afterwards), re-bucketed by the
// difficulty distributor around the learner's level, annotated with the
// learner's due vocabulary and finally ordered by priority.
//
// GenerateFeed never writes learner state. When a learner record cannot be
// loaded the feed is ranked without it and the record is named in
// Feed.Degraded; only a catalog failure is returned as an error.
//
// Example:
//
//	feed, err := engine.GenerateFeed(ctx, "learner_001",
//	    core.WithCount(10),
//	    core.WithCategories("travel", "food"),
//	)
func (e *Engine) GenerateFeed(ctx context.Context, learnerID string, opts ...FeedOption) (*Feed, error) {
	const op = "GenerateFeed"
	if err := e.checkOpen(op); err != nil {
		return nil, err
	}
	options := applyFeedOptions(e.cfg.Engine.FeedCount, opts)
	if learnerID == "" {
		return nil, NewEngineError(op, validationf("learner id is required"))
	}
	if options.Count <= 0 {
		return nil, NewEngineError(op, validationf("count must be positive, got %d", options.Count))
	}

	now := e.clock.Now()
	feed := &Feed{
		LearnerID:   learnerID,
		GeneratedAt: now,
		Items:       []FeedItem{},
	}
	log := e.logger.With().Str("op", op).Str("learner_id", learnerID).Logger()

	profile := intelligence.NewEngagementProfile(learnerID)
	if s, err := e.loadEngagement(ctx, learnerID); err != nil {
		log.Warn().Err(err).Msg("ranking without engagement profile")
		feed.Degraded = append(feed.Degraded, degradedEngagement)
	} else {
		profile = s.state
	}

	level := intelligence.NewLevelProfile(learnerID, e.cfg.Engine.DefaultLevel)
	if s, err := e.loadLevel(ctx, learnerID); err != nil {
		log.Warn().Err(err).Msg("ranking at default level")
		feed.Degraded = append(feed.Degraded, degradedLevel)
	} else {
		level = s.state
	}

	book := intelligence.NewMemoryBook(learnerID)
	if s, err := e.loadMemory(ctx, learnerID); err != nil {
		log.Warn().Err(err).Msg("ranking without due words")
		feed.Degraded = append(feed.Degraded, degradedMemory)
	} else {
		book = s.state
	}

	feed.Stage = profile.Stage
	feed.Level = level.CurrentLevel

	candidates, err := e.catalog.ListCandidates(ctx, options.Filter)
	if err != nil {
		return nil, NewEngineError(op, err)
	}
	if len(options.Filter.IDs) > 0 {
		missing, err := e.missingIDs(ctx, options.Filter.IDs)
		if err != nil {
			return nil, NewEngineError(op, err)
		}
		feed.Missing = missing
	}

	er := e.models.Engagement
	var ranked []intelligence.RankedItem
	if profile.Stage == intelligence.StageColdStart {
		limit := options.Count * e.cfg.Engine.PoolFactor
		if limit < e.cfg.Engagement.ColdStartLimit {
			limit = e.cfg.Engagement.ColdStartLimit
		}
		ranked = er.ColdStartRecommendations(profile, candidates, limit)
	} else {
		ranked = er.PersonalizedFeed(profile, candidates, options.Count*e.cfg.Engine.PoolFactor, e.rng)
	}

	batch, err := e.models.Difficulty.DistributeRanked(level.CurrentLevel, ranked, options.Count, e.rng)
	if err != nil {
		log.Warn().Err(err).Msg("skipping difficulty distribution")
		feed.Degraded = append(feed.Degraded, degradedDifficulty)
		batch = ranked
	}

	feed.DueWords = e.dueReviews(book, now)
	due := make(map[string]struct{}, len(feed.DueWords))
	for _, r := range feed.DueWords {
		due[r.Key.ItemID] = struct{}{}
	}
	for _, r := range batch {
		feed.Items = append(feed.Items, e.scoreItem(r, level, due))
	}

	sort.SliceStable(feed.Items, func(i, j int) bool {
		a, b := feed.Items[i], feed.Items[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Item.ID < b.Item.ID
	})
	if len(feed.Items) > options.Count {
		feed.Items = feed.Items[:options.Count]
	}

	log.Debug().
		Int("candidates", len(candidates)).
		Int("items", len(feed.Items)).
		Str("stage", string(feed.Stage)).
		Msg("feed generated")
	return feed, nil
}

// scoreItem annotates a ranked item and computes its priority.
func (e *Engine) scoreItem(r intelligence.RankedItem, level *intelligence.LevelProfile, due map[string]struct{}) FeedItem {
	er := e.models.Engagement
	dd := e.models.Difficulty

	item := FeedItem{
		Item:            r.Item,
		Source:          r.Source,
		RankScore:       r.Score,
		EngagementScore: er.CalculateEngagementScore(r.Item.Metrics),
		ViralStage:      er.ViralStage(r.Item),
	}

	if r.Item.Text != "" {
		c := dd.AnalyzeComprehensibility(r.Item, level)
		item.Comprehensibility = &c

		seen := make(map[string]struct{})
		for _, w := range dd.ExtractWords(r.Item.Text) {
			if _, ok := due[w]; !ok {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			item.DueWords = append(item.DueWords, w)
		}
	}

	priority := item.EngagementScore * priorityEngagementWeight
	switch item.ViralStage {
	case intelligence.StageSpreading:
		priority += prioritySpreading
	case intelligence.StageRanking:
		priority += priorityRanking
	}
	if item.Comprehensibility != nil && item.Comprehensibility.IsOptimal {
		priority += priorityOptimal
	}
	priority += float64(len(item.DueWords) * priorityPerDueWord)
	if item.Source == intelligence.SourceExploit {
		priority += priorityExploit
	}
	item.Priority = priority
	return item
}

// dueReviews returns the weakest items that are overdue or due soon.
func (e *Engine) dueReviews(book *intelligence.MemoryBook, now time.Time) []intelligence.DueReview {
	var out []intelligence.DueReview
	for _, r := range e.models.Retention.WeakestWords(book, e.cfg.Engine.DueWordsLimit, now) {
		if r.Urgency == intelligence.UrgencyOverdue || r.Urgency == intelligence.UrgencyDueSoon {
			out = append(out, r)
		}
	}
	return out
}

// missingIDs returns the IDs the catalog does not hold, in request order.
func (e *Engine) missingIDs(ctx context.Context, ids []string) ([]string, error) {
	found, err := e.catalog.ListCandidates(ctx, catalog.Filter{IDs: ids})
	if err != nil {
		return nil, err
	}
	have := make(map[string]struct{}, len(found))
	for _, item := range found {
		have[item.ID] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
			have[id] = struct{}{}
		}
	}
	return missing, nil
}
