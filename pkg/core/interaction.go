package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/learnfeed/learnfeed-go/pkg/catalog"
	"github.com/learnfeed/learnfeed-go/pkg/intelligence"
)

const (
	defaultWordConfidence = 0.8
	maxEventDifficulty    = 10

	// Difficulty credited to the quiz award that accompanies a level-up.
	levelUpQuizDifficulty = 8
)

// TrackInteraction records one learner interaction and fans it out to the
// models.
//
// The event is validated before any state is read. The models are then
// updated in a fixed order, each saving its own record:
//  1. retention: every practiced word is scheduled again
//  2. difficulty: graded answers, known words, session summaries and the
//     automatic level adjustment
//  3. engagement: watches and reactions
//  4. rewards: the streak first, then XP for the action and for every weak
//     word that was rescued
//
// A freeze event only spends a streak freeze.
//
// When a store call fails the steps already saved stay recorded: the returned
// result holds their updates together with the error.
//
// Example:
//
//	correct := true
//	result, err := engine.TrackInteraction(ctx, "learner_001", core.InteractionEvent{
//	    Action:    core.ActionQuiz,
//	    ContentID: "video_042",
//	    Correct:   &correct,
//	    Words:     []core.WordPractice{{Word: "hola"}},
//	})
func (e *Engine) TrackInteraction(ctx context.Context, learnerID string, event InteractionEvent) (*InteractionResult, error) {
	const op = "TrackInteraction"
	if err := e.checkOpen(op); err != nil {
		return nil, err
	}
	if err := validateEvent(learnerID, event); err != nil {
		return nil, NewEngineError(op, err)
	}
	if event.Action == ActionComplete {
		event.Completed = true
	}

	unlock := e.locks.lock(learnerID)
	defer unlock()

	now := e.clock.Now()
	result := &InteractionResult{
		EventID:   e.ids.New(now),
		LearnerID: learnerID,
		Action:    event.Action,
		At:        now,
	}
	log := e.logger.With().
		Str("op", op).
		Str("learner_id", learnerID).
		Str("event_id", result.EventID).
		Str("action", string(event.Action)).
		Logger()

	item := e.resolveContent(ctx, event, result)

	if event.Action == ActionFreeze {
		if err := e.applyFreeze(ctx, learnerID, now, result); err != nil {
			return result, NewEngineError(op, err)
		}
		return result, nil
	}

	correctWords, err := e.applyRetention(ctx, learnerID, event, now, result)
	if err != nil {
		log.Error().Err(err).Msg("retention update failed")
		return result, NewEngineError(op, err)
	}
	if err := e.applyDifficulty(ctx, learnerID, event, item, correctWords, now, result, log); err != nil {
		log.Error().Err(err).Msg("difficulty update failed")
		return result, NewEngineError(op, err)
	}
	if err := e.applyEngagement(ctx, learnerID, event, item, now, result); err != nil {
		log.Error().Err(err).Msg("engagement update failed")
		return result, NewEngineError(op, err)
	}
	if err := e.applyRewards(ctx, learnerID, event, now, result, log); err != nil {
		log.Error().Err(err).Msg("reward update failed")
		return result, NewEngineError(op, err)
	}

	log.Debug().Int("warnings", len(result.Warnings)).Msg("interaction tracked")
	return result, nil
}

// resolveContent looks the event's content up in the catalog and overlays
// the fields the event sets itself. Unknown content is a warning.
func (e *Engine) resolveContent(ctx context.Context, event InteractionEvent, result *InteractionResult) intelligence.ContentItem {
	item := intelligence.ContentItem{ID: event.ContentID}
	if event.ContentID != "" {
		found, err := e.catalog.ListCandidates(ctx, catalog.Filter{IDs: []string{event.ContentID}})
		switch {
		case err != nil:
			result.Warnings = append(result.Warnings, fmt.Sprintf("catalog lookup failed: %v", err))
		case len(found) == 0:
			result.Warnings = append(result.Warnings, fmt.Sprintf("%v: %q", ErrNotFound, event.ContentID))
		default:
			item = found[0]
		}
	}

	if event.ContentLevel != "" {
		item.Level = event.ContentLevel
	}
	if event.Category != "" {
		item.Category = event.Category
	}
	if event.CreatorID != "" {
		item.CreatorID = event.CreatorID
	}
	if event.DurationSeconds > 0 {
		item.DurationSeconds = event.DurationSeconds
	}
	return item
}

// applyRetention reschedules every practiced word and returns the words
// answered correctly.
func (e *Engine) applyRetention(ctx context.Context, learnerID string, event InteractionEvent, now time.Time, result *InteractionResult) ([]string, error) {
	if len(event.Words) == 0 {
		return nil, nil
	}

	book, err := e.loadMemory(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	fcm := e.models.Retention
	outcomes := make([]intelligence.PracticeOutcome, 0, len(event.Words))
	var correctWords []string
	for _, w := range event.Words {
		id := normalizeWord(w.Word)
		correct := w.Correct == nil || *w.Correct
		confidence := defaultWordConfidence
		if w.Confidence != nil {
			confidence = *w.Confidence
		}
		responseTime := w.ResponseTime
		if responseTime == 0 {
			responseTime = event.ResponseTime
		}

		state := fcm.StateFor(book.state, id)
		outcome := fcm.RecordPractice(
			intelligence.ItemKey{LearnerID: learnerID, ItemID: id},
			state,
			intelligence.PracticeResult{Correct: correct, ResponseTime: responseTime, Confidence: confidence},
			intelligence.WordFeatures{
				WordLength:    len([]rune(id)),
				WordFrequency: w.Frequency,
				IsCognate:     w.IsCognate,
				IsIrregular:   w.IsIrregular,
			},
			now,
		)
		outcomes = append(outcomes, outcome)
		if correct {
			correctWords = append(correctWords, id)
		}
	}

	if err := saveState(ctx, e, book); err != nil {
		return nil, err
	}
	result.MemoryUpdates = outcomes
	return correctWords, nil
}

// applyDifficulty records correctness evidence and session summaries, and
// moves the learner one level when the evidence calls for it.
func (e *Engine) applyDifficulty(ctx context.Context, learnerID string, event InteractionEvent, item intelligence.ContentItem, correctWords []string, now time.Time, result *InteractionResult, log zerolog.Logger) error {
	if event.Correct == nil && len(correctWords) == 0 && event.Session == nil {
		return nil
	}

	level, err := e.loadLevel(ctx, learnerID)
	if err != nil {
		return err
	}

	dd := e.models.Difficulty
	profile := level.state
	update := &LevelUpdate{}

	update.KnownWordsAdded = dd.AddKnownWords(profile, correctWords...)

	if event.Session != nil {
		session := *event.Session
		if session.EndedAt.IsZero() {
			session.EndedAt = now
		}
		dd.RecordSession(profile, session)
		update.SessionRecorded = true
	}

	if event.Correct != nil {
		contentLevel := item.Level
		if !contentLevel.Valid() {
			contentLevel = profile.CurrentLevel
		}
		dd.RecordPerformance(profile, intelligence.PerformanceSample{
			Correct:      *event.Correct,
			ContentLevel: contentLevel,
			At:           now,
		})

		if e.cfg.Engine.AutoLevelAdjust {
			assessment := dd.AssessLevelAdjustment(profile, profile.RecentPerformance)
			update.Assessment = &assessment
			if assessment.ShouldAdjust {
				change, err := dd.ApplyLevelChange(profile, assessment.NewLevel, assessment.Accuracy, assessment.Reason, now)
				if err != nil {
					return err
				}
				update.Change = &change
				log.Info().
					Str("from", string(change.From)).
					Str("to", string(change.To)).
					Float64("accuracy", change.Accuracy).
					Msg("level changed")
			}
		}
	}

	if err := saveState(ctx, e, level); err != nil {
		return err
	}
	update.CurrentLevel = profile.CurrentLevel
	result.Level = update
	return nil
}

// applyEngagement folds watches and reactions into the engagement profile.
func (e *Engine) applyEngagement(ctx context.Context, learnerID string, event InteractionEvent, item intelligence.ContentItem, now time.Time, result *InteractionResult) error {
	reaction, isReaction := reactionFor(event.Action)
	if !event.Action.isWatch() && !isReaction && event.Action != ActionSession {
		return nil
	}

	s, err := e.loadEngagement(ctx, learnerID)
	if err != nil {
		return err
	}

	er := e.models.Engagement
	p := s.state
	update := &EngagementUpdate{}

	switch {
	case event.Action.isWatch():
		passed := er.PassedHookTest(intelligence.HookData{
			WatchTime:    secondsToDuration(event.WatchSeconds),
			ScrolledAway: event.ScrolledAway,
		})
		rec := intelligence.WatchRecord{
			ContentID:       item.ID,
			Category:        item.Category,
			Level:           item.Level,
			CreatorID:       item.CreatorID,
			WatchSeconds:    event.WatchSeconds,
			DurationSeconds: item.DurationSeconds,
			Completed:       event.Completed,
			Skipped:         !passed,
			Rewatched:       event.Action == ActionRewatch,
		}
		quality := er.WatchTimeQuality(rec, event.WatchSeconds)
		er.RecordWatch(p, rec, now)
		update.WatchQuality = &quality
		update.PassedHook = &passed
	case isReaction:
		er.RecordReaction(p, item.Category, item.CreatorID, reaction, now)
	default:
		p.SessionCount++
		p.LastActiveAt = now
	}

	if err := saveState(ctx, e, s); err != nil {
		return err
	}
	update.Stage = p.Stage
	update.TopInterests = p.TopInterests(e.cfg.Engagement.NoveltyTopics)
	result.Engagement = update
	return nil
}

// applyRewards advances the streak and awards XP for the event.
func (e *Engine) applyRewards(ctx context.Context, learnerID string, event InteractionEvent, now time.Time, result *InteractionResult, log zerolog.Logger) error {
	s, err := e.loadGamification(ctx, learnerID)
	if err != nil {
		return err
	}

	rsm := e.models.Rewards
	g := s.state
	before := g.XP

	streak := rsm.UpdateStreak(g, now)

	var awards []intelligence.XPAward
	award := func(action intelligence.Action, xctx intelligence.XPContext) error {
		a, err := rsm.AwardXP(g, action, xctx, e.rng, now)
		if err != nil {
			return fmt.Errorf("award %s: %w", action, err)
		}
		awards = append(awards, a)
		return nil
	}

	if action, ok := rewardActions[event.Action]; ok {
		if err := award(action, intelligence.XPContext{Difficulty: event.Difficulty}); err != nil {
			return err
		}
	}
	for _, outcome := range result.MemoryUpdates {
		if !lastReviewCorrect(outcome.State) {
			continue
		}
		switch outcome.ReviewedAt.Urgency {
		case intelligence.UrgencyDueSoon, intelligence.UrgencyOverdue:
			if err := award(intelligence.ActionMasterWeakWord, intelligence.XPContext{
				Difficulty: event.Difficulty,
				Urgency:    outcome.ReviewedAt.Urgency,
			}); err != nil {
				return err
			}
		}
	}
	if result.Level != nil && result.Level.Change != nil && result.Level.Change.To.Index() > result.Level.Change.From.Index() {
		if err := award(intelligence.ActionCompleteQuiz, intelligence.XPContext{Difficulty: levelUpQuizDifficulty}); err != nil {
			return err
		}
	}

	if err := saveState(ctx, e, s); err != nil {
		return err
	}

	result.Streak = &streak
	if len(awards) > 0 {
		result.XP = summarizeAwards(g, before, awards)
		if up := result.XP.LevelUp; up != nil {
			log.Debug().Int("from", up.From).Int("to", up.To).Msg("level up")
		}
		for _, a := range result.XP.NewAchievements {
			log.Debug().Str("achievement", a.ID).Msg("achievement unlocked")
		}
	}
	return nil
}

// applyFreeze spends one streak freeze.
func (e *Engine) applyFreeze(ctx context.Context, learnerID string, now time.Time, result *InteractionResult) error {
	s, err := e.loadGamification(ctx, learnerID)
	if err != nil {
		return err
	}
	freeze, err := e.models.Rewards.UseStreakFreeze(s.state, now)
	if err != nil {
		return validationError(err)
	}
	if err := saveState(ctx, e, s); err != nil {
		return err
	}
	result.Freeze = &freeze
	return nil
}

func summarizeAwards(g *intelligence.GamificationState, before int64, awards []intelligence.XPAward) *XPUpdate {
	out := &XPUpdate{
		Awarded: g.XP - before,
		TotalXP: g.XP,
		Level:   g.Level,
		Awards:  awards,
	}
	for _, a := range awards {
		if a.LevelUp != nil {
			if out.LevelUp == nil {
				up := *a.LevelUp
				out.LevelUp = &up
			} else {
				out.LevelUp.To = a.LevelUp.To
				out.LevelUp.XPForNext = a.LevelUp.XPForNext
			}
		}
		out.NewAchievements = append(out.NewAchievements, a.NewAchievements...)
		out.ShowCelebration = out.ShowCelebration || a.ShowCelebration
	}
	return out
}

func lastReviewCorrect(state intelligence.MemoryState) bool {
	if len(state.History) == 0 {
		return false
	}
	return state.History[len(state.History)-1].Correct
}

func reactionFor(a Action) (intelligence.Reaction, bool) {
	switch a {
	case ActionLike:
		return intelligence.ReactionLike, true
	case ActionShare:
		return intelligence.ReactionShare, true
	case ActionComment:
		return intelligence.ReactionComment, true
	case ActionFollow:
		return intelligence.ReactionFollow, true
	}
	return "", false
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimSpace(w))
}

func normalizeWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if n := normalizeWord(w); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// validateEvent rejects malformed events before any state is touched.
func validateEvent(learnerID string, event InteractionEvent) error {
	if learnerID == "" {
		return validationf("learner id is required")
	}
	if !event.Action.Valid() {
		return validationError(fmt.Errorf("%w: %q", intelligence.ErrUnknownAction, event.Action))
	}

	for _, f := range []struct {
		name  string
		value float64
	}{
		{"watch_seconds", event.WatchSeconds},
		{"duration_seconds", event.DurationSeconds},
		{"difficulty", event.Difficulty},
	} {
		if f.value < 0 || math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return validationf("%s must be a non-negative number, got %v", f.name, f.value)
		}
	}
	if event.ResponseTime < 0 {
		return validationf("response_time must not be negative")
	}
	if event.Difficulty > maxEventDifficulty {
		return validationf("difficulty must be at most %d, got %v", maxEventDifficulty, event.Difficulty)
	}
	if event.ContentLevel != "" && !event.ContentLevel.Valid() {
		return validationError(fmt.Errorf("%w: %q", intelligence.ErrInvalidLevel, event.ContentLevel))
	}

	for i, w := range event.Words {
		if normalizeWord(w.Word) == "" {
			return validationf("word %d is empty", i)
		}
		if w.Confidence != nil && (*w.Confidence < 0 || *w.Confidence > 1) {
			return validationf("word %q: confidence must be within [0,1], got %v", w.Word, *w.Confidence)
		}
		if w.Frequency < 0 {
			return validationf("word %q: frequency must not be negative", w.Word)
		}
		if w.ResponseTime < 0 {
			return validationf("word %q: response_time must not be negative", w.Word)
		}
	}

	switch event.Action {
	case ActionView, ActionComplete, ActionRewatch:
		if event.ContentID == "" {
			return validationf("%s requires a content id", event.Action)
		}
	case ActionQuiz:
		if event.Correct == nil {
			return validationf("quiz requires a correctness result")
		}
	case ActionFollow:
		if event.CreatorID == "" && event.ContentID == "" {
			return validationf("follow requires a creator id or content id")
		}
	case ActionSession:
		if event.Session == nil {
			return validationf("session requires a session summary")
		}
	}

	if s := event.Session; s != nil {
		if s.Accuracy < 0 || s.Accuracy > 1 || s.CompletionRate < 0 || s.CompletionRate > 1 {
			return validationf("session rates must be within [0,1]")
		}
		if s.AvgSecondsPerQuest < 0 || s.Likes < 0 || s.Shares < 0 || s.Comments < 0 {
			return validationf("session counters must not be negative")
		}
	}
	return nil
}

// IsValidationError reports whether err was caused by a rejected input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}
