package core

import (
	"time"

	"github.com/learnfeed/learnfeed-go/pkg/intelligence"
)

// Action names a learner interaction accepted by TrackInteraction.
type Action string

// Interaction actions.
const (
	ActionView     Action = "view"
	ActionComplete Action = "complete"
	ActionRewatch  Action = "rewatch"
	ActionLike     Action = "like"
	ActionShare    Action = "share"
	ActionComment  Action = "comment"
	ActionSave     Action = "save"
	ActionFollow   Action = "follow"
	ActionQuiz     Action = "quiz"
	ActionPractice Action = "practice"
	ActionLogin    Action = "login"
	ActionSession  Action = "session"
	ActionFreeze   Action = "freeze"
)

// Actions lists every accepted action.
var Actions = []Action{
	ActionView, ActionComplete, ActionRewatch, ActionLike, ActionShare, ActionComment,
	ActionSave, ActionFollow, ActionQuiz, ActionPractice, ActionLogin, ActionSession, ActionFreeze,
}

// rewardActions maps interactions to the XP rule they earn. Actions missing
// from the map earn nothing directly.
var rewardActions = map[Action]intelligence.Action{
	ActionView:     intelligence.ActionVideoView,
	ActionComplete: intelligence.ActionWatchToCompletion,
	ActionRewatch:  intelligence.ActionRewatchVideo,
	ActionLike:     intelligence.ActionLike,
	ActionShare:    intelligence.ActionShareContent,
	ActionComment:  intelligence.ActionComment,
	ActionSave:     intelligence.ActionSaveWord,
	ActionFollow:   intelligence.ActionFollowCreator,
	ActionQuiz:     intelligence.ActionCompleteQuiz,
	ActionLogin:    intelligence.ActionDailyLogin,
}

// Valid reports whether a is an accepted action.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if known == a {
			return true
		}
	}
	return false
}

func (a Action) isWatch() bool {
	return a == ActionView || a == ActionComplete || a == ActionRewatch
}

// InteractionEvent is one learner interaction.
type InteractionEvent struct {
	Action    Action `json:"action"`
	ContentID string `json:"content_id,omitempty"`

	// ContentLevel, Category and CreatorID override the catalog values.
	ContentLevel intelligence.Level `json:"content_level,omitempty"`
	Category     string             `json:"category,omitempty"`
	CreatorID    string             `json:"creator_id,omitempty"`

	WatchSeconds    float64 `json:"watch_seconds,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Completed       bool    `json:"completed,omitempty"`
	ScrolledAway    bool    `json:"scrolled_away,omitempty"`

	// Correct grades the interaction as a whole. Nil means ungraded.
	Correct      *bool         `json:"correct,omitempty"`
	ResponseTime time.Duration `json:"response_time,omitempty"`

	// Difficulty (0-10) raises the XP of hard interactions above 5.
	Difficulty float64 `json:"difficulty,omitempty"`

	Words   []WordPractice               `json:"words,omitempty"`
	Session *intelligence.SessionSummary `json:"session,omitempty"`
}

// WordPractice is one vocabulary item practiced during an interaction.
type WordPractice struct {
	Word string `json:"word"`

	// Correct defaults to true.
	Correct *bool `json:"correct,omitempty"`

	// ResponseTime defaults to the event's ResponseTime.
	ResponseTime time.Duration `json:"response_time,omitempty"`

	// Confidence defaults to 0.8.
	Confidence *float64 `json:"confidence,omitempty"`

	// Frequency is the corpus frequency rank. Zero uses the model default.
	Frequency   float64 `json:"frequency,omitempty"`
	IsCognate   bool    `json:"is_cognate,omitempty"`
	IsIrregular bool    `json:"is_irregular,omitempty"`
}

// InteractionResult is the union of what each model recorded for an event.
// Sub-results are nil when the event did not concern that model.
type InteractionResult struct {
	EventID   string    `json:"event_id"`
	LearnerID string    `json:"learner_id"`
	Action    Action    `json:"action"`
	At        time.Time `json:"at"`

	MemoryUpdates []intelligence.PracticeOutcome `json:"memory_updates,omitempty"`
	Level         *LevelUpdate                   `json:"level_update,omitempty"`
	Engagement    *EngagementUpdate              `json:"engagement_update,omitempty"`
	XP            *XPUpdate                      `json:"xp_update,omitempty"`
	Streak        *intelligence.StreakUpdate     `json:"streak_update,omitempty"`
	Freeze        *intelligence.FreezeResult     `json:"freeze,omitempty"`

	// Warnings lists non-fatal problems such as unknown content.
	Warnings []string `json:"warnings,omitempty"`
}

// LevelUpdate reports the difficulty-side effects of an interaction.
type LevelUpdate struct {
	CurrentLevel    intelligence.Level            `json:"current_level"`
	KnownWordsAdded int                           `json:"known_words_added,omitempty"`
	Assessment      *intelligence.LevelAssessment `json:"assessment,omitempty"`
	Change          *intelligence.LevelChange     `json:"change,omitempty"`
	SessionRecorded bool                          `json:"session_recorded,omitempty"`
}

// EngagementUpdate reports the engagement-side effects of an interaction.
type EngagementUpdate struct {
	Stage        intelligence.PersonalizationStage `json:"stage"`
	WatchQuality *intelligence.WatchQuality        `json:"watch_quality,omitempty"`
	PassedHook   *bool                             `json:"passed_hook,omitempty"`
	TopInterests []string                          `json:"top_interests,omitempty"`
}

// XPUpdate aggregates every XP award of an interaction.
type XPUpdate struct {
	Awarded         int64                      `json:"awarded"`
	TotalXP         int64                      `json:"total_xp"`
	Level           int                        `json:"level"`
	Awards          []intelligence.XPAward     `json:"awards"`
	LevelUp         *intelligence.LevelUp      `json:"level_up,omitempty"`
	NewAchievements []intelligence.Achievement `json:"new_achievements,omitempty"`
	ShowCelebration bool                       `json:"show_celebration"`
}

// FeedItem is one ranked feed entry.
type FeedItem struct {
	Item              intelligence.ContentItem        `json:"item"`
	Source            intelligence.FeedSource         `json:"source"`
	RankScore         float64                         `json:"rank_score"`
	EngagementScore   float64                         `json:"engagement_score"`
	ViralStage        intelligence.ViralStage         `json:"viral_stage"`
	Comprehensibility *intelligence.Comprehensibility `json:"comprehensibility,omitempty"`
	DueWords          []string                        `json:"due_words,omitempty"`
	Priority          float64                         `json:"priority"`
}

// Feed is the result of GenerateFeed.
type Feed struct {
	LearnerID   string                            `json:"learner_id"`
	GeneratedAt time.Time                         `json:"generated_at"`
	Stage       intelligence.PersonalizationStage `json:"stage"`
	Level       intelligence.Level                `json:"level"`
	Items       []FeedItem                        `json:"items"`
	DueWords    []intelligence.DueReview          `json:"due_words,omitempty"`

	// Degraded names the inputs that could not be loaded; the feed was
	// ranked without them.
	Degraded []string `json:"degraded,omitempty"`

	// Missing lists requested content IDs that the catalog does not have.
	Missing []string `json:"missing,omitempty"`
}

// EngagementSummary condenses an engagement profile for the dashboard.
type EngagementSummary struct {
	Stage             intelligence.PersonalizationStage `json:"stage"`
	WatchCount        int                               `json:"watch_count"`
	TotalWatchSeconds float64                           `json:"total_watch_seconds"`
	AvgCompletionRate float64                           `json:"avg_completion_rate"`
	TopInterests      []string                          `json:"top_interests"`
	FollowedCreators  int                               `json:"followed_creators"`
}

// Dashboard is a consolidated snapshot of a learner's four state records.
type Dashboard struct {
	LearnerID   string    `json:"learner_id"`
	GeneratedAt time.Time `json:"generated_at"`

	Level       intelligence.Level            `json:"level"`
	KnownWords  int                           `json:"known_words"`
	Progression intelligence.LevelProgression `json:"progression"`
	Assessment  intelligence.LevelAssessment  `json:"assessment"`
	UserState   intelligence.UserState        `json:"user_state"`

	WeakWords  []intelligence.DueReview   `json:"weak_words"`
	Skill      intelligence.SkillStrength `json:"skill"`
	TotalItems int                        `json:"total_items"`

	Gamification   intelligence.GamificationState `json:"gamification"`
	XPForNextLevel int64                          `json:"xp_for_next_level"`
	StreakRisk     intelligence.StreakRisk        `json:"streak_risk"`

	Engagement EngagementSummary `json:"engagement"`

	// ModelAccuracy is nil until the retention model has calibration data.
	ModelAccuracy *intelligence.ModelAccuracy `json:"model_accuracy,omitempty"`
}

// PracticeItem is one entry of a practice session.
type PracticeItem struct {
	ItemID        string               `json:"item_id"`
	CurrentRecall float64              `json:"current_recall"`
	StrengthBars  int                  `json:"strength_bars"`
	Urgency       intelligence.Urgency `json:"urgency"`
	Level         intelligence.Level   `json:"level"`
	XPPotential   int                  `json:"xp_potential"`
}

// PracticeSession is a review session built from a learner's weakest items.
type PracticeSession struct {
	SessionID        string         `json:"session_id"`
	LearnerID        string         `json:"learner_id"`
	CreatedAt        time.Time      `json:"created_at"`
	Items            []PracticeItem `json:"items"`
	TotalXPPotential int            `json:"total_xp_potential"`
}

// LearnerDataFormat is the format version written by ExportLearnerData.
const LearnerDataFormat = 1

// LearnerData is the portable form of a learner's state. Absent parts are nil.
type LearnerData struct {
	Format       int                             `json:"format"`
	LearnerID    string                          `json:"learner_id"`
	ExportedAt   time.Time                       `json:"exported_at"`
	Memory       *intelligence.MemoryBook        `json:"memory,omitempty"`
	Level        *intelligence.LevelProfile      `json:"level,omitempty"`
	Engagement   *intelligence.EngagementProfile `json:"engagement,omitempty"`
	Gamification *intelligence.GamificationState `json:"gamification,omitempty"`
}
