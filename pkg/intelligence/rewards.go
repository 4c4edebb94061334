package intelligence

import (
	"fmt"
	"math"
	"time"
)

// Action names an XP-awarding learner action.
type Action string

// Actions with an XP rule in the default table.
const (
	ActionMasterWeakWord    Action = "masterWeakWord"
	ActionCompleteQuiz      Action = "completeQuiz"
	ActionShareContent      Action = "shareContent"
	ActionWatchToCompletion Action = "watchToCompletion"
	ActionSaveWord          Action = "saveWord"
	ActionRewatchVideo      Action = "rewatchVideo"
	ActionComment           Action = "comment"
	ActionFollowCreator     Action = "followCreator"
	ActionLike              Action = "like"
	ActionDailyLogin        Action = "dailyLogin"
	ActionVideoView         Action = "videoView"
)

// Streak transitions reported by UpdateStreak.
const (
	StreakStarted    = "started"
	StreakMaintained = "maintained"
	StreakIncreased  = "increased"
	StreakBroken     = "broken"
)

// Achievement requirement types.
const (
	RequireStreak        = "streak"
	RequireWordsLearned  = "wordsLearned"
	RequireVideosWatched = "videosWatched"
	RequireTotalXP       = "totalXP"
	RequireShares        = "shares"
	RequireComments      = "comments"
)

const dayLayout = "2006-01-02"

// XPRule is the base XP of an action and the bonus multiplier range.
type XPRule struct {
	Base        int     `json:"base" toml:"base"`
	MinMultiple float64 `json:"min_multiple" toml:"min_multiple"`
	MaxMultiple float64 `json:"max_multiple" toml:"max_multiple"`
}

// Achievement is a one-time threshold reward.
type Achievement struct {
	ID          string `json:"id" toml:"id"`
	Name        string `json:"name" toml:"name"`
	Requirement string `json:"requirement" toml:"requirement"`
	Value       int64  `json:"value" toml:"value"`
	XP          int64  `json:"xp" toml:"xp"`
}

// RewardConfig contains the tunables of the reward state machine.
type RewardConfig struct {
	XPTable map[Action]XPRule `json:"xp_table" toml:"xp_table"`

	// BonusProbability is the chance that a bonus multiplier is rolled.
	BonusProbability float64 `json:"bonus_probability" toml:"bonus_probability"`

	// StreakStep is the multiplier added per StreakStepDays of streak.
	StreakStep     float64 `json:"streak_step" toml:"streak_step"`
	StreakStepDays int     `json:"streak_step_days" toml:"streak_step_days"`

	DueSoonMultiplier float64 `json:"due_soon_multiplier" toml:"due_soon_multiplier"`
	OverdueMultiplier float64 `json:"overdue_multiplier" toml:"overdue_multiplier"`

	LevelBaseXP float64 `json:"level_base_xp" toml:"level_base_xp"`
	LevelGrowth float64 `json:"level_growth" toml:"level_growth"`

	// A streak is at risk from RiskAfter until RiskUntil after the last activity.
	RiskAfter time.Duration `json:"risk_after" toml:"risk_after"`
	RiskUntil time.Duration `json:"risk_until" toml:"risk_until"`

	StreakMilestones []int `json:"streak_milestones" toml:"streak_milestones"`

	// MaxStreakFreezes caps the freeze inventory earned from milestones.
	MaxStreakFreezes int `json:"max_streak_freezes" toml:"max_streak_freezes"`

	Achievements []Achievement `json:"achievements" toml:"achievements"`
}

// DefaultRewardConfig returns the variable-ratio reward defaults.
func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		XPTable: map[Action]XPRule{
			ActionMasterWeakWord:    {Base: 100, MinMultiple: 0.5, MaxMultiple: 2.0},
			ActionCompleteQuiz:      {Base: 50, MinMultiple: 0.8, MaxMultiple: 1.5},
			ActionShareContent:      {Base: 40, MinMultiple: 1.0, MaxMultiple: 2.0},
			ActionWatchToCompletion: {Base: 30, MinMultiple: 0.8, MaxMultiple: 1.5},
			ActionSaveWord:          {Base: 25, MinMultiple: 0.8, MaxMultiple: 1.5},
			ActionRewatchVideo:      {Base: 35, MinMultiple: 1.0, MaxMultiple: 2.0},
			ActionComment:           {Base: 15, MinMultiple: 0.5, MaxMultiple: 1.5},
			ActionFollowCreator:     {Base: 12, MinMultiple: 1.0, MaxMultiple: 1.0},
			ActionLike:              {Base: 8, MinMultiple: 0.5, MaxMultiple: 1.2},
			ActionDailyLogin:        {Base: 5, MinMultiple: 1.0, MaxMultiple: 1.0},
			ActionVideoView:         {Base: 3, MinMultiple: 1.0, MaxMultiple: 1.0},
		},
		BonusProbability:  0.30,
		StreakStep:        0.1,
		StreakStepDays:    10,
		DueSoonMultiplier: 2.0,
		OverdueMultiplier: 1.5,
		LevelBaseXP:       100,
		LevelGrowth:       1.5,
		RiskAfter:         20 * time.Hour,
		RiskUntil:         48 * time.Hour,
		StreakMilestones:  []int{7, 14, 30, 50, 100, 200, 365, 500, 1000},
		MaxStreakFreezes:  2,
		Achievements: []Achievement{
			{ID: "streak_7", Name: "7-Day Scholar", Requirement: RequireStreak, Value: 7, XP: 500},
			{ID: "streak_30", Name: "30-Day Master", Requirement: RequireStreak, Value: 30, XP: 2000},
			{ID: "streak_100", Name: "100-Day Legend", Requirement: RequireStreak, Value: 100, XP: 10000},
			{ID: "streak_365", Name: "Year Warrior", Requirement: RequireStreak, Value: 365, XP: 50000},
			{ID: "words_100", Name: "Vocabulary Novice", Requirement: RequireWordsLearned, Value: 100, XP: 1000},
			{ID: "words_500", Name: "Vocabulary Expert", Requirement: RequireWordsLearned, Value: 500, XP: 5000},
			{ID: "words_1000", Name: "Vocabulary Master", Requirement: RequireWordsLearned, Value: 1000, XP: 15000},
			{ID: "videos_50", Name: "Binge Watcher", Requirement: RequireVideosWatched, Value: 50, XP: 500},
			{ID: "videos_200", Name: "Content Consumer", Requirement: RequireVideosWatched, Value: 200, XP: 2000},
			{ID: "videos_500", Name: "Netflix Champion", Requirement: RequireVideosWatched, Value: 500, XP: 5000},
			{ID: "shares_10", Name: "Social Butterfly", Requirement: RequireShares, Value: 10, XP: 300},
			{ID: "comments_50", Name: "Conversationalist", Requirement: RequireComments, Value: 50, XP: 800},
			{ID: "xp_10000", Name: "XP Hunter", Requirement: RequireTotalXP, Value: 10000, XP: 1000},
			{ID: "xp_50000", Name: "XP Legend", Requirement: RequireTotalXP, Value: 50000, XP: 5000},
		},
	}
}

// GamificationState is a learner's XP, streak and achievement state.
type GamificationState struct {
	LearnerID string `json:"learner_id"`
	XP        int64  `json:"xp"`
	Level     int    `json:"level"`

	StreakDays     int       `json:"streak_days"`
	LongestStreak  int       `json:"longest_streak"`
	LastActiveDate string    `json:"last_active_date,omitempty"`
	LastActiveAt   time.Time `json:"last_active_at"`
	StreakFreezes  int       `json:"streak_freezes"`

	Achievements []string `json:"achievements"`

	VideosWatched    int64 `json:"videos_watched"`
	WordsLearned     int64 `json:"words_learned"`
	LessonsCompleted int64 `json:"lessons_completed"`
	Shares           int64 `json:"shares"`
	Comments         int64 `json:"comments"`

	// Per-day counters, reset when CountersDate changes.
	CountersDate string `json:"counters_date,omitempty"`
	XPToday      int64  `json:"xp_today"`
	ActionsToday int    `json:"actions_today"`
}

// NewGamificationState returns the lazily-initialized state of a learner.
func NewGamificationState(learnerID string) *GamificationState {
	return &GamificationState{LearnerID: learnerID, Level: 1, Achievements: []string{}}
}

// HasAchievement reports whether id has been unlocked.
func (g *GamificationState) HasAchievement(id string) bool {
	for _, a := range g.Achievements {
		if a == id {
			return true
		}
	}
	return false
}

// XPContext is the immutable input to CalculateXP.
type XPContext struct {
	StreakDays int     `json:"streak_days,omitempty"`
	Difficulty float64 `json:"difficulty,omitempty"`
	Urgency    Urgency `json:"urgency,omitempty"`
}

// XPResult is the breakdown of a single XP calculation.
type XPResult struct {
	Action             Action  `json:"action"`
	Base               int     `json:"base"`
	XP                 int64   `json:"xp"`
	BonusAwarded       bool    `json:"bonus_awarded"`
	BonusMultiplier    float64 `json:"bonus_multiplier,omitempty"`
	StreakMultiplier   float64 `json:"streak_multiplier,omitempty"`
	StreakBonus        int64   `json:"streak_bonus,omitempty"`
	DifficultyBonus    bool    `json:"difficulty_bonus,omitempty"`
	OptimalTimingBonus bool    `json:"optimal_timing_bonus,omitempty"`
	RescuedBonus       bool    `json:"rescued_bonus,omitempty"`
}

// LevelUp describes a level change caused by an award.
type LevelUp struct {
	From      int   `json:"from"`
	To        int   `json:"to"`
	XPForNext int64 `json:"xp_for_next"`
}

// XPAward is the outcome of AwardXP.
type XPAward struct {
	XPResult
	TotalXP         int64         `json:"total_xp"`
	Level           int           `json:"level"`
	LevelUp         *LevelUp      `json:"level_up,omitempty"`
	NewAchievements []Achievement `json:"new_achievements,omitempty"`
	ShowCelebration bool          `json:"show_celebration"`
}

// StreakUpdate is the outcome of UpdateStreak.
type StreakUpdate struct {
	StreakDays       int    `json:"streak_days"`
	Status           string `json:"status"`
	PreviousStreak   int    `json:"previous_streak,omitempty"`
	MilestoneReached bool   `json:"milestone_reached,omitempty"`
	FreezeEarned     bool   `json:"freeze_earned,omitempty"`
	LossAversion     string `json:"loss_aversion,omitempty"`
}

// StreakRisk is the outcome of CheckStreakAtRisk.
type StreakRisk struct {
	AtRisk           bool   `json:"at_risk"`
	StreakDays       int    `json:"streak_days"`
	HoursSinceActive int    `json:"hours_since_active"`
	HoursRemaining   int    `json:"hours_remaining"`
	CanUseFreeze     bool   `json:"can_use_freeze"`
	LossAversion     string `json:"loss_aversion"`
}

// FreezeResult is the outcome of UseStreakFreeze.
type FreezeResult struct {
	StreakDays       int `json:"streak_days"`
	RemainingFreezes int `json:"remaining_freezes"`
}

// RewardEngine issues variable XP rewards and drives the daily streak.
//
// XP follows a variable-ratio schedule: with BonusProbability a multiplier is
// drawn uniformly from the action's range. Streak length and review urgency
// scale the result afterwards.
type RewardEngine struct {
	cfg RewardConfig
}

// NewRewardEngine creates a reward engine with the given configuration.
func NewRewardEngine(cfg RewardConfig) *RewardEngine {
	return &RewardEngine{cfg: cfg}
}

// Config returns the reward configuration.
func (e *RewardEngine) Config() RewardConfig {
	return e.cfg
}

// Known reports whether action has an XP rule.
func (e *RewardEngine) Known(action Action) bool {
	_, ok := e.cfg.XPTable[action]
	return ok
}

// CalculateXP computes the XP for action. It never modifies xctx.
func (e *RewardEngine) CalculateXP(action Action, xctx XPContext, rng Rand) (XPResult, error) {
	rule, ok := e.cfg.XPTable[action]
	if !ok {
		return XPResult{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	res := XPResult{Action: action, Base: rule.Base}
	xp := float64(rule.Base)

	if rng.Float64() < e.cfg.BonusProbability {
		mult := rule.MinMultiple + rng.Float64()*(rule.MaxMultiple-rule.MinMultiple)
		xp = math.Round(float64(rule.Base) * mult)
		res.BonusAwarded = true
		res.BonusMultiplier = mult
	}

	if xctx.StreakDays > 0 {
		sm := e.StreakMultiplier(xctx.StreakDays)
		xp = math.Round(xp * sm)
		res.StreakMultiplier = sm
		res.StreakBonus = int64(math.Round(xp * (sm - 1)))
	}

	if xctx.Difficulty > 5 {
		xp = math.Round(xp * (1 + (xctx.Difficulty-5)*0.1))
		res.DifficultyBonus = true
	}

	switch xctx.Urgency {
	case UrgencyDueSoon:
		xp = math.Round(xp * e.cfg.DueSoonMultiplier)
		res.OptimalTimingBonus = true
	case UrgencyOverdue:
		xp = math.Round(xp * e.cfg.OverdueMultiplier)
		res.RescuedBonus = true
	}

	res.XP = int64(xp)
	return res, nil
}

// StreakMultiplier returns 1 + floor(days/StreakStepDays)*StreakStep.
func (e *RewardEngine) StreakMultiplier(days int) float64 {
	if days <= 0 || e.cfg.StreakStepDays <= 0 {
		return 1
	}
	return 1 + float64(days/e.cfg.StreakStepDays)*e.cfg.StreakStep
}

// XPForLevel returns the XP threshold of level: floor(base * growth^(level-1)).
func (e *RewardEngine) XPForLevel(level int) int64 {
	return int64(math.Floor(e.cfg.LevelBaseXP * math.Pow(e.cfg.LevelGrowth, float64(level-1))))
}

// LevelForXP returns the highest level whose threshold xp has reached.
// Level 1 needs no XP.
func (e *RewardEngine) LevelForXP(xp int64) int {
	level := 1
	for xp >= e.XPForLevel(level+1) {
		level++
	}
	return level
}

// AwardXP calculates and applies XP for action to state.
//
// The streak in xctx is taken from state. Counters are updated before
// achievements are evaluated; unlocked achievements add their bonus XP.
func (e *RewardEngine) AwardXP(state *GamificationState, action Action, xctx XPContext, rng Rand, now time.Time) (XPAward, error) {
	xctx.StreakDays = state.StreakDays
	res, err := e.CalculateXP(action, xctx, rng)
	if err != nil {
		return XPAward{}, err
	}

	e.rollDailyCounters(state, now)
	prevLevel := state.Level
	if prevLevel < 1 {
		prevLevel = 1
	}

	state.XP += res.XP
	state.XPToday += res.XP
	state.ActionsToday++
	e.trackAction(state, action)

	award := XPAward{XPResult: res}
	award.NewAchievements = e.CheckAchievements(state)

	state.Level = e.LevelForXP(state.XP)
	if state.Level > prevLevel {
		award.LevelUp = &LevelUp{From: prevLevel, To: state.Level, XPForNext: e.XPForLevel(state.Level + 1)}
	}

	award.TotalXP = state.XP
	award.Level = state.Level
	award.ShowCelebration = res.BonusAwarded || award.LevelUp != nil || len(award.NewAchievements) > 0
	return award, nil
}

func (e *RewardEngine) rollDailyCounters(state *GamificationState, now time.Time) {
	today := now.UTC().Format(dayLayout)
	if state.CountersDate != today {
		state.CountersDate = today
		state.XPToday = 0
		state.ActionsToday = 0
	}
}

func (e *RewardEngine) trackAction(state *GamificationState, action Action) {
	switch action {
	case ActionWatchToCompletion, ActionRewatchVideo:
		state.VideosWatched++
	case ActionSaveWord, ActionMasterWeakWord:
		state.WordsLearned++
	case ActionCompleteQuiz:
		state.LessonsCompleted++
	case ActionShareContent:
		state.Shares++
	case ActionComment:
		state.Comments++
	}
}

// CheckAchievements unlocks every achievement whose threshold state meets and
// grants its bonus XP. Each achievement is granted at most once. Bonus XP can
// itself unlock XP achievements, so evaluation repeats until nothing changes.
func (e *RewardEngine) CheckAchievements(state *GamificationState) []Achievement {
	var unlocked []Achievement
	for {
		changed := false
		for _, a := range e.cfg.Achievements {
			if state.HasAchievement(a.ID) || e.progress(state, a.Requirement) < a.Value {
				continue
			}
			state.Achievements = append(state.Achievements, a.ID)
			state.XP += a.XP
			unlocked = append(unlocked, a)
			changed = true
		}
		if !changed {
			return unlocked
		}
	}
}

func (e *RewardEngine) progress(state *GamificationState, requirement string) int64 {
	switch requirement {
	case RequireStreak:
		return int64(state.StreakDays)
	case RequireWordsLearned:
		return state.WordsLearned
	case RequireVideosWatched:
		return state.VideosWatched
	case RequireTotalXP:
		return state.XP
	case RequireShares:
		return state.Shares
	case RequireComments:
		return state.Comments
	default:
		return 0
	}
}

// UpdateStreak records activity at now. The streak moves by calendar day (UTC):
// same day keeps it, the next day increments it, any later day resets it to 1.
func (e *RewardEngine) UpdateStreak(state *GamificationState, now time.Time) StreakUpdate {
	today := now.UTC().Format(dayLayout)
	defer func() { state.LastActiveAt = now }()

	if state.LastActiveDate == "" {
		state.StreakDays = 1
		state.LastActiveDate = today
		if state.LongestStreak < 1 {
			state.LongestStreak = 1
		}
		return StreakUpdate{StreakDays: 1, Status: StreakStarted}
	}

	switch days := daysBetween(state.LastActiveDate, today); {
	case days <= 0:
		return StreakUpdate{StreakDays: state.StreakDays, Status: StreakMaintained}
	case days == 1:
		state.StreakDays++
		state.LastActiveDate = today
		if state.StreakDays > state.LongestStreak {
			state.LongestStreak = state.StreakDays
		}
		up := StreakUpdate{StreakDays: state.StreakDays, Status: StreakIncreased}
		if e.IsStreakMilestone(state.StreakDays) {
			up.MilestoneReached = true
			if state.StreakFreezes < e.cfg.MaxStreakFreezes {
				state.StreakFreezes++
				up.FreezeEarned = true
			}
		}
		return up
	default:
		broken := state.StreakDays
		state.StreakDays = 1
		state.LastActiveDate = today
		return StreakUpdate{
			StreakDays:     1,
			Status:         StreakBroken,
			PreviousStreak: broken,
			LossAversion:   LossAversion(broken),
		}
	}
}

func daysBetween(from, to string) int {
	a, errA := time.Parse(dayLayout, from)
	b, errB := time.Parse(dayLayout, to)
	if errA != nil || errB != nil {
		return math.MaxInt32
	}
	return int(b.Sub(a).Hours() / 24)
}

// IsStreakMilestone reports whether days is a celebrated streak length.
func (e *RewardEngine) IsStreakMilestone(days int) bool {
	for _, m := range e.cfg.StreakMilestones {
		if m == days {
			return true
		}
	}
	return false
}

// CheckStreakAtRisk flags a streak whose last activity is at least RiskAfter
// and less than RiskUntil ago.
func (e *RewardEngine) CheckStreakAtRisk(state *GamificationState, now time.Time) StreakRisk {
	out := StreakRisk{StreakDays: state.StreakDays, LossAversion: LossAversion(state.StreakDays)}
	if state.LastActiveDate == "" || state.LastActiveAt.IsZero() {
		return out
	}

	since := now.Sub(state.LastActiveAt)
	out.HoursSinceActive = int(math.Floor(since.Hours()))
	remaining := e.cfg.RiskUntil - since
	if remaining > 0 {
		out.HoursRemaining = int(math.Floor(remaining.Hours()))
	}
	out.AtRisk = state.StreakDays > 0 && since >= e.cfg.RiskAfter && since < e.cfg.RiskUntil
	out.CanUseFreeze = out.AtRisk && state.StreakFreezes > 0
	return out
}

// UseStreakFreeze spends one freeze to mark today active without advancing
// the streak. It only applies while the streak is at risk.
func (e *RewardEngine) UseStreakFreeze(state *GamificationState, now time.Time) (FreezeResult, error) {
	if state.StreakFreezes <= 0 {
		return FreezeResult{}, ErrNoStreakFreeze
	}
	if !e.CheckStreakAtRisk(state, now).AtRisk {
		return FreezeResult{}, ErrStreakNotAtRisk
	}

	state.StreakFreezes--
	state.LastActiveDate = now.UTC().Format(dayLayout)
	state.LastActiveAt = now
	return FreezeResult{StreakDays: state.StreakDays, RemainingFreezes: state.StreakFreezes}, nil
}

// LossAversion grades how painful losing a streak of days would be.
func LossAversion(days int) string {
	switch {
	case days < 7:
		return "low"
	case days < 30:
		return "medium"
	case days < 100:
		return "high"
	case days < 365:
		return "very_high"
	default:
		return "extreme"
	}
}
