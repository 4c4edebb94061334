package intelligence

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Comprehensibility labels.
const (
	ClassTooEasy    = "i-1_or_i"
	ClassIPlusOne   = "i+1"
	ClassIPlusTwo   = "i+2"
	ClassIPlusThree = "i+3_or_more"
)

// ReasonInsufficientData is reported when too little evidence exists to decide.
const ReasonInsufficientData = "Insufficient data"

// User states reported by DetectUserState.
const (
	UserStateNormal     = "normal"
	UserStateStruggling = "struggling"
	UserStateBored      = "bored"
	UserStateOptimal    = "optimal"
)

// DifficultyConfig contains the tunables of the difficulty distributor.
type DifficultyConfig struct {
	// AtLevelRatio and EasierRatio define the batch mix; harder gets the remainder.
	AtLevelRatio float64 `json:"at_level_ratio" toml:"at_level_ratio"`
	EasierRatio  float64 `json:"easier_ratio" toml:"easier_ratio"`

	// Comprehension thresholds on the known-word share.
	MaxComprehension     float64 `json:"max_comprehension" toml:"max_comprehension"`
	OptimalComprehension float64 `json:"optimal_comprehension" toml:"optimal_comprehension"`
	MinComprehension     float64 `json:"min_comprehension" toml:"min_comprehension"`
	StretchComprehension float64 `json:"stretch_comprehension" toml:"stretch_comprehension"`

	MinAssessmentSamples int     `json:"min_assessment_samples" toml:"min_assessment_samples"`
	AssessmentWindow     int     `json:"assessment_window" toml:"assessment_window"`
	LevelUpAccuracy      float64 `json:"level_up_accuracy" toml:"level_up_accuracy"`
	LevelUpAtLevel       float64 `json:"level_up_at_level" toml:"level_up_at_level"`
	LevelDownAccuracy    float64 `json:"level_down_accuracy" toml:"level_down_accuracy"`
	LevelDownAtLevel     float64 `json:"level_down_at_level" toml:"level_down_at_level"`

	MinStateSessions int `json:"min_state_sessions" toml:"min_state_sessions"`

	// PerformanceLimit and SessionLimit cap the evidence kept per learner.
	PerformanceLimit int `json:"performance_limit" toml:"performance_limit"`
	SessionLimit     int `json:"session_limit" toml:"session_limit"`

	// MinWordLength is the exclusive lower bound on token length.
	MinWordLength int `json:"min_word_length" toml:"min_word_length"`
}

// DefaultDifficultyConfig returns the 70/20/10 comprehensible-input defaults.
func DefaultDifficultyConfig() DifficultyConfig {
	return DifficultyConfig{
		AtLevelRatio:         0.70,
		EasierRatio:          0.20,
		MaxComprehension:     0.98,
		OptimalComprehension: 0.95,
		MinComprehension:     0.90,
		StretchComprehension: 0.80,
		MinAssessmentSamples: 10,
		AssessmentWindow:     20,
		LevelUpAccuracy:      0.85,
		LevelUpAtLevel:       0.90,
		LevelDownAccuracy:    0.60,
		LevelDownAtLevel:     0.50,
		MinStateSessions:     5,
		PerformanceLimit:     50,
		SessionLimit:         20,
		MinWordLength:        2,
	}
}

// WordSet is a set of lower-cased words. It encodes as a sorted JSON array.
type WordSet map[string]struct{}

// Add inserts words, lower-casing them.
func (s WordSet) Add(words ...string) int {
	added := 0
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, ok := s[w]; !ok {
			s[w] = struct{}{}
			added++
		}
	}
	return added
}

// Has reports whether word is in the set.
func (s WordSet) Has(word string) bool {
	_, ok := s[strings.ToLower(word)]
	return ok
}

// Sorted returns the words in lexical order.
func (s WordSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for w := range s {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON implements json.Marshaler.
func (s WordSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *WordSet) UnmarshalJSON(data []byte) error {
	var words []string
	if err := json.Unmarshal(data, &words); err != nil {
		return err
	}
	set := make(WordSet, len(words))
	set.Add(words...)
	*s = set
	return nil
}

// PerformanceSample is one graded answer, tagged with the level of the content.
type PerformanceSample struct {
	Correct      bool      `json:"correct"`
	ContentLevel Level     `json:"content_level"`
	At           time.Time `json:"at"`
}

// SessionSummary aggregates one study session.
type SessionSummary struct {
	Accuracy           float64   `json:"accuracy"`
	AvgSecondsPerQuest float64   `json:"avg_seconds_per_question"`
	CompletionRate     float64   `json:"completion_rate"`
	Likes              int       `json:"likes"`
	Shares             int       `json:"shares"`
	Comments           int       `json:"comments"`
	EndedAt            time.Time `json:"ended_at"`
}

// LevelChange is an entry of the leveling history.
type LevelChange struct {
	From            Level     `json:"from"`
	To              Level     `json:"to"`
	At              time.Time `json:"at"`
	KnownWordsCount int       `json:"known_words_count"`
	Accuracy        float64   `json:"accuracy"`
	Reason          string    `json:"reason,omitempty"`
}

// LevelProfile is a learner's proficiency state.
type LevelProfile struct {
	LearnerID         string              `json:"learner_id"`
	CurrentLevel      Level               `json:"current_level"`
	KnownWords        WordSet             `json:"known_words"`
	History           []LevelChange       `json:"history,omitempty"`
	RecentPerformance []PerformanceSample `json:"recent_performance,omitempty"`
	RecentSessions    []SessionSummary    `json:"recent_sessions,omitempty"`
	LastAssessmentAt  *time.Time          `json:"last_assessment_at,omitempty"`
}

// NewLevelProfile returns the lazily-initialized profile of a learner.
func NewLevelProfile(learnerID string, level Level) *LevelProfile {
	if !level.Valid() {
		level = LevelA2
	}
	return &LevelProfile{
		LearnerID:    learnerID,
		CurrentLevel: level,
		KnownWords:   make(WordSet),
	}
}

// Comprehensibility is the known-vocabulary analysis of a content item.
type Comprehensibility struct {
	ContentID         string  `json:"content_id"`
	IsComprehensible  bool    `json:"is_comprehensible"`
	IsOptimal         bool    `json:"is_optimal"`
	Classification    string  `json:"classification"`
	KnownPercentage   float64 `json:"known_percentage"`
	UnknownPercentage float64 `json:"unknown_percentage"`
	KnownCount        int     `json:"known_count"`
	UnknownCount      int     `json:"unknown_count"`
	TotalWords        int     `json:"total_words"`
	Difficulty        float64 `json:"difficulty"`
	Recommendation    string  `json:"recommendation"`
}

// LevelAssessment is the outcome of AssessLevelAdjustment.
type LevelAssessment struct {
	ShouldAdjust     bool    `json:"should_adjust"`
	InsufficientData bool    `json:"insufficient_data,omitempty"`
	Direction        string  `json:"direction,omitempty"`
	CurrentLevel     Level   `json:"current_level"`
	NewLevel         Level   `json:"new_level,omitempty"`
	Accuracy         float64 `json:"accuracy"`
	AtLevelAccuracy  float64 `json:"at_level_accuracy"`
	Samples          int     `json:"samples"`
	Reason           string  `json:"reason"`
}

// UserState is the outcome of DetectUserState.
type UserState struct {
	State            string  `json:"state"`
	Confidence       string  `json:"confidence"`
	InsufficientData bool    `json:"insufficient_data,omitempty"`
	Recommendation   string  `json:"recommendation,omitempty"`
	AvgAccuracy      float64 `json:"avg_accuracy"`
	AvgSecondsPerQ   float64 `json:"avg_seconds_per_question"`
	AvgCompletion    float64 `json:"avg_completion"`
	AvgEngagement    float64 `json:"avg_engagement"`
}

// LevelStep describes a level and its frequency band.
type LevelStep struct {
	Level         Level         `json:"level"`
	FrequencyBand FrequencyBand `json:"frequency_band"`
	KnownWords    int           `json:"known_words,omitempty"`
}

// LevelProgression is the level path around a learner's current level.
type LevelProgression struct {
	Current  LevelStep     `json:"current"`
	Previous *LevelStep    `json:"previous,omitempty"`
	Next     *LevelStep    `json:"next,omitempty"`
	History  []LevelChange `json:"history"`
}

// DifficultyDistributor keeps content within the comprehensible-input band of a learner.
//
// It builds batches with a fixed at-level/easier/harder mix, measures how much
// of a text a learner already knows, and recommends single-step level changes
// from rolling performance.
type DifficultyDistributor struct {
	cfg DifficultyConfig
}

// NewDifficultyDistributor creates a distributor with the given configuration.
func NewDifficultyDistributor(cfg DifficultyConfig) *DifficultyDistributor {
	return &DifficultyDistributor{cfg: cfg}
}

// Config returns the distributor configuration.
func (d *DifficultyDistributor) Config() DifficultyConfig {
	return d.cfg
}

// BucketTargets returns the at-level, easier and harder counts for a batch of count.
func (d *DifficultyDistributor) BucketTargets(count int) (atLevel, easier, harder int) {
	atLevel = int(math.Round(float64(count) * d.cfg.AtLevelRatio))
	easier = int(math.Round(float64(count) * d.cfg.EasierRatio))
	harder = count - atLevel - easier
	if harder < 0 {
		harder = 0
	}
	return atLevel, easier, harder
}

// DistributeContent builds a batch of up to count items for a learner at level.
// Short buckets contribute fewer items; nothing is borrowed across buckets.
func (d *DifficultyDistributor) DistributeContent(level Level, candidates []ContentItem, count int, rng Rand) ([]ContentItem, error) {
	return distribute(d, level, candidates, func(c ContentItem) Level { return c.Level }, count, rng)
}

// DistributeRanked is DistributeContent for ranked items.
func (d *DifficultyDistributor) DistributeRanked(level Level, candidates []RankedItem, count int, rng Rand) ([]RankedItem, error) {
	return distribute(d, level, candidates, func(r RankedItem) Level { return r.Item.Level }, count, rng)
}

func distribute[T any](d *DifficultyDistributor, level Level, candidates []T, levelOf func(T) Level, count int, rng Rand) ([]T, error) {
	idx := level.Index()
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}
	if count <= 0 {
		return nil, nil
	}

	var atLevel, easier, harder []T
	for _, c := range candidates {
		ci := levelOf(c).Index()
		switch {
		case ci < 0:
			continue
		case ci == idx:
			atLevel = append(atLevel, c)
		case ci < idx:
			easier = append(easier, c)
		default:
			harder = append(harder, c)
		}
	}

	nAt, nEasy, nHard := d.BucketTargets(count)
	selected := make([]T, 0, count)
	selected = append(selected, sample(atLevel, nAt, rng)...)
	selected = append(selected, sample(easier, nEasy, rng)...)
	selected = append(selected, sample(harder, nHard, rng)...)

	rng.Shuffle(len(selected), func(i, j int) { selected[i], selected[j] = selected[j], selected[i] })
	return selected, nil
}

func sample[T any](items []T, n int, rng Rand) []T {
	if n <= 0 {
		return nil
	}
	out := append([]T(nil), items...)
	if len(out) <= n {
		return out
	}
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out[:n]
}

// ExtractWords lower-cases text, strips punctuation and drops short tokens.
func (d *DifficultyDistributor) ExtractWords(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, strings.ToLower(text))

	fields := strings.Fields(cleaned)
	words := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > d.cfg.MinWordLength {
			words = append(words, f)
		}
	}
	return words
}

// AnalyzeComprehensibility measures the share of item's words the learner knows.
//
// Both the 0.95-0.98 and the 0.90-0.95 sub-bands are labeled "i+1" and flagged
// optimal; the recommendation text keeps them apart.
func (d *DifficultyDistributor) AnalyzeComprehensibility(item ContentItem, profile *LevelProfile) Comprehensibility {
	words := d.ExtractWords(item.Text)
	out := Comprehensibility{ContentID: item.ID, TotalWords: len(words)}
	if len(words) == 0 {
		out.Recommendation = "No content"
		return out
	}

	for _, w := range words {
		if profile != nil && profile.KnownWords.Has(w) {
			out.KnownCount++
		}
	}
	out.UnknownCount = out.TotalWords - out.KnownCount
	known := float64(out.KnownCount) / float64(out.TotalWords)
	out.KnownPercentage = known
	out.UnknownPercentage = 1 - known
	out.IsComprehensible = known >= d.cfg.MinComprehension
	out.Difficulty = round1((1 - known) * 10)

	switch {
	case known >= d.cfg.MaxComprehension:
		out.Classification = ClassTooEasy
		out.Recommendation = "Too easy - increase difficulty"
	case known >= d.cfg.OptimalComprehension:
		out.Classification = ClassIPlusOne
		out.IsOptimal = true
		out.Recommendation = "Perfect difficulty (i+1)"
	case known >= d.cfg.MinComprehension:
		out.Classification = ClassIPlusOne
		out.IsOptimal = true
		out.Recommendation = "Good challenge (i+1)"
	case known >= d.cfg.StretchComprehension:
		out.Classification = ClassIPlusTwo
		out.Recommendation = "Very challenging (i+2)"
	default:
		out.Classification = ClassIPlusThree
		out.Recommendation = "Too difficult - needs easier content"
	}
	return out
}

// AssessLevelAdjustment recommends a single-step level change from samples.
// Fewer than MinAssessmentSamples samples yields an insufficient-data result.
func (d *DifficultyDistributor) AssessLevelAdjustment(profile *LevelProfile, samples []PerformanceSample) LevelAssessment {
	out := LevelAssessment{CurrentLevel: profile.CurrentLevel, Samples: len(samples)}
	if len(samples) < d.cfg.MinAssessmentSamples {
		out.InsufficientData = true
		out.Reason = ReasonInsufficientData
		return out
	}

	window := samples
	if n := d.cfg.AssessmentWindow; n > 0 && len(window) > n {
		window = window[len(window)-n:]
	}

	correct, atLevel, atLevelCorrect := 0, 0, 0
	for _, s := range window {
		if s.Correct {
			correct++
		}
		if s.ContentLevel == profile.CurrentLevel {
			atLevel++
			if s.Correct {
				atLevelCorrect++
			}
		}
	}
	out.Accuracy = float64(correct) / float64(len(window))
	out.AtLevelAccuracy = 0.5
	if atLevel > 0 {
		out.AtLevelAccuracy = float64(atLevelCorrect) / float64(atLevel)
	}

	if next, ok := profile.CurrentLevel.Next(); ok &&
		out.Accuracy >= d.cfg.LevelUpAccuracy && out.AtLevelAccuracy >= d.cfg.LevelUpAtLevel {
		out.ShouldAdjust = true
		out.Direction = "up"
		out.NewLevel = next
		out.Reason = fmt.Sprintf("High mastery (%d%% accuracy)", int(math.Round(out.Accuracy*100)))
		return out
	}

	if prev, ok := profile.CurrentLevel.Previous(); ok &&
		out.Accuracy < d.cfg.LevelDownAccuracy && out.AtLevelAccuracy < d.cfg.LevelDownAtLevel {
		out.ShouldAdjust = true
		out.Direction = "down"
		out.NewLevel = prev
		out.Reason = fmt.Sprintf("Struggling (%d%% accuracy)", int(math.Round(out.Accuracy*100)))
		return out
	}

	out.Reason = "Performance stable at current level"
	return out
}

// DetectUserState classifies recent sessions as struggling, bored or optimal.
// Struggling is checked first.
func (d *DifficultyDistributor) DetectUserState(sessions []SessionSummary) UserState {
	if len(sessions) < d.cfg.MinStateSessions {
		return UserState{State: UserStateNormal, Confidence: "low", InsufficientData: true}
	}

	var acc, secs, completion, engagement float64
	for _, s := range sessions {
		acc += s.Accuracy
		secs += s.AvgSecondsPerQuest
		completion += s.CompletionRate
		engagement += float64(s.Likes + s.Shares + s.Comments)
	}
	n := float64(len(sessions))
	out := UserState{
		AvgAccuracy:    acc / n,
		AvgSecondsPerQ: secs / n,
		AvgCompletion:  completion / n,
		AvgEngagement:  engagement / n,
	}

	switch {
	case out.AvgAccuracy < 0.65 || out.AvgSecondsPerQ > 15 || out.AvgCompletion < 0.50:
		out.State = UserStateStruggling
		out.Confidence = "high"
		out.Recommendation = "Reduce difficulty, intensify practice on weak areas"
	case out.AvgAccuracy > 0.95 && out.AvgCompletion < 0.70 && out.AvgEngagement < 0.5:
		out.State = UserStateBored
		out.Confidence = "high"
		out.Recommendation = "Increase difficulty, introduce new content"
	default:
		out.State = UserStateOptimal
		out.Confidence = "medium"
		out.Recommendation = "Continue current difficulty"
	}
	return out
}

// AddKnownWords marks words as known and returns how many were new.
func (d *DifficultyDistributor) AddKnownWords(profile *LevelProfile, words ...string) int {
	if profile.KnownWords == nil {
		profile.KnownWords = make(WordSet)
	}
	return profile.KnownWords.Add(words...)
}

// RecordPerformance appends a graded answer, keeping at most PerformanceLimit samples.
func (d *DifficultyDistributor) RecordPerformance(profile *LevelProfile, s PerformanceSample) {
	profile.RecentPerformance = append(profile.RecentPerformance, s)
	if n := d.cfg.PerformanceLimit; n > 0 && len(profile.RecentPerformance) > n {
		profile.RecentPerformance = append([]PerformanceSample(nil), profile.RecentPerformance[len(profile.RecentPerformance)-n:]...)
	}
}

// RecordSession appends a session summary, keeping at most SessionLimit entries.
func (d *DifficultyDistributor) RecordSession(profile *LevelProfile, s SessionSummary) {
	profile.RecentSessions = append(profile.RecentSessions, s)
	if n := d.cfg.SessionLimit; n > 0 && len(profile.RecentSessions) > n {
		profile.RecentSessions = append([]SessionSummary(nil), profile.RecentSessions[len(profile.RecentSessions)-n:]...)
	}
}

// ApplyLevelChange moves profile to level `to`, which must be adjacent to the
// current level. The evidence window is cleared so the next assessment only
// sees answers given at the new level.
func (d *DifficultyDistributor) ApplyLevelChange(profile *LevelProfile, to Level, accuracy float64, reason string, now time.Time) (LevelChange, error) {
	if !to.Valid() {
		return LevelChange{}, fmt.Errorf("%w: %q", ErrInvalidLevel, to)
	}
	diff := to.Index() - profile.CurrentLevel.Index()
	if diff != 1 && diff != -1 {
		return LevelChange{}, fmt.Errorf("%w: %s -> %s", ErrNonAdjacentLevelChange, profile.CurrentLevel, to)
	}

	change := LevelChange{
		From:            profile.CurrentLevel,
		To:              to,
		At:              now,
		KnownWordsCount: len(profile.KnownWords),
		Accuracy:        accuracy,
		Reason:          reason,
	}
	profile.History = append(profile.History, change)
	profile.CurrentLevel = to
	profile.RecentPerformance = nil
	at := now
	profile.LastAssessmentAt = &at
	return change, nil
}

// LevelProgression describes the current, previous and next levels of profile.
func (d *DifficultyDistributor) LevelProgression(profile *LevelProfile) LevelProgression {
	out := LevelProgression{
		Current: LevelStep{
			Level:         profile.CurrentLevel,
			FrequencyBand: FrequencyBands[profile.CurrentLevel],
			KnownWords:    len(profile.KnownWords),
		},
		History: append([]LevelChange{}, profile.History...),
	}
	if prev, ok := profile.CurrentLevel.Previous(); ok {
		out.Previous = &LevelStep{Level: prev, FrequencyBand: FrequencyBands[prev]}
	}
	if next, ok := profile.CurrentLevel.Next(); ok {
		out.Next = &LevelStep{Level: next, FrequencyBand: FrequencyBands[next]}
	}
	return out
}
