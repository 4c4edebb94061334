package intelligence

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Urgency classifies how close an item is to its ideal review moment.
type Urgency string

// Urgency buckets in review-priority order.
const (
	UrgencyOverdue  Urgency = "overdue"
	UrgencyDueSoon  Urgency = "due_soon"
	UrgencyOptimal  Urgency = "optimal"
	UrgencyTooFresh Urgency = "too_fresh"
)

// Rank returns the sort position of u (overdue first).
func (u Urgency) Rank() int {
	switch u {
	case UrgencyOverdue:
		return 0
	case UrgencyDueSoon:
		return 1
	case UrgencyOptimal:
		return 2
	default:
		return 3
	}
}

// HalfLifeWeights are the regression coefficients of the half-life model.
type HalfLifeWeights struct {
	TotalExposures   float64 `json:"total_exposures" toml:"total_exposures"`
	CorrectRecalls   float64 `json:"correct_recalls" toml:"correct_recalls"`
	IncorrectRecalls float64 `json:"incorrect_recalls" toml:"incorrect_recalls"`
	WordLength       float64 `json:"word_length" toml:"word_length"`
	WordFrequency    float64 `json:"word_frequency" toml:"word_frequency"`
	Cognate          float64 `json:"cognate" toml:"cognate"`
	Irregular        float64 `json:"irregular" toml:"irregular"`
	LastInterval     float64 `json:"last_interval" toml:"last_interval"`
}

// HalfLifeConfig contains the tunables of the forgetting-curve model.
type HalfLifeConfig struct {
	Weights HalfLifeWeights `json:"weights" toml:"weights"`

	// TargetRecall is the recall probability at which a review is scheduled.
	TargetRecall float64 `json:"target_recall" toml:"target_recall"`

	// MinRecall is the recall probability below which an item is overdue.
	MinRecall float64 `json:"min_recall" toml:"min_recall"`

	// TooFreshRecall is the recall probability above which a review is wasteful.
	TooFreshRecall float64 `json:"too_fresh_recall" toml:"too_fresh_recall"`

	MinHalfLifeDays     float64 `json:"min_half_life_days" toml:"min_half_life_days"`
	MaxHalfLifeDays     float64 `json:"max_half_life_days" toml:"max_half_life_days"`
	InitialHalfLifeDays float64 `json:"initial_half_life_days" toml:"initial_half_life_days"`

	// FailureFloorDays and FailureFactor define the punitive reset after a lapse.
	FailureFloorDays float64 `json:"failure_floor_days" toml:"failure_floor_days"`
	FailureFactor    float64 `json:"failure_factor" toml:"failure_factor"`

	// Defaults substituted for missing word features.
	DefaultWordLength    int     `json:"default_word_length" toml:"default_word_length"`
	DefaultWordFrequency float64 `json:"default_word_frequency" toml:"default_word_frequency"`

	// HistoryLimit caps the per-item review history.
	HistoryLimit int `json:"history_limit" toml:"history_limit"`

	// CalibrationLimit caps the model-wide calibration ring.
	CalibrationLimit int `json:"calibration_limit" toml:"calibration_limit"`
}

// DefaultHalfLifeConfig returns the research-derived defaults.
func DefaultHalfLifeConfig() HalfLifeConfig {
	return HalfLifeConfig{
		Weights: HalfLifeWeights{
			TotalExposures:   0.15,
			CorrectRecalls:   0.30,
			IncorrectRecalls: -0.40,
			WordLength:       -0.05,
			WordFrequency:    0.10,
			Cognate:          0.20,
			Irregular:        -0.25,
			LastInterval:     0.08,
		},
		TargetRecall:         0.90,
		MinRecall:            0.75,
		TooFreshRecall:       0.98,
		MinHalfLifeDays:      0.25,
		MaxHalfLifeDays:      365,
		InitialHalfLifeDays:  1,
		FailureFloorDays:     0.5,
		FailureFactor:        0.5,
		DefaultWordLength:    5,
		DefaultWordFrequency: 1000,
		HistoryLimit:         50,
		CalibrationLimit:     10000,
	}
}

// MemoryState is a learner's memory of a single item.
type MemoryState struct {
	ItemID           string        `json:"item_id"`
	TotalExposures   int           `json:"total_exposures"`
	CorrectRecalls   int           `json:"correct_recalls"`
	IncorrectRecalls int           `json:"incorrect_recalls"`
	LastReviewAt     *time.Time    `json:"last_review_at,omitempty"`
	LastIntervalDays float64       `json:"last_interval_days"`
	HalfLifeDays     float64       `json:"half_life_days"`
	History          []ReviewEntry `json:"history,omitempty"`
}

// ReviewEntry is one recorded practice of an item.
type ReviewEntry struct {
	At              time.Time     `json:"at"`
	Correct         bool          `json:"correct"`
	ResponseTime    time.Duration `json:"response_time"`
	Confidence      float64       `json:"confidence"`
	LagDays         float64       `json:"lag_days"`
	HalfLifeDays    float64       `json:"half_life_days"`
	PredictedRecall float64       `json:"predicted_recall"`
}

// MemoryBook holds every MemoryState of one learner, keyed by item ID.
type MemoryBook struct {
	LearnerID string                  `json:"learner_id"`
	Items     map[string]*MemoryState `json:"items"`
}

// NewMemoryBook returns an empty book for learnerID.
func NewMemoryBook(learnerID string) *MemoryBook {
	return &MemoryBook{LearnerID: learnerID, Items: make(map[string]*MemoryState)}
}

// WordFeatures are static properties of a vocabulary item.
// Zero values are replaced by the configured defaults.
type WordFeatures struct {
	WordLength    int     `json:"word_length,omitempty"`
	WordFrequency float64 `json:"word_frequency,omitempty"`
	IsCognate     bool    `json:"is_cognate,omitempty"`
	IsIrregular   bool    `json:"is_irregular,omitempty"`
}

// HalfLifeFeatures is the full regression input.
type HalfLifeFeatures struct {
	TotalExposures   int
	CorrectRecalls   int
	IncorrectRecalls int
	LastIntervalDays float64
	WordFeatures
}

// PracticeResult is the outcome of one retrieval attempt.
type PracticeResult struct {
	Correct      bool          `json:"correct"`
	ResponseTime time.Duration `json:"response_time"`
	Confidence   float64       `json:"confidence"`
}

// ReviewSchedule describes when an item should next be reviewed.
type ReviewSchedule struct {
	NextReviewAt    time.Time `json:"next_review_at"`
	DaysUntilReview float64   `json:"days_until_review"`
	CurrentRecall   float64   `json:"current_recall"`
	Urgency         Urgency   `json:"urgency"`
	StrengthBars    int       `json:"strength_bars"`
}

// PracticeOutcome is returned by RecordPractice.
type PracticeOutcome struct {
	Key   ItemKey     `json:"key"`
	State MemoryState `json:"state"`

	// ReviewedAt is the schedule as it stood when the review happened.
	ReviewedAt ReviewSchedule `json:"reviewed_at"`

	// Schedule is the next review schedule after the update.
	Schedule ReviewSchedule `json:"schedule"`

	XPReward int `json:"xp_reward"`
}

// DueReview is one entry of a weakest-words listing.
type DueReview struct {
	Key          ItemKey `json:"key"`
	HalfLifeDays float64 `json:"half_life_days"`
	ReviewSchedule
}

// SkillStrength aggregates recall over a set of items.
type SkillStrength struct {
	StrengthBars   int             `json:"strength_bars"`
	AverageRecall  float64         `json:"average_recall"`
	IsGolden       bool            `json:"is_golden"`
	NeedsPractice  bool            `json:"needs_practice"`
	WordsByUrgency map[Urgency]int `json:"words_by_urgency"`
	TotalWords     int             `json:"total_words"`
}

// ModelAccuracy summarizes calibration of predicted against actual recall.
type ModelAccuracy struct {
	Accuracy   float64 `json:"accuracy"`
	AvgError   float64 `json:"avg_error"`
	DataPoints int     `json:"data_points"`
}

type calibrationSample struct {
	lagDays   float64
	halfLife  float64
	predicted float64
	actual    float64
	err       float64
}

// HalfLifeModel predicts recall with half-life regression and schedules reviews
// just before an item drops below the target recall.
//
// Recall follows p = 2^(-lag/h). The half-life h is 2^x where x is a weighted
// sum of exposure counts and word features, clamped to a fixed range.
//
// Example usage:
//
//	model := NewHalfLifeModel(DefaultHalfLifeConfig())
//	state := model.NewMemoryState("hola")
//	outcome := model.RecordPractice(ItemKey{"u1", "hola"}, state, PracticeResult{Correct: true}, WordFeatures{}, now)
//	fmt.Println(outcome.Schedule.NextReviewAt)
type HalfLifeModel struct {
	cfg HalfLifeConfig

	mu          sync.Mutex
	calibration []calibrationSample
	next        int
}

// NewHalfLifeModel creates a model with the given configuration.
func NewHalfLifeModel(cfg HalfLifeConfig) *HalfLifeModel {
	return &HalfLifeModel{cfg: cfg}
}

// Config returns the model configuration.
func (m *HalfLifeModel) Config() HalfLifeConfig {
	return m.cfg
}

// PredictRecall returns 2^(-lagDays/halfLife), or 0 when halfLife is not positive.
func (m *HalfLifeModel) PredictRecall(lagDays, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return 0
	}
	if lagDays < 0 {
		lagDays = 0
	}
	return math.Pow(2, -lagDays/halfLifeDays)
}

// EstimateHalfLife runs the regression and returns a half-life in days.
//
// Malformed inputs are clamped: negative counts become zero, a non-positive
// word length becomes 1 (or the default when unset).
func (m *HalfLifeModel) EstimateHalfLife(f HalfLifeFeatures) float64 {
	w := m.cfg.Weights
	f = m.normalize(f)

	x := w.TotalExposures*math.Sqrt(float64(f.TotalExposures)) +
		w.CorrectRecalls*math.Sqrt(float64(f.CorrectRecalls)) +
		w.IncorrectRecalls*math.Sqrt(float64(f.IncorrectRecalls)) +
		w.WordLength*math.Log(float64(f.WordLength)) +
		w.WordFrequency*math.Log(f.WordFrequency+1) +
		w.LastInterval*math.Log(f.LastIntervalDays+1)
	if f.IsCognate {
		x += w.Cognate
	}
	if f.IsIrregular {
		x += w.Irregular
	}

	return clamp(math.Pow(2, x), m.cfg.MinHalfLifeDays, m.cfg.MaxHalfLifeDays)
}

func (m *HalfLifeModel) normalize(f HalfLifeFeatures) HalfLifeFeatures {
	if f.TotalExposures < 0 {
		f.TotalExposures = 0
	}
	if f.CorrectRecalls < 0 {
		f.CorrectRecalls = 0
	}
	if f.IncorrectRecalls < 0 {
		f.IncorrectRecalls = 0
	}
	if f.LastIntervalDays < 0 || math.IsNaN(f.LastIntervalDays) {
		f.LastIntervalDays = 0
	}
	switch {
	case f.WordLength == 0:
		f.WordLength = m.cfg.DefaultWordLength
	case f.WordLength < 0:
		f.WordLength = 1
	}
	if f.WordLength < 1 {
		f.WordLength = 1
	}
	switch {
	case f.WordFrequency == 0:
		f.WordFrequency = m.cfg.DefaultWordFrequency
	case f.WordFrequency < 0 || math.IsNaN(f.WordFrequency):
		f.WordFrequency = 0
	}
	return f
}

// NewMemoryState returns the lazily-initialized state for an unseen item.
func (m *HalfLifeModel) NewMemoryState(itemID string) *MemoryState {
	return &MemoryState{
		ItemID:       itemID,
		HalfLifeDays: m.cfg.InitialHalfLifeDays,
	}
}

// StateFor returns the state of itemID in book, creating it if absent.
func (m *HalfLifeModel) StateFor(book *MemoryBook, itemID string) *MemoryState {
	if book.Items == nil {
		book.Items = make(map[string]*MemoryState)
	}
	st, ok := book.Items[itemID]
	if !ok {
		st = m.NewMemoryState(itemID)
		book.Items[itemID] = st
	}
	return st
}

// RecordPractice applies one practice result to state in place.
//
// A lapse on an item that has been seen before resets the half-life to
// max(FailureFloorDays, estimate*FailureFactor). A lapse on the first exposure
// leaves the half-life untouched. A success sets it to the regression estimate.
func (m *HalfLifeModel) RecordPractice(key ItemKey, state *MemoryState, result PracticeResult, features WordFeatures, now time.Time) PracticeOutcome {
	reviewedAt := m.ScheduleNextReview(state, now)
	lagDays := m.lagDays(state, now)
	predicted := m.PredictRecall(lagDays, state.HalfLifeDays)

	state.TotalExposures++
	if result.Correct {
		state.CorrectRecalls++
	} else {
		state.IncorrectRecalls++
	}

	estimate := m.EstimateHalfLife(HalfLifeFeatures{
		TotalExposures:   state.TotalExposures,
		CorrectRecalls:   state.CorrectRecalls,
		IncorrectRecalls: state.IncorrectRecalls,
		LastIntervalDays: state.LastIntervalDays,
		WordFeatures:     features,
	})

	switch {
	case result.Correct:
		state.HalfLifeDays = estimate
	case state.TotalExposures > 1:
		state.HalfLifeDays = math.Max(m.cfg.FailureFloorDays, estimate*m.cfg.FailureFactor)
	}

	reviewed := now
	state.LastReviewAt = &reviewed
	state.LastIntervalDays = lagDays
	state.History = append(state.History, ReviewEntry{
		At:              now,
		Correct:         result.Correct,
		ResponseTime:    result.ResponseTime,
		Confidence:      clamp(result.Confidence, 0, 1),
		LagDays:         lagDays,
		HalfLifeDays:    state.HalfLifeDays,
		PredictedRecall: predicted,
	})
	if limit := m.cfg.HistoryLimit; limit > 0 && len(state.History) > limit {
		state.History = append([]ReviewEntry(nil), state.History[len(state.History)-limit:]...)
	}

	m.calibrate(lagDays, state.HalfLifeDays, predicted, result.Correct)

	schedule := m.ScheduleNextReview(state, now)
	return PracticeOutcome{
		Key:        key,
		State:      *state,
		ReviewedAt: reviewedAt,
		Schedule:   schedule,
		XPReward:   m.CalculateXPReward(state, reviewedAt, result.Correct),
	}
}

func (m *HalfLifeModel) lagDays(state *MemoryState, now time.Time) float64 {
	if state.LastReviewAt == nil {
		return 0
	}
	lag := now.Sub(*state.LastReviewAt).Hours() / 24
	if lag < 0 {
		return 0
	}
	return lag
}

// ScheduleNextReview computes when recall will fall to TargetRecall.
func (m *HalfLifeModel) ScheduleNextReview(state *MemoryState, now time.Time) ReviewSchedule {
	halfLife := state.HalfLifeDays
	if halfLife <= 0 {
		halfLife = m.cfg.InitialHalfLifeDays
	}

	currentLag := m.lagDays(state, now)
	currentRecall := m.PredictRecall(currentLag, halfLife)
	targetLag := -halfLife * math.Log2(m.cfg.TargetRecall)
	daysUntil := targetLag - currentLag
	if daysUntil < 0 {
		daysUntil = 0
	}

	return ReviewSchedule{
		NextReviewAt:    now.Add(time.Duration(daysUntil * 24 * float64(time.Hour))),
		DaysUntilReview: daysUntil,
		CurrentRecall:   currentRecall,
		Urgency:         m.classifyUrgency(currentRecall),
		StrengthBars:    StrengthBars(currentRecall),
	}
}

func (m *HalfLifeModel) classifyUrgency(recall float64) Urgency {
	switch {
	case recall < m.cfg.MinRecall:
		return UrgencyOverdue
	case recall < m.cfg.TargetRecall:
		return UrgencyDueSoon
	case recall > m.cfg.TooFreshRecall:
		return UrgencyTooFresh
	default:
		return UrgencyOptimal
	}
}

// StrengthBars maps a recall probability onto a 0-4 meter. Four bars is "golden".
func StrengthBars(recall float64) int {
	switch {
	case recall >= 0.95:
		return 4
	case recall >= 0.85:
		return 3
	case recall >= 0.70:
		return 2
	case recall >= 0.50:
		return 1
	default:
		return 0
	}
}

// CalculateXPReward rewards retrieval practice most when it rescues a nearly
// forgotten item.
func (m *HalfLifeModel) CalculateXPReward(state *MemoryState, schedule ReviewSchedule, correct bool) int {
	if !correct {
		return 5
	}

	xp := 20.0
	switch schedule.Urgency {
	case UrgencyOverdue:
		xp = 50
	case UrgencyDueSoon:
		xp = 100
	case UrgencyOptimal:
		xp = 30
	case UrgencyTooFresh:
		xp = 10
	}

	if state.HalfLifeDays < 2 {
		xp *= 1.5
	}
	return int(math.Round(xp))
}

// WeakestWords returns up to count items of book ordered by urgency bucket,
// then ascending recall, then item ID.
func (m *HalfLifeModel) WeakestWords(book *MemoryBook, count int, now time.Time) []DueReview {
	if book == nil || count <= 0 {
		return nil
	}

	reviews := make([]DueReview, 0, len(book.Items))
	for id, st := range book.Items {
		reviews = append(reviews, DueReview{
			Key:            ItemKey{LearnerID: book.LearnerID, ItemID: id},
			HalfLifeDays:   st.HalfLifeDays,
			ReviewSchedule: m.ScheduleNextReview(st, now),
		})
	}

	sort.Slice(reviews, func(i, j int) bool {
		a, b := reviews[i], reviews[j]
		if a.Urgency.Rank() != b.Urgency.Rank() {
			return a.Urgency.Rank() < b.Urgency.Rank()
		}
		if a.CurrentRecall != b.CurrentRecall {
			return a.CurrentRecall < b.CurrentRecall
		}
		return a.Key.ItemID < b.Key.ItemID
	})

	if len(reviews) > count {
		reviews = reviews[:count]
	}
	return reviews
}

// SkillStrength aggregates the recall of itemIDs. Items missing from book are
// treated as freshly initialized.
func (m *HalfLifeModel) SkillStrength(book *MemoryBook, itemIDs []string, now time.Time) SkillStrength {
	out := SkillStrength{
		WordsByUrgency: map[Urgency]int{
			UrgencyOverdue:  0,
			UrgencyDueSoon:  0,
			UrgencyOptimal:  0,
			UrgencyTooFresh: 0,
		},
		TotalWords: len(itemIDs),
	}
	if len(itemIDs) == 0 {
		return out
	}

	var sum float64
	for _, id := range itemIDs {
		st, ok := book.Items[id]
		if !ok {
			st = m.NewMemoryState(id)
		}
		s := m.ScheduleNextReview(st, now)
		sum += s.CurrentRecall
		out.WordsByUrgency[s.Urgency]++
	}

	out.AverageRecall = sum / float64(len(itemIDs))
	out.StrengthBars = StrengthBars(out.AverageRecall)
	out.IsGolden = out.StrengthBars == 4
	out.NeedsPractice = out.StrengthBars < 3
	return out
}

func (m *HalfLifeModel) calibrate(lagDays, halfLife, predicted float64, correct bool) {
	limit := m.cfg.CalibrationLimit
	if limit <= 0 {
		return
	}
	actual := 0.0
	if correct {
		actual = 1
	}
	s := calibrationSample{
		lagDays:   lagDays,
		halfLife:  halfLife,
		predicted: predicted,
		actual:    actual,
		err:       math.Abs(predicted - actual),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calibration) < limit {
		m.calibration = append(m.calibration, s)
		return
	}
	m.calibration[m.next] = s
	m.next = (m.next + 1) % limit
}

// ModelAccuracy reports calibration over the retained samples.
// ok is false when no practice has been recorded yet.
func (m *HalfLifeModel) ModelAccuracy() (acc ModelAccuracy, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.calibration) == 0 {
		return ModelAccuracy{}, false
	}
	var sum float64
	for _, s := range m.calibration {
		sum += s.err
	}
	avg := sum / float64(len(m.calibration))
	return ModelAccuracy{
		Accuracy:   1 - avg,
		AvgError:   avg,
		DataPoints: len(m.calibration),
	}, true
}
