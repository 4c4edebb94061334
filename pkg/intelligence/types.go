// Package intelligence provides the personalization models behind the engine:
// the forgetting-curve scheduler, the difficulty distributor, the engagement
// ranker and the reward state machine.
package intelligence

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// Predefined errors returned by the models.
var (
	// ErrUnknownAction indicates an action name with no XP rule.
	ErrUnknownAction = errors.New("unknown action")

	// ErrInvalidLevel indicates a level label outside the fixed ordering.
	ErrInvalidLevel = errors.New("invalid level")

	// ErrNonAdjacentLevelChange indicates an attempt to skip a level.
	ErrNonAdjacentLevelChange = errors.New("level changes must be a single step")

	// ErrNoStreakFreeze indicates that the freeze inventory is empty.
	ErrNoStreakFreeze = errors.New("no streak freeze available")

	// ErrStreakNotAtRisk indicates that a freeze was requested outside the risk window.
	ErrStreakNotAtRisk = errors.New("streak is not at risk")
)

// Rand is the source of randomness used for sampling, shuffling and bonus rolls.
//
// *rand.Rand satisfies it. Pass a seeded source to get reproducible results.
type Rand interface {
	Float64() float64
	Intn(n int) int
	Shuffle(n int, swap func(i, j int))
}

var _ Rand = (*rand.Rand)(nil)

// Level is a proficiency level on the fixed six-step scale.
type Level string

// Levels from beginner to native-like.
const (
	LevelA1 Level = "A1"
	LevelA2 Level = "A2"
	LevelB1 Level = "B1"
	LevelB2 Level = "B2"
	LevelC1 Level = "C1"
	LevelC2 Level = "C2"
)

// Levels is the fixed ordering of proficiency levels.
var Levels = []Level{LevelA1, LevelA2, LevelB1, LevelB2, LevelC1, LevelC2}

// Index returns the position of l in Levels, or -1 if l is not a known level.
func (l Level) Index() int {
	for i, lv := range Levels {
		if lv == l {
			return i
		}
	}
	return -1
}

// Valid reports whether l is part of the fixed ordering.
func (l Level) Valid() bool {
	return l.Index() >= 0
}

// Next returns the level one step above l. ok is false at the top of the scale.
func (l Level) Next() (next Level, ok bool) {
	i := l.Index()
	if i < 0 || i == len(Levels)-1 {
		return "", false
	}
	return Levels[i+1], true
}

// Previous returns the level one step below l. ok is false at the bottom of the scale.
func (l Level) Previous() (prev Level, ok bool) {
	i := l.Index()
	if i <= 0 {
		return "", false
	}
	return Levels[i-1], true
}

// ParseLevel parses a level label case-insensitively.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
	return l, nil
}

// FrequencyBand is the word-frequency rank range associated with a level.
// It is descriptive metadata only.
type FrequencyBand struct {
	Min         int    `json:"min"`
	Max         int    `json:"max"`
	Description string `json:"description"`
}

// FrequencyBands maps each level to its word-frequency band.
var FrequencyBands = map[Level]FrequencyBand{
	LevelA1: {Min: 1, Max: 500, Description: "Beginner - Most common words"},
	LevelA2: {Min: 500, Max: 1500, Description: "Elementary - Common everyday words"},
	LevelB1: {Min: 1500, Max: 3000, Description: "Intermediate - Broader vocabulary"},
	LevelB2: {Min: 3000, Max: 5000, Description: "Upper Intermediate - Less common words"},
	LevelC1: {Min: 5000, Max: 10000, Description: "Advanced - Sophisticated vocabulary"},
	LevelC2: {Min: 10000, Max: 50000, Description: "Mastery - Rare and specialized words"},
}

// EngagementMetrics are historical interaction counters for a content item.
type EngagementMetrics struct {
	Views       int64 `json:"views"`
	Likes       int64 `json:"likes"`
	Shares      int64 `json:"shares"`
	Comments    int64 `json:"comments"`
	Completions int64 `json:"completions"`
	Rewatches   int64 `json:"rewatches"`
}

// CompletionRate returns completions per view, with views floored at 1.
func (m EngagementMetrics) CompletionRate() float64 {
	return float64(m.Completions) / float64(maxInt64(m.Views, 1))
}

// ContentItem is a piece of learning content supplied by the catalog.
// The models never modify it.
type ContentItem struct {
	ID              string            `json:"id"`
	Title           string            `json:"title,omitempty"`
	Level           Level             `json:"level"`
	Category        string            `json:"category"`
	CreatorID       string            `json:"creator_id,omitempty"`
	Text            string            `json:"text,omitempty"`
	DurationSeconds float64           `json:"duration_seconds"`
	Metrics         EngagementMetrics `json:"metrics"`
}

// ItemKey identifies one learner's memory of one item.
type ItemKey struct {
	LearnerID string `json:"learner_id"`
	ItemID    string `json:"item_id"`
}

// String renders the key for logs.
func (k ItemKey) String() string {
	return k.LearnerID + "/" + k.ItemID
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
