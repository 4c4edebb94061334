package core

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/learnfeed/learnfeed-go/pkg/catalog"
	"github.com/learnfeed/learnfeed-go/pkg/clock"
	"github.com/learnfeed/learnfeed-go/pkg/intelligence"
	"github.com/learnfeed/learnfeed-go/pkg/storage"
	"github.com/learnfeed/learnfeed-go/pkg/storage/filestore"
	"github.com/learnfeed/learnfeed-go/pkg/storage/memory"
	mysqlStore "github.com/learnfeed/learnfeed-go/pkg/storage/mysql"
	postgresStore "github.com/learnfeed/learnfeed-go/pkg/storage/postgres"
	sqliteStore "github.com/learnfeed/learnfeed-go/pkg/storage/sqlite"
)

// Engine is the learnfeed orchestrator.
//
// It combines the four personalization models over externally stored
// per-learner state:
//   - GenerateFeed ranks catalog content for a learner without mutating state
//   - TrackInteraction is the only operation that mutates learner state
//   - GetDueReviews, GetDashboard and GeneratePracticeSession read state
//   - ExportLearnerData and ImportLearnerData move state between stores
//
// The engine is safe for concurrent use. Writes are serialized per learner;
// different learners never block each other.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	engine, _ := core.NewEngine(config)
//	defer engine.Close()
//
//	feed, _ := engine.GenerateFeed(ctx, "learner_001", core.WithCount(10))
//	for _, item := range feed.Items {
//	    fmt.Println(item.Item.ID, item.Priority)
//	}
type Engine struct {
	cfg *Config

	models  *intelligence.Manager
	store   storage.StateStore
	catalog catalog.Catalog

	clock  clock.Clock
	rng    *lockedRand
	logger zerolog.Logger

	// node generates record IDs.
	node *snowflake.Node
	ids  *idSource

	locks  *learnerLocks
	closed atomic.Bool
}

// NewEngine creates an Engine from cfg.
//
// The state store is built from cfg.Store unless WithStore is given, and the
// catalog is loaded from cfg.Catalog.Path unless WithCatalog is given.
func NewEngine(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &engineOptions{}
	for _, opt := range opts {
		opt(options)
	}

	node, err := snowflake.NewNode(cfg.Engine.NodeID)
	if err != nil {
		return nil, NewEngineError("NewEngine", fmt.Errorf("%w: node id: %w", ErrInvalidConfig, err))
	}

	cat := options.catalog
	if cat == nil {
		cat, err = initCatalog(cfg.Catalog)
		if err != nil {
			return nil, err
		}
	}

	store := options.store
	if store == nil {
		store, err = initStorage(cfg.Store)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Store.RateLimit > 0 {
		store = storage.NewThrottled(store, rate.Limit(cfg.Store.RateLimit), cfg.Store.RateBurst)
	}

	clk := options.clock
	if clk == nil {
		clk = clock.System{}
	}

	rng := options.rng
	if rng == nil {
		seed := cfg.Engine.RandomSeed
		if seed == 0 {
			seed = clk.Now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}

	logger := zerolog.Nop()
	if options.logger != nil {
		logger = *options.logger
	}

	return &Engine{
		cfg:     cfg,
		models:  intelligence.NewManager(&cfg.Config),
		store:   store,
		catalog: cat,
		clock:   clk,
		rng:     &lockedRand{r: rng},
		logger:  logger,
		node:    node,
		ids:     newIDSource(),
		locks:   newLearnerLocks(),
	}, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() *Config {
	return e.cfg
}

// Models returns the underlying personalization models.
func (e *Engine) Models() *intelligence.Manager {
	return e.models
}

// GetDueReviews returns up to count of the learner's weakest items ordered by
// urgency, then ascending recall.
func (e *Engine) GetDueReviews(ctx context.Context, learnerID string, count int) ([]intelligence.DueReview, error) {
	const op = "GetDueReviews"
	if err := e.checkOpen(op); err != nil {
		return nil, err
	}
	if learnerID == "" {
		return nil, NewEngineError(op, validationf("learner id is required"))
	}
	if count <= 0 {
		return nil, NewEngineError(op, validationf("count must be positive, got %d", count))
	}

	book, err := e.loadMemory(ctx, learnerID)
	if err != nil {
		return nil, NewEngineError(op, err)
	}
	return e.models.Retention.WeakestWords(book.state, count, e.clock.Now()), nil
}

// GetSkillStrength aggregates recall over itemIDs. With no IDs every item the
// learner has practiced is included.
func (e *Engine) GetSkillStrength(ctx context.Context, learnerID string, itemIDs ...string) (intelligence.SkillStrength, error) {
	const op = "GetSkillStrength"
	if err := e.checkOpen(op); err != nil {
		return intelligence.SkillStrength{}, err
	}
	if learnerID == "" {
		return intelligence.SkillStrength{}, NewEngineError(op, validationf("learner id is required"))
	}

	book, err := e.loadMemory(ctx, learnerID)
	if err != nil {
		return intelligence.SkillStrength{}, NewEngineError(op, err)
	}
	if len(itemIDs) == 0 {
		itemIDs = bookItemIDs(book.state)
	} else {
		itemIDs = normalizeWords(itemIDs)
	}
	return e.models.Retention.SkillStrength(book.state, itemIDs, e.clock.Now()), nil
}

// GeneratePracticeSession builds a review session from the learner's size
// weakest items.
func (e *Engine) GeneratePracticeSession(ctx context.Context, learnerID string, size int) (*PracticeSession, error) {
	const op = "GeneratePracticeSession"
	if err := e.checkOpen(op); err != nil {
		return nil, err
	}
	if learnerID == "" {
		return nil, NewEngineError(op, validationf("learner id is required"))
	}
	if size <= 0 {
		return nil, NewEngineError(op, validationf("size must be positive, got %d", size))
	}

	book, err := e.loadMemory(ctx, learnerID)
	if err != nil {
		return nil, NewEngineError(op, err)
	}
	level, err := e.loadLevel(ctx, learnerID)
	if err != nil {
		return nil, NewEngineError(op, err)
	}

	now := e.clock.Now()
	session := &PracticeSession{
		SessionID: e.ids.New(now),
		LearnerID: learnerID,
		CreatedAt: now,
		Items:     []PracticeItem{},
	}
	for _, due := range e.models.Retention.WeakestWords(book.state, size, now) {
		xp := e.models.Retention.CalculateXPReward(book.state.Items[due.Key.ItemID], due.ReviewSchedule, true)
		session.Items = append(session.Items, PracticeItem{
			ItemID:        due.Key.ItemID,
			CurrentRecall: due.CurrentRecall,
			StrengthBars:  due.StrengthBars,
			Urgency:       due.Urgency,
			Level:         level.state.CurrentLevel,
			XPPotential:   xp,
		})
		session.TotalXPPotential += xp
	}
	return session, nil
}

// GetDashboard returns a consolidated snapshot of the learner's state.
// Unlike GenerateFeed, any store failure is returned.
func (e *Engine) GetDashboard(ctx context.Context, learnerID string) (*Dashboard, error) {
	const op = "GetDashboard"
	if err := e.checkOpen(op); err != nil {
		return nil, err
	}
	if learnerID == "" {
		return nil, NewEngineError(op, validationf("learner id is required"))
	}

	book, err := e.loadMemory(ctx, learnerID)
	if err != nil {
		return nil, NewEngineError(op, err)
	}
	level, err := e.loadLevel(ctx, learnerID)
	if err != nil {
		return nil, NewEngineError(op, err)
	}
	engagement, err := e.loadEngagement(ctx, learnerID)
	if err != nil {
		return nil, NewEngineError(op, err)
	}
	game, err := e.loadGamification(ctx, learnerID)
	if err != nil {
		return nil, NewEngineError(op, err)
	}

	now := e.clock.Now()
	dd := e.models.Difficulty
	p := engagement.state

	d := &Dashboard{
		LearnerID:      learnerID,
		GeneratedAt:    now,
		Level:          level.state.CurrentLevel,
		KnownWords:     len(level.state.KnownWords),
		Progression:    dd.LevelProgression(level.state),
		Assessment:     dd.AssessLevelAdjustment(level.state, level.state.RecentPerformance),
		UserState:      dd.DetectUserState(level.state.RecentSessions),
		WeakWords:      e.models.Retention.WeakestWords(book.state, e.cfg.Engine.DueWordsLimit, now),
		Skill:          e.models.Retention.SkillStrength(book.state, bookItemIDs(book.state), now),
		TotalItems:     len(book.state.Items),
		Gamification:   *game.state,
		XPForNextLevel: e.models.Rewards.XPForLevel(game.state.Level + 1),
		StreakRisk:     e.models.Rewards.CheckStreakAtRisk(game.state, now),
		Engagement: EngagementSummary{
			Stage:             p.Stage,
			WatchCount:        p.WatchCount,
			TotalWatchSeconds: p.TotalWatchSeconds,
			AvgCompletionRate: p.AvgCompletionRate,
			TopInterests:      p.TopInterests(e.cfg.Engagement.NoveltyTopics),
			FollowedCreators:  len(p.FollowedCreators),
		},
	}
	if d.WeakWords == nil {
		d.WeakWords = []intelligence.DueReview{}
	}
	if acc, ok := e.models.Retention.ModelAccuracy(); ok {
		d.ModelAccuracy = &acc
	}
	return d, nil
}

// ModelAccuracy reports how well predicted recall matched actual answers.
// It returns ErrInsufficientData before any practice has been recorded.
func (e *Engine) ModelAccuracy() (intelligence.ModelAccuracy, error) {
	acc, ok := e.models.Retention.ModelAccuracy()
	if !ok {
		return acc, NewEngineError("ModelAccuracy", ErrInsufficientData)
	}
	return acc, nil
}

// ExportLearnerData returns every stored record of the learner. Records that
// were never saved are nil.
func (e *Engine) ExportLearnerData(ctx context.Context, learnerID string) (*LearnerData, error) {
	const op = "ExportLearnerData"
	if err := e.checkOpen(op); err != nil {
		return nil, err
	}
	if learnerID == "" {
		return nil, NewEngineError(op, validationf("learner id is required"))
	}

	out := &LearnerData{
		Format:     LearnerDataFormat,
		LearnerID:  learnerID,
		ExportedAt: e.clock.Now(),
	}

	book, err := e.loadMemory(ctx, learnerID)
	if err != nil {
		return nil, NewEngineError(op, err)
	}
	if !book.fresh {
		out.Memory = book.state
	}
	level, err := e.loadLevel(ctx, learnerID)
	if err != nil {
		return nil, NewEngineError(op, err)
	}
	if !level.fresh {
		out.Level = level.state
	}
	engagement, err := e.loadEngagement(ctx, learnerID)
	if err != nil {
		return nil, NewEngineError(op, err)
	}
	if !engagement.fresh {
		out.Engagement = engagement.state
	}
	game, err := e.loadGamification(ctx, learnerID)
	if err != nil {
		return nil, NewEngineError(op, err)
	}
	if !game.fresh {
		out.Gamification = game.state
	}
	return out, nil
}

// ImportLearnerData replaces the learner's records with the parts present in
// data. Absent parts are left untouched. The learner ID inside data is
// rewritten to learnerID, so data exported for one learner can seed another.
func (e *Engine) ImportLearnerData(ctx context.Context, learnerID string, data *LearnerData) error {
	const op = "ImportLearnerData"
	if err := e.checkOpen(op); err != nil {
		return err
	}
	if err := e.validateLearnerData(learnerID, data); err != nil {
		return NewEngineError(op, err)
	}

	unlock := e.locks.lock(learnerID)
	defer unlock()

	if data.Memory != nil {
		s, err := e.loadMemory(ctx, learnerID)
		if err != nil {
			return NewEngineError(op, err)
		}
		s.state = data.Memory
		s.state.LearnerID = learnerID
		if s.state.Items == nil {
			s.state.Items = make(map[string]*intelligence.MemoryState)
		}
		if err := saveState(ctx, e, s); err != nil {
			return NewEngineError(op, err)
		}
	}
	if data.Level != nil {
		s, err := e.loadLevel(ctx, learnerID)
		if err != nil {
			return NewEngineError(op, err)
		}
		s.state = data.Level
		s.state.LearnerID = learnerID
		if s.state.KnownWords == nil {
			s.state.KnownWords = make(intelligence.WordSet)
		}
		if err := saveState(ctx, e, s); err != nil {
			return NewEngineError(op, err)
		}
	}
	if data.Engagement != nil {
		s, err := e.loadEngagement(ctx, learnerID)
		if err != nil {
			return NewEngineError(op, err)
		}
		s.state = data.Engagement
		s.state.LearnerID = learnerID
		fillEngagement(s.state)
		if err := saveState(ctx, e, s); err != nil {
			return NewEngineError(op, err)
		}
	}
	if data.Gamification != nil {
		s, err := e.loadGamification(ctx, learnerID)
		if err != nil {
			return NewEngineError(op, err)
		}
		s.state = data.Gamification
		s.state.LearnerID = learnerID
		if err := saveState(ctx, e, s); err != nil {
			return NewEngineError(op, err)
		}
	}

	e.logger.Info().Str("learner_id", learnerID).Msg("learner data imported")
	return nil
}

// validateLearnerData rejects imports that would break model bounds: half-lives
// outside the retention model's range, non-finite numbers, rates outside [0,1]
// and negative counters.
func (e *Engine) validateLearnerData(learnerID string, data *LearnerData) error {
	if learnerID == "" {
		return validationf("learner id is required")
	}
	if data == nil {
		return validationf("no learner data")
	}
	if data.Format > LearnerDataFormat {
		return validationf("unsupported learner data format %d", data.Format)
	}

	if data.Memory != nil {
		retention := e.models.Retention.Config()
		for id, st := range data.Memory.Items {
			if id == "" || st == nil {
				return validationf("memory item %q is empty", id)
			}
			if !finite(st.HalfLifeDays) || st.HalfLifeDays < retention.MinHalfLifeDays || st.HalfLifeDays > retention.MaxHalfLifeDays {
				return validationf("memory item %q: half-life must be within [%g, %g] days, got %v",
					id, retention.MinHalfLifeDays, retention.MaxHalfLifeDays, st.HalfLifeDays)
			}
			if !nonNegative(st.LastIntervalDays) {
				return validationf("memory item %q: invalid last interval %v", id, st.LastIntervalDays)
			}
			if st.TotalExposures < 0 || st.CorrectRecalls < 0 || st.IncorrectRecalls < 0 {
				return validationf("memory item %q has negative counters", id)
			}
			for _, h := range st.History {
				if !unit(h.Confidence) || !unit(h.PredictedRecall) || !nonNegative(h.LagDays) || !nonNegative(h.HalfLifeDays) {
					return validationf("memory item %q has an invalid review history entry", id)
				}
			}
		}
	}

	if data.Level != nil {
		if !data.Level.CurrentLevel.Valid() {
			return validationError(fmt.Errorf("%w: %q", intelligence.ErrInvalidLevel, data.Level.CurrentLevel))
		}
		for _, s := range data.Level.RecentSessions {
			if !unit(s.Accuracy) || !unit(s.CompletionRate) || !nonNegative(s.AvgSecondsPerQuest) {
				return validationf("level profile has an invalid session summary")
			}
		}
	}

	if p := data.Engagement; p != nil {
		for category, w := range p.Interests {
			if !unit(w) {
				return validationf("interest %q must be within [0,1], got %v", category, w)
			}
		}
		if !nonNegative(p.TotalWatchSeconds) || !nonNegative(p.AvgWatchSeconds) {
			return validationf("engagement profile has invalid watch time")
		}
		if !unit(p.AvgCompletionRate) || !unit(p.SkipRate) || !unit(p.RewatchRate) {
			return validationf("engagement profile rates must be within [0,1]")
		}
		if p.WatchCount < 0 || p.SessionCount < 0 || p.InteractionCount < 0 {
			return validationf("engagement profile has negative counters")
		}
	}

	if g := data.Gamification; g != nil {
		if g.XP < 0 || g.StreakDays < 0 || g.LongestStreak < 0 || g.StreakFreezes < 0 {
			return validationf("gamification state has negative counters")
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func nonNegative(v float64) bool {
	return finite(v) && v >= 0
}

func unit(v float64) bool {
	return finite(v) && v >= 0 && v <= 1
}

// DeleteLearnerData removes every record of the learner.
func (e *Engine) DeleteLearnerData(ctx context.Context, learnerID string) error {
	const op = "DeleteLearnerData"
	if err := e.checkOpen(op); err != nil {
		return err
	}
	if learnerID == "" {
		return NewEngineError(op, validationf("learner id is required"))
	}

	unlock := e.locks.lock(learnerID)
	defer unlock()

	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := storage.DeleteLearner(ctx, e.store, learnerID); err != nil {
		return NewEngineError(op, storeError(err))
	}
	e.logger.Info().Str("learner_id", learnerID).Msg("learner data deleted")
	return nil
}

// Close closes the state store. Later calls return ErrClosed.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			return NewEngineError("Close", err)
		}
	}
	return nil
}

func (e *Engine) checkOpen(op string) error {
	if e.closed.Load() {
		return NewEngineError(op, ErrClosed)
	}
	return nil
}

// storeContext bounds a single store call by the configured timeout.
func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Store.Timeout > 0 {
		return context.WithTimeout(ctx, e.cfg.Store.Timeout)
	}
	return context.WithCancel(ctx)
}

// initStorage initializes the state store backend.
func initStorage(cfg StoreConfig) (storage.StateStore, error) {
	switch cfg.Provider {
	case ProviderMemory:
		return memory.New(), nil
	case ProviderSQLite:
		store, err := sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:    cfg.SQLite.Path,
			TableName: cfg.SQLite.Table,
		})
		if err != nil {
			return nil, NewEngineError("initStorage", storeError(err))
		}
		return store, nil
	case ProviderPostgres:
		store, err := postgresStore.NewClient(&postgresStore.Config{
			Host:      cfg.Postgres.Host,
			Port:      cfg.Postgres.Port,
			User:      cfg.Postgres.User,
			Password:  cfg.Postgres.Password,
			DBName:    cfg.Postgres.Database,
			TableName: cfg.Postgres.Table,
			SSLMode:   cfg.Postgres.SSLMode,
		})
		if err != nil {
			return nil, NewEngineError("initStorage", storeError(err))
		}
		return store, nil
	case ProviderMySQL:
		store, err := mysqlStore.NewClient(&mysqlStore.Config{
			Host:      cfg.MySQL.Host,
			Port:      cfg.MySQL.Port,
			User:      cfg.MySQL.User,
			Password:  cfg.MySQL.Password,
			DBName:    cfg.MySQL.Database,
			TableName: cfg.MySQL.Table,
		})
		if err != nil {
			return nil, NewEngineError("initStorage", storeError(err))
		}
		return store, nil
	case ProviderFile:
		store, err := filestore.New(&filestore.Config{Path: cfg.File.Path})
		if err != nil {
			return nil, NewEngineError("initStorage", storeError(err))
		}
		return store, nil
	default:
		return nil, NewEngineError("initStorage", ErrInvalidConfig)
	}
}

// initCatalog loads the catalog file, or returns an empty catalog without one.
func initCatalog(cfg CatalogConfig) (catalog.Catalog, error) {
	if cfg.Path == "" {
		return catalog.NewStaticCatalog(nil)
	}
	cat, err := catalog.LoadJSONFile(cfg.Path)
	if err != nil {
		return nil, NewEngineError("initCatalog", fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	return cat, nil
}

func bookItemIDs(book *intelligence.MemoryBook) []string {
	ids := make([]string, 0, len(book.Items))
	for id := range book.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// lockedRand serializes access to a Rand shared by concurrent requests.
type lockedRand struct {
	mu sync.Mutex
	r  intelligence.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

func (l *lockedRand) Shuffle(n int, swap func(i, j int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.r.Shuffle(n, swap)
}

// idSource issues monotonic ULIDs for events and sessions.
type idSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newIDSource() *idSource {
	return &idSource{entropy: ulid.Monotonic(crand.Reader, 0)}
}

// New returns a ULID timestamped at t.
func (s *idSource) New(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}
