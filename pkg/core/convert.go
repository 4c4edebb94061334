package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/learnfeed/learnfeed-go/pkg/intelligence"
	"github.com/learnfeed/learnfeed-go/pkg/storage"
)

// stored pairs a decoded learner state with the record it came from, so the
// next save carries the loaded version.
type stored[T any] struct {
	state  *T
	record *storage.Record
	fresh  bool
}

// loadState loads and decodes the record of kind for learnerID. A missing
// record yields init() and is not persisted until saved. Any other store
// failure is returned wrapped in ErrStoreUnavailable.
func loadState[T any](ctx context.Context, e *Engine, kind storage.Kind, learnerID string, init func() *T) (*stored[T], error) {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	rec, err := e.store.Load(ctx, kind, learnerID)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return &stored[T]{
			state:  init(),
			record: &storage.Record{LearnerID: learnerID, Kind: kind},
			fresh:  true,
		}, nil
	}
	if err != nil {
		return nil, storeError(fmt.Errorf("load %s: %w", storage.RecordKey(kind, learnerID), err))
	}

	state := init()
	if err := json.Unmarshal(rec.Data, state); err != nil {
		return nil, storeError(fmt.Errorf("decode %s: %w", rec.Key(), err))
	}
	return &stored[T]{state: state, record: rec}, nil
}

// saveState encodes s.state into its record and saves it. The first save of
// a record assigns it a snowflake ID.
func saveState[T any](ctx context.Context, e *Engine, s *stored[T]) error {
	data, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.record.Key(), err)
	}

	rec := s.record
	rec.Data = data
	if rec.ID == 0 {
		rec.ID = e.node.Generate().Int64()
	}
	rec.UpdatedAt = e.clock.Now().UTC()

	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := e.store.Save(ctx, rec); err != nil {
		return storeError(fmt.Errorf("save %s: %w", rec.Key(), err))
	}
	s.fresh = false
	return nil
}

func (e *Engine) loadMemory(ctx context.Context, learnerID string) (*stored[intelligence.MemoryBook], error) {
	s, err := loadState(ctx, e, storage.KindMemoryState, learnerID, func() *intelligence.MemoryBook {
		return intelligence.NewMemoryBook(learnerID)
	})
	if err != nil {
		return nil, err
	}
	if s.state.Items == nil {
		s.state.Items = make(map[string]*intelligence.MemoryState)
	}
	s.state.LearnerID = learnerID
	return s, nil
}

func (e *Engine) loadLevel(ctx context.Context, learnerID string) (*stored[intelligence.LevelProfile], error) {
	s, err := loadState(ctx, e, storage.KindLevelProfile, learnerID, func() *intelligence.LevelProfile {
		return intelligence.NewLevelProfile(learnerID, e.cfg.Engine.DefaultLevel)
	})
	if err != nil {
		return nil, err
	}
	if !s.state.CurrentLevel.Valid() {
		s.state.CurrentLevel = e.cfg.Engine.DefaultLevel
	}
	if s.state.KnownWords == nil {
		s.state.KnownWords = make(intelligence.WordSet)
	}
	s.state.LearnerID = learnerID
	return s, nil
}

func (e *Engine) loadEngagement(ctx context.Context, learnerID string) (*stored[intelligence.EngagementProfile], error) {
	s, err := loadState(ctx, e, storage.KindEngagementProfile, learnerID, func() *intelligence.EngagementProfile {
		return intelligence.NewEngagementProfile(learnerID)
	})
	if err != nil {
		return nil, err
	}
	fillEngagement(s.state)
	s.state.LearnerID = learnerID
	return s, nil
}

func (e *Engine) loadGamification(ctx context.Context, learnerID string) (*stored[intelligence.GamificationState], error) {
	s, err := loadState(ctx, e, storage.KindGamificationState, learnerID, func() *intelligence.GamificationState {
		return intelligence.NewGamificationState(learnerID)
	})
	if err != nil {
		return nil, err
	}
	s.state.LearnerID = learnerID
	return s, nil
}

// fillEngagement replaces the nil maps and empty stage a decoded profile may carry.
func fillEngagement(p *intelligence.EngagementProfile) {
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
		p.PreferredLevels = make(map[intelligence.Level]int)
	}
	if p.FollowedCreators == nil {
		p.FollowedCreators = make(map[string]bool)
	}
	if p.Stage == "" {
		p.Stage = intelligence.StageColdStart
	}
}
