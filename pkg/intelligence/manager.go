package intelligence

// Manager bundles the four personalization models.
//
// It integrates:
//   - HalfLifeModel: recall prediction and review scheduling
//   - DifficultyDistributor: level tracking and the 70/20/10 content mix
//   - EngagementRanker: engagement scoring and exploit/explore ranking
//   - RewardEngine: XP, streaks and achievements
//
// Example usage:
//
//	manager := NewManager(DefaultConfig())
//	schedule := manager.Retention.ScheduleNextReview(state, now)
//	batch, _ := manager.Difficulty.DistributeContent(LevelB1, items, 20, rng)
type Manager struct {
	Retention  *HalfLifeModel
	Difficulty *DifficultyDistributor
	Engagement *EngagementRanker
	Rewards    *RewardEngine

	config *Config
}

// Config contains the configuration of every model.
type Config struct {
	Retention  HalfLifeConfig   `json:"retention" toml:"retention"`
	Difficulty DifficultyConfig `json:"difficulty" toml:"difficulty"`
	Engagement EngagementConfig `json:"engagement" toml:"engagement"`
	Rewards    RewardConfig     `json:"rewards" toml:"rewards"`
}

// DefaultConfig returns the default configuration of every model.
func DefaultConfig() *Config {
	return &Config{
		Retention:  DefaultHalfLifeConfig(),
		Difficulty: DefaultDifficultyConfig(),
		Engagement: DefaultEngagementConfig(),
		Rewards:    DefaultRewardConfig(),
	}
}

// NewManager creates the models from cfg. A nil cfg uses DefaultConfig.
func NewManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Manager{
		Retention:  NewHalfLifeModel(cfg.Retention),
		Difficulty: NewDifficultyDistributor(cfg.Difficulty),
		Engagement: NewEngagementRanker(cfg.Engagement),
		Rewards:    NewRewardEngine(cfg.Rewards),
		config:     cfg,
	}
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() *Config {
	return m.config
}
