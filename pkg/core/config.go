package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/learnfeed/learnfeed-go/pkg/intelligence"
)

// Store providers accepted by StoreConfig.Provider.
const (
	ProviderMemory   = "memory"
	ProviderSQLite   = "sqlite"
	ProviderPostgres = "postgres"
	ProviderMySQL    = "mysql"
	ProviderFile     = "file"
)

// Config contains the complete configuration of an Engine.
//
// It includes settings for:
//   - State store (where per-learner records are persisted)
//   - Catalog (where candidate content comes from)
//   - Engine behavior (feed size, seeding, level defaults)
//   - Logging
//   - The four models (Retention, Difficulty, Engagement, Rewards)
//
// Example:
//
//	config := core.DefaultConfig()
//	config.Store.Provider = core.ProviderSQLite
//	config.Store.SQLite.Path = "./learnfeed.db"
//	engine, err := core.NewEngine(config)
type Config struct {
	// Store contains state store configuration.
	Store StoreConfig `json:"store" toml:"store"`

	// Catalog contains content catalog configuration.
	Catalog CatalogConfig `json:"catalog" toml:"catalog"`

	// Engine contains orchestration settings.
	Engine EngineConfig `json:"engine" toml:"engine"`

	// Logging contains logger settings.
	Logging LoggingConfig `json:"logging" toml:"logging"`

	// Config holds the tunables of every model.
	intelligence.Config
}

// StoreConfig selects and configures the state store.
//
// Supported providers: memory, sqlite, postgres, mysql, file
type StoreConfig struct {
	// Provider is the store provider name.
	Provider string `json:"provider" toml:"provider" env:"DATABASE_PROVIDER"`

	SQLite   SQLiteConfig   `json:"sqlite" toml:"sqlite"`
	Postgres PostgresConfig `json:"postgres" toml:"postgres"`
	MySQL    MySQLConfig    `json:"mysql" toml:"mysql"`
	File     FileConfig     `json:"file" toml:"file"`

	// Timeout bounds every load and save. Zero disables the bound.
	Timeout time.Duration `json:"timeout" toml:"timeout" env:"STORE_TIMEOUT"`

	// RateLimit caps store calls per second. Zero disables throttling.
	RateLimit float64 `json:"rate_limit" toml:"rate_limit" env:"STORE_RATE_LIMIT"`

	// RateBurst is the number of calls allowed above RateLimit in a burst.
	RateBurst int `json:"rate_burst" toml:"rate_burst" env:"STORE_RATE_BURST"`
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	Path  string `json:"path" toml:"path" env:"SQLITE_PATH"`
	Table string `json:"table" toml:"table" env:"SQLITE_TABLE"`
}

// PostgresConfig configures the PostgreSQL store.
type PostgresConfig struct {
	Host     string `json:"host" toml:"host" env:"POSTGRES_HOST"`
	Port     int    `json:"port" toml:"port" env:"POSTGRES_PORT"`
	User     string `json:"user" toml:"user" env:"POSTGRES_USER"`
	Password string `json:"password" toml:"password" env:"POSTGRES_PASSWORD"`
	Database string `json:"database" toml:"database" env:"POSTGRES_DATABASE"`
	Table    string `json:"table" toml:"table" env:"POSTGRES_TABLE"`
	SSLMode  string `json:"ssl_mode" toml:"ssl_mode" env:"POSTGRES_SSLMODE"`
}

// MySQLConfig configures the MySQL (or OceanBase MySQL mode) store.
type MySQLConfig struct {
	Host     string `json:"host" toml:"host" env:"MYSQL_HOST"`
	Port     int    `json:"port" toml:"port" env:"MYSQL_PORT"`
	User     string `json:"user" toml:"user" env:"MYSQL_USER"`
	Password string `json:"password" toml:"password" env:"MYSQL_PASSWORD"`
	Database string `json:"database" toml:"database" env:"MYSQL_DATABASE"`
	Table    string `json:"table" toml:"table" env:"MYSQL_TABLE"`
}

// FileConfig configures the JSON file store.
type FileConfig struct {
	Path string `json:"path" toml:"path" env:"FILESTORE_PATH"`
}

// CatalogConfig configures the content catalog.
type CatalogConfig struct {
	// Path is a JSON file holding an array of content items. Empty means an
	// empty catalog unless one is supplied with WithCatalog.
	Path string `json:"path" toml:"path" env:"CATALOG_PATH"`
}

// EngineConfig contains orchestration settings.
type EngineConfig struct {
	// FeedCount is the default number of feed items.
	FeedCount int `json:"feed_count" toml:"feed_count" env:"FEED_COUNT"`

	// PoolFactor sizes the ranked pool handed to the difficulty distributor
	// as FeedCount * PoolFactor.
	PoolFactor int `json:"pool_factor" toml:"pool_factor" env:"FEED_POOL_FACTOR"`

	// DueWordsLimit is how many of the weakest items are checked for due words.
	DueWordsLimit int `json:"due_words_limit" toml:"due_words_limit" env:"DUE_WORDS_LIMIT"`

	// RandomSeed seeds sampling and bonus rolls. Zero seeds from the clock.
	RandomSeed int64 `json:"random_seed" toml:"random_seed" env:"RANDOM_SEED"`

	// DefaultLevel is the level of a learner without a level profile.
	DefaultLevel intelligence.Level `json:"default_level" toml:"default_level" env:"DEFAULT_LEVEL"`

	// AutoLevelAdjust applies level assessments after each graded answer.
	AutoLevelAdjust bool `json:"auto_level_adjust" toml:"auto_level_adjust" env:"AUTO_LEVEL_ADJUST"`

	// NodeID is the snowflake node used for record IDs.
	NodeID int64 `json:"node_id" toml:"node_id" env:"SNOWFLAKE_NODE"`

	// BatchConcurrency bounds the learners processed in parallel by TrackBatch.
	BatchConcurrency int `json:"batch_concurrency" toml:"batch_concurrency" env:"BATCH_CONCURRENCY"`
}

// LoggingConfig configures the engine logger.
type LoggingConfig struct {
	// Level is a zerolog level name (debug, info, warn, error, disabled).
	Level string `json:"level" toml:"level" env:"LOG_LEVEL"`

	// Format is "json" or "console".
	Format string `json:"format" toml:"format" env:"LOG_FORMAT"`
}

// DefaultConfig returns a configuration using the in-memory store and the
// default model tunables.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Provider: ProviderMemory,
			SQLite: SQLiteConfig{
				Path:  "./learnfeed.db",
				Table: "learner_state",
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Database: "learnfeed",
				Table:    "learner_state",
				SSLMode:  "disable",
			},
			MySQL: MySQLConfig{
				Host:     "127.0.0.1",
				Port:     3306,
				User:     "root",
				Database: "learnfeed",
				Table:    "learner_state",
			},
			File: FileConfig{
				Path: "./learnfeed.json",
			},
			Timeout:   5 * time.Second,
			RateBurst: 1,
		},
		Engine: EngineConfig{
			FeedCount:        20,
			PoolFactor:       3,
			DueWordsLimit:    5,
			DefaultLevel:     intelligence.LevelA1,
			AutoLevelAdjust:  true,
			NodeID:           1,
			BatchConcurrency: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Config: *intelligence.DefaultConfig(),
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Overlays the variables that are set onto DefaultConfig
//
// Supported environment variables:
//   - DATABASE_PROVIDER (memory, sqlite, postgres, mysql, file)
//   - SQLITE_PATH, SQLITE_TABLE
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_DATABASE, etc.
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD, MYSQL_DATABASE, MYSQL_TABLE
//   - FILESTORE_PATH, CATALOG_PATH
//   - STORE_TIMEOUT, STORE_RATE_LIMIT, STORE_RATE_BURST
//   - FEED_COUNT, RANDOM_SEED, DEFAULT_LEVEL, AUTO_LEVEL_ADJUST
//   - LOG_LEVEL, LOG_FORMAT
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	config := DefaultConfig()
	if err := env.Parse(config); err != nil {
		return nil, NewEngineError("LoadConfigFromEnv", fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file. Fields missing from
// the file keep their DefaultConfig values.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewEngineError("LoadConfigFromJSON", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, NewEngineError("LoadConfigFromJSON", err)
	}

	return config, nil
}

// LoadConfigFromTOML loads configuration from a TOML file. It is the usual
// way to tune model tables (weights, XP table, achievements). Fields missing
// from the file keep their DefaultConfig values.
func LoadConfigFromTOML(path string) (*Config, error) {
	config := DefaultConfig()
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, NewEngineError("LoadConfigFromTOML", err)
	}
	return config, nil
}

// Validate validates the configuration.
//
// Returns an error wrapping ErrInvalidConfig if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return NewEngineError("Validate", fmt.Errorf("%w: %s", ErrInvalidConfig, err))
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Store.Provider {
	case ProviderMemory, ProviderSQLite, ProviderPostgres, ProviderMySQL, ProviderFile:
	default:
		return fmt.Errorf("unknown store provider %q", c.Store.Provider)
	}
	if c.Store.Timeout < 0 {
		return fmt.Errorf("negative store timeout %s", c.Store.Timeout)
	}
	if c.Store.RateLimit < 0 {
		return fmt.Errorf("negative store rate limit %g", c.Store.RateLimit)
	}

	if c.Engine.FeedCount <= 0 {
		return fmt.Errorf("feed count must be positive, got %d", c.Engine.FeedCount)
	}
	if c.Engine.PoolFactor <= 0 {
		return fmt.Errorf("pool factor must be positive, got %d", c.Engine.PoolFactor)
	}
	if c.Engine.DueWordsLimit < 0 {
		return fmt.Errorf("negative due words limit %d", c.Engine.DueWordsLimit)
	}
	if !c.Engine.DefaultLevel.Valid() {
		return fmt.Errorf("invalid default level %q", c.Engine.DefaultLevel)
	}

	d := c.Difficulty
	if !inUnit(d.AtLevelRatio) || !inUnit(d.EasierRatio) || d.AtLevelRatio+d.EasierRatio > 1 {
		return fmt.Errorf("difficulty ratios %g/%g must lie in [0,1] and sum to at most 1", d.AtLevelRatio, d.EasierRatio)
	}

	e := c.Engagement
	for _, r := range []float64{e.ColdStartExploit, e.LearningExploit, e.StableExploit} {
		if !inUnit(r) {
			return fmt.Errorf("exploit ratio %g outside [0,1]", r)
		}
	}

	r := c.Retention
	if r.TargetRecall <= 0 || r.TargetRecall >= 1 {
		return fmt.Errorf("target recall %g outside (0,1)", r.TargetRecall)
	}
	if r.MinHalfLifeDays <= 0 || r.MaxHalfLifeDays < r.MinHalfLifeDays {
		return fmt.Errorf("half-life bounds [%g, %g] are invalid", r.MinHalfLifeDays, r.MaxHalfLifeDays)
	}

	if len(c.Rewards.XPTable) == 0 {
		return fmt.Errorf("empty XP table")
	}
	if !inUnit(c.Rewards.BonusProbability) {
		return fmt.Errorf("bonus probability %g outside [0,1]", c.Rewards.BonusProbability)
	}
	return nil
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	// First check the current directory
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	// Check project root directory (search upward)
	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
