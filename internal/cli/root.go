// Package cli defines the Cobra command tree for the learnfeed CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/learnfeed/learnfeed-go/pkg/core"
)

var (
	// version, commit, date are set via -ldflags at build time.
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath  string
	envFile     string
	catalogPath string
	provider    string
	storePath   string
	logLevel    string
	pretty      bool
}

// newRootCmd builds the command tree. Each tree owns its flag values.
func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "learnfeed",
		Short: "Personalized feeds and review schedules for language learners",
		Long: `learnfeed ranks short-form learning content for each learner and keeps
their vocabulary review schedule, level and streak up to date.

Configuration is read from --config (TOML or JSON), otherwise from the
environment and the nearest .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "Config file (.toml or .json)")
	pf.StringVar(&g.envFile, "env-file", "", "Load environment variables from this file")
	pf.StringVar(&g.catalogPath, "catalog", "", "Content catalog JSON file (overrides CATALOG_PATH)")
	pf.StringVar(&g.provider, "store", "", "State store provider: memory, sqlite, postgres, mysql, file")
	pf.StringVar(&g.storePath, "store-path", "", "Path of the sqlite or file store")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error, disabled")
	pf.BoolVar(&g.pretty, "pretty", true, "Indent JSON output")

	root.AddCommand(
		newFeedCmd(g),
		newTrackCmd(g),
		newDueCmd(g),
		newDashboardCmd(g),
		newPracticeCmd(g),
		newExportCmd(g),
		newImportCmd(g),
		newDeleteCmd(g),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute(v, c, d string) {
	version, commit, date = v, c, d
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "learnfeed %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// loadConfig resolves the configuration from the file, the environment and
// the command-line overrides, in that order of precedence (lowest first).
func (g *globalFlags) loadConfig() (*core.Config, error) {
	var (
		cfg *core.Config
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(g.configPath)); {
	case g.configPath == "" && g.envFile != "":
		cfg, err = core.LoadConfigFromEnvFile(g.envFile)
	case g.configPath == "":
		cfg, err = core.LoadConfigFromEnv()
	case ext == ".toml":
		cfg, err = core.LoadConfigFromTOML(g.configPath)
	case ext == ".json":
		cfg, err = core.LoadConfigFromJSON(g.configPath)
	default:
		return nil, fmt.Errorf("unsupported config file %q (want .toml or .json)", g.configPath)
	}
	if err != nil {
		return nil, err
	}

	if g.catalogPath != "" {
		cfg.Catalog.Path = g.catalogPath
	}
	if g.provider != "" {
		cfg.Store.Provider = g.provider
	}
	if g.storePath != "" {
		switch cfg.Store.Provider {
		case core.ProviderSQLite:
			cfg.Store.SQLite.Path = g.storePath
		case core.ProviderFile:
			cfg.Store.File.Path = g.storePath
		default:
			return nil, fmt.Errorf("--store-path needs the sqlite or file store, got %q", cfg.Store.Provider)
		}
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	return cfg, nil
}

// openEngine builds an engine from the resolved configuration. Logs go to
// stderr so stdout carries only command output.
func (g *globalFlags) openEngine(cmd *cobra.Command) (*core.Engine, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := core.NewLogger(cfg.Logging, cmd.ErrOrStderr())
	engine, err := core.NewEngine(cfg, core.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	return engine, nil
}

// printJSON writes v to the command's stdout.
func (g *globalFlags) printJSON(cmd *cobra.Command, v interface{}) error {
	return writeJSON(cmd.OutOrStdout(), v, g.pretty)
}

func writeJSON(w io.Writer, v interface{}, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// readInput reads path, or stdin when path is empty or "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
