package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vibeagents/vibe/internal/output"
	"github.com/vibeagents/vibe/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "vibe",
	Short: "Vibe - multi-agent app builder",
	Long: `vibe builds small applications from chat messages using a team of
LLM agents: a router classifies each request, a planner breaks it into
tasks, and coder/reviewer/tester/debugger agents carry them out.

Run 'vibe serve' to start the websocket server, then 'vibe chat' to
talk to it.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/vibe/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "vibe")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("VIBE")
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "vibe")

	viper.SetDefault("port", 8080)
	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "vibe.db"))
	viper.SetDefault("projects_dir", filepath.Join(defaultConfigDir, "projects"))
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	viper.SetDefault("pipeline.max_debug_attempts", 3)
	viper.SetDefault("dialogue.max_rounds", 3)
	viper.SetDefault("router.confidence_threshold", 0.0)
	viper.SetDefault("router.fallback_reply", "")
	viper.SetDefault("session.max_per_connection", 10)
	viper.SetDefault("session.event_buffer", 512)
	viper.SetDefault("session.grace", "0s")
	viper.SetDefault("sandbox.timeout", "30s")
	viper.SetDefault("limits.max_message_len", 10000)
	viper.SetDefault("limits.messages_per_minute", 20)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}
