package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "vibe"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage vibe configuration.

Running bare 'vibe config' is the same as 'vibe config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# vibe configuration
# See: vibe config show (for effective values and sources)

# Server port (default: 8080)
# port: {{ .Port }}

# SQLite database path (default: ~/.config/vibe/vibe.db)
# db_path: {{ .DBPath }}

# Directory where built projects are written (default: ~/.config/vibe/projects)
# projects_dir: {{ .ProjectsDir }}

# Anthropic API
anthropic:
  # API key (or set VIBE_ANTHROPIC_API_KEY)
  api_key: "{{ .AnthropicAPIKey }}"

  # Model used for all agents
  model: "{{ .AnthropicModel }}"

# Build pipeline
pipeline:
  # Debug attempts before a build fails (default: 3)
  max_debug_attempts: {{ .MaxDebugAttempts }}

# Sandboxed code execution
sandbox:
  # Per-run timeout (default: 30s)
  timeout: "{{ .SandboxTimeout }}"
`

type configTemplateData struct {
	Port             int
	DBPath           string
	ProjectsDir      string
	AnthropicAPIKey  string
	AnthropicModel   string
	MaxDebugAttempts int
	SandboxTimeout   string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		Port:             viper.GetInt("port"),
		DBPath:           viper.GetString("db_path"),
		ProjectsDir:      viper.GetString("projects_dir"),
		AnthropicAPIKey:  viper.GetString("anthropic.api_key"),
		AnthropicModel:   viper.GetString("anthropic.model"),
		MaxDebugAttempts: viper.GetInt("pipeline.max_debug_attempts"),
		SandboxTimeout:   viper.GetString("sandbox.timeout"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "port", EnvVar: "VIBE_PORT"},
	{Key: "db_path", EnvVar: "VIBE_DB_PATH"},
	{Key: "projects_dir", EnvVar: "VIBE_PROJECTS_DIR"},
	{Key: "anthropic.api_key", EnvVar: "VIBE_ANTHROPIC_API_KEY", Secret: true},
	{Key: "anthropic.model", EnvVar: "VIBE_ANTHROPIC_MODEL"},
	{Key: "pipeline.max_debug_attempts", EnvVar: "VIBE_PIPELINE_MAX_DEBUG_ATTEMPTS"},
	{Key: "dialogue.max_rounds", EnvVar: "VIBE_DIALOGUE_MAX_ROUNDS"},
	{Key: "router.confidence_threshold", EnvVar: "VIBE_ROUTER_CONFIDENCE_THRESHOLD"},
	{Key: "session.max_per_connection", EnvVar: "VIBE_SESSION_MAX_PER_CONNECTION"},
	{Key: "session.event_buffer", EnvVar: "VIBE_SESSION_EVENT_BUFFER"},
	{Key: "sandbox.timeout", EnvVar: "VIBE_SANDBOX_TIMEOUT"},
	{Key: "limits.max_message_len", EnvVar: "VIBE_LIMITS_MAX_MESSAGE_LEN"},
	{Key: "limits.messages_per_minute", EnvVar: "VIBE_LIMITS_MESSAGES_PER_MINUTE"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret {
			val = redact(viper.GetString(k.Key))
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-28s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// redact keeps the first few characters of a secret for identification.
func redact(s string) string {
	if s == "" {
		return "(unset)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:8] + "..."
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set — set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'vibe config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
