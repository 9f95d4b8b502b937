package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/quillforge/quill/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify Quill configuration",
	Long: `View or modify Quill configuration.

Without arguments, displays the current configuration.
Use subcommands to validate it, modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for invalid values",
	RunE:  runConfigValidate,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  quill config set api.base_url https://quill.example.com
  quill config set poll.interval_ms 5000
  quill config set tournament.agents claude-opus,claude-haiku,gpt-4o

List values are comma separated.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at $XDG_CONFIG_HOME/quill/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// settableKeys maps each key accepted by "config set" to its value type.
var settableKeys = map[string]string{
	"api.base_url":                  "string",
	"api.token":                     "string",
	"api.timeout_seconds":           "int",
	"poll.interval_ms":              "int",
	"poll.error_threshold":          "int",
	"tournament.min_agents":         "int",
	"tournament.agents":             "list",
	"tournament.default_agents":     "list",
	"tournament.strategies":         "list",
	"tournament.variants_per_agent": "int",
	"pipeline.rescore":              "bool",
	"scoring.cache_size":            "int",
	"logging.enabled":               "bool",
	"logging.level":                 "string",
	"logging.max_size_mb":           "int",
	"logging.max_backups":           "int",
	"logging.dir":                   "string",
	"metrics.enabled":               "bool",
	"metrics.listen_addr":           "string",
	"output.dir":                    "string",
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	settings := viper.AllSettings()
	if api, ok := settings["api"].(map[string]any); ok {
		if tok, _ := api["token"].(string); tok != "" {
			api["token"] = maskToken(tok)
		}
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// maskToken keeps the last four characters of a secret.
func maskToken(tok string) string {
	if len(tok) <= 4 {
		return "****"
	}
	return "****" + tok[len(tok)-4:]
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	keyType, ok := settableKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'quill config set --help' to see examples", key)
	}

	var typedValue any
	switch keyType {
	case "string":
		typedValue = value
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = b
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		typedValue = intVal
	case "list":
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		typedValue = items
	}

	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}

const defaultConfigContent = `# Quill configuration

# Remote generation and scoring service
api:
  base_url: http://localhost:8080
  # Prefer QUILL_API_TOKEN over storing the token here
  token: ""
  timeout_seconds: 60

# Tournament status polling
poll:
  interval_ms: 2000
  # Consecutive failed polls before the tournament fails
  error_threshold: 5

tournament:
  min_agents: 3
  # Known agent IDs; --agent accepts globs against this list
  agents: []
  # Used when --agent is not given
  default_agents: []
  strategies: [action, dialogue, interiority]
  variants_per_agent: 1

pipeline:
  # Re-score after the last pass to report the improvement
  rescore: true

scoring:
  # Cached score reports keyed by content (0 disables the cache)
  cache_size: 128

logging:
  enabled: true
  level: info
  max_size_mb: 10
  max_backups: 3
  # Defaults to $XDG_CONFIG_HOME/quill/logs
  dir: ""

metrics:
  enabled: false
  listen_addr: 127.0.0.1:9464

output:
  # Audit reports and bundle manifests (default current directory)
  dir: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'quill config set' to modify values", configFile)
	}
	if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to customize Quill's behavior.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", config.ConfigFile())
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: QUILL_* (e.g., QUILL_API_TOKEN)")
	return nil
}
