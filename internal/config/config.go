package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete quill configuration
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Poll       PollConfig       `mapstructure:"poll"`
	Tournament TournamentConfig `mapstructure:"tournament"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Output     OutputConfig     `mapstructure:"output"`
}

// APIConfig controls how the remote generation and scoring service is reached
type APIConfig struct {
	// BaseURL is the root of the service, e.g. "https://api.example.com"
	BaseURL string `mapstructure:"base_url"`
	// Token is sent as a bearer token on every request. Usually set via QUILL_API_TOKEN.
	Token string `mapstructure:"token"`
	// TimeoutSeconds bounds a single HTTP request (0 = no client-side timeout)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// PollConfig controls the tournament job poller
type PollConfig struct {
	// IntervalMs is the delay between the end of one status fetch and the start of the next
	IntervalMs int `mapstructure:"interval_ms"`
	// ErrorThreshold is the number of consecutive fetch errors after which the job is failed
	ErrorThreshold int `mapstructure:"error_threshold"`
}

// TournamentConfig controls tournament submission defaults
type TournamentConfig struct {
	// MinAgents is the minimum number of agents a tournament needs (never below 3)
	MinAgents int `mapstructure:"min_agents"`
	// Agents is the roster of known agent IDs that glob patterns expand against
	Agents []string `mapstructure:"agents"`
	// DefaultAgents are the patterns used when no --agent flag is given
	DefaultAgents []string `mapstructure:"default_agents"`
	// Strategies are the strategy labels used when no --strategy flag is given
	Strategies []string `mapstructure:"strategies"`
	// VariantsPerAgent is how many candidates each agent produces per strategy
	VariantsPerAgent int `mapstructure:"variants_per_agent"`
}

// PipelineConfig controls the six-pass pipeline
type PipelineConfig struct {
	// Rescore re-scores the artifact after the final pass
	Rescore bool `mapstructure:"rescore"`
}

// ScoringConfig controls the scoring client
type ScoringConfig struct {
	// CacheSize is the number of score reports kept in memory (0 disables caching)
	CacheSize int `mapstructure:"cache_size"`
}

// LoggingConfig controls debug logging
type LoggingConfig struct {
	// Enabled turns on file logging. When false, only errors reach stderr.
	Enabled bool `mapstructure:"enabled"`
	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string `mapstructure:"level"`
	// MaxSizeMB is the size at which quill.log is rotated
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated log files to keep
	MaxBackups int `mapstructure:"max_backups"`
	// Dir is where quill.log is written (default: <config dir>/logs)
	Dir string `mapstructure:"dir"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Enabled starts a /metrics HTTP server for long-running commands
	Enabled bool `mapstructure:"enabled"`
	// ListenAddr is the address the metrics server binds to
	ListenAddr string `mapstructure:"listen_addr"`
}

// OutputConfig controls where reports are written
type OutputConfig struct {
	// Dir is the directory for audit reports and bundle listings (default: current directory)
	Dir string `mapstructure:"dir"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "http://localhost:8080",
			Token:          "",
			TimeoutSeconds: 60,
		},
		Poll: PollConfig{
			IntervalMs:     2000,
			ErrorThreshold: 5,
		},
		Tournament: TournamentConfig{
			MinAgents:        3,
			Agents:           []string{},
			DefaultAgents:    []string{},
			Strategies:       []string{"action", "dialogue", "interiority"},
			VariantsPerAgent: 1,
		},
		Pipeline: PipelineConfig{
			Rescore: true,
		},
		Scoring: ScoringConfig{
			CacheSize: 128,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Dir:        "",
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9464",
		},
		Output: OutputConfig{
			Dir: "",
		},
	}
}

// Interval returns the poll interval as a time.Duration
func (c *PollConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// Timeout returns the per-request timeout as a time.Duration (0 means none)
func (c *APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResolveDir returns the log directory, falling back to <config dir>/logs
func (c *LoggingConfig) ResolveDir() string {
	if c.Dir != "" {
		return c.Dir
	}
	return filepath.Join(ConfigDir(), "logs")
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// API defaults
	viper.SetDefault("api.base_url", defaults.API.BaseURL)
	viper.SetDefault("api.token", defaults.API.Token)
	viper.SetDefault("api.timeout_seconds", defaults.API.TimeoutSeconds)

	// Poll defaults
	viper.SetDefault("poll.interval_ms", defaults.Poll.IntervalMs)
	viper.SetDefault("poll.error_threshold", defaults.Poll.ErrorThreshold)

	// Tournament defaults
	viper.SetDefault("tournament.min_agents", defaults.Tournament.MinAgents)
	viper.SetDefault("tournament.agents", defaults.Tournament.Agents)
	viper.SetDefault("tournament.default_agents", defaults.Tournament.DefaultAgents)
	viper.SetDefault("tournament.strategies", defaults.Tournament.Strategies)
	viper.SetDefault("tournament.variants_per_agent", defaults.Tournament.VariantsPerAgent)

	// Pipeline defaults
	viper.SetDefault("pipeline.rescore", defaults.Pipeline.Rescore)

	// Scoring defaults
	viper.SetDefault("scoring.cache_size", defaults.Scoring.CacheSize)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	viper.SetDefault("metrics.listen_addr", defaults.Metrics.ListenAddr)

	// Output defaults
	viper.SetDefault("output.dir", defaults.Output.Dir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if it is invalid
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "quill")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quill"
	}
	return filepath.Join(home, ".config", "quill")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
