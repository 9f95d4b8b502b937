package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "poll.interval_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// MinTournamentAgents is the floor for tournament.min_agents
const MinTournamentAgents = 3

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateAPI()...)
	errors = append(errors, c.validatePoll()...)
	errors = append(errors, c.validateTournament()...)
	errors = append(errors, c.validateScoring()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateMetrics()...)

	return errors
}

func (c *Config) validateAPI() []ValidationError {
	var errors []ValidationError

	if c.API.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "api.base_url",
			Value:   c.API.BaseURL,
			Message: "must not be empty",
		})
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "api.base_url",
			Value:   c.API.BaseURL,
			Message: "must be an absolute http or https URL",
		})
	}

	if c.API.TimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "api.timeout_seconds",
			Value:   c.API.TimeoutSeconds,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validatePoll() []ValidationError {
	var errors []ValidationError

	// Sub-100ms polling would hammer the service
	const minIntervalMs = 100
	if c.Poll.IntervalMs < minIntervalMs {
		errors = append(errors, ValidationError{
			Field:   "poll.interval_ms",
			Value:   c.Poll.IntervalMs,
			Message: fmt.Sprintf("must be at least %d", minIntervalMs),
		})
	}

	if c.Poll.ErrorThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   "poll.error_threshold",
			Value:   c.Poll.ErrorThreshold,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateTournament() []ValidationError {
	var errors []ValidationError

	if c.Tournament.MinAgents < MinTournamentAgents {
		errors = append(errors, ValidationError{
			Field:   "tournament.min_agents",
			Value:   c.Tournament.MinAgents,
			Message: fmt.Sprintf("must be at least %d", MinTournamentAgents),
		})
	}

	if c.Tournament.VariantsPerAgent < 1 {
		errors = append(errors, ValidationError{
			Field:   "tournament.variants_per_agent",
			Value:   c.Tournament.VariantsPerAgent,
			Message: "must be at least 1",
		})
	}

	if len(c.Tournament.Strategies) == 0 {
		errors = append(errors, ValidationError{
			Field:   "tournament.strategies",
			Value:   c.Tournament.Strategies,
			Message: "must list at least one strategy",
		})
	}
	for i, s := range c.Tournament.Strategies {
		if strings.TrimSpace(s) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("tournament.strategies[%d]", i),
				Value:   s,
				Message: "must not be empty",
			})
		}
	}

	seen := make(map[string]bool, len(c.Tournament.Agents))
	for i, a := range c.Tournament.Agents {
		if strings.TrimSpace(a) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("tournament.agents[%d]", i),
				Value:   a,
				Message: "must not be empty",
			})
			continue
		}
		if seen[a] {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("tournament.agents[%d]", i),
				Value:   a,
				Message: "duplicate agent",
			})
		}
		seen[a] = true
	}

	return errors
}

func (c *Config) validateScoring() []ValidationError {
	if c.Scoring.CacheSize < 0 {
		return []ValidationError{{
			Field:   "scoring.cache_size",
			Value:   c.Scoring.CacheSize,
			Message: "must be non-negative",
		}}
	}
	return nil
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateMetrics() []ValidationError {
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return []ValidationError{{
			Field:   "metrics.listen_addr",
			Value:   c.Metrics.ListenAddr,
			Message: "must be set when metrics are enabled",
		}}
	}
	return nil
}
