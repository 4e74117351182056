// Package config loads and validates the generation core's configuration
// from config.yaml and environment variables using Viper.
package config

import (
	"fmt"
	"time"

	"github.com/trendsight/insight-core/internal/domain"
	"github.com/trendsight/insight-core/internal/prompt"
)

// Configuration holds all application configuration values. Credentials,
// limits and routes are immutable inputs loaded once at process start.
type Configuration struct {
	// Server configuration for the ops endpoints.
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Credentials is the provider credential pool.
	Credentials []domain.Credential `json:"credentials" mapstructure:"credentials"`

	// KeyPool tunes credential failure handling.
	KeyPool KeyPoolConfig `json:"key_pool" mapstructure:"key_pool"`

	// Routes is the static use-case routing table.
	Routes []RouteConfig `json:"routes" mapstructure:"routes"`

	// Breaker tunes the per-provider circuit breakers.
	Breaker BreakerConfig `json:"breaker" mapstructure:"breaker"`

	// Retry tunes the per-provider retry policy.
	Retry RetryConfig `json:"retry" mapstructure:"retry"`

	// Budget bounds assembled prompts.
	Budget prompt.BudgetConfig `json:"budget" mapstructure:"budget"`

	// Cache configures the persistence collaborator.
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// Logging configuration.
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ServerConfig holds ops server configuration.
type ServerConfig struct {
	// Host is the server bind address.
	Host string `json:"host" mapstructure:"host"`

	// Port is the server port number.
	Port int `json:"port" mapstructure:"port"`

	// ShutdownTimeoutSeconds is the maximum wait for graceful shutdown.
	ShutdownTimeoutSeconds int `json:"shutdown_timeout_seconds" mapstructure:"shutdown_timeout_seconds"`
}

// KeyPoolConfig tunes credential failure handling.
type KeyPoolConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a
	// credential cooldown.
	FailureThreshold int `json:"failure_threshold" mapstructure:"failure_threshold"`

	// CooldownSeconds is the base cooldown for a failing credential.
	CooldownSeconds int `json:"cooldown_seconds" mapstructure:"cooldown_seconds"`
}

// RouteConfig is the wire form of one use-case route.
type RouteConfig struct {
	// UseCase is the feature identifier.
	UseCase string `json:"use_case" mapstructure:"use_case"`

	// Provider is the preferred provider name.
	Provider string `json:"provider" mapstructure:"provider"`

	// Fallbacks are tried in order after the preferred provider.
	Fallbacks []string `json:"fallbacks" mapstructure:"fallbacks"`

	// TargetLatencyMs is the latency budget in milliseconds.
	TargetLatencyMs int `json:"target_latency_ms" mapstructure:"target_latency_ms"`

	// Temperature is the generation temperature for this use case.
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

// ToRoute converts the wire form into the domain route.
func (r RouteConfig) ToRoute() domain.UseCaseRoute {
	return domain.UseCaseRoute{
		UseCase:       r.UseCase,
		Provider:      r.Provider,
		Fallbacks:     r.Fallbacks,
		TargetLatency: time.Duration(r.TargetLatencyMs) * time.Millisecond,
		Temperature:   r.Temperature,
	}
}

// BreakerConfig is the wire form of the circuit breaker tuning.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a circuit.
	FailureThreshold int `json:"failure_threshold" mapstructure:"failure_threshold"`

	// ResetTimeoutMs is how long a circuit stays open before a probe.
	ResetTimeoutMs int `json:"reset_timeout_ms" mapstructure:"reset_timeout_ms"`

	// HalfOpenMaxAttempts is the successes required to close a half-open circuit.
	HalfOpenMaxAttempts int `json:"half_open_max_attempts" mapstructure:"half_open_max_attempts"`
}

// RetryConfig is the wire form of the retry policy.
type RetryConfig struct {
	// MaxAttempts is the total attempts per provider, including the first.
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`

	// InitialDelayMs is the delay before the second attempt.
	InitialDelayMs int `json:"initial_delay_ms" mapstructure:"initial_delay_ms"`

	// Multiplier grows the delay between attempts.
	Multiplier float64 `json:"multiplier" mapstructure:"multiplier"`
}

// CacheConfig configures the persistence collaborator.
type CacheConfig struct {
	// DBPath is the SQLite database file path.
	DBPath string `json:"db_path" mapstructure:"db_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `json:"level" mapstructure:"level"`

	// Format is the log format (json, text).
	Format string `json:"format" mapstructure:"format"`
}

// Routes converts all route configs into the domain form.
func (c *Configuration) RouteList() []domain.UseCaseRoute {
	routes := make([]domain.UseCaseRoute, 0, len(c.Routes))
	for _, r := range c.Routes {
		routes = append(routes, r.ToRoute())
	}
	return routes
}

// Validate validates the configuration and returns an error if required
// fields are missing or inconsistent.
func (c *Configuration) Validate() error {
	var validationErrors []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		validationErrors = append(validationErrors, "server.port must be between 1 and 65535")
	}

	if len(c.Credentials) == 0 {
		validationErrors = append(validationErrors, "credentials cannot be empty, at least one API key is required")
	}
	for i, cred := range c.Credentials {
		if cred.Key == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("credentials[%d].key is required", i))
		}
		if cred.Provider == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("credentials[%d].provider is required", i))
		}
	}

	if len(c.Routes) == 0 {
		validationErrors = append(validationErrors, "routes cannot be empty, at least one use case is required")
	}
	for i, route := range c.Routes {
		if route.UseCase == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("routes[%d].use_case is required", i))
		}
		if route.Provider == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("routes[%d].provider is required", i))
		}
	}

	if c.Budget.TargetTokens <= 0 {
		validationErrors = append(validationErrors, "budget.target_tokens must be positive")
	}
	if c.Budget.MaxTokens < c.Budget.TargetTokens {
		validationErrors = append(validationErrors, "budget.max_tokens must be >= budget.target_tokens")
	}

	if c.Logging.Level != "" && !isValidLogLevel(c.Logging.Level) {
		validationErrors = append(validationErrors, fmt.Sprintf(
			"logging.level '%s' is invalid, must be one of: debug, info, warn, error",
			c.Logging.Level,
		))
	}

	if len(validationErrors) > 0 {
		return &ValidationError{Errors: validationErrors}
	}

	return nil
}

// isValidLogLevel checks if the log level is valid.
func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
