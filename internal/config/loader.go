// Package config loads and validates the generation core's configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/trendsight/insight-core/internal/domain"
)

const (
	defaultConfigName = "config"
	defaultConfigType = "yaml"
	envPrefix         = "TRENDSIGHT"

	// EnvAPIKeys is the primary environment variable for API keys
	// (comma-separated). It takes priority over file configuration so
	// production deployments never write secrets to disk.
	EnvAPIKeys = "TRENDSIGHT_API_KEYS"
)

// Load reads configuration from environment variables and files.
// Priority order (highest to lowest):
//  1. TRENDSIGHT_API_KEYS env var (comma-separated) for credentials
//  2. Environment variables (prefixed with TRENDSIGHT_)
//  3. config.yaml (fallback for local development)
//  4. Default values
//
// Pass an empty path to use the default search locations.
func Load(configPath string) (*Configuration, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName(defaultConfigName)
	v.SetConfigType(defaultConfigType)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/trendsight")
		v.AddConfigPath("$HOME/.trendsight")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, &ConfigError{
				Op:  "read",
				Err: fmt.Errorf("failed to read config file: %w", err),
			}
		}
		// Config file not found is fine; env vars may carry everything.
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{
			Op:  "unmarshal",
			Err: fmt.Errorf("failed to unmarshal config: %w", err),
		}
	}

	// Credentials from the primary env var replace any file-based ones.
	if loadCredentialsFromEnv(&cfg) {
		fmt.Fprintf(os.Stderr, "[SECURITY] Using %s env var (file credentials ignored)\n", EnvAPIKeys)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Ops server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.shutdown_timeout_seconds", 15)

	// Key pool defaults
	v.SetDefault("key_pool.failure_threshold", 3)
	v.SetDefault("key_pool.cooldown_seconds", 60)

	// Breaker defaults
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout_ms", 30000)
	v.SetDefault("breaker.half_open_max_attempts", 2)

	// Retry defaults
	v.SetDefault("retry.max_attempts", 2)
	v.SetDefault("retry.initial_delay_ms", 500)
	v.SetDefault("retry.multiplier", 2.0)

	// Prompt budget defaults
	v.SetDefault("budget.target_tokens", 4000)
	v.SetDefault("budget.max_tokens", 8000)

	// Cache defaults
	v.SetDefault("cache.db_path", "insights.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// loadCredentialsFromEnv loads credentials from the TRENDSIGHT_API_KEYS
// environment variable (comma-separated keys, provider detected from the key
// prefix). Returns true when credentials were loaded from this source.
func loadCredentialsFromEnv(cfg *Configuration) bool {
	envValue := os.Getenv(EnvAPIKeys)
	if envValue == "" {
		return false
	}

	keys := strings.Split(envValue, ",")
	creds := make([]domain.Credential, 0, len(keys))

	for i, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		creds = append(creds, domain.Credential{
			Key:               key,
			Name:              fmt.Sprintf("env_key_%d", i),
			Provider:          detectProviderFromKey(key),
			RequestsPerMinute: 10,
			RequestsPerDay:    1000,
		})
	}

	if len(creds) == 0 {
		return false
	}
	cfg.Credentials = creds
	return true
}

// detectProviderFromKey identifies the provider from the key format.
func detectProviderFromKey(key string) string {
	switch {
	case strings.HasPrefix(key, "AIza"):
		return "gemini"
	case strings.HasPrefix(key, "sk-ant-"):
		return "anthropic"
	case strings.HasPrefix(key, "gsk_"):
		return "groq"
	case strings.HasPrefix(key, "sk-"):
		return "openai"
	default:
		// Gemini is the default chain head, assume its key format.
		return "gemini"
	}
}
