// Package config loads typed runtime configuration from the environment,
// with validated defaults, per SPEC_FULL.md §3.1.
//
// Grounded on the teacher's options-struct-with-functional-defaults
// construction pattern (seen throughout runtime/agent/runtime's
// NewRuntime(opts ...Option) constructors), adapted here to environment-
// variable loading since this module is a standalone library rather than a
// Goa service reading DSL-generated config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/metricloop/agentrt/llmdriver/ratelimit"
)

const (
	defaultEventBusCapacity = 256
	defaultToolConcurrency  = 8
	defaultRequestTimeout   = 120 * time.Second
	defaultProvider         = "anthropic"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultRateLimitTPM     = 60000
)

// Config is the runtime's process-wide configuration, loaded once at
// startup from environment variables.
type Config struct {
	AnthropicAPIKey  string
	AnthropicBaseURL string

	OpenAIAPIKey  string
	OpenAIBaseURL string

	DefaultProvider string

	EventBusCapacity     int
	ToolConcurrencyLimit int
	RequestTimeout       time.Duration

	LogLevel  string
	LogFormat string

	// RateLimitTPM and RateLimitMaxTPM bound the adaptive token-bucket a
	// caller may wrap around its llmdriver.Provider via ratelimit.Limiter;
	// the core runtime does not apply them itself.
	RateLimitTPM    float64
	RateLimitMaxTPM float64
}

// Load reads Config from the environment, applying the defaults documented
// in SPEC_FULL.md §3.1. It validates DefaultProvider against the known
// provider set and returns an error for a malformed numeric or duration
// override rather than silently falling back to the default.
func Load() (Config, error) {
	cfg := Config{
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicBaseURL:     os.Getenv("ANTHROPIC_BASE_URL"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:        os.Getenv("OPENAI_BASE_URL"),
		DefaultProvider:      defaultProvider,
		EventBusCapacity:     defaultEventBusCapacity,
		ToolConcurrencyLimit: defaultToolConcurrency,
		RequestTimeout:       defaultRequestTimeout,
		LogLevel:             defaultLogLevel,
		LogFormat:            defaultLogFormat,
		RateLimitTPM:         defaultRateLimitTPM,
		RateLimitMaxTPM:      defaultRateLimitTPM,
	}

	if v := os.Getenv("AGENT_PROVIDER"); v != "" {
		cfg.DefaultProvider = strings.ToLower(v)
	}
	switch cfg.DefaultProvider {
	case "anthropic", "openai":
	default:
		return Config{}, fmt.Errorf("config: AGENT_PROVIDER must be %q or %q, got %q", "anthropic", "openai", cfg.DefaultProvider)
	}

	if v := os.Getenv("AGENT_BUS_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("config: AGENT_BUS_CAPACITY must be a positive integer, got %q", v)
		}
		cfg.EventBusCapacity = n
	}

	if v := os.Getenv("AGENT_TOOL_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("config: AGENT_TOOL_CONCURRENCY must be a positive integer, got %q", v)
		}
		cfg.ToolConcurrencyLimit = n
	}

	if v := os.Getenv("AGENT_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("config: AGENT_REQUEST_TIMEOUT must be a positive duration, got %q", v)
		}
		cfg.RequestTimeout = d
	}

	if v := os.Getenv("AGENT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("AGENT_LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}

	if v := os.Getenv("AGENT_RATE_LIMIT_TPM"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return Config{}, fmt.Errorf("config: AGENT_RATE_LIMIT_TPM must be a positive number, got %q", v)
		}
		cfg.RateLimitTPM = f
		cfg.RateLimitMaxTPM = f
	}
	if v := os.Getenv("AGENT_RATE_LIMIT_MAX_TPM"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return Config{}, fmt.Errorf("config: AGENT_RATE_LIMIT_MAX_TPM must be a positive number, got %q", v)
		}
		cfg.RateLimitMaxTPM = f
	}

	return cfg, nil
}

// NewRateLimiter builds the adaptive request limiter described by
// RateLimitTPM/RateLimitMaxTPM. Callers wrap it around their
// llmdriver.Provider before constructing agent.Deps; the core runtime never
// applies it implicitly.
func (c Config) NewRateLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(c.RateLimitTPM, c.RateLimitMaxTPM)
}
