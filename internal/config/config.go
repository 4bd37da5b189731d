// Package config loads the agent core's configuration: role profiles,
// permission patterns, budgets for the turn loop, and collaborator settings.
// Configuration is loaded once at process start and passed into the
// coordinator as constructed objects; nothing here is a mutable singleton.
package config

import (
	"fmt"
	"time"

	"github.com/kitaworks/agentcore/pkg/models"
)

// Config is the root configuration for the agent core.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Decoder   DecoderConfig   `yaml:"decoder"`
	Loop      LoopConfig      `yaml:"loop"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Security  SecurityConfig  `yaml:"security"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	WebSearch WebSearchConfig `yaml:"web_search"`
	Audit     AuditConfig     `yaml:"audit"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// BackendConfig configures the model backend transport.
type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	System  string        `yaml:"system_prompt"`
	Timeout time.Duration `yaml:"timeout"`
}

// DecoderConfig configures the stream decoder.
type DecoderConfig struct {
	// Timeout is the hard wall-clock bound for one decode pass.
	// On expiry the decode resolves with accumulated partial state.
	Timeout time.Duration `yaml:"timeout"`

	// ProgressInterval is the minimum gap between progress callbacks.
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// LoopConfig bounds the agent turn loop.
type LoopConfig struct {
	// MaxIterations limits model turns per request.
	MaxIterations int `yaml:"max_iterations"`

	// MaxToolCalls limits total tool calls per request (0 = unlimited).
	MaxToolCalls int `yaml:"max_tool_calls"`

	// MaxWallTime limits total request duration (0 = no limit).
	MaxWallTime time.Duration `yaml:"max_wall_time"`

	// HistoryLimit bounds the transcript loaded at turn start.
	HistoryLimit int `yaml:"history_limit"`
}

// ExecutorConfig configures concurrent tool execution.
type ExecutorConfig struct {
	MaxConcurrency  int           `yaml:"max_concurrency"`
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	DefaultRetries  int           `yaml:"default_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff"`
}

// SecurityConfig holds the role table and phrase patterns for the gate.
// Patterns configured here extend the built-in defaults.
type SecurityConfig struct {
	// Roles maps canonical role names to their profiles. Empty means
	// the built-in table.
	Roles map[string]RoleProfileConfig `yaml:"roles"`

	// SensitivePatterns extends the sensitive-operation phrase list.
	SensitivePatterns []string `yaml:"sensitive_patterns"`
}

// RoleProfileConfig is the YAML shape of one role profile.
type RoleProfileConfig struct {
	PermissionLevel int               `yaml:"permission_level"`
	DataAccess      map[string]string `yaml:"data_access"`
}

// Profile converts the config entry into a models.RoleProfile.
func (c RoleProfileConfig) Profile(role models.Role) (models.RoleProfile, error) {
	access := make(map[models.DataDomain]models.AccessScope, len(c.DataAccess))
	for domain, scope := range c.DataAccess {
		switch models.AccessScope(scope) {
		case models.ScopeNone, models.ScopeOwn, models.ScopeScoped, models.ScopeAll:
		default:
			return models.RoleProfile{}, fmt.Errorf("role %s: invalid scope %q for domain %q", role, scope, domain)
		}
		access[models.DataDomain(domain)] = models.AccessScope(scope)
	}
	return models.RoleProfile{
		Role:            role,
		PermissionLevel: c.PermissionLevel,
		DataAccess:      access,
	}, nil
}

// SessionsConfig selects the conversation store backend.
type SessionsConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"`

	// Path is the sqlite database path when Driver is "sqlite".
	Path string `yaml:"path"`
}

// WebSearchConfig configures the built-in web search tool.
type WebSearchConfig struct {
	SearXNGURL         string `yaml:"searxng_url"`
	DefaultResultCount int    `yaml:"default_result_count"`
	CacheTTL           int    `yaml:"cache_ttl"`
}

// AuditConfig configures the audit sink.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`

	// Output is "stdout", "stderr", or "file:<path>".
	Output string `yaml:"output"`

	// Format is "json" or "text".
	Format string `yaml:"format"`

	SampleRate float64 `yaml:"sample_rate"`

	// HashUserContent stores message digests instead of raw text.
	HashUserContent bool `yaml:"hash_user_content"`

	// MaxFieldLength truncates free-text audit fields (0 = default).
	MaxFieldLength int `yaml:"max_field_length"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
	Environment string `yaml:"environment"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:11434",
			Model:   "qwen2.5:32b",
			Timeout: 5 * time.Minute,
		},
		Decoder: DecoderConfig{
			Timeout:          2 * time.Minute,
			ProgressInterval: 500 * time.Millisecond,
		},
		Loop: LoopConfig{
			MaxIterations: 10,
			MaxToolCalls:  0,
			HistoryLimit:  50,
		},
		Executor: ExecutorConfig{
			MaxConcurrency:  5,
			DefaultTimeout:  30 * time.Second,
			DefaultRetries:  2,
			RetryBackoff:    100 * time.Millisecond,
			MaxRetryBackoff: 5 * time.Second,
		},
		Sessions: SessionsConfig{Driver: "memory"},
		WebSearch: WebSearchConfig{
			DefaultResultCount: 5,
			CacheTTL:           300,
		},
		Audit: AuditConfig{
			Enabled:    true,
			Output:     "stdout",
			Format:     "json",
			SampleRate: 1.0,
		},
		Tracing: TracingConfig{
			ServiceName: "agentcore",
		},
	}
}

// Validate checks cross-field constraints after load.
func (c *Config) Validate() error {
	if c.Decoder.Timeout <= 0 {
		return fmt.Errorf("decoder.timeout must be positive")
	}
	if c.Decoder.ProgressInterval <= 0 {
		return fmt.Errorf("decoder.progress_interval must be positive")
	}
	if c.Loop.MaxIterations <= 0 {
		return fmt.Errorf("loop.max_iterations must be positive")
	}
	if c.Executor.MaxConcurrency <= 0 {
		return fmt.Errorf("executor.max_concurrency must be positive")
	}
	switch c.Sessions.Driver {
	case "", "memory":
	case "sqlite":
		if c.Sessions.Path == "" {
			return fmt.Errorf("sessions.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported sessions driver: %s", c.Sessions.Driver)
	}
	return nil
}
