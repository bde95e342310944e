// Package config loads the RLM runtime's configuration, grounded on the
// teacher's internal/config/config.go yaml.v2 struct style, trimmed to
// what the Root Loop, providers, and CLI need.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/rlmrun/rlm/internal/rlm"
)

// ProviderConfig configures one LM backend.
type ProviderConfig struct {
	Backend string `yaml:"backend"` // "openai" or "anthropic"
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`
}

// BudgetConfig mirrors rlm.BudgetOverrides in yaml-wire form; zero fields
// fall back to rlm's package defaults.
type BudgetConfig struct {
	MaxSteps           int `yaml:"max_steps,omitempty"`
	MaxSubCalls        int `yaml:"max_sub_calls,omitempty"`
	MaxDepth           int `yaml:"max_depth,omitempty"`
	MaxPromptReadChars int `yaml:"max_prompt_read_chars,omitempty"`
	MaxTimeMs          int `yaml:"max_time_ms,omitempty"`
}

// RootLoopConfig controls the Root Loop's heuristic behavior, spec §4.1.
type RootLoopConfig struct {
	Profile                         string `yaml:"profile"` // "pure" or "hybrid"
	RequirePromptReadBeforeFinalize bool   `yaml:"require_prompt_read_before_finalize"`
}

// TelemetryConfig controls OpenTelemetry tracing, per the teacher's
// internal/config/config.go TelemetryConfig.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path,omitempty"`
}

// Config is the RLM runtime's top-level configuration.
type Config struct {
	Provider  ProviderConfig `yaml:"provider"`
	Budget    BudgetConfig   `yaml:"budget"`
	RootLoop  RootLoopConfig `yaml:"root_loop"`
	OTel      TelemetryConfig `yaml:"otel"`
	Log       LogConfig      `yaml:"log"`
	TraceJSON string         `yaml:"trace_json_path,omitempty"`
}

func defaults() Config {
	return Config{
		Provider: ProviderConfig{Backend: "openai", Model: "gpt-4o-mini"},
		RootLoop: RootLoopConfig{Profile: "hybrid", RequirePromptReadBeforeFinalize: true},
		OTel:     TelemetryConfig{ServiceName: "rlm"},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads a YAML config file (if path is non-empty and exists), loads
// a .env from the working directory via godotenv (best-effort, per the teacher's startup
// sequence), and layers environment-variable API keys over whatever the
// file set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Budget.MaxDepth < 0 {
		return nil, fmt.Errorf("config: budget.max_depth must be >= 0")
	}
	return &cfg, nil
}

// ToOverrides converts a yaml-wire BudgetConfig into rlm.BudgetOverrides,
// leaving unset (zero) fields nil so rlm's package defaults apply.
func (b BudgetConfig) ToOverrides() *rlm.BudgetOverrides {
	o := &rlm.BudgetOverrides{}
	hasOverride := false
	if b.MaxSteps > 0 {
		o.MaxSteps = &b.MaxSteps
		hasOverride = true
	}
	if b.MaxSubCalls > 0 {
		o.MaxSubCalls = &b.MaxSubCalls
		hasOverride = true
	}
	if b.MaxDepth > 0 {
		o.MaxDepth = &b.MaxDepth
		hasOverride = true
	}
	if b.MaxPromptReadChars > 0 {
		o.MaxPromptReadChars = &b.MaxPromptReadChars
		hasOverride = true
	}
	if b.MaxTimeMs > 0 {
		o.MaxTimeMs = &b.MaxTimeMs
		hasOverride = true
	}
	if !hasOverride {
		return nil
	}
	return o
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Provider.Backend == "openai" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Provider.Backend == "anthropic" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("RLM_OTEL_ENDPOINT"); v != "" {
		cfg.OTel.Endpoint = v
	}
}
