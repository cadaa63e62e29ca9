// Package config loads the runtime configuration from a YAML file, with
// environment-variable fallbacks for provider credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	// DefaultModel selects the model used when a run names none.
	DefaultModel string `yaml:"default_model"`

	// MaxIterations bounds the agent loop. Zero keeps the built-in default.
	MaxIterations int `yaml:"max_iterations"`

	// CompletionMarker overrides the marker the model is told to emit.
	CompletionMarker string `yaml:"completion_marker"`

	// ToolTimeout bounds a single tool execution (e.g. "30s").
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// DisabledTools lists tool names to exclude from the registry.
	DisabledTools []string `yaml:"disabled_tools"`

	Providers ProvidersConfig `yaml:"providers"`
}

// ProvidersConfig holds per-vendor settings.
type ProvidersConfig struct {
	Anthropic APIKeyConfig      `yaml:"anthropic"`
	OpenAI    OpenAIConfig      `yaml:"openai"`
	Google    APIKeyConfig      `yaml:"google"`
	Local     LocalServerConfig `yaml:"local"`
}

// APIKeyConfig configures a vendor that only needs a key.
type APIKeyConfig struct {
	APIKey string `yaml:"api_key"`
}

// OpenAIConfig configures the OpenAI vendor.
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`

	// BaseURL points at an OpenAI-compatible endpoint when set.
	BaseURL string `yaml:"base_url"`
}

// LocalServerConfig configures the local model server.
type LocalServerConfig struct {
	// BaseURL of the server, default http://localhost:11434.
	BaseURL string `yaml:"base_url"`

	// Model is the locally served model identifier to register.
	Model string `yaml:"model"`

	// ContextWindow is the local model's context size in tokens. Zero
	// uses a conservative default.
	ContextWindow int `yaml:"context_window"`

	// NativeTools advertises tools on the wire instead of the prompt
	// protocol. Leave false for models without native tool calling.
	NativeTools bool `yaml:"native_tools"`
}

// Load reads the config file at path. A missing file yields a zero config
// (environment fallbacks still apply); a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No file is fine; everything has a default or an env fallback.
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv fills credentials from the conventional environment variables
// when the file left them empty.
func (c *Config) applyEnv() {
	if c.Providers.Anthropic.APIKey == "" {
		c.Providers.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.Providers.OpenAI.APIKey == "" {
		c.Providers.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Providers.Google.APIKey == "" {
		c.Providers.Google.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.Providers.Google.APIKey == "" {
		c.Providers.Google.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if c.Providers.Local.BaseURL == "" {
		c.Providers.Local.BaseURL = os.Getenv("OLLAMA_HOST")
	}
}
