// Package config handles storefront harness and tool server configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported model providers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
)

// Defaults applied by Load and Default.
const (
	DefaultModel          = "anthropic/claude-3.5-haiku"
	DefaultMaxTokens      = 1000
	DefaultMaxRounds      = 20
	DefaultOpenRouterURL  = "https://openrouter.ai/api/v1"
	DefaultConnectTimeout = 30 * time.Second
	DefaultModelTimeout   = 2 * time.Minute
	DefaultToolTimeout    = time.Minute
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./storefront.yaml, ~/.config/storefront/config.yaml,
// /etc/storefront/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"storefront.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "storefront", "config.yaml"))
	}

	paths = append(paths, "/etc/storefront/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all harness configuration.
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	LLM       LLMConfig               `yaml:"llm"`
	Agent     AgentConfig             `yaml:"agent"`
	Pricing   map[string]PricingEntry `yaml:"pricing"`
	DataDir   string                  `yaml:"data_dir"`
	LogLevel  string                  `yaml:"log_level"`
	LogFormat string                  `yaml:"log_format"` // text or json
}

// ServerConfig describes how the harness launches its tool server.
type ServerConfig struct {
	// Script is the tool server entry point. Its suffix selects the
	// interpreter: .py runs under Python, .js under Node.
	Script string `yaml:"script"`

	// Python and Node override the interpreter commands (default
	// "python" and "node").
	Python string `yaml:"python"`
	Node   string `yaml:"node"`

	// Env holds extra KEY=VALUE pairs for the subprocess.
	Env []string `yaml:"env"`

	// ConnectTimeout bounds spawn, handshake and capability discovery.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// Include and Exclude restrict which server tools reach the model.
	// Include wins when both are set.
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// LLMConfig selects the model backend.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // openrouter, anthropic
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`

	// Models routes individual model names to a provider other than
	// Provider, e.g. {"claude-3-5-haiku-latest": "anthropic"}. The
	// other provider's key comes from its environment variable.
	Models map[string]string `yaml:"models"`
}

// AgentConfig tunes the conversation loop.
type AgentConfig struct {
	// MaxRounds caps model/tool rounds per query. Zero means unbounded.
	MaxRounds int `yaml:"max_rounds"`

	// ModelTimeout and ToolTimeout bound each model call and each tool
	// invocation. Zero disables the bound.
	ModelTimeout time.Duration `yaml:"model_timeout"`
	ToolTimeout  time.Duration `yaml:"tool_timeout"`

	// SystemPrompt is prepended to every query when non-empty.
	SystemPrompt string `yaml:"system_prompt"`
}

// PricingEntry is the USD price per million tokens for a model.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Load reads configuration from a YAML file. ${VAR} references are
// expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := defaults()
	// A key that is present but zero must stay zero (max_rounds: 0 is
	// meaningful), so defaults go in before decoding rather than after.
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration with API keys taken from the
// environment.
func Default() *Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Python:         "python",
			Node:           "node",
			ConnectTimeout: DefaultConnectTimeout,
		},
		LLM: LLMConfig{
			Provider:  ProviderOpenRouter,
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Agent: AgentConfig{
			MaxRounds:    DefaultMaxRounds,
			ModelTimeout: DefaultModelTimeout,
			ToolTimeout:  DefaultToolTimeout,
		},
		LogFormat: "text",
	}
}

// applyEnv fills provider secrets and URLs that the file left empty.
func (c *Config) applyEnv() {
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case ProviderOpenRouter:
			c.LLM.APIKey = os.Getenv("OPENROUTER_API_KEY")
		case ProviderAnthropic:
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if c.LLM.BaseURL == "" && c.LLM.Provider == ProviderOpenRouter {
		c.LLM.BaseURL = DefaultOpenRouterURL
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOpenRouter, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown llm.provider %q (valid: %s, %s)", c.LLM.Provider, ProviderOpenRouter, ProviderAnthropic)
	}
	for model, provider := range c.LLM.Models {
		if provider != ProviderOpenRouter && provider != ProviderAnthropic {
			return fmt.Errorf("llm.models[%s]: unknown provider %q", model, provider)
		}
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.Agent.MaxRounds < 0 {
		return fmt.Errorf("agent.max_rounds must not be negative, got %d", c.Agent.MaxRounds)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
