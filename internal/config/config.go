package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"

	"gopkg.in/yaml.v3"
)

// Config holds all omni configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Model transport for the AI fallback
	LLM LLMConfig `yaml:"llm"`

	// Understanding pipeline
	Perception PerceptionConfig `yaml:"perception"`
	Context    ContextConfig    `yaml:"context"`
	Resolver   ResolverConfig   `yaml:"resolver"`
	Fallback   FallbackConfig   `yaml:"fallback"`

	// Planning and execution
	Planner   PlannerConfig   `yaml:"planner"`
	Execution ExecutionConfig `yaml:"execution"`

	// Session snapshots
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the session snapshot store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	workers := runtime.NumCPU()
	if workers > 4 {
		workers = 4
	}

	return &Config{
		Name:    "omni",
		Version: "0.3.0",

		LLM: LLMConfig{
			Enabled:  true,
			Provider: "openrouter",
			Model:    DefaultOpenRouterModel,
			BaseURL:  DefaultOpenRouterBaseURL,
			Timeout:  "30s",
		},

		Perception: PerceptionConfig{
			MaxEditDistance:   2,
			MinTokenLength:    4,
			ShortCommandWords: 3,
		},

		Context: ContextConfig{
			WindowSize:   10,
			SummaryTurns: 5,
		},

		Resolver: ResolverConfig{
			HighThreshold:  0.85,
			LowThreshold:   0.40,
			ConfirmIntents: []string{"delete", "configure"},
		},

		Fallback: FallbackConfig{
			MaxRepairPasses: 3,
		},

		Planner: PlannerConfig{
			SafetyCap:       10000,
			DefaultLocation: ".",
		},

		Execution: ExecutionConfig{
			Workers:          workers,
			MaxRetries:       3,
			RetryBackoffBase: "100ms",
			RetryBackoffMax:  "2s",
			StepTimeout:      "30s",
			WorkingDirectory: ".",
			AllowedBinaries: []string{
				"ls", "echo", "cat", "pwd", "git", "go", "python", "python3",
				"node", "npm", "make",
			},
		},

		Store: StoreConfig{
			DatabasePath: filepath.Join(".omni", "sessions.db"),
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
			Format:    "json",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
// Later keys in the chain win: OPENROUTER < OPENAI < GEMINI.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openrouter"
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider != "openai" {
			c.LLM.Provider = "openai"
			c.LLM.BaseURL = DefaultOpenAIBaseURL
			c.LLM.Model = DefaultOpenAIModel
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider != "gemini" {
			c.LLM.Provider = "gemini"
			c.LLM.BaseURL = ""
			c.LLM.Model = DefaultGeminiModel
		}
	}

	if model := os.Getenv("OMNI_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("OMNI_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if dir := os.Getenv("OMNI_WORKDIR"); dir != "" {
		c.Execution.WorkingDirectory = dir
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.Enabled {
		validProvider := false
		for _, p := range ValidProviders {
			if c.LLM.Provider == p {
				validProvider = true
				break
			}
		}
		if !validProvider {
			return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
		}
	}

	r := c.Resolver
	if r.LowThreshold < 0 || r.HighThreshold > 1 || r.LowThreshold >= r.HighThreshold {
		return fmt.Errorf("resolver thresholds must satisfy 0 <= low < high <= 1 (got low=%.2f high=%.2f)",
			r.LowThreshold, r.HighThreshold)
	}
	for _, in := range r.ConfirmIntents {
		if !slices.Contains(ConfirmableIntents, in) {
			return fmt.Errorf("invalid resolver.confirm_intents entry: %s (valid: %v)", in, ConfirmableIntents)
		}
	}
	if c.Perception.MaxEditDistance < 0 {
		return fmt.Errorf("perception.max_edit_distance must be >= 0")
	}
	if c.Perception.MinTokenLength < 1 {
		return fmt.Errorf("perception.min_token_length must be >= 1")
	}
	if c.Context.WindowSize < 1 {
		return fmt.Errorf("context.window_size must be >= 1")
	}
	if c.Fallback.MaxRepairPasses < 1 {
		return fmt.Errorf("fallback.max_repair_passes must be >= 1")
	}
	if c.Planner.SafetyCap < 1 {
		return fmt.Errorf("planner.safety_cap must be >= 1")
	}
	if c.Execution.Workers < 1 {
		return fmt.Errorf("execution.workers must be >= 1")
	}
	if c.Execution.MaxRetries < 0 {
		return fmt.Errorf("execution.max_retries must be >= 0")
	}
	return nil
}
