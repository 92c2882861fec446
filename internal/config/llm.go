package config

import "time"

const (
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultOpenRouterModel   = "mistralai/devstral-2512:free"
	DefaultOpenAIBaseURL     = "https://api.openai.com/v1"
	DefaultOpenAIModel       = "gpt-4o-mini"
	DefaultGeminiModel       = "gemini-2.5-flash"
)

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"openrouter", "openai", "gemini"}

// LLMConfig configures the model transport used by the AI fallback.
type LLMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // openrouter, openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// GetTimeout returns the per-call model timeout as a duration.
func (c LLMConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Usable reports whether the fallback can reach a model at all.
func (c LLMConfig) Usable() bool {
	return c.Enabled && c.APIKey != ""
}
