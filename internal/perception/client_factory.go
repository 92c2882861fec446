package perception

import (
	"context"
	"errors"
	"fmt"

	"github.com/grim-sudo/Automation/internal/config"
)

// ErrModelNotConfigured is returned when the fallback has no usable model.
var ErrModelNotConfigured = errors.New("no model configured; set OPENROUTER_API_KEY, OPENAI_API_KEY or GEMINI_API_KEY")

// NewClientFromConfig creates the model transport for the configured provider.
func NewClientFromConfig(ctx context.Context, cfg config.LLMConfig) (LLMClient, error) {
	if !cfg.Usable() {
		return nil, ErrModelNotConfigured
	}

	switch cfg.Provider {
	case "openrouter", "":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOpenRouterBaseURL
		}
		model := cfg.Model
		if model == "" {
			model = config.DefaultOpenRouterModel
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey: cfg.APIKey, BaseURL: baseURL, Model: model,
			Label: "OpenRouter", Timeout: cfg.GetTimeout(),
		}), nil
	case "openai":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOpenAIBaseURL
		}
		model := cfg.Model
		if model == "" {
			model = config.DefaultOpenAIModel
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey: cfg.APIKey, BaseURL: baseURL, Model: model,
			Label: "OpenAI", Timeout: cfg.GetTimeout(),
		}), nil
	case "gemini":
		model := cfg.Model
		if model == "" {
			model = config.DefaultGeminiModel
		}
		return NewGeminiClient(ctx, cfg.APIKey, model, cfg.GetTimeout())
	}
	return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
}
