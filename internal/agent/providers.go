package agent

import (
	"fmt"

	"github.com/rahul/sovereign/pkg/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewModel builds the language model client for a configured provider.
func NewModel(name string, p config.ProviderConfig) (llms.Model, error) {
	switch name {
	case "openai", "openrouter":
		if p.APIKey == "" {
			return nil, fmt.Errorf("provider %s: missing api key", name)
		}
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.New(opts...)

	case "anthropic":
		if p.APIKey == "" {
			return nil, fmt.Errorf("provider %s: missing api key", name)
		}
		opts := []anthropic.Option{
			anthropic.WithToken(p.APIKey),
			anthropic.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(p.BaseURL))
		}
		return anthropic.New(opts...)

	case "ollama":
		opts := []ollama.Option{ollama.WithModel(p.Model)}
		if p.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(p.BaseURL))
		}
		return ollama.New(opts...)

	case "":
		return nil, fmt.Errorf("no enabled provider found in config")

	default:
		return nil, fmt.Errorf("provider %s not supported", name)
	}
}
