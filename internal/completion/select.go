package completion

import (
	"fmt"
	"strings"
)

// Options carries credentials and endpoints for every backend; the
// selected backend reads only its own fields.
type Options struct {
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

// NewProvider selects the completion backend by name. An empty name
// defaults to OpenRouter.
func NewProvider(name string, o Options) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "openrouter":
		return NewOpenRouterProvider(o.OpenRouterBaseURL, o.OpenRouterAPIKey, o.OpenRouterModel, o.OpenRouterSiteURL, o.OpenRouterAppName), nil
	case "openai":
		return NewOpenAIProvider(o.OpenAIAPIKey, o.OpenAIBaseURL, o.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", name)
	}
}
