package completion

import "testing"

func TestNewProviderSelectsByName(t *testing.T) {
	opts := Options{
		OpenRouterAPIKey: "or-key",
		OpenRouterModel:  "some/model",
		OpenAIAPIKey:     "oa-key",
		OpenAIModel:      "gpt-4o-mini",
	}

	for _, name := range []string{"openrouter", "OpenRouter", " openrouter ", ""} {
		p, err := NewProvider(name, opts)
		if err != nil {
			t.Fatalf("NewProvider(%q): %v", name, err)
		}
		if _, ok := p.(*OpenRouterProvider); !ok {
			t.Fatalf("NewProvider(%q) = %T, want *OpenRouterProvider", name, p)
		}
	}

	p, err := NewProvider("openai", opts)
	if err != nil {
		t.Fatalf("NewProvider(openai): %v", err)
	}
	if _, ok := p.(*OpenAIProvider); !ok {
		t.Fatalf("NewProvider(openai) = %T, want *OpenAIProvider", p)
	}
}

func TestNewProviderRejectsUnknownName(t *testing.T) {
	if _, err := NewProvider("bard", Options{}); err == nil {
		t.Fatal("expected an error for an unknown provider name")
	}
}
