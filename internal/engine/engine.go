package engine

import (
	"context"
	"fmt"
)

// Engine abstracts an inference backend (a local Ollama server, any
// OpenAI-compatible endpoint, or Gemini). Pipeline stages never see this
// interface directly; they consume the single-method Completer and Embedder
// adapters instead.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	Chat(ctx context.Context, model string, messages []Message) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool
}

// ModelManager is implemented by backends that host models locally and can
// download missing ones.
type ModelManager interface {
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// Provider names accepted by New.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Options selects and configures a backend.
type Options struct {
	Provider  string
	BaseURL   string
	APIKey    string
	ChatModel string
}

// New builds the Engine named by opts.Provider.
func New(ctx context.Context, opts Options) (Engine, error) {
	switch opts.Provider {
	case "", ProviderOllama:
		return NewOllamaEngine(opts.BaseURL), nil
	case ProviderOpenAI:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("provider %s requires an API key", opts.Provider)
		}
		return NewOpenAIEngine(opts.APIKey, opts.BaseURL), nil
	case ProviderGemini:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("provider %s requires an API key", opts.Provider)
		}
		return NewGeminiEngine(ctx, opts.APIKey, opts.ChatModel)
	default:
		return nil, fmt.Errorf("unknown engine provider %q", opts.Provider)
	}
}
