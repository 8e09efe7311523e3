package providers

import (
	"sort"
	"strings"

	"github.com/mrmushfiq/llm0-gateway/internal/shared/config"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/gateerr"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/models"
)

// Registry resolves provider/model strings to a configured provider adapter.
type Registry struct {
	providers       map[string]Provider
	defaultProvider string
	defaultModels   map[models.Endpoint]string
}

// NewRegistry creates a registry with adapters for every provider that has a
// credential configured.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		providers:       make(map[string]Provider),
		defaultProvider: cfg.DefaultProvider,
		defaultModels: map[models.Endpoint]string{
			models.EndpointChat:       cfg.DefaultChatModel,
			models.EndpointCompletion: cfg.DefaultCompletionModel,
			models.EndpointEmbedding:  cfg.DefaultEmbeddingModel,
			models.EndpointImage:      cfg.DefaultImageModel,
		},
	}

	// Initialize providers based on available API keys
	if cfg.OpenAIAPIKey != "" {
		r.Register(NewOpenAIProvider(cfg.OpenAIAPIKey))
	}
	if cfg.AnthropicAPIKey != "" {
		r.Register(NewAnthropicProvider(cfg.AnthropicAPIKey))
	}
	if cfg.GeminiAPIKey != "" {
		r.Register(NewGeminiProvider(cfg.GeminiAPIKey))
	}

	return r
}

// Register adds a provider adapter under its name.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Configured returns the sorted names of registered providers.
func (r *Registry) Configured() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve normalizes the raw provider/model request fields into a registered
// adapter and concrete model id. A model of the form "provider/model" wins
// over the separate provider field and over the configured default provider.
// Resolution fails before any rate-limit or credit consumption when the
// provider has no configured credential.
func (r *Registry) Resolve(endpoint models.Endpoint, rawProvider, rawModel string) (Provider, string, string, error) {
	provider := rawProvider
	model := rawModel

	if idx := strings.Index(rawModel, "/"); idx >= 0 {
		provider = rawModel[:idx]
		model = rawModel[idx+1:]
	}

	if provider == "" {
		provider = r.defaultProvider
	}
	if model == "" {
		model = r.defaultModels[endpoint]
	}

	p, ok := r.providers[provider]
	if !ok {
		return nil, "", "", gateerr.ProviderNotConfigured(provider, r.Configured())
	}
	if model == "" {
		return nil, "", "", gateerr.InvalidRequest("no model specified and no default model configured for endpoint " + string(endpoint))
	}

	return p, provider, model, nil
}
