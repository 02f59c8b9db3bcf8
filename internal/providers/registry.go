// Package providers holds the static table of upstream LLM providers.
package providers

import (
	"fmt"
	"slices"
	"strings"

	"aichat/internal/core"
)

// ProviderConfig holds the connection parameters of one provider.
type ProviderConfig struct {
	EndpointURL     string
	DefaultModel    string
	SupportedModels []string
}

// Entry is one row of the provider table.
type Entry struct {
	ID     core.ProviderID
	Config ProviderConfig
}

// DefaultEntries returns the built-in provider table. Adding a provider
// means adding a row here.
func DefaultEntries() []Entry {
	return []Entry{
		{
			ID: core.ProviderOpenAI,
			Config: ProviderConfig{
				EndpointURL:     "https://api.openai.com/v1/chat/completions",
				DefaultModel:    "gpt-3.5-turbo",
				SupportedModels: []string{"gpt-3.5-turbo", "gpt-4", "gpt-4-turbo-preview"},
			},
		},
		{
			ID: core.ProviderDeepSeek,
			Config: ProviderConfig{
				EndpointURL:     "https://api.deepseek.com/v1/chat/completions",
				DefaultModel:    "deepseek-chat",
				SupportedModels: []string{"deepseek-chat", "deepseek-coder"},
			},
		},
	}
}

// Registry maps provider identifiers to their configuration.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	order   []core.ProviderID
	configs map[core.ProviderID]ProviderConfig
}

// NewRegistry builds a registry from entries. Endpoint overrides, keyed by
// provider id, replace the endpoint URL of the matching entry.
func NewRegistry(entries []Entry, endpointOverrides map[core.ProviderID]string) (*Registry, error) {
	r := &Registry{
		order:   make([]core.ProviderID, 0, len(entries)),
		configs: make(map[core.ProviderID]ProviderConfig, len(entries)),
	}

	for _, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("provider entry without id")
		}
		if _, dup := r.configs[e.ID]; dup {
			return nil, fmt.Errorf("duplicate provider %s", e.ID)
		}
		cfg := ProviderConfig{
			EndpointURL:     e.Config.EndpointURL,
			DefaultModel:    e.Config.DefaultModel,
			SupportedModels: slices.Clone(e.Config.SupportedModels),
		}
		if override := strings.TrimSpace(endpointOverrides[e.ID]); override != "" {
			cfg.EndpointURL = override
		}
		if cfg.EndpointURL == "" {
			return nil, fmt.Errorf("provider %s: endpoint URL is required", e.ID)
		}
		if !slices.Contains(cfg.SupportedModels, cfg.DefaultModel) {
			return nil, fmt.Errorf("provider %s: default model %q is not in its supported models", e.ID, cfg.DefaultModel)
		}
		r.order = append(r.order, e.ID)
		r.configs[e.ID] = cfg
	}

	for id := range endpointOverrides {
		if _, ok := r.configs[id]; !ok {
			return nil, fmt.Errorf("endpoint override for unknown provider %s", id)
		}
	}

	return r, nil
}

// Resolve returns the configuration of a provider, or an
// unsupported-provider error when id is unknown.
func (r *Registry) Resolve(id core.ProviderID) (ProviderConfig, error) {
	cfg, ok := r.configs[id]
	if !ok {
		return ProviderConfig{}, core.NewUnsupportedProviderError(id)
	}
	cfg.SupportedModels = slices.Clone(cfg.SupportedModels)
	return cfg, nil
}

// ListModels returns the supported models of a provider, or an empty slice
// when id is unknown.
func (r *Registry) ListModels(id core.ProviderID) []string {
	cfg, ok := r.configs[id]
	if !ok {
		return []string{}
	}
	return slices.Clone(cfg.SupportedModels)
}

// IDs returns the registered providers in table order.
func (r *Registry) IDs() []core.ProviderID {
	return slices.Clone(r.order)
}

// EffectiveModel returns model when set, otherwise the provider default.
func (c ProviderConfig) EffectiveModel(model string) string {
	if model != "" {
		return model
	}
	return c.DefaultModel
}
