package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// Router is the model client the agent talks to. The primary provider
// (llm.provider) answers every model; llm.models entries send single
// models to another provider, e.g. a cheap Anthropic model while the
// rest goes through OpenRouter.
type Router struct {
	primary   string
	providers map[string]Client
	routes    map[string]string // model -> provider
	logger    *slog.Logger
}

// NewRouter returns a router that sends everything to primary.
func NewRouter(primaryName string, primary Client, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		primary:   primaryName,
		providers: map[string]Client{primaryName: primary},
		routes:    make(map[string]string),
		logger:    logger,
	}
}

// HasProvider reports whether a client is registered under name.
func (r *Router) HasProvider(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// AddProvider registers the client for a provider name, replacing any
// earlier one.
func (r *Router) AddProvider(name string, client Client) {
	r.providers[name] = client
}

// Route sends requests for model to provider, which must already be
// registered.
func (r *Router) Route(model, provider string) error {
	if !r.HasProvider(provider) {
		return fmt.Errorf("route %s: unknown provider %q", model, provider)
	}
	r.routes[model] = provider
	return nil
}

// ProviderFor names the provider that serves model.
func (r *Router) ProviderFor(model string) string {
	if provider, ok := r.routes[model]; ok {
		return provider
	}
	return r.primary
}

// Chat sends req to the provider that serves req.Model.
func (r *Router) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	provider := r.ProviderFor(req.Model)
	client := r.providers[provider]
	if client == nil {
		return nil, fmt.Errorf("no client for provider %q (model %q)", provider, req.Model)
	}
	r.logger.Debug("routing chat request", "model", req.Model, "provider", provider)
	return client.Chat(ctx, req)
}

// Ping checks every provider that supports it and reports the failures
// together. A router whose providers cannot be pinged is an error.
func (r *Router) Ping(ctx context.Context) error {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	pinged := 0
	for _, name := range names {
		p, ok := r.providers[name].(Pinger)
		if !ok {
			continue
		}
		pinged++
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if pinged == 0 {
		return errors.New("no provider supports ping")
	}
	return errors.Join(errs...)
}
