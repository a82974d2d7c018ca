package provider

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/competitor-intel/internal/cost"
	"github.com/sells-group/competitor-intel/internal/credential"
	"github.com/sells-group/competitor-intel/pkg/anthropic"
	"github.com/sells-group/competitor-intel/pkg/perplexity"
)

// Factory builds an adapter from a provider secret.
type Factory func(ctx context.Context, secret string, s ProviderSettings, calc *cost.Calculator) (Adapter, error)

// DefaultFactories returns the factory for every supported provider.
func DefaultFactories() map[Name]Factory {
	return map[Name]Factory{
		Anthropic: func(_ context.Context, secret string, s ProviderSettings, calc *cost.Calculator) (Adapter, error) {
			var opts []option.RequestOption
			if s.BaseURL != "" {
				opts = append(opts, option.WithBaseURL(s.BaseURL))
			}
			return NewAnthropic(anthropic.NewClient(secret, opts...), s, calc), nil
		},
		Perplexity: func(_ context.Context, secret string, s ProviderSettings, calc *cost.Calculator) (Adapter, error) {
			opts := []perplexity.Option{perplexity.WithModel(s.Model)}
			if s.BaseURL != "" {
				opts = append(opts, perplexity.WithBaseURL(s.BaseURL))
			}
			return NewPerplexity(perplexity.NewClient(secret, opts...), s, calc), nil
		},
		Gemini: NewGemini,
	}
}

// Registry holds the adapters available to a pool, keyed by provider.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Name]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Name]Adapter)}
}

// Register adds or replaces the adapter for a.Name().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for n.
func (r *Registry) Get(n Name) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[n]
	return a, ok
}

// Names returns the registered providers in Names() order.
func (r *Registry) Names() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Name
	for _, n := range Names() {
		if _, ok := r.adapters[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Close releases adapters that hold connections.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, a := range r.adapters {
		if c, ok := a.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Build registers an adapter for every provider that has a factory and a
// credential. Providers without a credential are skipped.
func Build(ctx context.Context, creds credential.Store, settings Settings, calc *cost.Calculator, factories map[Name]Factory) (*Registry, error) {
	reg := NewRegistry()
	for _, name := range Names() {
		f, ok := factories[name]
		if !ok {
			continue
		}
		secret, err := creds.GetCredential(ctx, string(name))
		if errors.Is(err, credential.ErrNotFound) {
			zap.L().Info("provider: no credential, skipping", zap.String("provider", string(name)))
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "provider: credential for %s", name)
		}
		a, err := f(ctx, secret, settings.For(name), calc)
		if err != nil {
			_ = reg.Close()
			return nil, eris.Wrapf(err, "provider: build %s", name)
		}
		reg.Register(a)
	}
	return reg, nil
}
