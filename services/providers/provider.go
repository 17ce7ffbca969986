package providers

import (
	"context"
	"fmt"
	"time"

	"sublarr/config"
	"sublarr/models"
)

// RateLimit declares a provider's request budget.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// ConfigField describes one provider configuration key for the UI.
type ConfigField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Secret   bool   `json:"secret"`
	Required bool   `json:"required"`
}

// Provider is one subtitle source. Implementations return raw results; the
// engine scores, sorts and rate-limits — a provider must never pre-sort or
// filter by score.
type Provider interface {
	Name() string
	Languages() []string
	RateLimit() RateLimit
	Timeout() time.Duration
	MaxRetries() int
	ConfigFields() []ConfigField

	Initialize(ctx context.Context) error
	Search(ctx context.Context, query models.VideoQuery, lang string) ([]models.SubtitleResult, error)
	// Download returns the raw payload for a result; decompression and
	// validation happen in the engine.
	Download(ctx context.Context, result models.SubtitleResult) ([]byte, error)
	HealthCheck(ctx context.Context) error
	Terminate()
}

// ProviderFactory builds a provider from its config entry.
type ProviderFactory func(cfg config.ProviderConfig) (Provider, error)

// Registry maps provider names to factories, populated at composition time.
type Registry struct {
	factories map[string]ProviderFactory
}

// NewRegistry creates a registry with the built-in providers.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]ProviderFactory)}
	r.Register("opensubtitles", newOpenSubtitlesProvider)
	r.Register("podnapisi", newPodnapisiProvider)
	r.Register("gestdown", newGestdownProvider)
	return r
}

// Register adds a factory under a name.
func (r *Registry) Register(name string, f ProviderFactory) {
	r.factories[name] = f
}

// Build instantiates the enabled providers in config order.
func (r *Registry) Build(configs []config.ProviderConfig) ([]Provider, error) {
	var out []Provider
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		factory, ok := r.factories[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", cfg.Name)
		}
		p, err := factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("configure provider %s: %w", cfg.Name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// BuildOne instantiates a single provider by name regardless of enablement,
// for operator connectivity tests.
func (r *Registry) BuildOne(configs []config.ProviderConfig, name string) (Provider, error) {
	for _, cfg := range configs {
		if cfg.Name != name {
			continue
		}
		factory, ok := r.factories[name]
		if !ok {
			break
		}
		return factory(cfg)
	}
	return nil, fmt.Errorf("%w: provider %s", models.ErrNotFound, name)
}

func supportsLanguage(p Provider, lang string) bool {
	langs := p.Languages()
	if len(langs) == 0 {
		return true
	}
	for _, l := range langs {
		if l == lang {
			return true
		}
	}
	return false
}
