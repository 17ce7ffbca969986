package translation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"sublarr/config"
)

// Batch is one chunk of lines submitted to a backend. Lines arrive stripped
// of inline tags; embedded newlines are hard breaks and must survive.
type Batch struct {
	Lines      []string
	SourceLang string
	TargetLang string
	Glossary   map[string]string // only prompted backends consume this
	StyleHints string
}

// LanguagePair is one supported (source, target) combination.
type LanguagePair struct {
	Source string
	Target string
}

// Backend is one translation service. Implementations live in this package;
// adding one requires only its file and a registry entry.
type Backend interface {
	Name() string
	TranslateBatch(ctx context.Context, batch Batch) ([]string, error)
	HealthCheck(ctx context.Context) error
	// SupportedPairs returns nil when any pair is accepted.
	SupportedPairs() []LanguagePair
	SupportsBatch() bool
	MaxBatchSize() int
	// Prompted backends receive the glossary inside their prompt; for the
	// rest the engine substitutes terms on word boundaries beforehand.
	Prompted() bool
}

// BackendFactory builds a backend from its config entry.
type BackendFactory func(cfg config.BackendConfig) (Backend, error)

// Registry maps backend names to factories. Populated at composition time.
type Registry struct {
	factories map[string]BackendFactory
}

// NewRegistry creates a registry with the built-in backends.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]BackendFactory)}
	r.Register("ollama", newOllamaBackend)
	r.Register("openai", newOpenAIBackend)
	r.Register("deepl", newDeepLBackend)
	r.Register("libretranslate", newLibreTranslateBackend)
	r.Register("google", newGoogleBackend)
	return r
}

// Register adds a factory under a name.
func (r *Registry) Register(name string, f BackendFactory) {
	r.factories[name] = f
}

// Build instantiates the enabled backends from settings, keyed by name.
func (r *Registry) Build(configs []config.BackendConfig) (map[string]Backend, error) {
	backends := make(map[string]Backend)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		factory, ok := r.factories[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("unknown translation backend %q", cfg.Name)
		}
		b, err := factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("configure backend %s: %w", cfg.Name, err)
		}
		backends[cfg.Name] = b
	}
	return backends, nil
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// supportsPair reports whether the backend can translate source → target.
func supportsPair(b Backend, source, target string) bool {
	pairs := b.SupportedPairs()
	if pairs == nil {
		return true
	}
	for _, p := range pairs {
		if strings.EqualFold(p.Source, source) && strings.EqualFold(p.Target, target) {
			return true
		}
	}
	return false
}
