package config

import (
	"strconv"
	"strings"
	"sync"
)

// OverrideSource supplies runtime configuration overrides, normally backed by
// the store's config_entries table.
type OverrideSource interface {
	AllConfigEntries() (map[string]string, error)
}

// Resolver layers runtime overrides over the file-backed settings and caches
// the result until Invalidate is called. Resolution is lazy; nothing is
// captured at construction time.
type Resolver struct {
	manager   *Manager
	overrides OverrideSource

	mu     sync.Mutex
	cached *Settings
}

// NewResolver builds a resolver over the given manager. The override source
// may be nil until the store is available.
func NewResolver(manager *Manager) *Resolver {
	return &Resolver{manager: manager}
}

// SetOverrideSource wires the store-backed override layer.
func (r *Resolver) SetOverrideSource(src OverrideSource) {
	r.mu.Lock()
	r.overrides = src
	r.cached = nil
	r.mu.Unlock()
}

// Invalidate drops the cached effective settings. Called on PUT /config.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

// Effective resolves the full cascade: settings file, then process
// environment (both applied inside Manager.Load), then store overrides.
func (r *Resolver) Effective() (Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		return *r.cached, nil
	}

	s, err := r.manager.Load()
	if err != nil {
		return Settings{}, err
	}
	if r.overrides != nil {
		entries, err := r.overrides.AllConfigEntries()
		if err != nil {
			return Settings{}, err
		}
		for key, value := range entries {
			applyOverride(&s, key, value)
		}
	}
	r.cached = &s
	return s, nil
}

// applyOverride maps a dotted config key onto the settings struct. Unknown
// keys are ignored so older databases keep loading.
func applyOverride(s *Settings, key, value string) {
	switch key {
	case "subtitles.default_languages":
		var langs []string
		for _, l := range strings.Split(value, ",") {
			if l = strings.TrimSpace(l); l != "" {
				langs = append(langs, l)
			}
		}
		if len(langs) > 0 {
			s.Subtitles.DefaultLanguages = langs
		}
	case "subtitles.upgrade_min_score_delta":
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			s.Subtitles.UpgradeMinScoreDelta = n
		}
	case "subtitles.upgrade_window_days":
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			s.Subtitles.UpgradeWindowDays = n
		}
	case "translation.batch_size":
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			s.Translation.BatchSize = n
		}
	case "translation.chain":
		var chain []string
		for _, b := range strings.Split(value, ",") {
			if b = strings.TrimSpace(b); b != "" {
				chain = append(chain, b)
			}
		}
		if len(chain) > 0 {
			s.Translation.Chain = chain
		}
	case "queue.workers":
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			s.Queue.Workers = n
		}
	case "wanted.rescan_interval_hours":
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			s.Wanted.RescanIntervalHours = n
		}
	case "wanted.search_interval_hours":
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			s.Wanted.SearchIntervalHours = n
		}
	case "notifier.base_url":
		s.Notifier.BaseURL = value
		s.Notifier.Enabled = value != ""
	case "notifier.api_key":
		s.Notifier.APIKey = value
	default:
		if strings.HasPrefix(key, "scoring.episode.") {
			if n, err := strconv.Atoi(value); err == nil {
				if s.Scoring.EpisodeWeights == nil {
					s.Scoring.EpisodeWeights = map[string]int{}
				}
				s.Scoring.EpisodeWeights[strings.TrimPrefix(key, "scoring.episode.")] = n
			}
		} else if strings.HasPrefix(key, "scoring.movie.") {
			if n, err := strconv.Atoi(value); err == nil {
				if s.Scoring.MovieWeights == nil {
					s.Scoring.MovieWeights = map[string]int{}
				}
				s.Scoring.MovieWeights[strings.TrimPrefix(key, "scoring.movie.")] = n
			}
		}
	}
}
