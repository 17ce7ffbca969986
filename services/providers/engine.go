package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"sublarr/config"
	"sublarr/models"
)

// searchSlack is added to the longest provider timeout to form the fan-out
// deadline.
const searchSlack = 5 * time.Second

// HealthStore persists per-provider health counters and breaker snapshots.
type HealthStore interface {
	RecordProviderResult(provider string, success bool, latency time.Duration) error
	SetProviderBreaker(provider, state string, openedAt *time.Time) error
	SetProviderAutoDisabled(provider string, until *time.Time) error
	GetProvider(provider string) (models.ProviderHealth, error)
	ListProviders() ([]models.ProviderHealth, error)
	ResetProvider(provider string) error
}

// EventPublisher is the slice of the event bus the engine needs.
type EventPublisher interface {
	Publish(t models.EventType, data any)
}

// providerState is the per-provider runtime: breaker, token bucket and
// auto-disable window. It survives config reloads for unchanged providers.
type providerState struct {
	provider Provider
	breaker  *breaker
	limiter  *limiter
	priority int

	mu                sync.Mutex
	autoDisabledUntil time.Time
}

func (st *providerState) autoDisabled(now time.Time) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.autoDisabledUntil.After(now)
}

// Engine coordinates searches and downloads across all enabled providers
// with scoring, rate limiting and failure isolation.
type Engine struct {
	cfg      *config.Resolver
	registry *Registry
	health   HealthStore
	bus      EventPublisher
	scorer   *scorer

	failureThreshold    int
	breakerCooldown     time.Duration
	autoDisableCooldown time.Duration
	searchConcurrency   int

	mu     sync.Mutex
	states map[string]*providerState
	digest string
}

// NewEngine builds the provider engine.
func NewEngine(cfg *config.Resolver, registry *Registry, health HealthStore, bus EventPublisher) *Engine {
	return &Engine{
		cfg:                 cfg,
		registry:            registry,
		health:              health,
		bus:                 bus,
		scorer:              newScorer(),
		failureThreshold:    5,
		breakerCooldown:     60 * time.Second,
		autoDisableCooldown: 30 * time.Minute,
		searchConcurrency:   4,
		states:              make(map[string]*providerState),
	}
}

// Invalidate drops cached provider instances; the next call rebuilds them.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.digest = ""
	e.mu.Unlock()
}

// currentStates (re)builds provider instances when the config changed,
// preserving breaker and limiter state for providers whose config is stable.
func (e *Engine) currentStates() ([]*providerState, error) {
	settings, err := e.cfg.Effective()
	if err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(settings.Providers)
	sum := sha256.Sum256(raw)
	digest := hex.EncodeToString(sum[:8])

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.digest != digest {
		built, err := e.registry.Build(settings.Providers)
		if err != nil {
			return nil, err
		}
		next := make(map[string]*providerState, len(built))
		for _, p := range built {
			priority := providerPriority(settings.Providers, p.Name())
			if prev, ok := e.states[p.Name()]; ok {
				prev.provider = p
				prev.priority = priority
				next[p.Name()] = prev
				continue
			}
			next[p.Name()] = &providerState{
				provider: p,
				breaker:  newBreaker(e.failureThreshold, e.breakerCooldown),
				limiter:  newLimiter(p.RateLimit()),
				priority: priority,
			}
		}
		for name, prev := range e.states {
			if _, kept := next[name]; !kept {
				prev.provider.Terminate()
			}
		}
		e.states = next
		e.digest = digest
	}

	out := make([]*providerState, 0, len(e.states))
	for _, st := range e.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].priority < out[j].priority })
	return out, nil
}

func providerPriority(configs []config.ProviderConfig, name string) int {
	for _, cfg := range configs {
		if cfg.Name == name {
			if cfg.Priority > 0 {
				return cfg.Priority
			}
			break
		}
	}
	return 100
}

// SearchOptions narrows a search.
type SearchOptions struct {
	FormatFilter models.SubtitleFormat // restrict to one format (e.g. ass for upgrades)
}

// Search queries every eligible provider in parallel and returns the merged
// result list scored and sorted best first. Open-circuit and auto-disabled
// providers are skipped, not failed; a provider error only surfaces when no
// provider produced results.
func (e *Engine) Search(ctx context.Context, query models.VideoQuery, lang string, opts SearchOptions) ([]models.SubtitleResult, error) {
	states, err := e.currentStates()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var eligible []*providerState
	maxTimeout := time.Duration(0)
	for _, st := range states {
		if !supportsLanguage(st.provider, lang) {
			continue
		}
		if st.autoDisabled(now) {
			log.Printf("[providers] %s auto-disabled, skipping", st.provider.Name())
			continue
		}
		if !st.breaker.Allow() {
			log.Printf("[providers] %s circuit open, skipping", st.provider.Name())
			continue
		}
		eligible = append(eligible, st)
		if t := st.provider.Timeout(); t > maxTimeout {
			maxTimeout = t
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	deadline := maxTimeout + searchSlack
	searchCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type searchOutcome struct {
		name    string
		results []models.SubtitleResult
		err     error
		elapsed time.Duration
	}

	// Bounded fan-out: a slow provider must not block faster ones, so
	// results stream through the channel as they complete.
	sem := make(chan struct{}, e.searchConcurrency)
	outcomes := make(chan searchOutcome, len(eligible))
	for _, st := range eligible {
		go func(st *providerState) {
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			results, err := e.searchOne(searchCtx, st, query, lang)
			outcomes <- searchOutcome{
				name:    st.provider.Name(),
				results: results,
				err:     err,
				elapsed: time.Since(start),
			}
		}(st)
	}

	settings, err := e.cfg.Effective()
	if err != nil {
		return nil, err
	}
	table := e.scorer.table(settings.Scoring)

	var (
		merged []models.SubtitleResult
		errs   []error
		seen   = make(map[string]struct{})
	)
	for range eligible {
		oc := <-outcomes
		payload := models.ProviderSearchPayload{Provider: oc.name, Results: len(oc.results), ElapsedMS: oc.elapsed.Milliseconds()}
		if oc.err != nil {
			payload.Error = oc.err.Error()
			log.Printf("[providers] %s search failed after %s: %v", oc.name, oc.elapsed.Round(10*time.Millisecond), oc.err)
			errs = append(errs, oc.err)
		} else {
			log.Printf("[providers] %s returned %d results in %s", oc.name, len(oc.results), oc.elapsed.Round(10*time.Millisecond))
		}
		if e.bus != nil {
			e.bus.Publish(models.EventProviderSearchCompleted, payload)
		}
		for _, res := range oc.results {
			if res.Language != lang {
				continue
			}
			if opts.FormatFilter != "" && opts.FormatFilter != models.FormatUnknown {
				wantStyled := opts.FormatFilter.IsStyled()
				if wantStyled && !res.Format.IsStyled() {
					continue
				}
				if !wantStyled && res.Format != opts.FormatFilter {
					continue
				}
			}
			key := res.Provider + ":" + res.ID
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			res.Score = table.Score(query, res)
			merged = append(merged, res)
		}
	}

	if len(merged) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	priorities := make(map[string]int, len(states))
	for _, st := range states {
		priorities[st.provider.Name()] = st.priority
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].Format.IsStyled() != merged[j].Format.IsStyled() {
			return merged[i].Format.IsStyled()
		}
		return priorities[merged[i].Provider] < priorities[merged[j].Provider]
	})
	return merged, nil
}

// searchOne runs a single provider search inside the resilience pipeline:
// rate-limit token, timed call with retries, health counters, breaker.
func (e *Engine) searchOne(ctx context.Context, st *providerState, query models.VideoQuery, lang string) ([]models.SubtitleResult, error) {
	p := st.provider
	if err := st.limiter.Acquire(ctx); err != nil {
		return nil, models.NewProviderError(p.Name(), models.ProviderTimeout, err)
	}

	var results []models.SubtitleResult
	err := e.callWithRetries(ctx, st, func(callCtx context.Context) error {
		var err error
		results, err = p.Search(callCtx, query, lang)
		return err
	})
	if err != nil {
		return nil, err
	}
	// Providers must not leak scores; the engine owns scoring.
	for i := range results {
		results[i].Score = 0
		results[i].Provider = p.Name()
	}
	return results, nil
}

// Download fetches and unwraps the best candidate's payload.
func (e *Engine) Download(ctx context.Context, result models.SubtitleResult) ([]byte, models.SubtitleFormat, error) {
	states, err := e.currentStates()
	if err != nil {
		return nil, models.FormatUnknown, err
	}
	var st *providerState
	for _, s := range states {
		if s.provider.Name() == result.Provider {
			st = s
			break
		}
	}
	if st == nil {
		return nil, models.FormatUnknown, fmt.Errorf("%w: provider %s", models.ErrNotFound, result.Provider)
	}

	if err := st.limiter.Acquire(ctx); err != nil {
		return nil, models.FormatUnknown, models.NewProviderError(result.Provider, models.ProviderTimeout, err)
	}

	var payload []byte
	err = e.callWithRetries(ctx, st, func(callCtx context.Context) error {
		var err error
		payload, err = st.provider.Download(callCtx, result)
		return err
	})
	if err != nil {
		return nil, models.FormatUnknown, err
	}
	return extractSubtitlePayload(result.Provider, payload, result.Filename)
}

// callWithRetries is the single resilience pipeline every provider call goes
// through: timed call, semantic retries, health counters, breaker and
// auto-disable updates. Retry policy: transient errors retry up to the
// provider's MaxRetries with doubling backoff; a rate limit honours
// Retry-After once; auth errors never retry.
func (e *Engine) callWithRetries(ctx context.Context, st *providerState, call func(context.Context) error) error {
	p := st.provider
	backoff := time.Second
	rateLimitRetried := false

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries(); attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, p.Timeout())
		start := time.Now()
		err := call(callCtx)
		elapsed := time.Since(start)
		cancel()

		if err == nil {
			e.recordSuccess(st, elapsed)
			return nil
		}
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// The fan-out deadline expired; count the failure and stop.
			e.recordFailure(st, models.NewProviderError(p.Name(), models.ProviderTimeout, ctx.Err()))
			return models.NewProviderError(p.Name(), models.ProviderTimeout, ctx.Err())
		}

		var perr *models.ProviderError
		if !errors.As(err, &perr) {
			perr = models.NewProviderError(p.Name(), models.ProviderTransient, err)
		}
		lastErr = perr

		switch perr.Kind {
		case models.ProviderAuth:
			e.recordFailure(st, perr)
			return perr
		case models.ProviderRateLimit:
			if rateLimitRetried {
				e.recordFailure(st, perr)
				return perr
			}
			rateLimitRetried = true
			if err := st.limiter.Backoff(ctx, perr.RetryAfter); err != nil {
				e.recordFailure(st, perr)
				return perr
			}
			attempt-- // the rate-limit retry does not consume a regular attempt
			continue
		case models.ProviderTimeout, models.ProviderTransient:
			if attempt == p.MaxRetries() {
				e.recordFailure(st, perr)
				return perr
			}
			select {
			case <-ctx.Done():
				e.recordFailure(st, perr)
				return perr
			case <-time.After(backoff):
			}
			backoff *= 2
		default:
			e.recordFailure(st, perr)
			return perr
		}
	}
	return lastErr
}

func (e *Engine) recordSuccess(st *providerState, elapsed time.Duration) {
	name := st.provider.Name()
	st.breaker.Success()
	st.mu.Lock()
	st.autoDisabledUntil = time.Time{}
	st.mu.Unlock()
	if e.health != nil {
		if err := e.health.RecordProviderResult(name, true, elapsed); err != nil {
			log.Printf("[providers] record health for %s: %v", name, err)
		}
		_ = e.health.SetProviderBreaker(name, st.breaker.State(), nil)
	}
}

func (e *Engine) recordFailure(st *providerState, perr *models.ProviderError) {
	name := st.provider.Name()
	state := st.breaker.Failure()

	now := time.Now().UTC()
	var openedAt *time.Time
	if state == BreakerOpen {
		openedAt = &now
		log.Printf("[providers] circuit for %s opened", name)
	}

	// Auto-disable is independent of the breaker: twice the threshold in
	// consecutive failures parks the provider for a cooldown.
	if st.breaker.ConsecutiveFailures() >= 2*e.failureThreshold {
		until := now.Add(e.autoDisableCooldown)
		st.mu.Lock()
		st.autoDisabledUntil = until
		st.mu.Unlock()
		if e.health != nil {
			_ = e.health.SetProviderAutoDisabled(name, &until)
		}
		log.Printf("[providers] %s auto-disabled until %s", name, until.Format(time.RFC3339))
	}

	if e.health != nil {
		if err := e.health.RecordProviderResult(name, false, 0); err != nil {
			log.Printf("[providers] record health for %s: %v", name, err)
		}
		_ = e.health.SetProviderBreaker(name, state, openedAt)
	}
}

// Test runs an operator-initiated health check and clears breaker and
// auto-disable state on success.
func (e *Engine) Test(ctx context.Context, name string) error {
	settings, err := e.cfg.Effective()
	if err != nil {
		return err
	}
	p, err := e.registry.BuildOne(settings.Providers, name)
	if err != nil {
		return err
	}
	defer p.Terminate()

	if err := p.Initialize(ctx); err != nil {
		return err
	}
	if err := p.HealthCheck(ctx); err != nil {
		return err
	}
	e.Reset(name)
	return nil
}

// Reset clears breaker, auto-disable and counters for a provider.
func (e *Engine) Reset(name string) {
	e.mu.Lock()
	if st, ok := e.states[name]; ok {
		st.breaker.Reset()
		st.mu.Lock()
		st.autoDisabledUntil = time.Time{}
		st.mu.Unlock()
	}
	e.mu.Unlock()
	if e.health != nil {
		_ = e.health.ResetProvider(name)
	}
}

// Status merges runtime breaker state over the persisted health records.
func (e *Engine) Status() ([]models.ProviderHealth, error) {
	var out []models.ProviderHealth
	if e.health != nil {
		persisted, err := e.health.ListProviders()
		if err != nil {
			return nil, err
		}
		out = persisted
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	index := make(map[string]int, len(out))
	for i, h := range out {
		index[h.Provider] = i
	}
	for name, st := range e.states {
		if i, ok := index[name]; ok {
			out[i].BreakerState = st.breaker.State()
			continue
		}
		out = append(out, models.ProviderHealth{Provider: name, BreakerState: st.breaker.State()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}
