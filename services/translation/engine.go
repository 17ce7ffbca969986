package translation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"sublarr/config"
	"sublarr/models"
)

// HealthStore persists per-backend health counters.
type HealthStore interface {
	RecordBackendResult(backend string, success bool, latency time.Duration) error
	SetBackendAutoDisabled(backend string, until *time.Time) error
	GetBackend(backend string) (models.BackendHealth, error)
}

// Request is one translation call. Lines are pre-stripped of inline tags;
// embedded newlines are hard breaks and must survive 1:1.
type Request struct {
	Lines            []string
	SourceLang       string
	TargetLang       string
	SeriesGlossary   map[string]string // overrides the global glossary
	StyleHints       string
	PreferredBackend string
	FallbackChain    []string
}

// Result carries the translated lines, in source order, one per input line.
type Result struct {
	TranslatedLines []string
	BackendUsed     string
}

// Engine routes translation requests through the configured backend chain
// with batching, retries, validation and health tracking.
type Engine struct {
	cfg      *config.Resolver
	registry *Registry
	health   HealthStore

	mu       sync.Mutex
	backends map[string]Backend
	digest   string

	retryDelays []time.Duration // overridable in tests
}

// NewEngine builds the translation engine.
func NewEngine(cfg *config.Resolver, registry *Registry, health HealthStore) *Engine {
	return &Engine{
		cfg:         cfg,
		registry:    registry,
		health:      health,
		retryDelays: []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second},
	}
}

// Invalidate drops the cached backend set; the next call rebuilds it from
// config. Called when translation settings change.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.backends = nil
	e.digest = ""
	e.mu.Unlock()
}

// Translate fulfils the engine contract: len(result.TranslatedLines) ==
// len(req.Lines) or an error.
func (e *Engine) Translate(ctx context.Context, req Request) (Result, error) {
	if len(req.Lines) == 0 {
		return Result{TranslatedLines: []string{}}, nil
	}

	settings, err := e.cfg.Effective()
	if err != nil {
		return Result{}, err
	}
	chain, err := e.resolveChain(settings, req)
	if err != nil {
		return Result{}, err
	}
	if len(chain) == 0 {
		return Result{}, models.NewTranslationError("", models.BackendUnavailable,
			errors.New("no enabled translation backend supports this language pair; configure one under translation.backends"))
	}

	glossary := mergeGlossaries(settings.Translation.Glossary, req.SeriesGlossary)

	var lastErr error
	for _, backend := range chain {
		lines, err := e.translateWithBackend(ctx, backend, req, glossary, settings)
		if err == nil {
			return Result{TranslatedLines: lines, BackendUsed: backend.Name()}, nil
		}
		lastErr = err

		var terr *models.TranslationError
		if errors.As(err, &terr) {
			if terr.Kind == models.BackendAuthInvalid {
				log.Printf("[translation] backend %s auth invalid, skipping", backend.Name())
				continue
			}
			if terr.Transient() {
				log.Printf("[translation] backend %s unavailable, trying next: %v", backend.Name(), err)
				continue
			}
		}
		return Result{}, err
	}
	return Result{}, lastErr
}

// HealthCheck probes one backend by name.
func (e *Engine) HealthCheck(ctx context.Context, name string) error {
	backends, err := e.currentBackends()
	if err != nil {
		return err
	}
	b, ok := backends[name]
	if !ok {
		return fmt.Errorf("%w: backend %s not enabled", models.ErrNotFound, name)
	}
	return b.HealthCheck(ctx)
}

func (e *Engine) currentBackends() (map[string]Backend, error) {
	settings, err := e.cfg.Effective()
	if err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(settings.Translation.Backends)
	sum := sha256.Sum256(raw)
	digest := hex.EncodeToString(sum[:8])

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backends != nil && e.digest == digest {
		return e.backends, nil
	}
	backends, err := e.registry.Build(settings.Translation.Backends)
	if err != nil {
		return nil, err
	}
	e.backends = backends
	e.digest = digest
	return backends, nil
}

// resolveChain orders candidate backends: preferred first, then the request
// chain, then the configured chain. Auto-disabled backends and backends not
// supporting the pair are dropped.
func (e *Engine) resolveChain(settings config.Settings, req Request) ([]Backend, error) {
	backends, err := e.currentBackends()
	if err != nil {
		return nil, err
	}

	var names []string
	if req.PreferredBackend != "" {
		names = append(names, req.PreferredBackend)
	}
	names = append(names, req.FallbackChain...)
	names = append(names, settings.Translation.Chain...)

	seen := make(map[string]bool)
	now := time.Now().UTC()
	var chain []Backend
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		b, ok := backends[name]
		if !ok {
			continue
		}
		if !supportsPair(b, req.SourceLang, req.TargetLang) {
			continue
		}
		if e.health != nil {
			h, err := e.health.GetBackend(name)
			if err == nil && h.AutoDisabledUntil != nil && h.AutoDisabledUntil.After(now) {
				log.Printf("[translation] backend %s auto-disabled until %s", name, h.AutoDisabledUntil.Format(time.RFC3339))
				continue
			}
		}
		chain = append(chain, b)
	}
	return chain, nil
}

func (e *Engine) translateWithBackend(ctx context.Context, b Backend, req Request, glossary map[string]string, settings config.Settings) ([]string, error) {
	batchSize := settings.Translation.BatchSize
	if max := b.MaxBatchSize(); max > 0 && batchSize > max {
		batchSize = max
	}
	if !b.SupportsBatch() {
		batchSize = 1
	}

	lines := req.Lines
	if !b.Prompted() && len(glossary) > 0 {
		lines = applyGlossary(lines, glossary)
	}

	out := make([]string, 0, len(lines))
	for start := 0; start < len(lines); start += batchSize {
		end := start + batchSize
		if end > len(lines) {
			end = len(lines)
		}
		chunk := Batch{
			Lines:      lines[start:end],
			SourceLang: req.SourceLang,
			TargetLang: req.TargetLang,
			StyleHints: req.StyleHints,
		}
		if b.Prompted() {
			chunk.Glossary = glossary
		}
		translated, err := e.translateChunk(ctx, b, chunk, settings)
		if err != nil {
			return nil, err
		}
		out = append(out, translated...)
	}

	if len(out) != len(req.Lines) {
		return nil, models.NewTranslationError(b.Name(), models.LineCountMismatch,
			fmt.Errorf("got %d lines for %d inputs", len(out), len(req.Lines)))
	}
	return out, nil
}

// translateChunk drives one chunk through the retry ladder: up to three full
// retries with backoff, then single-line fallback.
func (e *Engine) translateChunk(ctx context.Context, b Backend, chunk Batch, settings config.Settings) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt <= len(e.retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, models.NewPipelineError(models.PipelineCancelled, ctx.Err())
			case <-time.After(e.retryDelays[attempt-1]):
			}
		}
		out, err := e.callBackend(ctx, b, chunk, settings)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var terr *models.TranslationError
		retryable := errors.As(err, &terr) &&
			(terr.Kind == models.LineCountMismatch || terr.Kind == models.HallucinationDetected || terr.Transient())
		if !retryable {
			return nil, err
		}
	}

	if len(chunk.Lines) == 1 {
		return nil, lastErr
	}
	log.Printf("[translation] backend %s: chunk of %d failed (%v), falling back to single-line mode", b.Name(), len(chunk.Lines), lastErr)
	return e.singleLineFallback(ctx, b, chunk, settings)
}

func (e *Engine) singleLineFallback(ctx context.Context, b Backend, chunk Batch, settings config.Settings) ([]string, error) {
	out := make([]string, 0, len(chunk.Lines))
	for i, line := range chunk.Lines {
		single := chunk
		single.Lines = []string{line}
		translated, err := e.callBackend(ctx, b, single, settings)
		if err != nil {
			var terr *models.TranslationError
			if errors.As(err, &terr) && terr.Kind == models.HallucinationDetected {
				return nil, models.NewTranslationError(b.Name(), models.HallucinationDetected,
					fmt.Errorf("line %d rejected twice: %w", i+1, err))
			}
			return nil, err
		}
		out = append(out, translated[0])
	}
	return out, nil
}

// callBackend performs one timed backend call, validates the output and
// records health.
func (e *Engine) callBackend(ctx context.Context, b Backend, chunk Batch, settings config.Settings) ([]string, error) {
	timeout := time.Duration(settings.Translation.RequestTimeout) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := b.TranslateBatch(callCtx, chunk)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = models.NewTranslationError(b.Name(), models.BackendTimeout, err)
		}
		e.recordResult(b.Name(), false, elapsed, settings)
		return nil, err
	}
	if len(out) != len(chunk.Lines) {
		e.recordResult(b.Name(), false, elapsed, settings)
		return nil, models.NewTranslationError(b.Name(), models.LineCountMismatch,
			fmt.Errorf("got %d lines for %d inputs", len(out), len(chunk.Lines)))
	}

	for i, translated := range out {
		if issue := validateLine(chunk.Lines[i], translated, chunk.SourceLang, chunk.TargetLang); issue != nil {
			e.recordResult(b.Name(), false, elapsed, settings)
			kind := models.HallucinationDetected
			return nil, models.NewTranslationError(b.Name(), kind,
				fmt.Errorf("line %d: %s", i+1, issue.Reason))
		}
		if lengthRatioSuspicious(chunk.Lines[i], translated) {
			log.Printf("[translation] backend %s: suspicious length ratio on line %d", b.Name(), i+1)
		}
	}

	e.recordResult(b.Name(), true, elapsed, settings)
	return out, nil
}

func (e *Engine) recordResult(backend string, success bool, latency time.Duration, settings config.Settings) {
	if e.health == nil {
		return
	}
	if err := e.health.RecordBackendResult(backend, success, latency); err != nil {
		log.Printf("[translation] record health for %s: %v", backend, err)
		return
	}
	if success {
		return
	}
	h, err := e.health.GetBackend(backend)
	if err != nil {
		return
	}
	if h.ConsecutiveFailures >= settings.Translation.FailureThreshold {
		until := time.Now().UTC().Add(time.Duration(settings.Translation.DisableCooldown) * time.Minute)
		if err := e.health.SetBackendAutoDisabled(backend, &until); err == nil {
			log.Printf("[translation] backend %s auto-disabled until %s after %d consecutive failures",
				backend, until.Format(time.RFC3339), h.ConsecutiveFailures)
		}
	}
}

// mergeGlossaries overlays per-series terms on the global glossary.
func mergeGlossaries(global, series map[string]string) map[string]string {
	if len(global) == 0 && len(series) == 0 {
		return nil
	}
	merged := make(map[string]string, len(global)+len(series))
	for k, v := range global {
		merged[k] = v
	}
	for k, v := range series {
		merged[k] = v
	}
	return merged
}

// applyGlossary substitutes source terms with their targets on word
// boundaries before a sentence backend sees the text.
func applyGlossary(lines []string, glossary map[string]string) []string {
	out := make([]string, len(lines))
	copy(out, lines)
	for src, tgt := range glossary {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(src) + `\b`)
		if err != nil {
			continue
		}
		for i := range out {
			out[i] = re.ReplaceAllString(out[i], tgt)
		}
	}
	return out
}
