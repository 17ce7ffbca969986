package providers

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sublarr/config"
	"sublarr/models"
)

// mockProvider is a scriptable in-memory provider.
type mockProvider struct {
	name     string
	timeout  time.Duration
	retries  int
	priority int
	delay    time.Duration
	err      error
	results  []models.SubtitleResult

	searchCalls atomic.Int64
}

func (m *mockProvider) Name() string                      { return m.name }
func (m *mockProvider) Languages() []string               { return nil }
func (m *mockProvider) RateLimit() RateLimit              { return RateLimit{Requests: 100, Window: time.Second} }
func (m *mockProvider) Timeout() time.Duration            { return m.timeout }
func (m *mockProvider) MaxRetries() int                   { return m.retries }
func (m *mockProvider) ConfigFields() []ConfigField       { return nil }
func (m *mockProvider) Initialize(context.Context) error  { return nil }
func (m *mockProvider) HealthCheck(context.Context) error { return m.err }
func (m *mockProvider) Terminate()                        {}

func (m *mockProvider) Search(ctx context.Context, query models.VideoQuery, lang string) ([]models.SubtitleResult, error) {
	m.searchCalls.Add(1)
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	out := make([]models.SubtitleResult, len(m.results))
	copy(out, m.results)
	for i := range out {
		out[i].Language = lang
	}
	return out, nil
}

func (m *mockProvider) Download(ctx context.Context, result models.SubtitleResult) ([]byte, error) {
	return []byte("1\n00:00:01,000 --> 00:00:02,000\nHello there everyone here\n"), nil
}

func testEngine(t *testing.T, mocks ...*mockProvider) *Engine {
	t.Helper()

	settings := config.DefaultSettings()
	settings.Providers = nil
	registry := NewRegistry()
	for _, m := range mocks {
		m := m
		registry.Register(m.name, func(config.ProviderConfig) (Provider, error) { return m, nil })
		settings.Providers = append(settings.Providers, config.ProviderConfig{
			Name: m.name, Enabled: true, Priority: m.priority,
		})
	}

	manager := config.NewManager(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, manager.Save(settings))
	return NewEngine(config.NewResolver(manager), registry, nil, nil)
}

func matched(id string, format models.SubtitleFormat, matches ...string) models.SubtitleResult {
	res := models.SubtitleResult{ID: id, Format: format}
	for _, m := range matches {
		res.AddMatch(m)
	}
	return res
}

func TestSearchMergesAndSortsByScore(t *testing.T) {
	a := &mockProvider{name: "alpha", timeout: time.Second, priority: 1, results: []models.SubtitleResult{
		matched("low", models.FormatSRT, MatchSeries),
		matched("high", models.FormatSRT, MatchHash),
	}}
	b := &mockProvider{name: "beta", timeout: time.Second, priority: 2, results: []models.SubtitleResult{
		matched("styled", models.FormatASS, MatchSeries),
	}}

	engine := testEngine(t, a, b)
	results, err := engine.Search(context.Background(), episodeQuery(), "de", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "high", results[0].ID)   // hash wins
	assert.Equal(t, "styled", results[1].ID) // series + format bonus
	assert.Equal(t, "low", results[2].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchFormatBonusBreaksTies(t *testing.T) {
	a := &mockProvider{name: "alpha", timeout: time.Second, priority: 1, results: []models.SubtitleResult{
		matched("plain", models.FormatSRT, MatchHash, MatchSeries),
	}}
	b := &mockProvider{name: "beta", timeout: time.Second, priority: 2, results: []models.SubtitleResult{
		matched("styled", models.FormatASS, MatchHash, MatchSeries),
	}}

	engine := testEngine(t, a, b)
	results, err := engine.Search(context.Background(), episodeQuery(), "de", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "styled", results[0].ID)
}

func TestSearchSlowProviderDoesNotBlockFastOnes(t *testing.T) {
	fast := &mockProvider{name: "fast", timeout: 300 * time.Millisecond, priority: 1, results: []models.SubtitleResult{
		matched("quick", models.FormatSRT, MatchSeries),
	}}
	slow := &mockProvider{name: "slow", timeout: 100 * time.Millisecond, delay: 10 * time.Second, priority: 2}

	engine := testEngine(t, fast, slow)
	start := time.Now()
	results, err := engine.Search(context.Background(), episodeQuery(), "de", SearchOptions{})
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "quick", results[0].ID)
	assert.Less(t, elapsed, 5*time.Second, "the slow provider is cut off at its timeout")

	// The cancelled slow search counts as one breaker failure.
	engine.mu.Lock()
	slowState := engine.states["slow"]
	engine.mu.Unlock()
	assert.Equal(t, 1, slowState.breaker.ConsecutiveFailures())
}

func TestSearchSkipsOpenCircuit(t *testing.T) {
	failing := &mockProvider{name: "flaky", timeout: 200 * time.Millisecond, err: errors.New("boom")}
	engine := testEngine(t, failing)
	engine.failureThreshold = 5

	for i := 0; i < 5; i++ {
		_, err := engine.Search(context.Background(), episodeQuery(), "de", SearchOptions{})
		require.Error(t, err)
	}
	callsBefore := failing.searchCalls.Load()

	// Circuit is open: the provider is skipped, not failed.
	results, err := engine.Search(context.Background(), episodeQuery(), "de", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, callsBefore, failing.searchCalls.Load())
}

func TestSearchStripsProviderScores(t *testing.T) {
	sneaky := &mockProvider{name: "sneaky", timeout: time.Second, results: []models.SubtitleResult{
		{ID: "x", Format: models.FormatSRT, Score: 9999},
	}}
	engine := testEngine(t, sneaky)

	results, err := engine.Search(context.Background(), episodeQuery(), "de", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Score, "the engine owns scoring; no matches means zero")
}

func TestSearchFormatFilter(t *testing.T) {
	p := &mockProvider{name: "mixed", timeout: time.Second, results: []models.SubtitleResult{
		matched("srt", models.FormatSRT, MatchSeries),
		matched("ass", models.FormatASS, MatchSeries),
	}}
	engine := testEngine(t, p)

	results, err := engine.Search(context.Background(), episodeQuery(), "de", SearchOptions{FormatFilter: models.FormatASS})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ass", results[0].ID)
}

func TestResetClearsBreaker(t *testing.T) {
	failing := &mockProvider{name: "flaky", timeout: 200 * time.Millisecond, err: errors.New("boom")}
	engine := testEngine(t, failing)

	for i := 0; i < 5; i++ {
		_, _ = engine.Search(context.Background(), episodeQuery(), "de", SearchOptions{})
	}
	engine.Reset("flaky")

	before := failing.searchCalls.Load()
	_, _ = engine.Search(context.Background(), episodeQuery(), "de", SearchOptions{})
	assert.Greater(t, failing.searchCalls.Load(), before, "reset provider is searched again")
}
