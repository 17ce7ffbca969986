package translation

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sublarr/config"
	"sublarr/models"
)

// mockBackend is a scriptable in-memory backend.
type mockBackend struct {
	name      string
	prompted  bool
	batchSize int
	calls     atomic.Int64
	translate func(batch Batch) ([]string, error)
}

func (m *mockBackend) Name() string                      { return m.name }
func (m *mockBackend) SupportedPairs() []LanguagePair    { return nil }
func (m *mockBackend) SupportsBatch() bool               { return m.batchSize > 1 }
func (m *mockBackend) MaxBatchSize() int                 { return m.batchSize }
func (m *mockBackend) Prompted() bool                    { return m.prompted }
func (m *mockBackend) HealthCheck(context.Context) error { return nil }

func (m *mockBackend) TranslateBatch(_ context.Context, batch Batch) ([]string, error) {
	m.calls.Add(1)
	return m.translate(batch)
}

func uppercaseTranslator(batch Batch) ([]string, error) {
	out := make([]string, len(batch.Lines))
	for i, line := range batch.Lines {
		out[i] = strings.ToUpper(line)
	}
	return out, nil
}

func testTranslationEngine(t *testing.T, backends ...*mockBackend) *Engine {
	t.Helper()

	settings := config.DefaultSettings()
	settings.Translation.Backends = nil
	settings.Translation.Chain = nil
	registry := &Registry{factories: map[string]BackendFactory{}}
	for _, b := range backends {
		b := b
		registry.Register(b.name, func(config.BackendConfig) (Backend, error) { return b, nil })
		settings.Translation.Backends = append(settings.Translation.Backends,
			config.BackendConfig{Name: b.name, Enabled: true})
		settings.Translation.Chain = append(settings.Translation.Chain, b.name)
	}

	manager := config.NewManager(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, manager.Save(settings))

	engine := NewEngine(config.NewResolver(manager), registry, nil)
	engine.retryDelays = []time.Duration{0, 0, 0}
	return engine
}

func TestTranslatePreservesLineCount(t *testing.T) {
	backend := &mockBackend{name: "mock", batchSize: 15, translate: uppercaseTranslator}
	engine := testTranslationEngine(t, backend)

	lines := []string{"one", "two", "three"}
	result, err := engine.Translate(context.Background(), Request{
		Lines: lines, SourceLang: "en", TargetLang: "de",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ONE", "TWO", "THREE"}, result.TranslatedLines)
	assert.Equal(t, "mock", result.BackendUsed)
}

func TestTranslateEmptyRequest(t *testing.T) {
	engine := testTranslationEngine(t, &mockBackend{name: "mock", batchSize: 15, translate: uppercaseTranslator})
	result, err := engine.Translate(context.Background(), Request{SourceLang: "en", TargetLang: "de"})
	require.NoError(t, err)
	assert.Empty(t, result.TranslatedLines)
}

func TestTranslateChunksByBatchSize(t *testing.T) {
	backend := &mockBackend{name: "mock", batchSize: 2, translate: uppercaseTranslator}
	engine := testTranslationEngine(t, backend)

	lines := []string{"a", "b", "c", "d", "e"}
	result, err := engine.Translate(context.Background(), Request{
		Lines: lines, SourceLang: "en", TargetLang: "de",
	})
	require.NoError(t, err)
	assert.Len(t, result.TranslatedLines, 5)
	assert.Equal(t, int64(3), backend.calls.Load(), "five lines in batches of two")
}

func TestTranslateFallsBackToSingleLineOnMismatch(t *testing.T) {
	var batchAttempts atomic.Int64
	backend := &mockBackend{name: "mock", batchSize: 15}
	backend.translate = func(batch Batch) ([]string, error) {
		if len(batch.Lines) > 1 {
			batchAttempts.Add(1)
			// N+1 lines: the classic chunk-corruption failure.
			out := append([]string{}, batch.Lines...)
			out = append(out, "extra")
			return out, nil
		}
		return uppercaseTranslator(batch)
	}
	engine := testTranslationEngine(t, backend)

	result, err := engine.Translate(context.Background(), Request{
		Lines: []string{"one", "two"}, SourceLang: "en", TargetLang: "de",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ONE", "TWO"}, result.TranslatedLines)
	assert.Equal(t, int64(4), batchAttempts.Load(), "initial try plus three retries before single-line mode")
}

func TestTranslateHallucinationFailsAfterSingleLineRetry(t *testing.T) {
	backend := &mockBackend{name: "mock", batchSize: 15}
	backend.translate = func(batch Batch) ([]string, error) {
		out := make([]string, len(batch.Lines))
		for i := range batch.Lines {
			out[i] = "日本語のテキスト"
		}
		return out, nil
	}
	engine := testTranslationEngine(t, backend)

	_, err := engine.Translate(context.Background(), Request{
		Lines: []string{"one", "two"}, SourceLang: "en", TargetLang: "de",
	})
	require.Error(t, err)
	var terr *models.TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, models.HallucinationDetected, terr.Kind)
}

func TestTranslateFallsThroughChainOnUnavailable(t *testing.T) {
	broken := &mockBackend{name: "broken", batchSize: 15}
	broken.translate = func(Batch) ([]string, error) {
		return nil, models.NewTranslationError("broken", models.BackendUnavailable, nil)
	}
	working := &mockBackend{name: "working", batchSize: 15, translate: uppercaseTranslator}
	engine := testTranslationEngine(t, broken, working)

	result, err := engine.Translate(context.Background(), Request{
		Lines: []string{"hi"}, SourceLang: "en", TargetLang: "de",
	})
	require.NoError(t, err)
	assert.Equal(t, "working", result.BackendUsed)
}

func TestTranslateSkipsAuthFailuresWithoutRetry(t *testing.T) {
	locked := &mockBackend{name: "locked", batchSize: 15}
	locked.translate = func(Batch) ([]string, error) {
		return nil, models.NewTranslationError("locked", models.BackendAuthInvalid, nil)
	}
	working := &mockBackend{name: "working", batchSize: 15, translate: uppercaseTranslator}
	engine := testTranslationEngine(t, locked, working)

	result, err := engine.Translate(context.Background(), Request{
		Lines: []string{"hi"}, SourceLang: "en", TargetLang: "de",
	})
	require.NoError(t, err)
	assert.Equal(t, "working", result.BackendUsed)
	assert.Equal(t, int64(1), locked.calls.Load(), "auth failures are not retried")
}

func TestTranslatePreferredBackendWins(t *testing.T) {
	first := &mockBackend{name: "first", batchSize: 15, translate: uppercaseTranslator}
	second := &mockBackend{name: "second", batchSize: 15, translate: uppercaseTranslator}
	engine := testTranslationEngine(t, first, second)

	result, err := engine.Translate(context.Background(), Request{
		Lines: []string{"hi"}, SourceLang: "en", TargetLang: "de",
		PreferredBackend: "second",
	})
	require.NoError(t, err)
	assert.Equal(t, "second", result.BackendUsed)
	assert.Equal(t, int64(0), first.calls.Load())
}

func TestGlossaryPreSubstitutionForSentenceBackends(t *testing.T) {
	var seen []string
	backend := &mockBackend{name: "sentence", batchSize: 15, prompted: false}
	backend.translate = func(batch Batch) ([]string, error) {
		seen = append([]string{}, batch.Lines...)
		return uppercaseTranslator(batch)
	}
	engine := testTranslationEngine(t, backend)

	_, err := engine.Translate(context.Background(), Request{
		Lines:          []string{"the Demon King appears"},
		SourceLang:     "en",
		TargetLang:     "de",
		SeriesGlossary: map[string]string{"Demon King": "Dämonenkönig"},
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, "the Dämonenkönig appears", seen[0])
}

func TestGlossarySeriesOverridesGlobal(t *testing.T) {
	merged := mergeGlossaries(
		map[string]string{"King": "König", "Sword": "Schwert"},
		map[string]string{"King": "Majestät"},
	)
	assert.Equal(t, "Majestät", merged["King"])
	assert.Equal(t, "Schwert", merged["Sword"])
}
