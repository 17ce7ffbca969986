package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sublarr/config"
	"sublarr/models"
	"sublarr/services/providers"
	"sublarr/services/subtitles"
	"sublarr/services/translation"
)

const englishSRT = `1
00:00:01,000 --> 00:00:03,000
hello there

2
00:00:04,000 --> 00:00:06,000
how are you
`

// fakeProber returns scripted streams per path.
type fakeProber struct {
	streams map[string]models.Streams
}

func (f *fakeProber) Probe(_ context.Context, path string) models.Streams {
	return f.streams[path]
}

// fakeExtractor returns scripted payloads per stream index.
type fakeExtractor struct {
	payloads map[int][]byte
}

func (f *fakeExtractor) SubtitleStream(_ context.Context, _ string, index int, _ models.SubtitleFormat) ([]byte, error) {
	payload, ok := f.payloads[index]
	if !ok {
		return nil, os.ErrNotExist
	}
	return payload, nil
}

// memHistory is an in-memory HistoryStore.
type memHistory struct {
	mu   sync.Mutex
	rows []models.DownloadHistory
}

func (m *memHistory) Insert(h models.DownloadHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.DownloadedAt = time.Now().UTC()
	m.rows = append(m.rows, h)
	return nil
}

func (m *memHistory) Latest(filePath, language string) (models.DownloadHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].FilePath == filePath && m.rows[i].TargetLanguage == language {
			return m.rows[i], nil
		}
	}
	return models.DownloadHistory{}, models.ErrNotFound
}

func (m *memHistory) Seen(filePath, language, provider, subtitleID, contentHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.FilePath == filePath && row.TargetLanguage == language &&
			row.Provider == provider && row.SubtitleID == subtitleID && subtitleID != "" {
			return true, nil
		}
	}
	return false, nil
}

// stubProvider serves scripted results and a fixed payload.
type stubProvider struct {
	results []models.SubtitleResult
	payload []byte
}

func (s *stubProvider) Name() string        { return "stub" }
func (s *stubProvider) Languages() []string { return nil }
func (s *stubProvider) RateLimit() providers.RateLimit {
	return providers.RateLimit{Requests: 100, Window: time.Second}
}
func (s *stubProvider) Timeout() time.Duration                { return time.Second }
func (s *stubProvider) MaxRetries() int                       { return 0 }
func (s *stubProvider) ConfigFields() []providers.ConfigField { return nil }
func (s *stubProvider) Initialize(context.Context) error      { return nil }
func (s *stubProvider) HealthCheck(context.Context) error     { return nil }
func (s *stubProvider) Terminate()                            {}

func (s *stubProvider) Search(_ context.Context, _ models.VideoQuery, lang string) ([]models.SubtitleResult, error) {
	out := make([]models.SubtitleResult, 0, len(s.results))
	for _, res := range s.results {
		if res.Language == lang {
			out = append(out, res)
		}
	}
	return out, nil
}

func (s *stubProvider) Download(context.Context, models.SubtitleResult) ([]byte, error) {
	return s.payload, nil
}

type fixture struct {
	svc       *Service
	history   *memHistory
	mediaDir  string
	videoPath string
}

func newFixture(t *testing.T, prober *fakeProber, extractor *fakeExtractor, stub *stubProvider) *fixture {
	t.Helper()

	mediaDir := t.TempDir()
	videoPath := filepath.Join(mediaDir, "Show.S01E01.mkv")
	require.NoError(t, os.WriteFile(videoPath, []byte("not really a video, but enough bytes to hash"), 0o644))

	settings := config.DefaultSettings()
	settings.Media.Roots = []string{mediaDir}
	settings.Providers = nil
	settings.Translation.Backends = []config.BackendConfig{{Name: "mock", Enabled: true}}
	settings.Translation.Chain = []string{"mock"}

	providerRegistry := providers.NewRegistry()
	if stub != nil {
		providerRegistry.Register("stub", func(config.ProviderConfig) (providers.Provider, error) { return stub, nil })
		settings.Providers = []config.ProviderConfig{{Name: "stub", Enabled: true, Priority: 1}}
	}

	translationRegistry := translation.NewRegistry()
	translationRegistry.Register("mock", func(config.BackendConfig) (translation.Backend, error) {
		return &upperBackend{}, nil
	})

	manager := config.NewManager(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, manager.Save(settings))
	resolver := config.NewResolver(manager)

	providerEngine := providers.NewEngine(resolver, providerRegistry, nil, nil)
	translator := translation.NewEngine(resolver, translationRegistry, nil)

	history := &memHistory{}
	if prober == nil {
		prober = &fakeProber{}
	}
	if extractor == nil {
		extractor = &fakeExtractor{}
	}
	svc := NewService(resolver, prober, extractor, providerEngine, translator, history, nil)

	return &fixture{svc: svc, history: history, mediaDir: mediaDir, videoPath: videoPath}
}

// upperBackend uppercases every line.
type upperBackend struct{}

func (b *upperBackend) Name() string                               { return "mock" }
func (b *upperBackend) SupportedPairs() []translation.LanguagePair { return nil }
func (b *upperBackend) SupportsBatch() bool                        { return true }
func (b *upperBackend) MaxBatchSize() int                          { return 15 }
func (b *upperBackend) Prompted() bool                             { return true }
func (b *upperBackend) HealthCheck(context.Context) error          { return nil }
func (b *upperBackend) TranslateBatch(_ context.Context, batch translation.Batch) ([]string, error) {
	out := make([]string, len(batch.Lines))
	for i, line := range batch.Lines {
		out[i] = strings.ToUpper(line)
	}
	return out, nil
}

func TestAcquireSkipsWhenTargetASSExists(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	assPath := models.SubtitlePath(f.videoPath, "de", models.SubtitleTypeNormal, models.FormatASS)
	require.NoError(t, os.WriteFile(assPath, []byte("[Script Info]\n"), 0o644))
	before, err := os.ReadFile(assPath)
	require.NoError(t, err)

	result, err := f.svc.Acquire(context.Background(), Request{
		VideoPath: f.videoPath, TargetLanguage: "de",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Equal(t, assPath, result.OutputPath)

	after, err := os.ReadFile(assPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "skip must not touch disk")
}

func TestAcquireTranslatesNeighbourSRT(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	neighbour := models.SubtitlePath(f.videoPath, "en", models.SubtitleTypeNormal, models.FormatSRT)
	require.NoError(t, os.WriteFile(neighbour, []byte(englishSRT), 0o644))

	result, err := f.svc.Acquire(context.Background(), Request{
		VideoPath: f.videoPath, TargetLanguage: "de",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAcquiredTranslated, result.Outcome)

	outPath := models.SubtitlePath(f.videoPath, "de", models.SubtitleTypeNormal, models.FormatSRT)
	content, err := os.ReadFile(outPath)
	require.NoError(t, err)

	doc, err := subtitles.Parse(content)
	require.NoError(t, err)
	require.Len(t, doc.Events, 2, "translated event count equals source")
	assert.Contains(t, string(content), "HELLO THERE")
}

func TestAcquireTranslatesEmbeddedASS(t *testing.T) {
	ass := "[Script Info]\nTitle: x\n\n[V4+ Styles]\nFormat: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\nStyle: Default,Arial,48,&H00FFFFFF,&H000000FF,&H00000000,&H80000000,0,0,0,0,100,100,0,0,1,2,1,2,10,10,40,1\nStyle: Signs,Arial,36,&H00FFFFFF,&H000000FF,&H00000000,&H80000000,0,0,0,0,100,100,0,0,1,2,1,8,10,10,40,1\n\n[Events]\nFormat: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\nDialogue: 0,0:00:01.00,0:00:02.00,Default,,0,0,0,,{\\i1}hello{\\i0} friend\nDialogue: 0,0:00:03.00,0:00:04.00,Signs,,0,0,0,,{\\pos(960,60)}train station\n"

	prober := &fakeProber{}
	extractor := &fakeExtractor{payloads: map[int][]byte{2: []byte(ass)}}
	f := newFixture(t, prober, extractor, nil)
	prober.streams = map[string]models.Streams{
		f.videoPath: {
			{Index: 1, CodecType: models.CodecTypeAudio, CodecName: "aac", Language: "en"},
			{Index: 2, CodecType: models.CodecTypeSubtitle, CodecName: "ass", Language: "en"},
		},
	}

	result, err := f.svc.Acquire(context.Background(), Request{
		VideoPath: f.videoPath, TargetLanguage: "de",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAcquiredTranslated, result.Outcome)

	outPath := models.SubtitlePath(f.videoPath, "de", models.SubtitleTypeNormal, models.FormatASS)
	content, err := os.ReadFile(outPath)
	require.NoError(t, err)

	doc, err := subtitles.Parse(content)
	require.NoError(t, err)
	require.Len(t, doc.Events, 2, "output event count equals source")

	// Dialog translated with tags restored, signs copied verbatim.
	assert.Contains(t, doc.Events[0].Text, "HELLO")
	assert.Contains(t, doc.Events[0].Text, `{\i1}`)
	assert.Equal(t, `{\pos(960,60)}train station`, doc.Events[1].Text)
}

func TestAcquireDownloadsFromProvider(t *testing.T) {
	stub := &stubProvider{
		results: []models.SubtitleResult{{
			ID: "42", Language: "de", Format: models.FormatSRT,
			Matches: map[string]struct{}{"hash": {}},
		}},
		payload: []byte(englishSRT),
	}
	f := newFixture(t, nil, nil, stub)

	result, err := f.svc.Acquire(context.Background(), Request{
		VideoPath: f.videoPath, TargetLanguage: "de",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAcquiredProvider, result.Outcome)
	assert.Equal(t, "stub", result.Provider)

	outPath := models.SubtitlePath(f.videoPath, "de", models.SubtitleTypeNormal, models.FormatSRT)
	_, err = os.Stat(outPath)
	require.NoError(t, err)

	latest, err := f.history.Latest(f.videoPath, "de")
	require.NoError(t, err)
	assert.Equal(t, "stub", latest.Provider)
	assert.Equal(t, models.SourceProvider, latest.Source)
}

func TestAcquireFailsWithNoSource(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	_, err := f.svc.Acquire(context.Background(), Request{
		VideoPath: f.videoPath, TargetLanguage: "de",
	})
	require.Error(t, err)
	var perr *models.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.NoSourceAvailable, perr.Kind)
}

func TestAcquireSecondRunIsNoOp(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	neighbour := models.SubtitlePath(f.videoPath, "en", models.SubtitleTypeNormal, models.FormatSRT)
	require.NoError(t, os.WriteFile(neighbour, []byte(englishSRT), 0o644))

	first, err := f.svc.Acquire(context.Background(), Request{VideoPath: f.videoPath, TargetLanguage: "de"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAcquiredTranslated, first.Outcome)

	// The translated artifact is an SRT, so the second run lands in case B
	// and keeps it (no ASS source available for the upgrade).
	second, err := f.svc.Acquire(context.Background(), Request{VideoPath: f.videoPath, TargetLanguage: "de"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, second.Outcome)
}

func TestUpgradeGateAcceptsClearlyBetterASS(t *testing.T) {
	stub := &stubProvider{
		results: []models.SubtitleResult{{
			ID: "up", Language: "de", Format: models.FormatASS,
			Filename: "show.de.ass",
			Matches:  map[string]struct{}{"hash": {}},
		}},
		payload: []byte("[Script Info]\nTitle: up\n\n[Events]\nFormat: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\nDialogue: 0,0:00:01.00,0:00:02.00,Default,,0,0,0,,Hallo zusammen Freunde\n"),
	}
	f := newFixture(t, nil, nil, stub)

	srtPath := models.SubtitlePath(f.videoPath, "de", models.SubtitleTypeNormal, models.FormatSRT)
	require.NoError(t, os.WriteFile(srtPath, []byte(englishSRT), 0o644))
	require.NoError(t, f.history.Insert(models.DownloadHistory{
		FilePath: f.videoPath, TargetLanguage: "de", Score: 200, Format: models.FormatSRT,
	}))

	result, err := f.svc.Acquire(context.Background(), Request{
		VideoPath: f.videoPath, TargetLanguage: "de",
		Query: &models.VideoQuery{Kind: models.MediaKindEpisode, Season: 1, Episode: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAcquiredProvider, result.Outcome)

	assPath := models.SubtitlePath(f.videoPath, "de", models.SubtitleTypeNormal, models.FormatASS)
	_, err = os.Stat(assPath)
	require.NoError(t, err, "upgrade writes the ass")
	_, err = os.Stat(srtPath)
	require.NoError(t, err, "the existing srt is preserved")
}

func TestUpgradeGateRejectsMarginalCandidate(t *testing.T) {
	stub := &stubProvider{
		results: []models.SubtitleResult{{
			ID: "weak", Language: "de", Format: models.FormatASS,
			// series-only match: 180 + 50 bonus = 230, below a recent 250
			// artifact's doubled gate.
			Matches: map[string]struct{}{"series": {}},
		}},
		payload: []byte("[Script Info]\n"),
	}
	f := newFixture(t, nil, nil, stub)

	srtPath := models.SubtitlePath(f.videoPath, "de", models.SubtitleTypeNormal, models.FormatSRT)
	require.NoError(t, os.WriteFile(srtPath, []byte(englishSRT), 0o644))
	require.NoError(t, f.history.Insert(models.DownloadHistory{
		FilePath: f.videoPath, TargetLanguage: "de", Score: 250, Format: models.FormatSRT,
	}))

	result, err := f.svc.Acquire(context.Background(), Request{
		VideoPath: f.videoPath, TargetLanguage: "de",
		Query: &models.VideoQuery{Kind: models.MediaKindEpisode, Season: 1, Episode: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Equal(t, srtPath, result.OutputPath)
}

func TestForcedResultNeverSatisfiesNormalWant(t *testing.T) {
	results := []models.SubtitleResult{
		{ID: "f", Language: "de", Format: models.FormatSRT, Forced: true},
		{ID: "fn", Language: "de", Format: models.FormatSRT, Filename: "show.de.forced.srt"},
		{ID: "n", Language: "de", Format: models.FormatSRT},
	}
	normal := filterByType(results, models.SubtitleTypeNormal)
	require.Len(t, normal, 1)
	assert.Equal(t, "n", normal[0].ID)

	forced := filterByType(results, models.SubtitleTypeForced)
	require.Len(t, forced, 2)
}

func TestWriteAtomicLeavesNoPartialFile(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	target := filepath.Join(f.mediaDir, "out.ass")

	require.NoError(t, writeAtomic(f.svc.fs, target, []byte("content")))
	entries, err := os.ReadDir(f.mediaDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "no temp file left behind")
	}

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "content", string(content))
}

func TestEnsureUnderRoots(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, ensureUnderRoots(filepath.Join(root, "a", "b.mkv"), []string{root}))
	require.NoError(t, ensureUnderRoots("/anywhere/at/all.mkv", nil))

	err := ensureUnderRoots("/outside/escape.mkv", []string{root})
	require.Error(t, err)
	var ferr *models.FileError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, models.PathOutsideMedia, ferr.Kind)
}

func TestAcquireEmptySubtitleSourceSucceeds(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	neighbour := models.SubtitlePath(f.videoPath, "en", models.SubtitleTypeNormal, models.FormatSRT)
	require.NoError(t, os.WriteFile(neighbour, nil, 0o644))

	result, err := f.svc.Acquire(context.Background(), Request{
		VideoPath: f.videoPath, TargetLanguage: "de",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAcquiredTranslated, result.Outcome)

	content, err := os.ReadFile(models.SubtitlePath(f.videoPath, "de", models.SubtitleTypeNormal, models.FormatSRT))
	require.NoError(t, err)
	doc, err := subtitles.Parse(content)
	require.NoError(t, err)
	assert.Empty(t, doc.Events, "zero translated lines is a success")
}
