package wanted

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sublarr/config"
	"sublarr/internal/database"
	"sublarr/models"
	"sublarr/services/pipeline"
)

type staticSource struct {
	items []MediaItem
}

func (s *staticSource) Items(context.Context) ([]MediaItem, error) { return s.items, nil }

type staticProber struct {
	streams map[string]models.Streams
}

func (p *staticProber) Probe(_ context.Context, path string) models.Streams {
	return p.streams[path]
}

type scriptedAcquirer struct {
	mu     sync.Mutex
	calls  int
	result pipeline.Result
	err    error
}

func (a *scriptedAcquirer) Acquire(_ context.Context, req pipeline.Request) (pipeline.Result, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return a.result, a.err
}

func newWantedFixture(t *testing.T, source LibrarySource, prober Prober, acquirer Acquirer) (*Service, *database.Store) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := database.NewStore(db)

	settings := config.DefaultSettings()
	settings.Subtitles.DefaultLanguages = []string{"de"}
	manager := config.NewManager(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, manager.Save(settings))

	svc := NewService(config.NewResolver(manager), source, store.Wanted, store.Profiles, prober, acquirer, nil)
	return svc, store
}

func TestReconcileClassifiesGaps(t *testing.T) {
	dir := t.TempDir()
	bare := filepath.Join(dir, "Bare.S01E01.mkv")
	withSRT := filepath.Join(dir, "Srt.S01E02.mkv")
	withASS := filepath.Join(dir, "Ass.S01E03.mkv")
	for _, p := range []string{bare, withSRT, withASS} {
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}
	require.NoError(t, os.WriteFile(models.SubtitlePath(withSRT, "de", models.SubtitleTypeNormal, models.FormatSRT), nil, 0o644))
	require.NoError(t, os.WriteFile(models.SubtitlePath(withASS, "de", models.SubtitleTypeNormal, models.FormatASS), nil, 0o644))

	source := &staticSource{items: []MediaItem{
		itemFromPath(bare), itemFromPath(withSRT), itemFromPath(withASS),
	}}
	svc, store := newWantedFixture(t, source, &staticProber{}, &scriptedAcquirer{})

	stats, err := svc.Reconcile(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Scanned)
	assert.Equal(t, 1, stats.Wanted)
	assert.Equal(t, 1, stats.Upgrade)
	assert.Equal(t, 1, stats.Satisfied)

	counts, err := store.Wanted.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.StatusWanted])
	assert.Equal(t, 1, counts[models.StatusUpgradeCandidate])
	assert.Equal(t, 1, counts[models.StatusFound])
}

func TestReconcileTwiceIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "Show.S01E01.mkv")
	require.NoError(t, os.WriteFile(video, nil, 0o644))

	source := &staticSource{items: []MediaItem{itemFromPath(video)}}
	svc, store := newWantedFixture(t, source, &staticProber{}, &scriptedAcquirer{})

	_, err := svc.Reconcile(context.Background(), true)
	require.NoError(t, err)
	first, err := store.Wanted.List("", 0)
	require.NoError(t, err)

	_, err = svc.Reconcile(context.Background(), true)
	require.NoError(t, err)
	second, err := store.Wanted.List("", 0)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Status, second[i].Status)
	}
}

func TestReconcileSeesEmbeddedTarget(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "Show.S01E01.mkv")
	require.NoError(t, os.WriteFile(video, nil, 0o644))

	prober := &staticProber{streams: map[string]models.Streams{
		video: {{Index: 2, CodecType: models.CodecTypeSubtitle, CodecName: "ass", Language: "de"}},
	}}
	source := &staticSource{items: []MediaItem{itemFromPath(video)}}
	svc, store := newWantedFixture(t, source, prober, &scriptedAcquirer{})

	_, err := svc.Reconcile(context.Background(), true)
	require.NoError(t, err)

	counts, err := store.Wanted.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.StatusFound])
}

func TestSearchWantedUpdatesStatus(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "Show.S01E01.mkv")
	require.NoError(t, os.WriteFile(video, nil, 0o644))

	acquirer := &scriptedAcquirer{result: pipeline.Result{Outcome: pipeline.OutcomeAcquiredProvider}}
	svc, store := newWantedFixture(t, &staticSource{}, &staticProber{}, acquirer)

	row, err := store.Wanted.Upsert(models.WantedItem{
		Kind: models.MediaKindEpisode, Title: "Show", FilePath: video,
		TargetLanguage: "de", SubtitleType: models.SubtitleTypeNormal,
		Status: models.StatusWanted,
	})
	require.NoError(t, err)

	require.NoError(t, svc.SearchWanted(context.Background(), row.ID, nil))

	got, err := store.Wanted.Get(row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFound, got.Status)
	assert.Equal(t, 1, got.SearchCount)
}

func TestSearchWantedRecordsFailure(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "Show.S01E01.mkv")
	require.NoError(t, os.WriteFile(video, nil, 0o644))

	acquirer := &scriptedAcquirer{err: models.NewPipelineError(models.NoSourceAvailable, nil)}
	svc, store := newWantedFixture(t, &staticSource{}, &staticProber{}, acquirer)

	row, err := store.Wanted.Upsert(models.WantedItem{
		Kind: models.MediaKindEpisode, Title: "Show", FilePath: video,
		TargetLanguage: "de", SubtitleType: models.SubtitleTypeNormal,
		Status: models.StatusWanted,
	})
	require.NoError(t, err)

	err = svc.SearchWanted(context.Background(), row.ID, nil)
	require.Error(t, err)

	got, err := store.Wanted.Get(row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.LastError, "no_source_available")
}

func TestSearchWantedSkipsIgnoredRows(t *testing.T) {
	acquirer := &scriptedAcquirer{}
	svc, store := newWantedFixture(t, &staticSource{}, &staticProber{}, acquirer)

	row, err := store.Wanted.Upsert(models.WantedItem{
		Kind: models.MediaKindEpisode, Title: "Show", FilePath: "/media/x.mkv",
		TargetLanguage: "de", SubtitleType: models.SubtitleTypeNormal,
		Status: models.StatusWanted,
	})
	require.NoError(t, err)
	require.NoError(t, store.Wanted.SetIgnored(row.ID, true))

	require.NoError(t, svc.SearchWanted(context.Background(), row.ID, nil))
	assert.Equal(t, 0, acquirer.calls, "ignored rows are never searched")
}
