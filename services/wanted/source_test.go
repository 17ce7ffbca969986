package wanted

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sublarr/models"
)

func TestItemFromPathEpisode(t *testing.T) {
	item := itemFromPath("/media/tv/Some Show/Some.Show.S02E05.1080p.WEB.mkv")
	assert.Equal(t, models.MediaKindEpisode, item.Kind)
	assert.Equal(t, 2, item.Season)
	assert.Equal(t, 5, item.Episode)
	assert.Equal(t, "Some Show", item.Title)
}

func TestItemFromPathEpisodeLowercase(t *testing.T) {
	item := itemFromPath("/media/tv/show.s01e10.mkv")
	assert.Equal(t, models.MediaKindEpisode, item.Kind)
	assert.Equal(t, 1, item.Season)
	assert.Equal(t, 10, item.Episode)
}

func TestItemFromPathMovie(t *testing.T) {
	item := itemFromPath("/media/movies/Great.Film.2019.1080p.BluRay.mkv")
	assert.Equal(t, models.MediaKindMovie, item.Kind)
	assert.Equal(t, 2019, item.Year)
	assert.Equal(t, "Great Film", item.Title)
}

func TestFolderScannerFindsVideos(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Show"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Show", "Show.S01E01.mkv"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Show", "Show.S01E01.en.srt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), nil, 0o644))

	scanner := NewFolderScanner(func() []string { return []string{root} })
	items, err := scanner.Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1, "only video files become items")
	assert.Equal(t, models.MediaKindEpisode, items[0].Kind)
}

func TestFolderScannerSkipsHiddenDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".trash"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".trash", "old.mkv"), nil, 0o644))

	scanner := NewFolderScanner(func() []string { return []string{root} })
	items, err := scanner.Items(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}
