package probe

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sublarr/config"
	"sublarr/models"
)

type memCache struct {
	mu   sync.Mutex
	rows map[string]struct {
		mtime   int64
		streams models.Streams
	}
	puts int
}

func newMemCache() *memCache {
	return &memCache{rows: make(map[string]struct {
		mtime   int64
		streams models.Streams
	})}
}

func (c *memCache) Get(path string, mtimeUnix int64) (models.Streams, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.rows[path]
	if !ok || row.mtime != mtimeUnix {
		return nil, false, nil
	}
	return row.streams, true, nil
}

func (c *memCache) Put(path string, mtimeUnix int64, streams models.Streams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	c.rows[path] = struct {
		mtime   int64
		streams models.Streams
	}{mtimeUnix, streams}
	return nil
}

func probeResolver(t *testing.T) *config.Resolver {
	t.Helper()
	manager := config.NewManager(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, manager.Save(config.DefaultSettings()))
	return config.NewResolver(manager)
}

func TestProbeCacheHitSkipsEngine(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "a.mkv")
	require.NoError(t, os.WriteFile(video, []byte("x"), 0o644))
	info, err := os.Stat(video)
	require.NoError(t, err)

	cached := models.Streams{{Index: 0, CodecType: models.CodecTypeSubtitle, CodecName: "ass", Language: "en"}}
	cache := newMemCache()
	require.NoError(t, cache.Put(video, info.ModTime().Unix(), cached))

	// The ffprobe binary is absent in the test environment; a cache hit
	// must short-circuit before any external invocation.
	svc := NewService(probeResolver(t), cache)
	streams := svc.Probe(context.Background(), video)
	assert.Equal(t, cached, streams)
}

func TestProbeMissingFileYieldsEmptyStreams(t *testing.T) {
	svc := NewService(probeResolver(t), newMemCache())
	streams := svc.Probe(context.Background(), "/does/not/exist.mkv")
	assert.Empty(t, streams, "probe errors are non-fatal by contract")
}

func TestNormalizeLanguage(t *testing.T) {
	cases := map[string]string{
		"eng": "en",
		"ger": "de",
		"deu": "de",
		"jpn": "ja",
		"en":  "en",
		"und": "",
		"":    "",
		"ENG": "en",
	}
	for input, want := range cases {
		assert.Equal(t, want, NormalizeLanguage(input), "normalize %q", input)
	}
}
