package providers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeOSHashStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video.mkv")
	content := make([]byte, 200*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(path, content, 0o644))

	hash1, size, err := ComputeOSHash(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)
	assert.Len(t, hash1, 16, "hash is 16 hex digits")

	hash2, _, err := ComputeOSHash(path)
	require.NoError(t, err)
	assert.Equal(t, hash1, hash2)
}

func TestComputeOSHashChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.mkv")
	b := filepath.Join(dir, "b.mkv")
	require.NoError(t, os.WriteFile(a, []byte("aaaaaaaaaaaaaaaa"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("bbbbbbbbbbbbbbbb"), 0o644))

	hashA, _, err := ComputeOSHash(a)
	require.NoError(t, err)
	hashB, _, err := ComputeOSHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, hashA, hashB)
}

func TestComputeOSHashEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mkv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, _, err := ComputeOSHash(path)
	assert.Error(t, err)
}

func TestParseRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, int64(5), int64(parseRetryAfter("5").Seconds()))
	assert.Equal(t, int64(0), int64(parseRetryAfter("").Seconds()))
	assert.Equal(t, int64(0), int64(parseRetryAfter("garbage").Seconds()))
}
