package providers

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sublarr/models"
)

const srtBody = "1\n00:00:01,000 --> 00:00:02,000\nHello there, how are you doing today?\n\n2\n00:00:03,000 --> 00:00:04,000\nStill fine, thanks for asking about it.\n"

func zipWith(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtractPlainSRT(t *testing.T) {
	body, format, err := extractSubtitlePayload("test", []byte(srtBody), "episode.srt")
	require.NoError(t, err)
	assert.Equal(t, models.FormatSRT, format)
	assert.Equal(t, srtBody, string(body))
}

func TestExtractPlainASS(t *testing.T) {
	ass := "[Script Info]\nTitle: x\n\n[Events]\nFormat: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\nDialogue: 0,0:00:01.00,0:00:02.00,Default,,0,0,0,,Hello there everyone\n"
	_, format, err := extractSubtitlePayload("test", []byte(ass), "")
	require.NoError(t, err)
	assert.Equal(t, models.FormatASS, format)
}

func TestExtractZipSingleSubtitle(t *testing.T) {
	payload := zipWith(t, map[string]string{"episode.de.srt": srtBody, "readme.txt": "notes"})

	body, format, err := extractSubtitlePayload("test", payload, "")
	require.NoError(t, err)
	assert.Equal(t, models.FormatSRT, format)
	assert.Equal(t, srtBody, string(body))
}

func TestExtractZipAmbiguousSubtitlesRejected(t *testing.T) {
	payload := zipWith(t, map[string]string{"a.srt": srtBody, "b.srt": srtBody})

	_, _, err := extractSubtitlePayload("test", payload, "")
	require.Error(t, err)
	var perr *models.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, models.ProviderFormat, perr.Kind)
}

func TestExtractZipWithoutSubtitleRejected(t *testing.T) {
	payload := zipWith(t, map[string]string{"readme.txt": "nope"})
	_, _, err := extractSubtitlePayload("test", payload, "")
	assert.Error(t, err)
}

func TestExtractNonSubtitlePayloadRejected(t *testing.T) {
	_, _, err := extractSubtitlePayload("test", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "")
	require.Error(t, err)
	var perr *models.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, models.ProviderFormat, perr.Kind)
}

func TestDetectSubtitleFormatFallsBackToHint(t *testing.T) {
	assert.Equal(t, models.FormatASS, detectSubtitleFormat([]byte("no markers at all"), "episode.ass"))
	assert.Equal(t, models.FormatUnknown, detectSubtitleFormat([]byte("no markers"), "episode.bin"))
}
