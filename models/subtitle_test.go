package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubtitlePathNaming(t *testing.T) {
	assert.Equal(t, "/media/A/S01E01.de.ass",
		SubtitlePath("/media/A/S01E01.mkv", "de", SubtitleTypeNormal, FormatASS))
	assert.Equal(t, "/media/A/S01E01.de.forced.srt",
		SubtitlePath("/media/A/S01E01.mkv", "de", SubtitleTypeForced, FormatSRT))
}

func TestFormatFromExtension(t *testing.T) {
	assert.Equal(t, FormatASS, FormatFromExtension(".ass"))
	assert.Equal(t, FormatASS, FormatFromExtension("ASS"))
	assert.Equal(t, FormatSRT, FormatFromExtension(".srt"))
	assert.Equal(t, FormatUnknown, FormatFromExtension(".sub"))
}

func TestJobStateTerminal(t *testing.T) {
	assert.True(t, JobStateCompleted.Terminal())
	assert.True(t, JobStateFailed.Terminal())
	assert.True(t, JobStateCancelled.Terminal())
	assert.False(t, JobStateQueued.Terminal())
	assert.False(t, JobStateRunning.Terminal())
}

func TestSubtitleResultMatches(t *testing.T) {
	var res SubtitleResult
	assert.False(t, res.Matched("hash"))
	res.AddMatch("hash")
	assert.True(t, res.Matched("hash"))
}

func TestStreamsFilters(t *testing.T) {
	streams := Streams{
		{Index: 0, CodecType: CodecTypeVideo},
		{Index: 1, CodecType: CodecTypeAudio, Language: "ja"},
		{Index: 2, CodecType: CodecTypeSubtitle, CodecName: "ass"},
	}
	assert.Len(t, streams.Audio(), 1)
	assert.Len(t, streams.Subtitles(), 1)
	assert.Equal(t, FormatASS, SubtitleFormatForCodec(streams.Subtitles()[0].CodecName))
}
