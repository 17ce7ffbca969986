package translation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPromptNumbersLines(t *testing.T) {
	prompt := buildPrompt(Batch{
		Lines:      []string{"hello", "world\nsecond"},
		SourceLang: "en",
		TargetLang: "de",
		Glossary:   map[string]string{"world": "Welt"},
	})
	assert.Contains(t, prompt, "1. hello")
	assert.Contains(t, prompt, "2. world<br>second")
	assert.Contains(t, prompt, "world => Welt")
}

func TestParseNumberedResponse(t *testing.T) {
	lines, ok := parseNumberedResponse("1. hallo\n2. welt\n3. drei", 3)
	require.True(t, ok)
	assert.Equal(t, []string{"hallo", "welt", "drei"}, lines)
}

func TestParseNumberedResponseMergesContinuations(t *testing.T) {
	reply := "1. erste zeile\nfortsetzung ohne nummer\n2. zweite"
	lines, ok := parseNumberedResponse(reply, 2)
	require.True(t, ok)
	assert.Equal(t, "erste zeile fortsetzung ohne nummer", lines[0])
	assert.Equal(t, "zweite", lines[1])
}

func TestParseNumberedResponsePadsShortReplies(t *testing.T) {
	lines, ok := parseNumberedResponse("1. nur eine", 3)
	assert.False(t, ok)
	require.Len(t, lines, 3)
	assert.Equal(t, "nur eine", lines[0])
	assert.Equal(t, "", lines[1])
}

func TestParseNumberedResponseTruncatesLongReplies(t *testing.T) {
	lines, ok := parseNumberedResponse("1. a\n2. b\n3. c", 2)
	assert.False(t, ok)
	assert.Len(t, lines, 2)
}

func TestParseNumberedResponseRestoresBreaks(t *testing.T) {
	lines, ok := parseNumberedResponse("1. oben<br>unten", 1)
	require.True(t, ok)
	assert.Equal(t, "oben\nunten", lines[0])
}

func TestParseNumberedResponseAlternateSeparators(t *testing.T) {
	lines, ok := parseNumberedResponse("1) eins\n2: zwei", 2)
	require.True(t, ok)
	assert.Equal(t, []string{"eins", "zwei"}, lines)
}
