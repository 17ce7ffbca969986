package subtitles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sublarr/models"
)

const sampleASS = `[Script Info]
Title: Sample
ScriptType: v4.00+
PlayResX: 1920

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,Arial,48,&H00FFFFFF,&H000000FF,&H00000000,&H80000000,0,0,0,0,100,100,0,0,1,2,1,2,10,10,40,1
Style: Signs,Arial,36,&H00FFFFFF,&H000000FF,&H00000000,&H80000000,0,0,0,0,100,100,0,0,1,2,1,8,10,10,40,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
Dialogue: 0,0:00:01.00,0:00:03.50,Default,,0,0,0,,{\i1}Hello{\i0}, world
Dialogue: 0,0:00:04.20,0:00:06.00,Signs,,0,0,0,,{\pos(960,60)}STATION SIGN
Comment: 0,0:00:07.00,0:00:08.00,Default,,0,0,0,,editor note
Dialogue: 0,0:00:09.00,0:00:11.00,Default,,0,0,0,,Second line, with commas, inside
`

func TestParseASS(t *testing.T) {
	doc, err := ParseASS(sampleASS)
	require.NoError(t, err)

	assert.Equal(t, models.FormatASS, doc.Format)
	require.Len(t, doc.Styles, 2)
	assert.Equal(t, "Default", doc.Styles[0].Name)
	assert.Equal(t, "Signs", doc.Styles[1].Name)

	require.Len(t, doc.Events, 4)
	first := doc.Events[0]
	assert.Equal(t, "Dialogue", first.Kind)
	assert.Equal(t, 1000, first.StartMS)
	assert.Equal(t, 3500, first.EndMS)
	assert.Equal(t, "Default", first.Style)
	assert.Equal(t, `{\i1}Hello{\i0}, world`, first.Text)

	assert.Equal(t, "Comment", doc.Events[2].Kind)
	assert.Equal(t, "Second line, with commas, inside", doc.Events[3].Text)
}

func TestASSRoundTripPreservesEventsAndStyles(t *testing.T) {
	doc, err := ParseASS(sampleASS)
	require.NoError(t, err)

	reparsed, err := ParseASS(string(doc.SerializeASS()))
	require.NoError(t, err)

	require.Len(t, reparsed.Events, len(doc.Events))
	require.Len(t, reparsed.Styles, len(doc.Styles))
	for i := range doc.Styles {
		assert.Equal(t, doc.Styles[i].Name, reparsed.Styles[i].Name)
	}
	for i := range doc.Events {
		assert.Equal(t, doc.Events[i].Text, reparsed.Events[i].Text)
		assert.Equal(t, doc.Events[i].StartMS, reparsed.Events[i].StartMS)
		assert.Equal(t, doc.Events[i].EndMS, reparsed.Events[i].EndMS)
		assert.Equal(t, doc.Events[i].Kind, reparsed.Events[i].Kind)
	}
}

func TestParseASSTime(t *testing.T) {
	cases := map[string]int{
		"0:00:00.00":  0,
		"0:00:01.00":  1000,
		"0:01:01.50":  61500,
		"1:02:03.04":  3723040,
		"10:00:00.99": 36000990,
	}
	for input, want := range cases {
		got, err := parseASSTime(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := parseASSTime("nonsense")
	assert.Error(t, err)
}

func TestFormatASSTime(t *testing.T) {
	assert.Equal(t, "0:00:01.00", formatASSTime(1000))
	assert.Equal(t, "1:02:03.04", formatASSTime(3723040))
	assert.Equal(t, "0:00:00.00", formatASSTime(-5))
}

func TestSerializeASSFillsBoilerplate(t *testing.T) {
	doc := &Document{
		Format: models.FormatASS,
		Events: []Event{{StartMS: 0, EndMS: 1000, Text: "hi"}},
	}
	out := string(doc.SerializeASS())
	assert.Contains(t, out, "[Script Info]")
	assert.Contains(t, out, "ScriptType: v4.00+")
	assert.Contains(t, out, "Style: Default,")
	assert.Contains(t, out, "Dialogue: 0,0:00:00.00,0:00:01.00,Default,")
}

func TestParseDetectsFormat(t *testing.T) {
	doc, err := Parse([]byte(sampleASS))
	require.NoError(t, err)
	assert.Equal(t, models.FormatASS, doc.Format)

	doc, err = Parse([]byte("1\n00:00:01,000 --> 00:00:02,000\nhello\n"))
	require.NoError(t, err)
	assert.Equal(t, models.FormatSRT, doc.Format)
}

func TestParseEmptyFile(t *testing.T) {
	doc, err := Parse([]byte(""))
	require.NoError(t, err)
	assert.Empty(t, doc.Events)
}
