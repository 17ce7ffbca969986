package subtitles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docWithEvents(events ...Event) *Document {
	return &Document{Events: events}
}

func TestClassifyStylesByName(t *testing.T) {
	doc := &Document{
		Styles: []Style{
			{Name: "Default"}, {Name: "Main"}, {Name: "Dialogue Alt"},
			{Name: "Signs"}, {Name: "Song - OP"}, {Name: "Karaoke Top"},
		},
		Events: []Event{
			{Style: "Default", Text: "a"},
			{Style: "Signs", Text: `{\pos(1,1)}b`},
		},
	}
	// "Dialogue Alt" matches the dialog prefix pattern; "Song - OP" the
	// signs pattern.
	classes := ClassifyStyles(doc)

	assert.Equal(t, ClassDialog, classes["Default"])
	assert.Equal(t, ClassDialog, classes["Main"])
	assert.Equal(t, ClassDialog, classes["Dialogue Alt"])
	assert.Equal(t, ClassSignsSongs, classes["Signs"])
	assert.Equal(t, ClassSignsSongs, classes["Song - OP"])
	assert.Equal(t, ClassSignsSongs, classes["Karaoke Top"])
}

func TestClassifyStylesByPositioning(t *testing.T) {
	doc := &Document{
		Styles: []Style{{Name: "Typeset"}},
	}
	// 9 of 10 events positioned: above the 80% threshold.
	for i := 0; i < 9; i++ {
		doc.Events = append(doc.Events, Event{Style: "Typeset", Text: `{\pos(100,200)}x`})
	}
	doc.Events = append(doc.Events, Event{Style: "Typeset", Text: "plain"})

	classes := ClassifyStyles(doc)
	assert.Equal(t, ClassSignsSongs, classes["Typeset"])
}

func TestClassifyStylesUnpositionedUnknownIsDialog(t *testing.T) {
	doc := &Document{
		Styles: []Style{{Name: "Narration"}},
		Events: []Event{{Style: "Narration", Text: "plain"}},
	}
	classes := ClassifyStyles(doc)
	assert.Equal(t, ClassDialog, classes["Narration"])
}

func TestClassifyStylesIsTotalPartition(t *testing.T) {
	doc := &Document{
		Styles: []Style{{Name: "Default"}},
		Events: []Event{
			{Style: "Default", Text: "a"},
			{Style: "Ghost", Text: "style missing from the table"},
		},
	}
	classes := ClassifyStyles(doc)

	// Every style referenced anywhere gets exactly one class.
	require.Contains(t, classes, "Default")
	require.Contains(t, classes, "Ghost")
	for name, class := range classes {
		assert.Contains(t, []StyleClass{ClassDialog, ClassSignsSongs}, class, name)
	}
}

func TestLooksForced(t *testing.T) {
	signs := docWithEvents(
		Event{Style: "Signs", Text: `{\pos(1,1)}a`},
		Event{Style: "Signs", Text: `{\pos(1,1)}b`},
	)
	signs.Styles = []Style{{Name: "Signs"}}
	assert.True(t, LooksForced(signs))

	dialog := docWithEvents(
		Event{Style: "Default", Text: "a"},
		Event{Style: "Default", Text: "b"},
		Event{Style: "Signs", Text: `{\pos(1,1)}c`},
	)
	dialog.Styles = []Style{{Name: "Default"}, {Name: "Signs"}}
	assert.False(t, LooksForced(dialog))
}

func TestFilenameLooksForced(t *testing.T) {
	assert.True(t, FilenameLooksForced("Show.S01E01.de.FORCED.srt"))
	assert.False(t, FilenameLooksForced("Show.S01E01.de.srt"))
}
