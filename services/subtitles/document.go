package subtitles

import (
	"fmt"
	"strings"

	"sublarr/models"
)

// Event is one timed subtitle line. Times are in milliseconds; the ASS
// serializer rounds to centiseconds, the SRT serializer keeps milliseconds.
type Event struct {
	Kind    string // Dialogue or Comment (ASS); always Dialogue for SRT
	Layer   int
	StartMS int
	EndMS   int
	Style   string
	Name    string
	MarginL string
	MarginR string
	MarginV string
	Effect  string
	Text    string // raw text with inline override tags and \N breaks
}

// Style is one ASS style definition. The raw value tail is preserved
// verbatim so a parse/serialize round trip keeps the typography intact.
type Style struct {
	Name string
	Raw  string // comma-joined fields after the name
}

// Document is a parsed subtitle file.
type Document struct {
	Format     models.SubtitleFormat
	ScriptInfo []string // raw [Script Info] lines, ASS only
	Styles     []Style
	Events     []Event
}

// Parse detects the format from content and parses accordingly.
func Parse(data []byte) (*Document, error) {
	text := normalizeNewlines(string(stripBOM(data)))
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &Document{Format: models.FormatSRT}, nil
	}
	if strings.Contains(trimmed, "[Script Info]") || strings.Contains(trimmed, "[Events]") {
		return ParseASS(text)
	}
	return ParseSRT(text)
}

// Serialize renders the document in its own format.
func (d *Document) Serialize() []byte {
	if d.Format.IsStyled() {
		return d.SerializeASS()
	}
	return d.SerializeSRT()
}

// DialogueEvents returns the indices of events that carry text (ASS Comment
// events are excluded).
func (d *Document) DialogueEvents() []int {
	var out []int
	for i, ev := range d.Events {
		if ev.Kind == "Comment" {
			continue
		}
		out = append(out, i)
	}
	return out
}

func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// ContentSummary is a short description used in logs.
func (d *Document) ContentSummary() string {
	return fmt.Sprintf("%s: %d styles, %d events", d.Format, len(d.Styles), len(d.Events))
}
