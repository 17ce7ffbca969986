package subtitles

import (
	"fmt"
	"strconv"
	"strings"

	"sublarr/models"
)

// ParseSRT parses a SubRip document. Block numbering is not trusted; blocks
// are recognized by their timestamp line.
func ParseSRT(text string) (*Document, error) {
	doc := &Document{Format: models.FormatSRT}

	blocks := strings.Split(text, "\n\n")
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) == 0 || lines[0] == "" {
			continue
		}

		// Optional index line, then the timing line.
		idx := 0
		if !strings.Contains(lines[idx], "-->") {
			idx++
			if idx >= len(lines) || !strings.Contains(lines[idx], "-->") {
				continue
			}
		}

		startRaw, endRaw, ok := strings.Cut(lines[idx], "-->")
		if !ok {
			continue
		}
		start, err := parseSRTTime(strings.TrimSpace(startRaw))
		if err != nil {
			return nil, fmt.Errorf("parse srt timestamp: %w", err)
		}
		end, err := parseSRTTime(strings.TrimSpace(trimSRTCoordinates(endRaw)))
		if err != nil {
			return nil, fmt.Errorf("parse srt timestamp: %w", err)
		}

		textLines := lines[idx+1:]
		doc.Events = append(doc.Events, Event{
			Kind:    "Dialogue",
			StartMS: start,
			EndMS:   end,
			Text:    strings.Join(textLines, "\\N"),
		})
	}
	return doc, nil
}

// trimSRTCoordinates drops the optional "X1:.. X2:.." tail some encoders add.
func trimSRTCoordinates(s string) string {
	if i := strings.Index(s, " X1:"); i >= 0 {
		return s[:i]
	}
	return s
}

// parseSRTTime parses HH:MM:SS,mmm (or a dot separator) into milliseconds.
func parseSRTTime(s string) (int, error) {
	s = strings.ReplaceAll(s, ".", ",")
	main, msPart, _ := strings.Cut(s, ",")
	parts := strings.Split(main, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("bad timestamp %q", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, fmt.Errorf("bad timestamp %q", s)
	}
	ms := 0
	if msPart != "" {
		for len(msPart) < 3 {
			msPart += "0"
		}
		if len(msPart) > 3 {
			msPart = msPart[:3]
		}
		var err error
		ms, err = strconv.Atoi(msPart)
		if err != nil {
			return 0, fmt.Errorf("bad timestamp %q", s)
		}
	}
	return ((h*60+m)*60+sec)*1000 + ms, nil
}

func formatSRTTime(ms int) string {
	if ms < 0 {
		ms = 0
	}
	totalSecs := ms / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", totalSecs/3600, (totalSecs/60)%60, totalSecs%60, ms%1000)
}

// SerializeSRT renders the document as SubRip, renumbering blocks from 1.
// ASS inline override tags are stripped; \N breaks become real newlines.
func (d *Document) SerializeSRT() []byte {
	var b strings.Builder
	n := 0
	for _, ev := range d.Events {
		if ev.Kind == "Comment" {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d\n%s --> %s\n", n, formatSRTTime(ev.StartMS), formatSRTTime(ev.EndMS))
		clean, _ := ExtractTags(ev.Text)
		b.WriteString(clean)
		b.WriteString("\n\n")
	}
	return []byte(b.String())
}
