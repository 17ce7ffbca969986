package subtitles

import (
	"fmt"
	"strconv"
	"strings"

	"sublarr/models"
)

// Default style line written when a document has no [V4+ Styles] section.
const defaultStyleRaw = "Arial,48,&H00FFFFFF,&H000000FF,&H00000000,&H80000000,0,0,0,0,100,100,0,0,1,2,1,2,10,10,40,1"

// defaultEventFormat is the canonical event field order we serialize.
var defaultEventFormat = []string{"Layer", "Start", "End", "Style", "Name", "MarginL", "MarginR", "MarginV", "Effect", "Text"}

// ParseASS parses an Advanced SubStation Alpha document.
func ParseASS(text string) (*Document, error) {
	doc := &Document{Format: models.FormatASS}

	section := ""
	var eventFormat []string

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, ";") {
			continue
		}
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			section = strings.ToLower(strings.Trim(trimmed, "[]"))
			continue
		}

		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimLeft(value, " ")

		switch section {
		case "script info":
			doc.ScriptInfo = append(doc.ScriptInfo, trimmed)
		case "v4+ styles", "v4 styles":
			// The field order beyond the name is carried verbatim in Raw.
			if key == "Style" {
				name, raw, _ := strings.Cut(value, ",")
				doc.Styles = append(doc.Styles, Style{Name: strings.TrimSpace(name), Raw: raw})
			}
		case "events":
			switch key {
			case "Format":
				eventFormat = splitFormat(value)
			case "Dialogue", "Comment":
				format := eventFormat
				if len(format) == 0 {
					format = defaultEventFormat
				}
				ev, err := parseASSEvent(key, value, format)
				if err != nil {
					return nil, fmt.Errorf("parse %s line: %w", key, err)
				}
				doc.Events = append(doc.Events, ev)
			}
		}
	}
	return doc, nil
}

func splitFormat(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func parseASSEvent(kind, value string, format []string) (Event, error) {
	// The Text field is last and may contain commas: split into exactly
	// len(format) fields.
	fields := strings.SplitN(value, ",", len(format))
	if len(fields) < len(format) {
		return Event{}, fmt.Errorf("expected %d fields, got %d", len(format), len(fields))
	}

	ev := Event{Kind: kind}
	for i, name := range format {
		field := fields[i]
		switch name {
		case "Layer", "Marked":
			ev.Layer, _ = strconv.Atoi(strings.TrimSpace(field))
		case "Start":
			ms, err := parseASSTime(strings.TrimSpace(field))
			if err != nil {
				return Event{}, err
			}
			ev.StartMS = ms
		case "End":
			ms, err := parseASSTime(strings.TrimSpace(field))
			if err != nil {
				return Event{}, err
			}
			ev.EndMS = ms
		case "Style":
			ev.Style = strings.TrimSpace(field)
		case "Name", "Actor":
			ev.Name = field
		case "MarginL":
			ev.MarginL = strings.TrimSpace(field)
		case "MarginR":
			ev.MarginR = strings.TrimSpace(field)
		case "MarginV":
			ev.MarginV = strings.TrimSpace(field)
		case "Effect":
			ev.Effect = field
		case "Text":
			ev.Text = field
		}
	}
	return ev, nil
}

// parseASSTime parses H:MM:SS.cc into milliseconds.
func parseASSTime(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("bad timestamp %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("bad timestamp %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("bad timestamp %q", s)
	}
	sec, cs, _ := strings.Cut(parts[2], ".")
	secs, err := strconv.Atoi(sec)
	if err != nil {
		return 0, fmt.Errorf("bad timestamp %q", s)
	}
	centis := 0
	if cs != "" {
		if len(cs) > 2 {
			cs = cs[:2]
		}
		for len(cs) < 2 {
			cs += "0"
		}
		centis, err = strconv.Atoi(cs)
		if err != nil {
			return 0, fmt.Errorf("bad timestamp %q", s)
		}
	}
	return ((h*60+m)*60+secs)*1000 + centis*10, nil
}

func formatASSTime(ms int) string {
	if ms < 0 {
		ms = 0
	}
	cs := (ms / 10) % 100
	totalSecs := ms / 1000
	return fmt.Sprintf("%d:%02d:%02d.%02d", totalSecs/3600, (totalSecs/60)%60, totalSecs%60, cs)
}

// SerializeASS renders the document as ASS with canonical section order.
// Script-info lines are carried verbatim; missing boilerplate is filled in.
func (d *Document) SerializeASS() []byte {
	var b strings.Builder

	b.WriteString("[Script Info]\n")
	hasScriptType := false
	for _, line := range d.ScriptInfo {
		if strings.HasPrefix(line, "ScriptType:") {
			hasScriptType = true
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if !hasScriptType {
		b.WriteString("ScriptType: v4.00+\n")
	}
	b.WriteByte('\n')

	b.WriteString("[V4+ Styles]\n")
	b.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	styles := d.Styles
	if len(styles) == 0 {
		styles = []Style{{Name: "Default", Raw: defaultStyleRaw}}
	}
	for _, st := range styles {
		b.WriteString("Style: ")
		b.WriteString(st.Name)
		b.WriteByte(',')
		b.WriteString(st.Raw)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	b.WriteString("[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, ev := range d.Events {
		kind := ev.Kind
		if kind == "" {
			kind = "Dialogue"
		}
		style := ev.Style
		if style == "" {
			style = "Default"
		}
		marginL, marginR, marginV := ev.MarginL, ev.MarginR, ev.MarginV
		if marginL == "" {
			marginL = "0"
		}
		if marginR == "" {
			marginR = "0"
		}
		if marginV == "" {
			marginV = "0"
		}
		fmt.Fprintf(&b, "%s: %d,%s,%s,%s,%s,%s,%s,%s,%s,%s\n",
			kind, ev.Layer, formatASSTime(ev.StartMS), formatASSTime(ev.EndMS),
			style, ev.Name, marginL, marginR, marginV, ev.Effect, ev.Text)
	}
	return []byte(b.String())
}
