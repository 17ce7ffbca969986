package subtitles

import (
	"regexp"
	"strings"
)

// StyleClass partitions ASS styles into translatable dialog and verbatim
// signs/songs.
type StyleClass string

const (
	ClassDialog     StyleClass = "dialog"
	ClassSignsSongs StyleClass = "signs_songs"
)

var (
	dialogNameRe = regexp.MustCompile(`(?i)^(default|main|dialog.*|alt)$`)
	signsNameRe  = regexp.MustCompile(`(?i)^(sign.*|song.*|op.*|ed.*|karaoke.*)$`)
	posTagRe     = regexp.MustCompile(`\\(pos|move)\(`)
)

// positionedFraction above which an unnamed style counts as signs/songs.
const positionedFraction = 0.8

// ClassifyStyles assigns every style used by the document to exactly one
// class. Name heuristics win; otherwise the fraction of positioned events
// decides. Styles referenced by events but missing from the style table are
// classified too, so the partition is total.
func ClassifyStyles(doc *Document) map[string]StyleClass {
	type usage struct {
		total      int
		positioned int
	}
	uses := make(map[string]*usage)

	for _, ev := range doc.Events {
		if ev.Kind == "Comment" {
			continue
		}
		style := ev.Style
		if style == "" {
			style = "Default"
		}
		u := uses[style]
		if u == nil {
			u = &usage{}
			uses[style] = u
		}
		u.total++
		if posTagRe.MatchString(ev.Text) {
			u.positioned++
		}
	}

	classes := make(map[string]StyleClass)
	classify := func(name string) {
		if _, done := classes[name]; done {
			return
		}
		switch {
		case dialogNameRe.MatchString(name):
			classes[name] = ClassDialog
		case signsNameRe.MatchString(name):
			classes[name] = ClassSignsSongs
		default:
			if u := uses[name]; u != nil && u.total > 0 &&
				float64(u.positioned)/float64(u.total) > positionedFraction {
				classes[name] = ClassSignsSongs
			} else {
				classes[name] = ClassDialog
			}
		}
	}

	for _, st := range doc.Styles {
		classify(st.Name)
	}
	for name := range uses {
		classify(name)
	}
	return classes
}

// LooksForced reports whether the document is overwhelmingly signs/songs,
// which is the ASS heuristic for a forced track.
func LooksForced(doc *Document) bool {
	if len(doc.Events) == 0 {
		return false
	}
	classes := ClassifyStyles(doc)
	signs := 0
	total := 0
	for _, ev := range doc.Events {
		if ev.Kind == "Comment" {
			continue
		}
		total++
		style := ev.Style
		if style == "" {
			style = "Default"
		}
		if classes[style] == ClassSignsSongs {
			signs++
		}
	}
	return total > 0 && float64(signs)/float64(total) > 0.9
}

// FilenameLooksForced reports whether a subtitle filename flags a forced
// track.
func FilenameLooksForced(name string) bool {
	return strings.Contains(strings.ToLower(name), "forced")
}
