package pipeline

import (
	"context"
	"fmt"

	"sublarr/models"
	"sublarr/services/subtitles"
	"sublarr/services/translation"
)

// translateDocument translates all dialog events of a parsed subtitle file.
// Signs/songs events are copied verbatim; inline tags are stripped before
// translation and restored at proportional positions afterwards. The output
// document has exactly the source event count.
func (s *Service) translateDocument(ctx context.Context, doc *subtitles.Document, sourceLang, targetLang string, glossary map[string]string) (*subtitles.Document, string, error) {
	classes := subtitles.ClassifyStyles(doc)

	type pending struct {
		eventIndex int
		tags       []subtitles.TagRecord
		cleanLen   int
	}
	var (
		lines []string
		queue []pending
	)
	for i, ev := range doc.Events {
		if ev.Kind == "Comment" {
			continue
		}
		style := ev.Style
		if style == "" {
			style = "Default"
		}
		if classes[style] == subtitles.ClassSignsSongs {
			continue
		}
		clean, tags := subtitles.ExtractTags(ev.Text)
		lines = append(lines, clean)
		queue = append(queue, pending{eventIndex: i, tags: tags, cleanLen: len([]rune(clean))})
	}

	out := *doc
	out.Events = make([]subtitles.Event, len(doc.Events))
	copy(out.Events, doc.Events)

	if len(lines) == 0 {
		return &out, "", nil
	}

	result, err := s.translator.Translate(ctx, translation.Request{
		Lines:          lines,
		SourceLang:     sourceLang,
		TargetLang:     targetLang,
		SeriesGlossary: glossary,
	})
	if err != nil {
		return nil, "", err
	}
	if len(result.TranslatedLines) != len(lines) {
		return nil, "", models.NewTranslationError(result.BackendUsed, models.LineCountMismatch,
			fmt.Errorf("engine returned %d lines for %d inputs", len(result.TranslatedLines), len(lines)))
	}

	for i, p := range queue {
		out.Events[p.eventIndex].Text = subtitles.RestoreTags(result.TranslatedLines[i], p.tags, p.cleanLen)
	}
	return &out, result.BackendUsed, nil
}
