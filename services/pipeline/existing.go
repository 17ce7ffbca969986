package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"sublarr/models"
)

// existingArtifact describes a subtitle already present for a target.
type existingArtifact struct {
	Path   string
	Format models.SubtitleFormat
}

// findExternal looks for sibling subtitle files for (video, lang, type) in
// the preferred-format order.
func findExternal(videoPath, lang string, subtitleType models.SubtitleType) []existingArtifact {
	var found []existingArtifact
	for _, format := range []models.SubtitleFormat{models.FormatASS, models.FormatSSA, models.FormatSRT} {
		p := models.SubtitlePath(videoPath, lang, subtitleType, format)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			found = append(found, existingArtifact{Path: p, Format: format})
		}
	}
	return found
}

// findNeighbourSRT looks for an external source-language SRT next to the
// video (case C2), ignoring forced variants.
func findNeighbourSRT(videoPath, sourceLang string) string {
	p := models.SubtitlePath(videoPath, sourceLang, models.SubtitleTypeNormal, models.FormatSRT)
	if info, err := os.Stat(p); err == nil && !info.IsDir() {
		return p
	}
	// A bare "<base>.srt" with no language token is treated as source
	// language, the convention rippers follow.
	base := strings.TrimSuffix(videoPath, filepath.Ext(videoPath))
	bare := base + ".srt"
	if info, err := os.Stat(bare); err == nil && !info.IsDir() {
		return bare
	}
	return ""
}

// embeddedSubtitle finds an embedded subtitle stream in the wanted language
// with a text codec of the given styled-ness. The forced disposition must
// line up with the requested subtitle type.
func embeddedSubtitle(streams models.Streams, lang string, styled bool, subtitleType models.SubtitleType) (models.Stream, bool) {
	wantForced := subtitleType == models.SubtitleTypeForced
	for _, st := range streams.Subtitles() {
		format := models.SubtitleFormatForCodec(st.CodecName)
		if format == models.FormatUnknown {
			continue
		}
		if format.IsStyled() != styled {
			continue
		}
		if st.Language != lang {
			continue
		}
		if st.Forced != wantForced {
			continue
		}
		return st, true
	}
	return models.Stream{}, false
}

// primaryAudioLanguage returns the language of the first audio stream that
// carries a language tag, or the fallback when none does.
func primaryAudioLanguage(streams models.Streams, fallback string) string {
	for _, st := range streams.Audio() {
		if st.Language != "" {
			return st.Language
		}
	}
	return fallback
}
