package providers

import (
	"strings"

	"sublarr/models"
)

// annotateReleaseMatches records which query attributes a release name
// verifies. Providers call this instead of computing scores; the attribute
// set is what the engine's weight table consumes.
func annotateReleaseMatches(result *models.SubtitleResult, query models.VideoQuery, release string) {
	release = strings.ToLower(release)
	if release == "" {
		return
	}
	if query.ReleaseGroup != "" && strings.Contains(release, strings.ToLower(query.ReleaseGroup)) {
		result.AddMatch(MatchReleaseGroup)
	}
	if query.Source != "" && containsToken(release, strings.ToLower(query.Source)) {
		result.AddMatch(MatchSource)
	}
	if query.Resolution != "" && strings.Contains(release, strings.ToLower(query.Resolution)) {
		result.AddMatch(MatchResolution)
	}
	if query.AudioCodec != "" && containsToken(release, strings.ToLower(query.AudioCodec)) {
		result.AddMatch(MatchAudioCodec)
	}
}

// containsToken matches whole dotted/dashed release tokens, so "web" does
// not match "webster".
func containsToken(release, token string) bool {
	for _, sep := range []string{".", "-", " ", "_"} {
		release = strings.ReplaceAll(release, sep, " ")
	}
	for _, field := range strings.Fields(release) {
		if field == token {
			return true
		}
	}
	return false
}
