package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sublarr/config"
	"sublarr/models"
)

func episodeQuery() models.VideoQuery {
	return models.VideoQuery{Kind: models.MediaKindEpisode, Title: "Show", Season: 1, Episode: 2}
}

func resultWithMatches(format models.SubtitleFormat, matches ...string) models.SubtitleResult {
	res := models.SubtitleResult{Format: format}
	for _, m := range matches {
		res.AddMatch(m)
	}
	return res
}

func TestEpisodeScoreWeights(t *testing.T) {
	s := newScorer()
	table := s.table(config.ScoringSettings{})

	assert.Equal(t, 359, table.Score(episodeQuery(), resultWithMatches(models.FormatSRT, MatchHash)))
	assert.Equal(t, 180+30+30, table.Score(episodeQuery(), resultWithMatches(models.FormatSRT, MatchSeries, MatchSeason, MatchEpisode)))
	assert.Equal(t, 14+7+3+2+1, table.Score(episodeQuery(), resultWithMatches(models.FormatSRT,
		MatchReleaseGroup, MatchSource, MatchAudioCodec, MatchResolution, MatchHearingImpaired)))
}

func TestMovieScoreWeights(t *testing.T) {
	s := newScorer()
	table := s.table(config.ScoringSettings{})
	query := models.VideoQuery{Kind: models.MediaKindMovie, Title: "Film"}

	assert.Equal(t, 119, table.Score(query, resultWithMatches(models.FormatSRT, MatchHash)))
	assert.Equal(t, 60+30, table.Score(query, resultWithMatches(models.FormatSRT, MatchTitle, MatchYear)))
}

func TestFormatBonus(t *testing.T) {
	s := newScorer()
	table := s.table(config.ScoringSettings{})

	srt := table.Score(episodeQuery(), resultWithMatches(models.FormatSRT, MatchSeries))
	ass := table.Score(episodeQuery(), resultWithMatches(models.FormatASS, MatchSeries))
	ssa := table.Score(episodeQuery(), resultWithMatches(models.FormatSSA, MatchSeries))

	assert.Equal(t, srt+50, ass)
	assert.Equal(t, srt+50, ssa)
}

func TestScoreMonotonicity(t *testing.T) {
	s := newScorer()
	table := s.table(config.ScoringSettings{})

	base := resultWithMatches(models.FormatSRT, MatchSeries)
	baseScore := table.Score(episodeQuery(), base)

	for _, attr := range []string{MatchHash, MatchYear, MatchSeason, MatchEpisode,
		MatchReleaseGroup, MatchSource, MatchAudioCodec, MatchResolution, MatchHearingImpaired} {
		extended := resultWithMatches(models.FormatSRT, MatchSeries, attr)
		assert.GreaterOrEqual(t, table.Score(episodeQuery(), extended), baseScore,
			"adding match %s must not decrease the score", attr)
	}
}

func TestWeightOverrides(t *testing.T) {
	s := newScorer()
	table := s.table(config.ScoringSettings{
		EpisodeWeights: map[string]int{MatchHash: 500},
		FormatBonus:    10,
	})

	assert.Equal(t, 500, table.Score(episodeQuery(), resultWithMatches(models.FormatSRT, MatchHash)))
	assert.Equal(t, 510, table.Score(episodeQuery(), resultWithMatches(models.FormatASS, MatchHash)))
}

func TestWeightTableCacheKeyedByConfig(t *testing.T) {
	s := newScorer()
	first := s.table(config.ScoringSettings{})
	second := s.table(config.ScoringSettings{})
	assert.Same(t, first, second, "identical config within the TTL reuses the table")

	changed := s.table(config.ScoringSettings{EpisodeWeights: map[string]int{MatchHash: 1}})
	assert.NotSame(t, first, changed, "a config change resolves a fresh table")
}
