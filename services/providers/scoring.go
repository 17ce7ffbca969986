package providers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"sublarr/config"
	"sublarr/models"
)

// Match attribute names providers may verify.
const (
	MatchHash            = "hash"
	MatchSeries          = "series"
	MatchTitle           = "title"
	MatchYear            = "year"
	MatchSeason          = "season"
	MatchEpisode         = "episode"
	MatchReleaseGroup    = "release_group"
	MatchSource          = "source"
	MatchAudioCodec      = "audio_codec"
	MatchResolution      = "resolution"
	MatchHearingImpaired = "hearing_impaired"
)

func defaultEpisodeWeights() map[string]int {
	return map[string]int{
		MatchHash:            359,
		MatchSeries:          180,
		MatchYear:            90,
		MatchSeason:          30,
		MatchEpisode:         30,
		MatchReleaseGroup:    14,
		MatchSource:          7,
		MatchAudioCodec:      3,
		MatchResolution:      2,
		MatchHearingImpaired: 1,
	}
}

func defaultMovieWeights() map[string]int {
	return map[string]int{
		MatchHash:            119,
		MatchTitle:           60,
		MatchYear:            30,
		MatchReleaseGroup:    13,
		MatchSource:          7,
		MatchAudioCodec:      3,
		MatchResolution:      2,
		MatchHearingImpaired: 1,
	}
}

// weightTable is the resolved scoring configuration.
type weightTable struct {
	episode     map[string]int
	movie       map[string]int
	formatBonus int
}

// scorer resolves weight tables from config with a short TTL cache keyed by
// the override fingerprint, so runtime weight changes land within a minute
// without re-reading config on every result.
type scorer struct {
	mu        sync.Mutex
	cached    *weightTable
	digest    string
	expiresAt time.Time
	ttl       time.Duration
}

func newScorer() *scorer {
	return &scorer{ttl: 60 * time.Second}
}

func (s *scorer) table(settings config.ScoringSettings) *weightTable {
	raw, _ := json.Marshal(settings)
	sum := sha256.Sum256(raw)
	digest := hex.EncodeToString(sum[:8])

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && s.digest == digest && time.Now().Before(s.expiresAt) {
		return s.cached
	}

	table := &weightTable{
		episode:     defaultEpisodeWeights(),
		movie:       defaultMovieWeights(),
		formatBonus: settings.FormatBonus,
	}
	if table.formatBonus == 0 {
		table.formatBonus = 50
	}
	for attr, weight := range settings.EpisodeWeights {
		table.episode[attr] = weight
	}
	for attr, weight := range settings.MovieWeights {
		table.movie[attr] = weight
	}

	s.cached = table
	s.digest = digest
	s.expiresAt = time.Now().Add(s.ttl)
	return table
}

// Score computes a result's score from its verified matches. Adding a match
// can only increase the score: negative weight overrides are clamped to 0.
func (t *weightTable) Score(query models.VideoQuery, result models.SubtitleResult) int {
	weights := t.movie
	if query.Kind == models.MediaKindEpisode {
		weights = t.episode
	}
	score := 0
	for attr := range result.Matches {
		if w := weights[attr]; w > 0 {
			score += w
		}
	}
	if result.Format.IsStyled() {
		score += t.formatBonus
	}
	return score
}
