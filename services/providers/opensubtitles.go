package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sublarr/config"
	"sublarr/models"
)

const openSubtitlesUserAgent = "Sublarr v1"

// openSubtitlesProvider talks to the OpenSubtitles REST API (v1).
type openSubtitlesProvider struct {
	apiKey     string
	username   string
	password   string
	baseURL    string
	timeout    time.Duration
	maxRetries int
	rateLimit  RateLimit
	httpc      *http.Client

	token string
}

func newOpenSubtitlesProvider(cfg config.ProviderConfig) (Provider, error) {
	apiKey := cfg.Config["api_key"]
	if apiKey == "" {
		return nil, fmt.Errorf("configure opensubtitles api_key")
	}
	base := strings.TrimRight(cfg.Config["url"], "/")
	if base == "" {
		base = "https://api.opensubtitles.com/api/v1"
	}
	return &openSubtitlesProvider{
		apiKey:     apiKey,
		username:   cfg.Config["username"],
		password:   cfg.Config["password"],
		baseURL:    base,
		timeout:    timeoutOrDefault(cfg.TimeoutSec, 20*time.Second),
		maxRetries: retriesOrDefault(cfg.MaxRetries),
		rateLimit:  rateLimitOrDefault(cfg, 40, 10*time.Second),
		httpc:      &http.Client{},
	}, nil
}

func (p *openSubtitlesProvider) Name() string           { return "opensubtitles" }
func (p *openSubtitlesProvider) Languages() []string    { return nil }
func (p *openSubtitlesProvider) RateLimit() RateLimit   { return p.rateLimit }
func (p *openSubtitlesProvider) Timeout() time.Duration { return p.timeout }
func (p *openSubtitlesProvider) MaxRetries() int        { return p.maxRetries }
func (p *openSubtitlesProvider) Terminate()             {}

func (p *openSubtitlesProvider) ConfigFields() []ConfigField {
	return []ConfigField{
		{Key: "api_key", Label: "API key", Secret: true, Required: true},
		{Key: "username", Label: "Username"},
		{Key: "password", Label: "Password", Secret: true},
	}
}

// Initialize logs in when credentials are configured; the API works keyed
// without a user token at a lower download quota.
func (p *openSubtitlesProvider) Initialize(ctx context.Context) error {
	if p.username == "" || p.password == "" {
		return nil
	}
	payload, _ := json.Marshal(map[string]string{"username": p.username, "password": p.password})
	var parsed struct {
		Token string `json:"token"`
	}
	if err := p.doJSON(ctx, http.MethodPost, "/login", payload, &parsed); err != nil {
		return err
	}
	p.token = parsed.Token
	return nil
}

type osSearchResponse struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Language         string `json:"language"`
			HearingImpaired  bool   `json:"hearing_impaired"`
			ForeignPartsOnly bool   `json:"foreign_parts_only"`
			AITranslated     bool   `json:"ai_translated"`
			MoviehashMatch   bool   `json:"moviehash_match"`
			Release          string `json:"release"`
			Files            []struct {
				FileID   int64  `json:"file_id"`
				FileName string `json:"file_name"`
			} `json:"files"`
		} `json:"attributes"`
	} `json:"data"`
}

func (p *openSubtitlesProvider) Search(ctx context.Context, query models.VideoQuery, lang string) ([]models.SubtitleResult, error) {
	params := url.Values{}
	params.Set("languages", lang)
	if query.Hash != "" {
		params.Set("moviehash", query.Hash)
	}
	if query.IDs.IMDB != "" {
		params.Set("imdb_id", strings.TrimPrefix(query.IDs.IMDB, "tt"))
	} else if query.Title != "" {
		params.Set("query", query.Title)
	}
	if query.Kind == models.MediaKindEpisode {
		if query.Season > 0 {
			params.Set("season_number", strconv.Itoa(query.Season))
		}
		if query.Episode > 0 {
			params.Set("episode_number", strconv.Itoa(query.Episode))
		}
	} else if query.Year > 0 {
		params.Set("year", strconv.Itoa(query.Year))
	}

	var parsed osSearchResponse
	if err := p.doJSON(ctx, http.MethodGet, "/subtitles?"+params.Encode(), nil, &parsed); err != nil {
		return nil, err
	}

	identityVerified := query.Hash != "" || query.IDs.IMDB != ""
	var results []models.SubtitleResult
	for _, item := range parsed.Data {
		if len(item.Attributes.Files) == 0 {
			continue
		}
		file := item.Attributes.Files[0]
		res := models.SubtitleResult{
			ID:              item.ID,
			Language:        item.Attributes.Language,
			Format:          models.FormatFromExtension(extOf(file.FileName)),
			Filename:        file.FileName,
			DownloadRef:     strconv.FormatInt(file.FileID, 10),
			Release:         item.Attributes.Release,
			HearingImpaired: item.Attributes.HearingImpaired,
			Forced:          item.Attributes.ForeignPartsOnly,
			MachineMade:     item.Attributes.AITranslated,
		}
		if item.Attributes.MoviehashMatch {
			res.AddMatch(MatchHash)
		}
		if identityVerified {
			if query.Kind == models.MediaKindEpisode {
				res.AddMatch(MatchSeries)
				if query.Season > 0 {
					res.AddMatch(MatchSeason)
				}
				if query.Episode > 0 {
					res.AddMatch(MatchEpisode)
				}
			} else {
				res.AddMatch(MatchTitle)
			}
			if query.Year > 0 {
				res.AddMatch(MatchYear)
			}
		}
		if res.HearingImpaired {
			res.AddMatch(MatchHearingImpaired)
		}
		annotateReleaseMatches(&res, query, item.Attributes.Release)
		results = append(results, res)
	}
	return results, nil
}

func (p *openSubtitlesProvider) Download(ctx context.Context, result models.SubtitleResult) ([]byte, error) {
	fileID, err := strconv.ParseInt(result.DownloadRef, 10, 64)
	if err != nil {
		return nil, models.NewProviderError(p.Name(), models.ProviderFormat, err)
	}
	payload, _ := json.Marshal(map[string]int64{"file_id": fileID})
	var parsed struct {
		Link string `json:"link"`
	}
	if err := p.doJSON(ctx, http.MethodPost, "/download", payload, &parsed); err != nil {
		return nil, err
	}
	if parsed.Link == "" {
		return nil, models.NewProviderError(p.Name(), models.ProviderFormat, fmt.Errorf("empty download link"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.Link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, models.NewProviderError(p.Name(), models.ProviderTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, p.classifyStatus(resp)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDecompressedSize+1))
}

func (p *openSubtitlesProvider) HealthCheck(ctx context.Context) error {
	var parsed struct {
		Data any `json:"data"`
	}
	return p.doJSON(ctx, http.MethodGet, "/infos/languages", nil, &parsed)
}

func (p *openSubtitlesProvider) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Api-Key", p.apiKey)
	req.Header.Set("User-Agent", openSubtitlesUserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpc.Do(req)
	if err != nil {
		return models.NewProviderError(p.Name(), models.ProviderTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return p.classifyStatus(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *openSubtitlesProvider) classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return models.NewProviderError(p.Name(), models.ProviderAuth, err)
	case resp.StatusCode == http.StatusTooManyRequests:
		perr := models.NewProviderError(p.Name(), models.ProviderRateLimit, err)
		perr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return perr
	case resp.StatusCode >= 500:
		return models.NewProviderError(p.Name(), models.ProviderTransient, err)
	default:
		return models.NewProviderError(p.Name(), models.ProviderFormat, err)
	}
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}

func timeoutOrDefault(secs int, def time.Duration) time.Duration {
	if secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

func retriesOrDefault(n int) int {
	if n <= 0 {
		return 2
	}
	return n
}

func rateLimitOrDefault(cfg config.ProviderConfig, requests int, window time.Duration) RateLimit {
	rl := RateLimit{Requests: cfg.RateLimitRequests, Window: time.Duration(cfg.RateLimitWindow) * time.Second}
	if rl.Requests <= 0 || rl.Window <= 0 {
		rl = RateLimit{Requests: requests, Window: window}
	}
	return rl
}
