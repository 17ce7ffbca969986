package providers

import (
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

// podnapisiProvider queries the Podnapisi.NET JSON search API. No account is
// required; downloads come back as zip archives.
type podnapisiProvider struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	rateLimit  RateLimit
	httpc      *http.Client
}

func newPodnapisiProvider(cfg config.ProviderConfig) (Provider, error) {
	base := strings.TrimRight(cfg.Config["url"], "/")
	if base == "" {
		base = "https://www.podnapisi.net"
	}
	return &podnapisiProvider{
		baseURL:    base,
		timeout:    timeoutOrDefault(cfg.TimeoutSec, 20*time.Second),
		maxRetries: retriesOrDefault(cfg.MaxRetries),
		rateLimit:  rateLimitOrDefault(cfg, 20, 10*time.Second),
		httpc:      &http.Client{},
	}, nil
}

func (p *podnapisiProvider) Name() string                     { return "podnapisi" }
func (p *podnapisiProvider) Languages() []string              { return nil }
func (p *podnapisiProvider) RateLimit() RateLimit             { return p.rateLimit }
func (p *podnapisiProvider) Timeout() time.Duration           { return p.timeout }
func (p *podnapisiProvider) MaxRetries() int                  { return p.maxRetries }
func (p *podnapisiProvider) Initialize(context.Context) error { return nil }
func (p *podnapisiProvider) Terminate()                       {}

func (p *podnapisiProvider) ConfigFields() []ConfigField { return nil }

type podnapisiSearchResponse struct {
	Data []struct {
		ID       int64    `json:"id"`
		Pid      string   `json:"pid"`
		Language string   `json:"language"`
		Releases []string `json:"custom_releases"`
		Download string   `json:"download"`
		Flags    []string `json:"flags"`
		Movie    struct {
			Title string `json:"title"`
			Year  int    `json:"year"`
		} `json:"movie"`
	} `json:"data"`
}

func (p *podnapisiProvider) Search(ctx context.Context, query models.VideoQuery, lang string) ([]models.SubtitleResult, error) {
	params := url.Values{}
	params.Set("keywords", query.Title)
	params.Set("language", lang)
	if query.Kind == models.MediaKindEpisode {
		if query.Season > 0 {
			params.Set("seasons", strconv.Itoa(query.Season))
		}
		if query.Episode > 0 {
			params.Set("episodes", strconv.Itoa(query.Episode))
		}
		params.Set("movie_type", "tv-series")
	} else {
		if query.Year > 0 {
			params.Set("year", strconv.Itoa(query.Year))
		}
		params.Set("movie_type", "movie")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/subtitles/search/advanced?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", openSubtitlesUserAgent)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, models.NewProviderError(p.Name(), models.ProviderTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.classifyStatus(resp)
	}

	var parsed podnapisiSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, models.NewProviderError(p.Name(), models.ProviderFormat, err)
	}

	var results []models.SubtitleResult
	for _, item := range parsed.Data {
		release := strings.Join(item.Releases, " ")
		res := models.SubtitleResult{
			ID:          strconv.FormatInt(item.ID, 10),
			Language:    item.Language,
			Format:      models.FormatUnknown, // zip content decides
			DownloadRef: item.Pid,
			Release:     release,
			Filename:    firstOrEmpty(item.Releases),
		}
		for _, flag := range item.Flags {
			switch flag {
			case "hearing_impaired":
				res.HearingImpaired = true
				res.AddMatch(MatchHearingImpaired)
			case "foreign_only":
				res.Forced = true
			}
		}
		if titleMatches(item.Movie.Title, query.Title) {
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
		}
		if query.Year > 0 && item.Movie.Year == query.Year {
			res.AddMatch(MatchYear)
		}
		annotateReleaseMatches(&res, query, release)
		results = append(results, res)
	}
	return results, nil
}

func (p *podnapisiProvider) Download(ctx context.Context, result models.SubtitleResult) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/subtitles/%s/download", p.baseURL, result.DownloadRef), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", openSubtitlesUserAgent)

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

func (p *podnapisiProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/subtitles/search/advanced?keywords=test", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("podnapisi returned %s", resp.Status)
	}
	return nil
}

func (p *podnapisiProvider) classifyStatus(resp *http.Response) error {
	err := fmt.Errorf("status %d", resp.StatusCode)
	switch {
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

func titleMatches(a, b string) bool {
	normalize := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	return a != "" && b != "" && normalize(a) == normalize(b)
}

func firstOrEmpty(values []string) string {
	if len(values) > 0 {
		return values[0]
	}
	return ""
}
