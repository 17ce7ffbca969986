package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sublarr/config"
	"sublarr/models"
)

// gestdownProvider searches episode subtitles through the Gestdown proxy API
// over the Addic7ed catalogue. Episodes only; movies are not served.
type gestdownProvider struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	rateLimit  RateLimit
	httpc      *http.Client
}

func newGestdownProvider(cfg config.ProviderConfig) (Provider, error) {
	base := strings.TrimRight(cfg.Config["url"], "/")
	if base == "" {
		base = "https://api.gestdown.info"
	}
	return &gestdownProvider{
		baseURL:    base,
		timeout:    timeoutOrDefault(cfg.TimeoutSec, 20*time.Second),
		maxRetries: retriesOrDefault(cfg.MaxRetries),
		rateLimit:  rateLimitOrDefault(cfg, 30, time.Minute),
		httpc:      &http.Client{},
	}, nil
}

func (p *gestdownProvider) Name() string                     { return "gestdown" }
func (p *gestdownProvider) Languages() []string              { return nil }
func (p *gestdownProvider) RateLimit() RateLimit             { return p.rateLimit }
func (p *gestdownProvider) Timeout() time.Duration           { return p.timeout }
func (p *gestdownProvider) MaxRetries() int                  { return p.maxRetries }
func (p *gestdownProvider) Initialize(context.Context) error { return nil }
func (p *gestdownProvider) Terminate()                       {}
func (p *gestdownProvider) ConfigFields() []ConfigField      { return nil }

type gestdownSearchResponse struct {
	MatchingSubtitles []struct {
		SubtitleID      string `json:"subtitleId"`
		Version         string `json:"version"`
		Completed       bool   `json:"completed"`
		HearingImpaired bool   `json:"hearingImpaired"`
		DownloadURI     string `json:"downloadUri"`
		Language        string `json:"language"`
	} `json:"matchingSubtitles"`
}

func (p *gestdownProvider) Search(ctx context.Context, query models.VideoQuery, lang string) ([]models.SubtitleResult, error) {
	if query.Kind != models.MediaKindEpisode || query.Title == "" || query.Season <= 0 || query.Episode <= 0 {
		return nil, nil
	}

	path := fmt.Sprintf("/subtitles/find/%s/%s/%d/%d",
		url.PathEscape(lang), url.PathEscape(query.Title), query.Season, query.Episode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
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

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil // show or episode unknown: legitimately zero results
	}
	if resp.StatusCode != http.StatusOK {
		return nil, p.classifyStatus(resp)
	}

	var parsed gestdownSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, models.NewProviderError(p.Name(), models.ProviderFormat, err)
	}

	var results []models.SubtitleResult
	for _, item := range parsed.MatchingSubtitles {
		if !item.Completed {
			continue
		}
		res := models.SubtitleResult{
			ID:              item.SubtitleID,
			Language:        normalizeGestdownLanguage(item.Language, lang),
			Format:          models.FormatSRT, // Addic7ed serves SubRip
			DownloadRef:     item.DownloadURI,
			Release:         item.Version,
			HearingImpaired: item.HearingImpaired,
		}
		// The find endpoint is keyed by show/season/episode, so those
		// attributes are verified by construction.
		res.AddMatch(MatchSeries)
		res.AddMatch(MatchSeason)
		res.AddMatch(MatchEpisode)
		if res.HearingImpaired {
			res.AddMatch(MatchHearingImpaired)
		}
		annotateReleaseMatches(&res, query, item.Version)
		results = append(results, res)
	}
	return results, nil
}

func (p *gestdownProvider) Download(ctx context.Context, result models.SubtitleResult) ([]byte, error) {
	uri := result.DownloadRef
	if !strings.HasPrefix(uri, "http") {
		uri = p.baseURL + uri
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
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

func (p *gestdownProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/shows/search/the", nil)
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
		return fmt.Errorf("gestdown returned %s", resp.Status)
	}
	return nil
}

func (p *gestdownProvider) classifyStatus(resp *http.Response) error {
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

// normalizeGestdownLanguage maps Addic7ed's language names to ISO codes.
func normalizeGestdownLanguage(name, requested string) string {
	switch strings.ToLower(name) {
	case "english":
		return "en"
	case "german", "deutsch":
		return "de"
	case "french", "français":
		return "fr"
	case "spanish", "español":
		return "es"
	case "italian":
		return "it"
	case "portuguese":
		return "pt"
	case "dutch":
		return "nl"
	case "polish":
		return "pl"
	}
	if len(name) == 2 {
		return strings.ToLower(name)
	}
	return requested
}
