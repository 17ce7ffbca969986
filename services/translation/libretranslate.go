package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"sublarr/config"
	"sublarr/models"
)

// libreTranslateBackend is the self-hostable per-line sentence backend.
type libreTranslateBackend struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func newLibreTranslateBackend(cfg config.BackendConfig) (Backend, error) {
	url := strings.TrimRight(cfg.Config["url"], "/")
	if url == "" {
		return nil, errors.New("configure libretranslate url")
	}
	return &libreTranslateBackend{
		baseURL: url,
		apiKey:  cfg.Config["api_key"],
		httpc:   &http.Client{},
	}, nil
}

func (b *libreTranslateBackend) Name() string                   { return "libretranslate" }
func (b *libreTranslateBackend) SupportedPairs() []LanguagePair { return nil }
func (b *libreTranslateBackend) SupportsBatch() bool            { return false }
func (b *libreTranslateBackend) MaxBatchSize() int              { return 1 }
func (b *libreTranslateBackend) Prompted() bool                 { return false }

type libreTranslateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type libreTranslateResponse struct {
	TranslatedText string `json:"translatedText"`
}

func (b *libreTranslateBackend) TranslateBatch(ctx context.Context, batch Batch) ([]string, error) {
	out := make([]string, 0, len(batch.Lines))
	for _, line := range batch.Lines {
		translated, err := b.translateOne(ctx, line, batch.SourceLang, batch.TargetLang)
		if err != nil {
			return nil, err
		}
		out = append(out, translated)
	}
	return out, nil
}

func (b *libreTranslateBackend) translateOne(ctx context.Context, line, source, target string) (string, error) {
	payload, err := json.Marshal(libreTranslateRequest{
		Q:      line,
		Source: source,
		Target: target,
		Format: "text",
		APIKey: b.apiKey,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/translate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpc.Do(req)
	if err != nil {
		return "", models.NewTranslationError(b.Name(), models.BackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", classifyHTTPStatus(b.Name(), resp.StatusCode, string(body))
	}

	var parsed libreTranslateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", models.NewTranslationError(b.Name(), models.BackendUnavailable, err)
	}
	return parsed.TranslatedText, nil
}

func (b *libreTranslateBackend) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/languages", nil)
	if err != nil {
		return err
	}
	resp, err := b.httpc.Do(req)
	if err != nil {
		return errors.New("libretranslate unreachable at " + b.baseURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.New("libretranslate returned " + resp.Status)
	}
	return nil
}
