package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"html"
	"io"
	"net/http"
	"strings"

	"sublarr/config"
	"sublarr/models"
)

// googleBackend is the cloud-translation backend (Translation API v2 REST).
type googleBackend struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
}

func newGoogleBackend(cfg config.BackendConfig) (Backend, error) {
	key := cfg.Config["api_key"]
	if key == "" {
		return nil, errors.New("configure google api_key")
	}
	base := strings.TrimRight(cfg.Config["url"], "/")
	if base == "" {
		base = "https://translation.googleapis.com"
	}
	return &googleBackend{apiKey: key, baseURL: base, httpc: &http.Client{}}, nil
}

func (b *googleBackend) Name() string                   { return "google" }
func (b *googleBackend) SupportedPairs() []LanguagePair { return nil }
func (b *googleBackend) SupportsBatch() bool            { return true }
func (b *googleBackend) MaxBatchSize() int              { return 100 }
func (b *googleBackend) Prompted() bool                 { return false }

type googleTranslateRequest struct {
	Q      []string `json:"q"`
	Source string   `json:"source,omitempty"`
	Target string   `json:"target"`
	Format string   `json:"format"`
}

type googleTranslateResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText string `json:"translatedText"`
		} `json:"translations"`
	} `json:"data"`
}

func (b *googleBackend) TranslateBatch(ctx context.Context, batch Batch) ([]string, error) {
	payload, err := json.Marshal(googleTranslateRequest{
		Q:      batch.Lines,
		Source: batch.SourceLang,
		Target: batch.TargetLang,
		Format: "text",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/language/translate/v2?key="+b.apiKey, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpc.Do(req)
	if err != nil {
		return nil, models.NewTranslationError(b.Name(), models.BackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, classifyHTTPStatus(b.Name(), resp.StatusCode, string(body))
	}

	var parsed googleTranslateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, models.NewTranslationError(b.Name(), models.BackendUnavailable, err)
	}

	out := make([]string, 0, len(parsed.Data.Translations))
	for _, t := range parsed.Data.Translations {
		out = append(out, html.UnescapeString(t.TranslatedText))
	}
	return out, nil
}

func (b *googleBackend) HealthCheck(ctx context.Context) error {
	_, err := b.TranslateBatch(ctx, Batch{
		Lines:      []string{"hello"},
		SourceLang: "en",
		TargetLang: "es",
	})
	return err
}
