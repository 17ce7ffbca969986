package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"sublarr/config"
	"sublarr/models"
)

// deeplBackend is the commercial sentence-translation backend. DeepL meters
// by character, so the backend keeps a running count for operators.
type deeplBackend struct {
	apiKey  string
	baseURL string
	httpc   *http.Client

	charsMetered atomic.Int64
}

func newDeepLBackend(cfg config.BackendConfig) (Backend, error) {
	key := cfg.Config["api_key"]
	if key == "" {
		return nil, errors.New("configure deepl api_key")
	}
	base := strings.TrimRight(cfg.Config["url"], "/")
	if base == "" {
		// Free-tier keys carry the ":fx" suffix and use the free host.
		if strings.HasSuffix(key, ":fx") {
			base = "https://api-free.deepl.com"
		} else {
			base = "https://api.deepl.com"
		}
	}
	return &deeplBackend{apiKey: key, baseURL: base, httpc: &http.Client{}}, nil
}

func (b *deeplBackend) Name() string        { return "deepl" }
func (b *deeplBackend) SupportsBatch() bool { return true }
func (b *deeplBackend) MaxBatchSize() int   { return 50 }
func (b *deeplBackend) Prompted() bool      { return false }

// SupportedPairs lists the DeepL pairs we route; DeepL accepts any direction
// among these languages.
func (b *deeplBackend) SupportedPairs() []LanguagePair {
	langs := []string{"en", "de", "fr", "es", "it", "pt", "nl", "pl", "ru", "ja", "zh", "cs", "da", "fi", "hu", "ko", "nb", "ro", "sv", "tr", "uk"}
	var pairs []LanguagePair
	for _, src := range langs {
		for _, tgt := range langs {
			if src != tgt {
				pairs = append(pairs, LanguagePair{Source: src, Target: tgt})
			}
		}
	}
	return pairs
}

type deeplRequest struct {
	Text       []string `json:"text"`
	SourceLang string   `json:"source_lang,omitempty"`
	TargetLang string   `json:"target_lang"`
}

type deeplResponse struct {
	Translations []struct {
		Text string `json:"text"`
	} `json:"translations"`
}

func (b *deeplBackend) TranslateBatch(ctx context.Context, batch Batch) ([]string, error) {
	payload, err := json.Marshal(deeplRequest{
		Text:       batch.Lines,
		SourceLang: strings.ToUpper(batch.SourceLang),
		TargetLang: strings.ToUpper(batch.TargetLang),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v2/translate", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+b.apiKey)
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

	var parsed deeplResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, models.NewTranslationError(b.Name(), models.BackendUnavailable, err)
	}

	out := make([]string, 0, len(parsed.Translations))
	for _, t := range parsed.Translations {
		out = append(out, t.Text)
	}
	for _, line := range batch.Lines {
		b.charsMetered.Add(int64(len(line)))
	}
	return out, nil
}

// CharactersMetered returns the characters sent so far this process.
func (b *deeplBackend) CharactersMetered() int64 {
	return b.charsMetered.Load()
}

func (b *deeplBackend) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/v2/usage", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+b.apiKey)
	resp, err := b.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return errors.New("deepl api key rejected")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.New("deepl returned " + resp.Status)
	}
	return nil
}
