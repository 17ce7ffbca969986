package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sublarr/config"
	"sublarr/models"
)

// ollamaBackend talks to a local LLM through an Ollama-compatible generate
// endpoint.
type ollamaBackend struct {
	baseURL string
	model   string
	httpc   *http.Client
}

func newOllamaBackend(cfg config.BackendConfig) (Backend, error) {
	url := strings.TrimRight(cfg.Config["url"], "/")
	if url == "" {
		return nil, errors.New("configure ollama_url and verify the service is reachable")
	}
	model := cfg.Config["model"]
	if model == "" {
		model = "llama3.1"
	}
	return &ollamaBackend{
		baseURL: url,
		model:   model,
		httpc:   &http.Client{}, // request deadlines come from the caller's context
	}, nil
}

func (b *ollamaBackend) Name() string                   { return "ollama" }
func (b *ollamaBackend) SupportedPairs() []LanguagePair { return nil }
func (b *ollamaBackend) SupportsBatch() bool            { return true }
func (b *ollamaBackend) MaxBatchSize() int              { return 15 }
func (b *ollamaBackend) Prompted() bool                 { return true }

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func (b *ollamaBackend) TranslateBatch(ctx context.Context, batch Batch) ([]string, error) {
	payload, err := json.Marshal(ollamaGenerateRequest{
		Model:  b.model,
		Prompt: buildPrompt(batch),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/generate", bytes.NewReader(payload))
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

	var parsed ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, models.NewTranslationError(b.Name(), models.BackendUnavailable, err)
	}

	lines, ok := parseNumberedResponse(parsed.Response, len(batch.Lines))
	if !ok {
		return nil, models.NewTranslationError(b.Name(), models.LineCountMismatch,
			fmt.Errorf("model returned a malformed numbered list for %d lines", len(batch.Lines)))
	}
	return lines, nil
}

func (b *ollamaBackend) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := b.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable at %s: %w", b.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned %d", resp.StatusCode)
	}
	return nil
}

// classifyHTTPStatus maps a backend HTTP status to the translation error
// taxonomy.
func classifyHTTPStatus(backend string, status int, body string) error {
	err := fmt.Errorf("status %d: %s", status, strings.TrimSpace(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.NewTranslationError(backend, models.BackendAuthInvalid, err)
	case status == http.StatusTooManyRequests:
		return models.NewTranslationError(backend, models.BackendUnavailable, err)
	case status >= 500:
		return models.NewTranslationError(backend, models.BackendUnavailable, err)
	default:
		return models.NewTranslationError(backend, models.BackendUnavailable, err)
	}
}
