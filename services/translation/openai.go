package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"sublarr/config"
	"sublarr/models"
)

// openaiBackend talks to any OpenAI-compatible chat completion API.
type openaiBackend struct {
	client openai.Client
	model  string
}

func newOpenAIBackend(cfg config.BackendConfig) (Backend, error) {
	key := cfg.Config["api_key"]
	if key == "" {
		return nil, errors.New("configure openai api_key")
	}
	opts := []option.RequestOption{option.WithAPIKey(key)}
	if base := strings.TrimRight(cfg.Config["url"], "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	model := cfg.Config["model"]
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &openaiBackend{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

func (b *openaiBackend) Name() string                   { return "openai" }
func (b *openaiBackend) SupportedPairs() []LanguagePair { return nil }
func (b *openaiBackend) SupportsBatch() bool            { return true }
func (b *openaiBackend) MaxBatchSize() int              { return 15 }
func (b *openaiBackend) Prompted() bool                 { return true }

const openaiSystemPrompt = "You are a subtitle translator. You translate numbered subtitle lines " +
	"and reply only with the numbered translations, nothing else."

func (b *openaiBackend) TranslateBatch(ctx context.Context, batch Batch) ([]string, error) {
	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(b.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(openaiSystemPrompt),
			openai.UserMessage(buildPrompt(batch)),
		},
	})
	if err != nil {
		return nil, classifyOpenAIError(b.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return nil, models.NewTranslationError(b.Name(), models.BackendUnavailable,
			errors.New("empty completion"))
	}

	lines, ok := parseNumberedResponse(resp.Choices[0].Message.Content, len(batch.Lines))
	if !ok {
		return nil, models.NewTranslationError(b.Name(), models.LineCountMismatch,
			fmt.Errorf("model returned a malformed numbered list for %d lines", len(batch.Lines)))
	}
	return lines, nil
}

func (b *openaiBackend) HealthCheck(ctx context.Context) error {
	_, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(b.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("Reply with the single word: ok"),
		},
	})
	return err
}

func classifyOpenAIError(backend string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return models.NewTranslationError(backend, models.BackendAuthInvalid, err)
		case 408, 504:
			return models.NewTranslationError(backend, models.BackendTimeout, err)
		}
	}
	return models.NewTranslationError(backend, models.BackendUnavailable, err)
}
