package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// localBackend shells out to a CTranslate2-style whisper CLI. The CLI's
// presence in PATH is checked once, on first use; every call then runs a
// new CLI process, which loads the model itself.
type localBackend struct {
	model string

	once    sync.Once
	loadErr error
}

func newLocalBackend(model string) *localBackend {
	if model == "" {
		model = "small"
	}
	return &localBackend{model: model}
}

func (b *localBackend) Name() string { return "whisper-local" }

func (b *localBackend) ensureModel() error {
	b.once.Do(func() {
		if _, err := exec.LookPath("whisper-ctranslate2"); err != nil {
			b.loadErr = fmt.Errorf("whisper-ctranslate2 not found in PATH: %w", err)
		}
	})
	return b.loadErr
}

type whisperJSONOutput struct {
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
		// avg_logprob maps roughly onto a confidence once exponentiated;
		// the CLI also emits a direct confidence for some models.
		Confidence float64 `json:"confidence"`
	} `json:"segments"`
}

func (b *localBackend) Transcribe(ctx context.Context, wavPath string) ([]Segment, string, error) {
	if err := b.ensureModel(); err != nil {
		return nil, "", err
	}

	outDir, err := os.MkdirTemp("", "sublarr-whisper-")
	if err != nil {
		return nil, "", err
	}
	defer os.RemoveAll(outDir)

	cmd := exec.CommandContext(ctx, "whisper-ctranslate2",
		"--model", b.model,
		"--output_format", "json",
		"--output_dir", outDir,
		wavPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, "", fmt.Errorf("whisper: %s: %w", stderr.String(), err)
	}

	base := strings.TrimSuffix(filepath.Base(wavPath), filepath.Ext(wavPath))
	payload, err := os.ReadFile(filepath.Join(outDir, base+".json"))
	if err != nil {
		return nil, "", fmt.Errorf("whisper output: %w", err)
	}
	return parseWhisperJSON(payload)
}

func parseWhisperJSON(payload []byte) ([]Segment, string, error) {
	var parsed whisperJSONOutput
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, "", err
	}
	segments := make([]Segment, 0, len(parsed.Segments))
	for _, seg := range parsed.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			StartMS:    int(seg.Start * 1000),
			EndMS:      int(seg.End * 1000),
			Text:       text,
			Confidence: seg.Confidence,
		})
	}
	lang := parsed.Language
	if lang == "" {
		lang = "en"
	}
	return segments, lang, nil
}

// httpBackend posts the WAV to an external transcription API.
type httpBackend struct {
	baseURL string
	httpc   *http.Client
}

func newHTTPBackend(url string) *httpBackend {
	return &httpBackend{baseURL: strings.TrimRight(url, "/"), httpc: &http.Client{}}
}

func (b *httpBackend) Name() string { return "whisper-http" }

func (b *httpBackend) Transcribe(ctx context.Context, wavPath string) ([]Segment, string, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/transcribe", &body)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.httpc.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("transcription api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return parseWhisperJSON(payload)
}
