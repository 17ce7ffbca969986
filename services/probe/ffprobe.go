package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"sublarr/models"
)

// ffprobeEngine shells out to an ffprobe-compatible binary. All stream types
// are requested in one call; selecting only subtitles would silently break
// audio-language checks downstream.
type ffprobeEngine struct {
	binary  string
	timeout time.Duration
}

func (e *ffprobeEngine) Name() string { return "ffprobe" }

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	Index       int               `json:"index"`
	CodecType   string            `json:"codec_type"`
	CodecName   string            `json:"codec_name"`
	Tags        map[string]string `json:"tags"`
	Disposition struct {
		Forced  int `json:"forced"`
		Default int `json:"default"`
	} `json:"disposition"`
}

func (e *ffprobeEngine) Probe(ctx context.Context, path string) (models.Streams, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("ffprobe timed out after %s", e.timeout)
		}
		return nil, fmt.Errorf("ffprobe: %s: %w", stderr.String(), err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("ffprobe output: %w", err)
	}

	streams := make(models.Streams, 0, len(parsed.Streams))
	for _, raw := range parsed.Streams {
		var codecType models.CodecType
		switch raw.CodecType {
		case "video":
			codecType = models.CodecTypeVideo
		case "audio":
			codecType = models.CodecTypeAudio
		case "subtitle":
			codecType = models.CodecTypeSubtitle
		default:
			continue
		}
		streams = append(streams, models.Stream{
			Index:     raw.Index,
			CodecType: codecType,
			CodecName: raw.CodecName,
			Language:  NormalizeLanguage(raw.Tags["language"]),
			Title:     raw.Tags["title"],
			Forced:    raw.Disposition.Forced == 1,
			Default:   raw.Disposition.Default == 1,
		})
	}
	return streams, nil
}
