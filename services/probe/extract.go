package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"sublarr/config"
	"sublarr/models"
)

// Extractor pulls embedded streams out of a container with the
// probe-compatible ffmpeg binary.
type Extractor struct {
	cfg *config.Resolver
}

// NewExtractor builds a stream extractor.
func NewExtractor(cfg *config.Resolver) *Extractor {
	return &Extractor{cfg: cfg}
}

// SubtitleStream stream-copies one embedded subtitle track to stdout and
// returns its bytes in the container-native text format.
func (e *Extractor) SubtitleStream(ctx context.Context, path string, streamIndex int, format models.SubtitleFormat) ([]byte, error) {
	settings, err := e.cfg.Effective()
	if err != nil {
		return nil, err
	}

	muxer := "ass"
	if format == models.FormatSRT {
		muxer = "srt"
	}

	cmd := exec.CommandContext(ctx, settings.Probe.FFmpegPath,
		"-v", "quiet",
		"-i", path,
		"-map", "0:"+strconv.Itoa(streamIndex),
		"-c:s", "copy",
		"-f", muxer,
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("extract subtitle stream %d from %s: %s: %w", streamIndex, path, stderr.String(), err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("extract subtitle stream %d from %s: empty output", streamIndex, path)
	}
	return stdout.Bytes(), nil
}

// AudioWAV pipes the primary audio stream to a 16 kHz mono WAV at dst for
// speech-to-text. The caller owns cleanup of dst.
func (e *Extractor) AudioWAV(ctx context.Context, path, dst string) error {
	settings, err := e.cfg.Effective()
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, settings.Probe.FFmpegPath,
		"-v", "quiet",
		"-i", path,
		"-map", "0:a:0",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"-y", dst,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("extract audio from %s after %s: %s: %w", path, time.Since(start).Round(time.Second), stderr.String(), err)
	}
	return nil
}
