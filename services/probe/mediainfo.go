package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"sublarr/models"
)

// mediainfoEngine shells out to a MediaInfo-compatible binary with JSON
// output. Its records are normalized to the exact shape ffprobe produces so
// both engines share cache entries.
type mediainfoEngine struct {
	binary  string
	timeout time.Duration
}

func (e *mediainfoEngine) Name() string { return "mediainfo" }

type mediainfoOutput struct {
	Media struct {
		Track []map[string]any `json:"track"`
	} `json:"media"`
}

func (e *mediainfoEngine) Probe(ctx context.Context, path string) (models.Streams, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.binary, "--Output=JSON", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("mediainfo timed out after %s", e.timeout)
		}
		return nil, fmt.Errorf("mediainfo: %s: %w", stderr.String(), err)
	}

	var parsed mediainfoOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("mediainfo output: %w", err)
	}

	var streams models.Streams
	for _, track := range parsed.Media.Track {
		var codecType models.CodecType
		switch miString(track, "@type") {
		case "Video":
			codecType = models.CodecTypeVideo
		case "Audio":
			codecType = models.CodecTypeAudio
		case "Text":
			codecType = models.CodecTypeSubtitle
		default:
			continue
		}
		streams = append(streams, models.Stream{
			Index:     miInt(track, "StreamOrder"),
			CodecType: codecType,
			CodecName: normalizeMediainfoCodec(miString(track, "Format")),
			Language:  NormalizeLanguage(miString(track, "Language")),
			Title:     miString(track, "Title"),
			Forced:    strings.EqualFold(miString(track, "Forced"), "yes"),
			Default:   strings.EqualFold(miString(track, "Default"), "yes"),
		})
	}
	return streams, nil
}

func miString(track map[string]any, key string) string {
	if v, ok := track[key].(string); ok {
		return v
	}
	return ""
}

func miInt(track map[string]any, key string) int {
	s := miString(track, key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// normalizeMediainfoCodec maps MediaInfo format names onto ffprobe codec
// names so downstream checks see one vocabulary.
func normalizeMediainfoCodec(format string) string {
	switch strings.ToLower(format) {
	case "ass":
		return "ass"
	case "ssa":
		return "ssa"
	case "utf-8", "subrip":
		return "subrip"
	case "webvtt":
		return "webvtt"
	case "vobsub":
		return "dvd_subtitle"
	case "pgs":
		return "hdmv_pgs_subtitle"
	case "ac-3":
		return "ac3"
	case "e-ac-3":
		return "eac3"
	case "dts":
		return "dts"
	case "aac":
		return "aac"
	case "mpeg audio":
		return "mp3"
	case "flac":
		return "flac"
	case "avc":
		return "h264"
	case "hevc":
		return "hevc"
	default:
		return strings.ToLower(format)
	}
}
