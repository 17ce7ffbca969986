package models

// CodecType partitions probed streams.
type CodecType string

const (
	CodecTypeVideo    CodecType = "video"
	CodecTypeAudio    CodecType = "audio"
	CodecTypeSubtitle CodecType = "subtitle"
)

// Stream is the normalized record for one embedded stream, identical across
// probe engines.
type Stream struct {
	Index     int       `json:"index"`
	CodecType CodecType `json:"codecType"`
	CodecName string    `json:"codecName"`
	Language  string    `json:"language,omitempty"` // ISO 639-1 when known
	Title     string    `json:"title,omitempty"`
	Forced    bool      `json:"forced"`
	Default   bool      `json:"default"`
}

// Streams is the full probe result for one file.
type Streams []Stream

// Subtitles returns only the subtitle streams.
func (s Streams) Subtitles() Streams {
	return s.ofType(CodecTypeSubtitle)
}

// Audio returns only the audio streams.
func (s Streams) Audio() Streams {
	return s.ofType(CodecTypeAudio)
}

func (s Streams) ofType(t CodecType) Streams {
	var out Streams
	for _, st := range s {
		if st.CodecType == t {
			out = append(out, st)
		}
	}
	return out
}

// SubtitleFormatForCodec maps a probe codec name to a subtitle format.
func SubtitleFormatForCodec(codec string) SubtitleFormat {
	switch codec {
	case "ass", "ssa":
		return FormatASS
	case "subrip", "srt":
		return FormatSRT
	case "webvtt":
		return FormatVTT
	default:
		return FormatUnknown
	}
}
