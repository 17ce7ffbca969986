package providers

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"sublarr/models"
)

// maxDecompressedSize bounds extraction to defeat decompression bombs.
const maxDecompressedSize = 10 << 20 // 10 MiB

var subtitleExtensions = map[string]bool{
	".ass": true, ".ssa": true, ".srt": true, ".vtt": true, ".sub": false,
}

// extractSubtitlePayload turns a raw provider download into the subtitle
// file body, unwrapping one level of archive when needed. Archives must
// contain exactly one subtitle entry; anything else is rejected as
// suspicious.
func extractSubtitlePayload(provider string, data []byte, hintName string) ([]byte, models.SubtitleFormat, error) {
	detected := mimetype.Detect(data)

	switch {
	case detected.Is("application/zip"):
		return extractFromZip(provider, data)
	case detected.Is("application/gzip"):
		return extractFromGzip(provider, data, hintName)
	case detected.Is("application/x-xz"):
		return extractFromXZ(provider, data, hintName)
	case detected.Is("application/x-7z-compressed"):
		return extractFrom7z(provider, data)
	case detected.Is("application/x-rar-compressed") || detected.Is("application/x-rar"):
		return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat,
			fmt.Errorf("rar archives are not supported"))
	}

	if !looksLikeSubtitleText(data) {
		return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat,
			fmt.Errorf("payload is %s, not a subtitle", detected.String()))
	}
	return data, detectSubtitleFormat(data, hintName), nil
}

func extractFromZip(provider string, data []byte) ([]byte, models.SubtitleFormat, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat, err)
	}

	var candidate *zip.File
	for _, f := range reader.File {
		if !subtitleExtensions[strings.ToLower(path.Ext(f.Name))] {
			continue
		}
		if candidate != nil {
			return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat,
				&models.FileError{Kind: models.ArchiveSuspicious, Path: f.Name,
					Err: fmt.Errorf("archive holds more than one subtitle entry")})
		}
		candidate = f
	}
	if candidate == nil {
		return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat,
			fmt.Errorf("archive holds no subtitle entry"))
	}
	if candidate.UncompressedSize64 > maxDecompressedSize {
		return nil, models.FormatUnknown, archiveTooLarge(provider, candidate.Name)
	}

	rc, err := candidate.Open()
	if err != nil {
		return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat, err)
	}
	defer rc.Close()

	body, err := readCapped(rc)
	if err != nil {
		return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat, err)
	}
	return body, detectSubtitleFormat(body, candidate.Name), nil
}

func extractFromGzip(provider string, data []byte, hintName string) ([]byte, models.SubtitleFormat, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat, err)
	}
	defer gz.Close()

	body, err := readCapped(gz)
	if err != nil {
		return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat, err)
	}
	if !looksLikeSubtitleText(body) {
		return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat,
			fmt.Errorf("gzip payload is not a subtitle"))
	}
	return body, detectSubtitleFormat(body, hintName), nil
}

func extractFromXZ(provider string, data []byte, hintName string) ([]byte, models.SubtitleFormat, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat, err)
	}
	body, err := readCapped(r)
	if err != nil {
		return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat, err)
	}
	if !looksLikeSubtitleText(body) {
		return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat,
			fmt.Errorf("xz payload is not a subtitle"))
	}
	return body, detectSubtitleFormat(body, hintName), nil
}

func extractFrom7z(provider string, data []byte) ([]byte, models.SubtitleFormat, error) {
	reader, err := sevenzip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat, err)
	}

	var candidate *sevenzip.File
	for _, f := range reader.File {
		if !subtitleExtensions[strings.ToLower(path.Ext(f.Name))] {
			continue
		}
		if candidate != nil {
			return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat,
				&models.FileError{Kind: models.ArchiveSuspicious, Path: f.Name,
					Err: fmt.Errorf("archive holds more than one subtitle entry")})
		}
		candidate = f
	}
	if candidate == nil {
		return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat,
			fmt.Errorf("archive holds no subtitle entry"))
	}

	rc, err := candidate.Open()
	if err != nil {
		return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat, err)
	}
	defer rc.Close()

	body, err := readCapped(rc)
	if err != nil {
		return nil, models.FormatUnknown, models.NewProviderError(provider, models.ProviderFormat, err)
	}
	return body, detectSubtitleFormat(body, candidate.Name), nil
}

func readCapped(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxDecompressedSize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", maxDecompressedSize)
	}
	return body, nil
}

func archiveTooLarge(provider, name string) error {
	return models.NewProviderError(provider, models.ProviderFormat,
		&models.FileError{Kind: models.ArchiveSuspicious, Path: name,
			Err: fmt.Errorf("entry larger than %d bytes", maxDecompressedSize)})
}

// looksLikeSubtitleText applies a cheap magic check: textual content with a
// subtitle marker near the top.
func looksLikeSubtitleText(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "text/") && !mt.Is("application/x-subrip") {
		return false
	}
	head := string(data[:min(len(data), 4096)])
	return strings.Contains(head, "-->") ||
		strings.Contains(head, "[Script Info]") ||
		strings.Contains(head, "[Events]") ||
		strings.Contains(head, "WEBVTT")
}

func detectSubtitleFormat(data []byte, hintName string) models.SubtitleFormat {
	head := string(data[:min(len(data), 4096)])
	switch {
	case strings.Contains(head, "[Script Info]") || strings.Contains(head, "[Events]"):
		return models.FormatASS
	case strings.Contains(head, "WEBVTT"):
		return models.FormatVTT
	case strings.Contains(head, "-->"):
		return models.FormatSRT
	}
	if f := models.FormatFromExtension(path.Ext(hintName)); f != models.FormatUnknown {
		return f
	}
	return models.FormatUnknown
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
