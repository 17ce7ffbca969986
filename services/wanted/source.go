package wanted

import (
	"context"
	"io/fs"
	"log"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"sublarr/models"
)

// MediaItem is one expected library entry from the library source.
type MediaItem struct {
	Kind     models.MediaKind
	SeriesID int64
	MovieID  int64
	Season   int
	Episode  int
	Title    string
	Year     int
	Path     string
	IDs      models.ExternalIDs
	Tags     []string
}

// LibrarySource enumerates the expected media set. The production upstream
// is a TV/movie library manager; the built-in fallback scans the media
// roots directly.
type LibrarySource interface {
	Items(ctx context.Context) ([]MediaItem, error)
}

var mediaExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".m4v": true, ".mov": true, ".webm": true, ".ts": true,
}

var (
	episodeRe = regexp.MustCompile(`(?i)S(\d{1,2})[ ._-]?E(\d{1,3})`)
	yearRe    = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
)

// FolderScanner is the standalone library source: it walks the media roots
// and derives identity from file names.
type FolderScanner struct {
	roots func() []string
}

// NewFolderScanner builds the scanner over a lazy roots getter so config
// reloads take effect.
func NewFolderScanner(roots func() []string) *FolderScanner {
	return &FolderScanner{roots: roots}
}

// Items walks every root and yields one item per video file.
func (s *FolderScanner) Items(ctx context.Context) ([]MediaItem, error) {
	var items []MediaItem
	for _, root := range s.roots() {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				log.Printf("[wanted] scan %s: %v", path, walkErr)
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") {
					return fs.SkipDir
				}
				return nil
			}
			if !mediaExtensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			items = append(items, itemFromPath(path))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return items, nil
}

// itemFromPath parses SxxEyy and year tokens out of the file name.
func itemFromPath(path string) MediaItem {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	cleaned := strings.NewReplacer(".", " ", "_", " ").Replace(name)

	item := MediaItem{Kind: models.MediaKindMovie, Path: path, Title: cleaned}
	if m := episodeRe.FindStringSubmatchIndex(cleaned); m != nil {
		item.Kind = models.MediaKindEpisode
		item.Season, _ = strconv.Atoi(cleaned[m[2]:m[3]])
		item.Episode, _ = strconv.Atoi(cleaned[m[4]:m[5]])
		item.Title = strings.TrimSpace(strings.Trim(cleaned[:m[0]], " -"))
	}
	if y := yearRe.FindString(cleaned); y != "" {
		item.Year, _ = strconv.Atoi(y)
		if item.Kind == models.MediaKindMovie {
			if i := strings.Index(item.Title, y); i > 0 {
				item.Title = strings.TrimSpace(strings.Trim(item.Title[:i], " (-"))
			}
		}
	}
	return item
}
