package probe

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	iso639_3 "github.com/barbashov/iso639-3"
	"golang.org/x/sync/singleflight"

	"sublarr/config"
	"sublarr/models"
)

// Cache is the persisted probe cache, keyed by (path, mtime).
type Cache interface {
	Get(path string, mtimeUnix int64) (models.Streams, bool, error)
	Put(path string, mtimeUnix int64, streams models.Streams) error
}

// Engine produces the normalized stream list for a file. Both engines must
// return identical records so their cache entries are interchangeable.
type Engine interface {
	Name() string
	Probe(ctx context.Context, path string) (models.Streams, error)
}

// Service is the cached metadata probe. Concurrent misses for the same
// (path, mtime) coalesce onto one external invocation.
type Service struct {
	cfg    *config.Resolver
	cache  Cache
	flight singleflight.Group
}

// NewService builds the probe service.
func NewService(cfg *config.Resolver, cache Cache) *Service {
	return &Service{cfg: cfg, cache: cache}
}

// Probe returns the streams embedded in the file. Errors are non-fatal by
// contract: callers receive an empty list and the error is logged here, so
// "no streams" and "probe failed" look identical downstream.
func (s *Service) Probe(ctx context.Context, path string) models.Streams {
	streams, err := s.probe(ctx, path)
	if err != nil {
		log.Printf("[probe] %s: %v", path, err)
		return nil
	}
	return streams
}

func (s *Service) probe(ctx context.Context, path string) (models.Streams, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	mtime := info.ModTime().Unix()

	if s.cache != nil {
		if streams, ok, err := s.cache.Get(path, mtime); err == nil && ok {
			return streams, nil
		}
	}

	key := fmt.Sprintf("%s|%d", path, mtime)
	v, err, _ := s.flight.Do(key, func() (any, error) {
		engine, err := s.engine()
		if err != nil {
			return nil, err
		}
		streams, err := engine.Probe(ctx, path)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Put(path, mtime, streams); err != nil {
				log.Printf("[probe] cache put %s: %v", path, err)
			}
		}
		return streams, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(models.Streams), nil
}

func (s *Service) engine() (Engine, error) {
	settings, err := s.cfg.Effective()
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(settings.Probe.TimeoutSec) * time.Second
	switch settings.Probe.Engine {
	case "mediainfo":
		return &mediainfoEngine{binary: settings.Probe.MediaInfoPath, timeout: timeout}, nil
	default:
		return &ffprobeEngine{binary: settings.Probe.FFprobePath, timeout: timeout}, nil
	}
}

// NormalizeLanguage maps any ISO 639 code to the two-letter 639-1 code.
// Other tags, language names included, come back unchanged in lower case.
func NormalizeLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" || tag == "und" {
		return ""
	}
	if lang := iso639_3.FromAnyCode(tag); lang != nil && lang.Part1 != "" {
		return lang.Part1
	}
	return tag
}
