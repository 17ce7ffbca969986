package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"sublarr/config"
	"sublarr/models"
	"sublarr/services/providers"
	"sublarr/services/subtitles"
	"sublarr/services/translation"
)

// Outcome is the pipeline verdict for one (video, language, type).
type Outcome string

const (
	OutcomeSkipped            Outcome = "skipped"
	OutcomeAcquiredProvider   Outcome = "acquired:provider"
	OutcomeAcquiredTranslated Outcome = "acquired:translated"
	OutcomeAcquiredWhisper    Outcome = "acquired:whisper"
	OutcomeFailed             Outcome = "failed"
)

// Request is one acquisition attempt.
type Request struct {
	VideoPath      string
	TargetLanguage string
	SubtitleType   models.SubtitleType
	Force          bool
	// Query carries enrichment metadata from the caller; identity fields are
	// filled from the file when absent.
	Query    *models.VideoQuery
	Glossary map[string]string
	Progress func(fraction float64, phase string)
}

// Result is the pipeline output.
type Result struct {
	Outcome    Outcome
	OutputPath string
	Provider   string
	Backend    string
	Score      int
}

// Prober abstracts the metadata probe.
type Prober interface {
	Probe(ctx context.Context, path string) models.Streams
}

// Extractor pulls embedded streams out of a container.
type Extractor interface {
	SubtitleStream(ctx context.Context, path string, streamIndex int, format models.SubtitleFormat) ([]byte, error)
}

// Transcriber is the optional speech-to-text lane.
type Transcriber interface {
	Transcribe(ctx context.Context, videoPath string, priority int) (*subtitles.Document, string, error)
}

// HistoryStore is the slice of download history the pipeline needs.
type HistoryStore interface {
	Insert(h models.DownloadHistory) error
	Latest(filePath, language string) (models.DownloadHistory, error)
	Seen(filePath, language, provider, subtitleID, contentHash string) (bool, error)
}

// Notifier pings the media server after a subtitle lands on disk.
type Notifier interface {
	NotifyFileCreated(ctx context.Context, videoPath, subtitlePath string)
}

// EventPublisher is the slice of the event bus the pipeline needs.
type EventPublisher interface {
	Publish(t models.EventType, data any)
}

// Service is the acquisition pipeline: the three-case decision engine that
// turns "video X needs subtitle Y" into the artifact on disk.
type Service struct {
	cfg         *config.Resolver
	prober      Prober
	extractor   Extractor
	providers   *providers.Engine
	translator  *translation.Engine
	transcriber Transcriber
	history     HistoryStore
	notifier    Notifier
	bus         EventPublisher
	fs          afero.Fs

	flight singleflight.Group
}

// NewService wires the pipeline.
func NewService(cfg *config.Resolver, prober Prober, extractor Extractor,
	providerEngine *providers.Engine, translator *translation.Engine,
	history HistoryStore, bus EventPublisher) *Service {
	return &Service{
		cfg:        cfg,
		prober:     prober,
		extractor:  extractor,
		providers:  providerEngine,
		translator: translator,
		history:    history,
		bus:        bus,
		fs:         afero.NewOsFs(),
	}
}

// SetTranscriber enables the speech-to-text fallback lane.
func (s *Service) SetTranscriber(t Transcriber) { s.transcriber = t }

// SetNotifier enables media server refresh pings.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// Acquire runs the pipeline for one target. Concurrent requests for the same
// (path, lang, type) coalesce onto the in-flight run and share its result.
func (s *Service) Acquire(ctx context.Context, req Request) (Result, error) {
	if req.SubtitleType == "" {
		req.SubtitleType = models.SubtitleTypeNormal
	}
	key := fingerprint(req.VideoPath, req.TargetLanguage, req.SubtitleType)

	v, err, _ := s.flight.Do(key, func() (any, error) {
		return s.acquire(ctx, req)
	})
	if err != nil {
		return Result{Outcome: OutcomeFailed}, err
	}
	return v.(Result), nil
}

func fingerprint(path, lang string, t models.SubtitleType) string {
	sum := sha256.Sum256([]byte(path + "\x00" + lang + "\x00" + string(t)))
	return hex.EncodeToString(sum[:16])
}

func (s *Service) acquire(ctx context.Context, req Request) (Result, error) {
	settings, err := s.cfg.Effective()
	if err != nil {
		return Result{}, err
	}
	if err := ensureUnderRoots(req.VideoPath, settings.Media.Roots); err != nil {
		return Result{}, err
	}
	if _, err := os.Stat(req.VideoPath); err != nil {
		return Result{}, fmt.Errorf("%w: video %s", models.ErrNotFound, filepath.Base(req.VideoPath))
	}

	progress := req.Progress
	if progress == nil {
		progress = func(float64, string) {}
	}

	progress(0.05, models.PhaseProbe)
	streams := s.prober.Probe(ctx, req.VideoPath)
	sourceLang := primaryAudioLanguage(streams, "en")
	if sourceLang == req.TargetLanguage {
		// Translating into the audio language only makes sense from another
		// subtitle track; fall back to English as the pivot.
		sourceLang = "en"
	}

	existing := findExternal(req.VideoPath, req.TargetLanguage, req.SubtitleType)

	// Case A: a styled target-language subtitle already exists.
	if !req.Force {
		for _, art := range existing {
			if art.Format.IsStyled() {
				progress(1.0, models.PhaseProbe)
				return Result{Outcome: OutcomeSkipped, OutputPath: art.Path}, nil
			}
		}
		if _, ok := embeddedSubtitle(streams, req.TargetLanguage, true, req.SubtitleType); ok {
			progress(1.0, models.PhaseProbe)
			return Result{Outcome: OutcomeSkipped, OutputPath: req.VideoPath}, nil
		}
	}

	query := s.buildQuery(req, settings)

	// Case B: a target-language SRT exists; try to upgrade it to ASS.
	var existingSRT *existingArtifact
	for i := range existing {
		if existing[i].Format == models.FormatSRT {
			existingSRT = &existing[i]
			break
		}
	}
	if existingSRT != nil && !req.Force {
		return s.upgrade(ctx, req, query, streams, *existingSRT, sourceLang, settings, progress)
	}

	// Case C: nothing acceptable exists yet.
	return s.acquireFresh(ctx, req, query, streams, sourceLang, settings, progress)
}

// buildQuery fills the immutable VideoQuery for provider search.
func (s *Service) buildQuery(req Request, settings config.Settings) models.VideoQuery {
	var query models.VideoQuery
	if req.Query != nil {
		query = *req.Query
	}
	query.Path = req.VideoPath
	if query.Title == "" {
		query.Title = guessTitle(req.VideoPath)
	}
	if query.Kind == "" {
		if query.Season > 0 || query.Episode > 0 {
			query.Kind = models.MediaKindEpisode
		} else {
			query.Kind = models.MediaKindMovie
		}
	}
	if query.Hash == "" {
		if hash, size, err := providers.ComputeOSHash(req.VideoPath); err == nil {
			query.Hash = hash
			query.SizeBytes = size
		}
	}
	query.Languages = []string{req.TargetLanguage}
	return query
}

// upgrade is case B: B1 provider ASS above the gate, else B2 translate an
// embedded source ASS, else keep the SRT.
func (s *Service) upgrade(ctx context.Context, req Request, query models.VideoQuery, streams models.Streams,
	existingSRT existingArtifact, sourceLang string, settings config.Settings, progress func(float64, string)) (Result, error) {

	// B1: provider search restricted to styled results.
	progress(0.2, models.PhaseProviderSearch)
	results, err := s.providers.Search(ctx, query, req.TargetLanguage, providers.SearchOptions{FormatFilter: models.FormatASS})
	if err != nil {
		log.Printf("[pipeline] upgrade search for %s failed: %v", req.VideoPath, err)
	}
	results = filterByType(results, req.SubtitleType)

	existingScore := 0
	recentWindow := false
	if latest, err := s.history.Latest(req.VideoPath, req.TargetLanguage); err == nil {
		existingScore = latest.Score
		window := time.Duration(settings.Subtitles.UpgradeWindowDays) * 24 * time.Hour
		recentWindow = time.Since(latest.DownloadedAt) < window
	}
	minDelta := settings.Subtitles.UpgradeMinScoreDelta
	if recentWindow {
		// A fresh artifact demands twice the improvement, protection against
		// upgrade thrash.
		minDelta *= 2
	}

	for _, candidate := range results {
		if candidate.Score <= existingScore+minDelta {
			break // sorted descending; nothing below clears the gate
		}
		result, err := s.downloadAndWrite(ctx, req, candidate, settings, progress)
		if err != nil {
			log.Printf("[pipeline] upgrade candidate %s/%s failed: %v", candidate.Provider, candidate.ID, err)
			continue
		}
		return result, nil
	}

	// B2: translate an embedded source-language ASS stream.
	if stream, ok := embeddedSubtitle(streams, sourceLang, true, req.SubtitleType); ok {
		result, err := s.translateEmbedded(ctx, req, stream, sourceLang, models.FormatASS, settings, progress)
		if err == nil {
			return result, nil
		}
		log.Printf("[pipeline] upgrade translate for %s failed: %v", req.VideoPath, err)
	}

	// B3: the SRT stays.
	progress(1.0, models.PhaseProbe)
	return Result{Outcome: OutcomeSkipped, OutputPath: existingSRT.Path}, nil
}

// acquireFresh is case C: C1 embedded ASS, C2 embedded/neighbour SRT, C3
// provider, C4 transcription, C5 fail.
func (s *Service) acquireFresh(ctx context.Context, req Request, query models.VideoQuery, streams models.Streams,
	sourceLang string, settings config.Settings, progress func(float64, string)) (Result, error) {

	// C1: embedded source-language ASS.
	if stream, ok := embeddedSubtitle(streams, sourceLang, true, req.SubtitleType); ok {
		result, err := s.translateEmbedded(ctx, req, stream, sourceLang, models.FormatASS, settings, progress)
		if err == nil {
			return result, nil
		}
		if isCancelled(err) {
			return Result{}, err
		}
		log.Printf("[pipeline] C1 for %s failed, falling through: %v", req.VideoPath, err)
	}

	// C2: embedded source-language SRT, or an external neighbour.
	if stream, ok := embeddedSubtitle(streams, sourceLang, false, req.SubtitleType); ok {
		result, err := s.translateEmbedded(ctx, req, stream, sourceLang, models.FormatSRT, settings, progress)
		if err == nil {
			return result, nil
		}
		if isCancelled(err) {
			return Result{}, err
		}
		log.Printf("[pipeline] C2 embedded for %s failed, falling through: %v", req.VideoPath, err)
	}
	if req.SubtitleType == models.SubtitleTypeNormal {
		if neighbour := findNeighbourSRT(req.VideoPath, sourceLang); neighbour != "" {
			result, err := s.translateFile(ctx, req, neighbour, sourceLang, settings, progress)
			if err == nil {
				return result, nil
			}
			if isCancelled(err) {
				return Result{}, err
			}
			log.Printf("[pipeline] C2 neighbour for %s failed, falling through: %v", req.VideoPath, err)
		}
	}

	// C3: provider search in any format, target language first, then source
	// language with translation.
	progress(0.3, models.PhaseProviderSearch)
	for _, lang := range []string{req.TargetLanguage, sourceLang} {
		results, err := s.providers.Search(ctx, query, lang, providers.SearchOptions{})
		if err != nil {
			log.Printf("[pipeline] search %s for %s failed: %v", lang, req.VideoPath, err)
			continue
		}
		results = filterByType(results, req.SubtitleType)
		for _, candidate := range results {
			var (
				result Result
				cerr   error
			)
			if lang == req.TargetLanguage {
				result, cerr = s.downloadAndWrite(ctx, req, candidate, settings, progress)
			} else {
				result, cerr = s.downloadTranslateAndWrite(ctx, req, candidate, lang, settings, progress)
			}
			if cerr != nil {
				if isCancelled(cerr) {
					return Result{}, cerr
				}
				log.Printf("[pipeline] candidate %s/%s failed: %v", candidate.Provider, candidate.ID, cerr)
				continue
			}
			return result, nil
		}
	}

	// C4: speech-to-text, when enabled.
	if settings.Transcribe.Enabled && s.transcriber != nil {
		result, err := s.transcribeAndWrite(ctx, req, settings, progress)
		if err == nil {
			return result, nil
		}
		if isCancelled(err) {
			return Result{}, err
		}
		log.Printf("[pipeline] C4 for %s failed: %v", req.VideoPath, err)
	}

	// C5: nothing worked.
	return Result{Outcome: OutcomeFailed}, models.NewPipelineError(models.NoSourceAvailable,
		fmt.Errorf("no source available for %s (%s)", filepath.Base(req.VideoPath), req.TargetLanguage))
}

// downloadAndWrite lands a target-language provider result on disk.
func (s *Service) downloadAndWrite(ctx context.Context, req Request, candidate models.SubtitleResult,
	settings config.Settings, progress func(float64, string)) (Result, error) {

	if seen, err := s.history.Seen(req.VideoPath, req.TargetLanguage, candidate.Provider, candidate.ID, ""); err == nil && seen {
		return Result{}, fmt.Errorf("artifact %s/%s already downloaded", candidate.Provider, candidate.ID)
	}

	progress(0.6, models.PhaseProviderDownload)
	payload, format, err := s.providers.Download(ctx, candidate)
	if err != nil {
		return Result{}, err
	}
	if format == models.FormatUnknown {
		format = candidate.Format
	}
	doc, err := subtitles.Parse(payload)
	if err != nil {
		return Result{}, models.NewProviderError(candidate.Provider, models.ProviderFormat, err)
	}
	if format == models.FormatUnknown {
		format = doc.Format
	}
	if format.IsStyled() {
		doc.Format = models.FormatASS
		format = models.FormatASS
	} else {
		format = models.FormatSRT
		doc.Format = models.FormatSRT
	}

	outputPath := models.SubtitlePath(req.VideoPath, req.TargetLanguage, req.SubtitleType, format)
	progress(0.9, models.PhaseWrite)
	if err := s.writeArtifact(ctx, req, outputPath, doc.Serialize(), settings); err != nil {
		return Result{}, err
	}

	s.recordHistory(models.DownloadHistory{
		FilePath:       req.VideoPath,
		TargetLanguage: req.TargetLanguage,
		Provider:       candidate.Provider,
		SubtitleID:     candidate.ID,
		Score:          candidate.Score,
		Format:         format,
		ContentHash:    contentHash(payload),
		Source:         models.SourceProvider,
	})
	if s.bus != nil {
		s.bus.Publish(models.EventSubtitleDownloaded, models.DownloadPayload{
			FilePath: req.VideoPath, Language: req.TargetLanguage,
			Provider: candidate.Provider, SubtitleID: candidate.ID,
			Score: candidate.Score, Format: format,
		})
	}
	progress(1.0, models.PhaseWrite)
	return Result{Outcome: OutcomeAcquiredProvider, OutputPath: outputPath, Provider: candidate.Provider, Score: candidate.Score}, nil
}

// downloadTranslateAndWrite lands a source-language provider result after
// translating it.
func (s *Service) downloadTranslateAndWrite(ctx context.Context, req Request, candidate models.SubtitleResult,
	sourceLang string, settings config.Settings, progress func(float64, string)) (Result, error) {

	progress(0.5, models.PhaseProviderDownload)
	payload, format, err := s.providers.Download(ctx, candidate)
	if err != nil {
		return Result{}, err
	}
	doc, err := subtitles.Parse(payload)
	if err != nil {
		return Result{}, models.NewProviderError(candidate.Provider, models.ProviderFormat, err)
	}
	if format == models.FormatUnknown {
		format = doc.Format
	}

	progress(0.7, models.PhaseTranslate)
	translated, backend, err := s.translateDocument(ctx, doc, sourceLang, req.TargetLanguage, req.Glossary)
	if err != nil {
		return Result{}, err
	}

	outFormat := models.FormatSRT
	if format.IsStyled() {
		outFormat = models.FormatASS
	}
	translated.Format = outFormat
	outputPath := models.SubtitlePath(req.VideoPath, req.TargetLanguage, req.SubtitleType, outFormat)

	progress(0.9, models.PhaseWrite)
	if err := s.writeArtifact(ctx, req, outputPath, translated.Serialize(), settings); err != nil {
		return Result{}, err
	}

	s.recordHistory(models.DownloadHistory{
		FilePath:       req.VideoPath,
		TargetLanguage: req.TargetLanguage,
		Provider:       candidate.Provider,
		SubtitleID:     candidate.ID,
		Score:          candidate.Score,
		Format:         outFormat,
		ContentHash:    contentHash(payload),
		Source:         models.SourceTranslated,
	})
	s.publishTranslation(req, sourceLang, backend, len(translated.Events))
	progress(1.0, models.PhaseWrite)
	return Result{Outcome: OutcomeAcquiredTranslated, OutputPath: outputPath, Provider: candidate.Provider, Backend: backend, Score: candidate.Score}, nil
}

// translateEmbedded extracts one embedded stream and translates it.
func (s *Service) translateEmbedded(ctx context.Context, req Request, stream models.Stream, sourceLang string,
	format models.SubtitleFormat, settings config.Settings, progress func(float64, string)) (Result, error) {

	payload, err := s.extractor.SubtitleStream(ctx, req.VideoPath, stream.Index, format)
	if err != nil {
		return Result{}, err
	}
	doc, err := subtitles.Parse(payload)
	if err != nil {
		return Result{}, err
	}

	progress(0.5, models.PhaseTranslate)
	translated, backend, err := s.translateDocument(ctx, doc, sourceLang, req.TargetLanguage, req.Glossary)
	if err != nil {
		return Result{}, err
	}

	outFormat := models.FormatSRT
	if format.IsStyled() {
		outFormat = models.FormatASS
	}
	translated.Format = outFormat
	outputPath := models.SubtitlePath(req.VideoPath, req.TargetLanguage, req.SubtitleType, outFormat)

	progress(0.9, models.PhaseWrite)
	if err := s.writeArtifact(ctx, req, outputPath, translated.Serialize(), settings); err != nil {
		return Result{}, err
	}

	s.recordHistory(models.DownloadHistory{
		FilePath:       req.VideoPath,
		TargetLanguage: req.TargetLanguage,
		Format:         outFormat,
		ContentHash:    contentHash(payload),
		Source:         models.SourceTranslated,
	})
	s.publishTranslation(req, sourceLang, backend, len(translated.Events))
	progress(1.0, models.PhaseWrite)
	return Result{Outcome: OutcomeAcquiredTranslated, OutputPath: outputPath, Backend: backend}, nil
}

// translateFile translates an on-disk neighbour subtitle.
func (s *Service) translateFile(ctx context.Context, req Request, path, sourceLang string,
	settings config.Settings, progress func(float64, string)) (Result, error) {

	payload, err := os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	doc, err := subtitles.Parse(payload)
	if err != nil {
		return Result{}, err
	}

	progress(0.5, models.PhaseTranslate)
	translated, backend, err := s.translateDocument(ctx, doc, sourceLang, req.TargetLanguage, req.Glossary)
	if err != nil {
		return Result{}, err
	}

	outFormat := models.FormatSRT
	if doc.Format.IsStyled() {
		outFormat = models.FormatASS
	}
	translated.Format = outFormat
	outputPath := models.SubtitlePath(req.VideoPath, req.TargetLanguage, req.SubtitleType, outFormat)

	progress(0.9, models.PhaseWrite)
	if err := s.writeArtifact(ctx, req, outputPath, translated.Serialize(), settings); err != nil {
		return Result{}, err
	}

	s.recordHistory(models.DownloadHistory{
		FilePath:       req.VideoPath,
		TargetLanguage: req.TargetLanguage,
		Format:         outFormat,
		ContentHash:    contentHash(payload),
		Source:         models.SourceTranslated,
	})
	s.publishTranslation(req, sourceLang, backend, len(translated.Events))
	progress(1.0, models.PhaseWrite)
	return Result{Outcome: OutcomeAcquiredTranslated, OutputPath: outputPath, Backend: backend}, nil
}

// transcribeAndWrite is case C4: speech-to-text then translation.
func (s *Service) transcribeAndWrite(ctx context.Context, req Request, settings config.Settings, progress func(float64, string)) (Result, error) {
	progress(0.4, models.PhaseTranscribe)
	doc, sourceLang, err := s.transcriber.Transcribe(ctx, req.VideoPath, 5)
	if err != nil {
		return Result{}, err
	}

	progress(0.7, models.PhaseTranslate)
	translated := doc
	backend := ""
	if sourceLang != req.TargetLanguage {
		translated, backend, err = s.translateDocument(ctx, doc, sourceLang, req.TargetLanguage, req.Glossary)
		if err != nil {
			return Result{}, err
		}
	}
	translated.Format = models.FormatSRT
	outputPath := models.SubtitlePath(req.VideoPath, req.TargetLanguage, req.SubtitleType, models.FormatSRT)

	progress(0.9, models.PhaseWrite)
	content := translated.Serialize()
	if err := s.writeArtifact(ctx, req, outputPath, content, settings); err != nil {
		return Result{}, err
	}

	s.recordHistory(models.DownloadHistory{
		FilePath:       req.VideoPath,
		TargetLanguage: req.TargetLanguage,
		Format:         models.FormatSRT,
		ContentHash:    contentHash(content),
		Source:         models.SourceWhisper,
	})
	progress(1.0, models.PhaseWrite)
	return Result{Outcome: OutcomeAcquiredWhisper, OutputPath: outputPath, Backend: backend}, nil
}

// writeArtifact is the single write path: cancellation check, media-root
// guard, atomic write, notifier ping. A cancelled job never leaves a target
// artifact behind.
func (s *Service) writeArtifact(ctx context.Context, req Request, path string, content []byte, settings config.Settings) error {
	if err := ctx.Err(); err != nil {
		return models.NewPipelineError(models.PipelineCancelled, err)
	}
	if err := ensureUnderRoots(path, settings.Media.Roots); err != nil {
		return err
	}
	if err := writeAtomic(s.fs, path, content); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.NotifyFileCreated(ctx, req.VideoPath, path)
	}
	return nil
}

func (s *Service) recordHistory(h models.DownloadHistory) {
	if err := s.history.Insert(h); err != nil {
		log.Printf("[pipeline] record history for %s: %v", h.FilePath, err)
	}
}

func (s *Service) publishTranslation(req Request, sourceLang, backend string, lines int) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(models.EventTranslationCompleted, models.TranslationPayload{
		FilePath:   req.VideoPath,
		SourceLang: sourceLang,
		TargetLang: req.TargetLanguage,
		Backend:    backend,
		Lines:      lines,
	})
}

// filterByType keeps results matching the wanted subtitle type. Forced is
// detected by the union of provider flag and filename convention; a forced
// result never satisfies a normal want.
func filterByType(results []models.SubtitleResult, t models.SubtitleType) []models.SubtitleResult {
	wantForced := t == models.SubtitleTypeForced
	var out []models.SubtitleResult
	for _, res := range results {
		forced := res.Forced || subtitles.FilenameLooksForced(res.Filename)
		if forced == wantForced {
			out = append(out, res)
		}
	}
	return out
}

func isCancelled(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var perr *models.PipelineError
	return errors.As(err, &perr) && perr.Kind == models.PipelineCancelled
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// guessTitle derives a search title from the file name when the caller
// supplied no metadata.
func guessTitle(videoPath string) string {
	name := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	name = strings.NewReplacer(".", " ", "_", " ").Replace(name)
	return strings.TrimSpace(name)
}
