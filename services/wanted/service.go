package wanted

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"sublarr/config"
	"sublarr/models"
	"sublarr/services/pipeline"
)

// Repository is the slice of the wanted store the reconciler needs.
type Repository interface {
	Upsert(item models.WantedItem) (models.WantedItem, error)
	Get(id int64) (models.WantedItem, error)
	List(status models.WantedStatus, limit int) ([]models.WantedItem, error)
	Searchable(retryBase time.Duration, exponentCap, maxAttempts, limit int) ([]models.WantedItem, error)
	MarkSearching(id int64) error
	MarkResult(id int64, status models.WantedStatus, lastError string) error
	SetIgnored(id int64, ignored bool) error
	CountByStatus() (map[models.WantedStatus]int, error)
}

// ProfileStore resolves language profiles for media items.
type ProfileStore interface {
	ProfileFor(kind models.MediaKind, mediaID int64) (models.LanguageProfile, error)
}

// Prober abstracts the metadata probe.
type Prober interface {
	Probe(ctx context.Context, path string) models.Streams
}

// Acquirer runs the acquisition pipeline.
type Acquirer interface {
	Acquire(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// Enqueuer queues wanted-search jobs.
type Enqueuer interface {
	EnqueueWantedSearch(wantedID int64) (models.Job, error)
}

// EventPublisher is the slice of the event bus the reconciler needs.
type EventPublisher interface {
	Publish(t models.EventType, data any)
}

// Service is the wanted reconciler: it diffs the expected media set against
// disk, persists gaps and schedules background searches.
type Service struct {
	cfg      *config.Resolver
	source   LibrarySource
	repo     Repository
	profiles ProfileStore
	prober   Prober
	acquirer Acquirer
	enqueuer Enqueuer
	bus      EventPublisher

	mu        sync.Mutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	tickCount int

	reconcileMu sync.Mutex // one reconcile at a time

	delayMu sync.Mutex
	delayed map[string]*time.Timer
}

// NewService wires the reconciler.
func NewService(cfg *config.Resolver, source LibrarySource, repo Repository,
	profiles ProfileStore, prober Prober, acquirer Acquirer, bus EventPublisher) *Service {
	return &Service{
		cfg:      cfg,
		source:   source,
		repo:     repo,
		profiles: profiles,
		prober:   prober,
		acquirer: acquirer,
		bus:      bus,
		delayed:  make(map[string]*time.Timer),
	}
}

// SetEnqueuer wires the job queue for batch searches.
func (s *Service) SetEnqueuer(e Enqueuer) { s.enqueuer = e }

// Start launches the scheduler. A startup reconcile runs in the background
// and never blocks process start.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Reconcile(s.ctx, true); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[wanted] startup reconcile failed: %v", err)
		}
	}()

	s.wg.Add(1)
	go s.schedulerLoop()

	log.Println("[wanted] reconciler started")
	return nil
}

// Stop halts the scheduler and pending webhook timers.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.delayMu.Lock()
	for path, timer := range s.delayed {
		timer.Stop()
		delete(s.delayed, path)
	}
	s.delayMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}

func (s *Service) schedulerLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	var lastRescan, lastBatch time.Time
	lastRescan = time.Now() // the startup reconcile counts

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		settings, err := s.cfg.Effective()
		if err != nil {
			log.Printf("[wanted] load settings: %v", err)
			continue
		}

		if time.Since(lastRescan) >= time.Duration(settings.Wanted.RescanIntervalHours)*time.Hour {
			lastRescan = time.Now()
			s.mu.Lock()
			s.tickCount++
			full := s.tickCount%settings.Wanted.FullSweepEvery == 0
			s.mu.Unlock()
			if _, err := s.Reconcile(s.ctx, full); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[wanted] scheduled reconcile failed: %v", err)
			}
		}

		if time.Since(lastBatch) >= time.Duration(settings.Wanted.SearchIntervalHours)*time.Hour {
			lastBatch = time.Now()
			if err := s.BatchSearch(); err != nil {
				log.Printf("[wanted] batch search failed: %v", err)
			}
		}
	}
}

// ScanStats summarizes one reconcile pass.
type ScanStats struct {
	Scanned   int `json:"scanned"`
	Wanted    int `json:"wanted"`
	Upgrade   int `json:"upgradeCandidates"`
	Satisfied int `json:"satisfied"`
}

// Reconcile walks the expected media set and upserts wanted rows. Full
// sweeps re-evaluate everything; incremental passes only touch items whose
// file changed since the last scan or whose row is still open.
func (s *Service) Reconcile(ctx context.Context, full bool) (ScanStats, error) {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	settings, err := s.cfg.Effective()
	if err != nil {
		return ScanStats{}, err
	}

	items, err := s.source.Items(ctx)
	if err != nil {
		return ScanStats{}, fmt.Errorf("enumerate library: %w", err)
	}

	known := make(map[string]models.WantedItem)
	if !full {
		rows, err := s.repo.List("", 0)
		if err != nil {
			return ScanStats{}, err
		}
		for _, row := range rows {
			known[row.FilePath+"|"+row.TargetLanguage+"|"+string(row.SubtitleType)] = row
		}
	}

	var (
		statsMu sync.Mutex
		stats   ScanStats
	)

	p := pool.New().WithMaxGoroutines(settings.Wanted.ProbeConcurrency).WithContext(ctx)
	for _, item := range items {
		item := item
		p.Go(func(ctx context.Context) error {
			langs := s.effectiveLanguages(item, settings)
			for _, want := range langs {
				if !full {
					key := item.Path + "|" + want.Language + "|" + string(want.SubtitleType)
					if row, ok := known[key]; ok && !needsRescan(item.Path, row) {
						continue
					}
				}
				status := s.evaluate(ctx, item, want)
				statsMu.Lock()
				stats.Scanned++
				switch status {
				case models.StatusWanted:
					stats.Wanted++
				case models.StatusUpgradeCandidate:
					stats.Upgrade++
				default:
					stats.Satisfied++
				}
				statsMu.Unlock()

				if _, err := s.repo.Upsert(models.WantedItem{
					Kind:           item.Kind,
					SeriesID:       item.SeriesID,
					MovieID:        item.MovieID,
					Season:         item.Season,
					Episode:        item.Episode,
					Title:          item.Title,
					FilePath:       item.Path,
					TargetLanguage: want.Language,
					SubtitleType:   want.SubtitleType,
					Status:         status,
				}); err != nil {
					log.Printf("[wanted] upsert %s (%s): %v", item.Path, want.Language, err)
				}
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return stats, err
	}

	if s.bus != nil {
		s.bus.Publish(models.EventWantedScanned, models.WantedScanPayload{
			Scanned: stats.Scanned,
			Wanted:  stats.Wanted,
			Upgrade: stats.Upgrade,
		})
	}
	log.Printf("[wanted] reconcile done: %d scanned, %d wanted, %d upgrade candidates", stats.Scanned, stats.Wanted, stats.Upgrade)
	return stats, nil
}

// needsRescan reports whether an incremental pass must re-evaluate a row.
func needsRescan(path string, row models.WantedItem) bool {
	if row.Status == models.StatusWanted || row.Status == models.StatusUpgradeCandidate {
		return true
	}
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return row.LastScannedAt == nil || info.ModTime().After(*row.LastScannedAt)
}

// evaluate computes the desired-vs-actual gap for one (item, language,
// type): styled artifact → found, srt → upgrade candidate, nothing → wanted.
func (s *Service) evaluate(ctx context.Context, item MediaItem, want models.ProfileLanguage) models.WantedStatus {
	streams := s.prober.Probe(ctx, item.Path)

	hasStyled := false
	hasSRT := false
	wantForced := want.SubtitleType == models.SubtitleTypeForced
	for _, st := range streams.Subtitles() {
		if st.Language != want.Language || st.Forced != wantForced {
			continue
		}
		format := models.SubtitleFormatForCodec(st.CodecName)
		if format.IsStyled() {
			hasStyled = true
		} else if format != models.FormatUnknown {
			hasSRT = true
		}
	}
	for _, format := range []models.SubtitleFormat{models.FormatASS, models.FormatSSA, models.FormatSRT} {
		p := models.SubtitlePath(item.Path, want.Language, want.SubtitleType, format)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			if format.IsStyled() {
				hasStyled = true
			} else {
				hasSRT = true
			}
		}
	}

	switch {
	case hasStyled:
		return models.StatusFound
	case hasSRT:
		return models.StatusUpgradeCandidate
	default:
		return models.StatusWanted
	}
}

// effectiveLanguages expands the language profile assigned to the item, or
// the default languages from settings.
func (s *Service) effectiveLanguages(item MediaItem, settings config.Settings) []models.ProfileLanguage {
	mediaID := item.MovieID
	if item.Kind == models.MediaKindEpisode {
		mediaID = item.SeriesID
	}
	if s.profiles != nil && mediaID > 0 {
		if profile, err := s.profiles.ProfileFor(item.Kind, mediaID); err == nil && len(profile.Languages) > 0 {
			return profile.Languages
		}
	}
	langs := make([]models.ProfileLanguage, 0, len(settings.Subtitles.DefaultLanguages))
	for _, lang := range settings.Subtitles.DefaultLanguages {
		langs = append(langs, models.ProfileLanguage{Language: lang, SubtitleType: models.SubtitleTypeNormal})
	}
	return langs
}

// SearchWanted runs the acquisition for one wanted row. Implements the job
// queue's WantedSearcher.
func (s *Service) SearchWanted(ctx context.Context, wantedID int64, progress func(float64, string)) error {
	item, err := s.repo.Get(wantedID)
	if err != nil {
		return err
	}
	if item.Status == models.StatusIgnored {
		return nil
	}
	if err := s.repo.MarkSearching(wantedID); err != nil {
		return err
	}

	result, err := s.acquirer.Acquire(ctx, pipeline.Request{
		VideoPath:      item.FilePath,
		TargetLanguage: item.TargetLanguage,
		SubtitleType:   item.SubtitleType,
		Query:          queryFromWanted(item),
		Progress:       progress,
	})

	status := models.StatusFound
	errMsg := ""
	switch {
	case err == nil && result.Outcome == pipeline.OutcomeSkipped:
		status = models.StatusFound
	case err == nil:
		status = models.StatusFound
	default:
		var perr *models.PipelineError
		if errors.As(err, &perr) && perr.Kind == models.PipelineCancelled {
			if merr := s.repo.MarkResult(wantedID, models.StatusWanted, "cancelled"); merr != nil {
				log.Printf("[wanted] mark %d: %v", wantedID, merr)
			}
			return err
		}
		status = models.StatusFailed
		errMsg = err.Error()
	}

	if merr := s.repo.MarkResult(wantedID, status, errMsg); merr != nil {
		log.Printf("[wanted] mark %d: %v", wantedID, merr)
	}
	if s.bus != nil {
		s.bus.Publish(models.EventWantedSearchCompleted, models.WantedSearchPayload{
			WantedID: wantedID,
			FilePath: item.FilePath,
			Language: item.TargetLanguage,
			Status:   status,
			Error:    errMsg,
		})
	}
	return err
}

// queryFromWanted rebuilds the enrichment metadata stored on the row.
func queryFromWanted(item models.WantedItem) *models.VideoQuery {
	return &models.VideoQuery{
		Path:    item.FilePath,
		Kind:    item.Kind,
		Title:   item.Title,
		Season:  item.Season,
		Episode: item.Episode,
	}
}

// BatchSearch enqueues a search job for every wanted row whose cooldown
// elapsed. Execution parallelism is bounded by the queue's worker pool.
func (s *Service) BatchSearch() error {
	if s.enqueuer == nil {
		return fmt.Errorf("job queue not wired")
	}
	settings, err := s.cfg.Effective()
	if err != nil {
		return err
	}
	items, err := s.repo.Searchable(
		time.Duration(settings.Wanted.RetryBaseMinutes)*time.Minute,
		settings.Wanted.RetryExponentCap,
		settings.Wanted.MaxAttempts,
		500,
	)
	if err != nil {
		return err
	}
	enqueued := 0
	for _, item := range items {
		if _, err := s.enqueuer.EnqueueWantedSearch(item.ID); err != nil {
			log.Printf("[wanted] enqueue search for %d: %v", item.ID, err)
			continue
		}
		enqueued++
	}
	log.Printf("[wanted] batch search enqueued %d item(s)", enqueued)
	return nil
}

// HandleLibraryEvent defers processing of an upstream library webhook so the
// upstream can finish its own post-processing first. Duplicate events for
// the same path re-arm the timer.
func (s *Service) HandleLibraryEvent(source, eventKind, path, title string) {
	settings, err := s.cfg.Effective()
	if err != nil {
		log.Printf("[wanted] load settings: %v", err)
		return
	}
	delay := time.Duration(settings.Wanted.WebhookDelayMinutes) * time.Minute

	if s.bus != nil {
		s.bus.Publish(models.EventWebhookReceived, models.WebhookPayload{
			Source:    source,
			EventKind: eventKind,
			FilePath:  path,
			Title:     title,
		})
	}
	if path == "" {
		return
	}

	s.delayMu.Lock()
	defer s.delayMu.Unlock()
	if timer, ok := s.delayed[path]; ok {
		timer.Reset(delay)
		return
	}
	s.delayed[path] = time.AfterFunc(delay, func() {
		s.delayMu.Lock()
		delete(s.delayed, path)
		s.delayMu.Unlock()
		s.processLibraryFile(path)
	})
}

// processLibraryFile reconciles one file and queues its searches.
func (s *Service) processLibraryFile(path string) {
	s.mu.Lock()
	ctx := s.ctx
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}

	settings, err := s.cfg.Effective()
	if err != nil {
		return
	}
	item := itemFromPath(path)
	for _, want := range s.effectiveLanguages(item, settings) {
		status := s.evaluate(ctx, item, want)
		row, err := s.repo.Upsert(models.WantedItem{
			Kind:           item.Kind,
			Season:         item.Season,
			Episode:        item.Episode,
			Title:          item.Title,
			FilePath:       item.Path,
			TargetLanguage: want.Language,
			SubtitleType:   want.SubtitleType,
			Status:         status,
		})
		if err != nil {
			log.Printf("[wanted] upsert %s: %v", path, err)
			continue
		}
		if status == models.StatusWanted || status == models.StatusUpgradeCandidate {
			if s.enqueuer != nil {
				if _, err := s.enqueuer.EnqueueWantedSearch(row.ID); err != nil {
					log.Printf("[wanted] enqueue for %s: %v", path, err)
				}
			}
		}
	}
}

// List exposes the wanted rows for the HTTP surface.
func (s *Service) List(status models.WantedStatus, limit int) ([]models.WantedItem, error) {
	return s.repo.List(status, limit)
}

// Get returns one wanted row.
func (s *Service) Get(id int64) (models.WantedItem, error) { return s.repo.Get(id) }

// SetIgnored flips the operator ignore flag.
func (s *Service) SetIgnored(id int64, ignored bool) error { return s.repo.SetIgnored(id, ignored) }

// Counts returns row counts per status.
func (s *Service) Counts() (map[models.WantedStatus]int, error) { return s.repo.CountByStatus() }
