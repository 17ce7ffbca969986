package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sublarr/config"
	"sublarr/models"
	"sublarr/services/pipeline"
)

const (
	leaseTTL        = 60 * time.Second
	leaseRenewEvery = 15 * time.Second
	pollInterval    = time.Second
	retentionDays   = 30
)

// Repository is the slice of the job store the queue needs.
type Repository interface {
	Insert(job models.Job) error
	Get(id string) (models.Job, error)
	List(limit int) ([]models.Job, error)
	Claim(leaseTTL time.Duration) (models.Job, error)
	RenewLease(id string, leaseTTL time.Duration) error
	UpdateProgress(id string, progress float64, phase string) error
	Finish(id string, state models.JobState, errMsg string) error
	RequestCancel(id string) (bool, error)
	SweepInterrupted(bootedAt time.Time) (int64, error)
	SweepExpiredLeases() (int64, error)
	DeleteOlderThan(cutoff time.Time) (int64, error)
	CountByState() (map[models.JobState]int, error)
}

// Acquirer runs the acquisition pipeline for one target.
type Acquirer interface {
	Acquire(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// WantedSearcher executes a wanted-search job. Implemented by the wanted
// reconciler; wired at composition time.
type WantedSearcher interface {
	SearchWanted(ctx context.Context, wantedID int64, progress func(float64, string)) error
}

// EventPublisher is the slice of the event bus the queue needs.
type EventPublisher interface {
	Publish(t models.EventType, data any)
}

// Service is the bounded persistent work queue: a fixed worker pool pulls
// queued rows under a renewed lease and executes them at-most-once.
type Service struct {
	cfg      *config.Resolver
	repo     Repository
	acquirer Acquirer
	bus      EventPublisher

	wantedMu sync.RWMutex
	wanted   WantedSearcher

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	cancelMu  sync.Mutex
	cancels   map[string]context.CancelFunc
	requested map[string]bool
}

// NewService builds the queue.
func NewService(cfg *config.Resolver, repo Repository, acquirer Acquirer, bus EventPublisher) *Service {
	return &Service{
		cfg:       cfg,
		repo:      repo,
		acquirer:  acquirer,
		bus:       bus,
		cancels:   make(map[string]context.CancelFunc),
		requested: make(map[string]bool),
	}
}

// SetWantedSearcher wires the reconciler. Must happen before Start.
func (s *Service) SetWantedSearcher(w WantedSearcher) {
	s.wantedMu.Lock()
	s.wanted = w
	s.wantedMu.Unlock()
}

// Start sweeps interrupted rows and launches the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if swept, err := s.repo.SweepInterrupted(time.Now().UTC()); err != nil {
		return fmt.Errorf("sweep interrupted jobs: %w", err)
	} else if swept > 0 {
		log.Printf("[jobs] swept %d interrupted job(s) from a previous run", swept)
	}

	settings, err := s.cfg.Effective()
	if err != nil {
		return err
	}
	workers := settings.Queue.Workers

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.workerLoop(i + 1)
	}
	s.wg.Add(1)
	go s.maintenanceLoop()

	log.Printf("[jobs] queue started with %d worker(s)", workers)
	return nil
}

// Stop stops accepting work and waits for in-flight jobs to reach their next
// cancellation checkpoint within the context's grace period.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("[jobs] queue stopped gracefully")
	case <-ctx.Done():
		log.Println("[jobs] queue stopped (grace period expired)")
	}
	return nil
}

// EnqueueTranslate queues a translate job for one file.
func (s *Service) EnqueueTranslate(path, lang string) (models.Job, error) {
	return s.enqueue(models.Job{
		Kind:           models.JobKindTranslate,
		FilePath:       path,
		TargetLanguage: lang,
	})
}

// EnqueueBatch queues a batch job over several files.
func (s *Service) EnqueueBatch(paths []string, lang string) (models.Job, error) {
	if len(paths) == 0 {
		return models.Job{}, fmt.Errorf("%w: batch requires at least one path", models.ErrConfig)
	}
	return s.enqueue(models.Job{
		Kind:           models.JobKindBatch,
		FilePath:       paths[0],
		BatchPaths:     paths,
		TargetLanguage: lang,
	})
}

// EnqueueWantedSearch queues a search for one wanted item.
func (s *Service) EnqueueWantedSearch(wantedID int64) (models.Job, error) {
	return s.enqueue(models.Job{
		Kind:     models.JobKindWantedSearch,
		WantedID: wantedID,
	})
}

func (s *Service) enqueue(job models.Job) (models.Job, error) {
	now := time.Now().UTC()
	job.ID = uuid.NewString()
	job.State = models.JobStateQueued
	job.CreatedAt = now
	job.UpdatedAt = now
	if err := s.repo.Insert(job); err != nil {
		return models.Job{}, err
	}
	s.publishJobEvent(models.EventJobCreated, job)
	return job, nil
}

// Cancel requests cancellation. Queued jobs flip immediately; running jobs
// observe the signal at their next checkpoint.
func (s *Service) Cancel(id string) error {
	job, err := s.repo.Get(id)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return nil
	}

	if flipped, err := s.repo.RequestCancel(id); err != nil {
		return err
	} else if flipped {
		job.State = models.JobStateCancelled
		s.publishJobEvent(models.EventJobCancelled, job)
		return nil
	}

	s.cancelMu.Lock()
	s.requested[id] = true
	if cancel, ok := s.cancels[id]; ok {
		cancel()
	}
	s.cancelMu.Unlock()
	return nil
}

// Get returns one job.
func (s *Service) Get(id string) (models.Job, error) { return s.repo.Get(id) }

// List returns recent jobs.
func (s *Service) List(limit int) ([]models.Job, error) { return s.repo.List(limit) }

// Counts returns queue depth per state.
func (s *Service) Counts() (map[models.JobState]int, error) { return s.repo.CountByState() }

// WaitTerminal blocks until the job reaches a terminal state.
func (s *Service) WaitTerminal(ctx context.Context, id string) (models.Job, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		job, err := s.repo.Get(id)
		if err != nil {
			return models.Job{}, err
		}
		if job.State.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) workerLoop(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		job, err := s.repo.Claim(leaseTTL)
		if errors.Is(err, models.ErrNotFound) {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if err != nil {
			log.Printf("[jobs] worker %d claim failed: %v", id, err)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		s.execute(job)
	}
}

// maintenanceLoop sweeps dead leases and prunes old terminal rows.
func (s *Service) maintenanceLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if swept, err := s.repo.SweepExpiredLeases(); err != nil {
				log.Printf("[jobs] lease sweep failed: %v", err)
			} else if swept > 0 {
				log.Printf("[jobs] failed %d job(s) with expired leases", swept)
			}
			cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
			if _, err := s.repo.DeleteOlderThan(cutoff); err != nil {
				log.Printf("[jobs] retention prune failed: %v", err)
			}
		}
	}
}

func (s *Service) execute(job models.Job) {
	settings, err := s.cfg.Effective()
	if err != nil {
		s.finish(job, models.JobStateFailed, err.Error())
		return
	}
	deadline := time.Duration(settings.Queue.JobTimeoutMinutes) * time.Minute

	jobCtx, cancel := context.WithTimeout(s.ctx, deadline)
	s.cancelMu.Lock()
	s.cancels[job.ID] = cancel
	if s.requested[job.ID] {
		// Cancellation raced the claim; observe it before any work runs.
		cancel()
	}
	s.cancelMu.Unlock()

	renewDone := make(chan struct{})
	go s.renewLease(job.ID, renewDone)

	defer func() {
		close(renewDone)
		cancel()
		s.cancelMu.Lock()
		delete(s.cancels, job.ID)
		delete(s.requested, job.ID)
		s.cancelMu.Unlock()
	}()

	s.publishJobEvent(models.EventJobStarted, job)

	err = s.runGuarded(jobCtx, job)
	if err == nil {
		s.finish(job, models.JobStateCompleted, "")
		return
	}

	s.cancelMu.Lock()
	cancelled := s.requested[job.ID]
	s.cancelMu.Unlock()

	if cancelled {
		s.finish(job, models.JobStateCancelled, "")
		return
	}
	s.finish(job, models.JobStateFailed, err.Error())
}

// runGuarded dispatches on kind with panic containment: a panicking job is
// failed, the worker survives.
func (s *Service) runGuarded(ctx context.Context, job models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[jobs] job %s panicked: %v\n%s", job.ID, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	progress := func(fraction float64, phase string) {
		if uerr := s.repo.UpdateProgress(job.ID, fraction, phase); uerr != nil {
			log.Printf("[jobs] progress update for %s: %v", job.ID, uerr)
		}
		snapshot := job
		snapshot.Progress = fraction
		snapshot.Phase = phase
		snapshot.State = models.JobStateRunning
		s.publishJobEvent(models.EventJobProgress, snapshot)
	}

	switch job.Kind {
	case models.JobKindTranslate:
		_, err = s.acquirer.Acquire(ctx, pipeline.Request{
			VideoPath:      job.FilePath,
			TargetLanguage: job.TargetLanguage,
			Progress:       progress,
		})
		return err
	case models.JobKindBatch:
		return s.runBatch(ctx, job, progress)
	case models.JobKindWantedSearch:
		s.wantedMu.RLock()
		wanted := s.wanted
		s.wantedMu.RUnlock()
		if wanted == nil {
			return fmt.Errorf("wanted searcher not wired")
		}
		return wanted.SearchWanted(ctx, job.WantedID, progress)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// runBatch processes each file, observing cancellation between files. A
// batch where every file skipped still completes; the split is visible in
// batch.progress events.
func (s *Service) runBatch(ctx context.Context, job models.Job, progress func(float64, string)) error {
	total := len(job.BatchPaths)
	acquired, skipped, failed := 0, 0, 0
	var lastErr error

	for i, path := range job.BatchPaths {
		if err := ctx.Err(); err != nil {
			return models.NewPipelineError(models.PipelineCancelled, err)
		}
		result, err := s.acquirer.Acquire(ctx, pipeline.Request{
			VideoPath:      path,
			TargetLanguage: job.TargetLanguage,
		})
		switch {
		case err != nil:
			var perr *models.PipelineError
			if errors.As(err, &perr) && perr.Kind == models.PipelineCancelled {
				return err
			}
			failed++
			lastErr = err
			log.Printf("[jobs] batch %s: %s failed: %v", job.ID, path, err)
		case result.Outcome == pipeline.OutcomeSkipped:
			skipped++
		default:
			acquired++
		}

		fraction := float64(i+1) / float64(total)
		progress(fraction, models.PhaseWrite)
		if s.bus != nil {
			s.bus.Publish(models.EventBatchProgress, map[string]any{
				"jobId":    job.ID,
				"total":    total,
				"done":     i + 1,
				"acquired": acquired,
				"skipped":  skipped,
				"failed":   failed,
			})
		}
	}

	if acquired == 0 && skipped == 0 && failed > 0 {
		return fmt.Errorf("batch failed entirely: %w", lastErr)
	}
	return nil
}

func (s *Service) renewLease(id string, done <-chan struct{}) {
	ticker := time.NewTicker(leaseRenewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.repo.RenewLease(id, leaseTTL); err != nil {
				log.Printf("[jobs] lease renewal for %s: %v", id, err)
			}
		}
	}
}

func (s *Service) finish(job models.Job, state models.JobState, errMsg string) {
	if err := s.repo.Finish(job.ID, state, errMsg); err != nil {
		log.Printf("[jobs] finish %s: %v", job.ID, err)
	}
	job.State = state
	job.Error = errMsg

	switch state {
	case models.JobStateCompleted:
		job.Progress = 1.0
		s.publishJobEvent(models.EventJobCompleted, job)
	case models.JobStateCancelled:
		s.publishJobEvent(models.EventJobCancelled, job)
	default:
		s.publishJobEvent(models.EventJobFailed, job)
	}

	if errMsg != "" && !strings.Contains(errMsg, "skipped") {
		log.Printf("[jobs] job %s (%s) finished %s: %s", job.ID, job.Kind, state, errMsg)
	}
}

func (s *Service) publishJobEvent(t models.EventType, job models.Job) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(t, models.JobEventPayload{
		JobID:          job.ID,
		Kind:           job.Kind,
		State:          job.State,
		FilePath:       job.FilePath,
		TargetLanguage: job.TargetLanguage,
		Progress:       job.Progress,
		Phase:          job.Phase,
		Error:          job.Error,
	})
}
