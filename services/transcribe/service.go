package transcribe

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"sublarr/config"
	"sublarr/models"
	"sublarr/services/subtitles"
)

// Request priorities: lower runs first.
const (
	PriorityManual = 1
	PriorityWanted = 5
	PriorityBatch  = 10
)

// AudioExtractor produces the temp WAV the backends consume.
type AudioExtractor interface {
	AudioWAV(ctx context.Context, path, dst string) error
}

// Backend turns a WAV file into transcript segments.
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, wavPath string) ([]Segment, string, error)
}

// Segment is one transcribed utterance.
type Segment struct {
	StartMS    int
	EndMS      int
	Text       string
	Confidence float64
}

// Refiner re-asks an LLM about one low-confidence line. Optional.
type Refiner interface {
	RefineLine(ctx context.Context, line string) (string, error)
}

type request struct {
	videoPath string
	priority  int
	seq       int64
	ctx       context.Context
	done      chan result
}

type result struct {
	doc  *subtitles.Document
	lang string
	err  error
}

// Service is the GPU-serialized speech-to-text lane: a single worker
// processes one transcription at a time, ordered by priority.
type Service struct {
	cfg       *config.Resolver
	extractor AudioExtractor
	refiner   Refiner

	mu      sync.Mutex
	cond    *sync.Cond
	queue   requestHeap
	seq     int64
	running bool
	stopped bool
}

// NewService builds the lane; Start launches the worker.
func NewService(cfg *config.Resolver, extractor AudioExtractor) *Service {
	s := &Service{cfg: cfg, extractor: extractor}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetRefiner wires the low-confidence retry hook.
func (s *Service) SetRefiner(r Refiner) { s.refiner = r }

// Start launches the single worker goroutine.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.worker()
}

// Stop drains the queue and stops the worker.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	for s.queue.Len() > 0 {
		req := heap.Pop(&s.queue).(*request)
		req.done <- result{err: fmt.Errorf("transcription service stopped")}
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Transcribe queues the video and blocks until its transcription completes
// or the context ends.
func (s *Service) Transcribe(ctx context.Context, videoPath string, priority int) (*subtitles.Document, string, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, "", fmt.Errorf("transcription service stopped")
	}
	s.seq++
	req := &request{
		videoPath: videoPath,
		priority:  priority,
		seq:       s.seq,
		ctx:       ctx,
		done:      make(chan result, 1),
	}
	heap.Push(&s.queue, req)
	s.mu.Unlock()
	s.cond.Signal()

	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case res := <-req.done:
		return res.doc, res.lang, res.err
	}
}

func (s *Service) worker() {
	for {
		s.mu.Lock()
		for s.queue.Len() == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}
		req := heap.Pop(&s.queue).(*request)
		s.mu.Unlock()

		if req.ctx.Err() != nil {
			req.done <- result{err: req.ctx.Err()}
			continue
		}
		doc, lang, err := s.process(req.ctx, req.videoPath)
		req.done <- result{doc: doc, lang: lang, err: err}
	}
}

// process extracts audio to a short-lived temp WAV, transcribes it and
// builds an SRT document. The WAV is removed on every exit path.
func (s *Service) process(ctx context.Context, videoPath string) (*subtitles.Document, string, error) {
	settings, err := s.cfg.Effective()
	if err != nil {
		return nil, "", err
	}

	backend, err := s.backend(settings)
	if err != nil {
		return nil, "", err
	}

	wavPath := filepath.Join(os.TempDir(), "sublarr-"+uuid.NewString()[:8]+".wav")
	if err := s.extractor.AudioWAV(ctx, videoPath, wavPath); err != nil {
		return nil, "", err
	}
	defer func() {
		if err := os.Remove(wavPath); err != nil && !os.IsNotExist(err) {
			log.Printf("[transcribe] remove temp wav %s: %v", wavPath, err)
		}
	}()

	segments, lang, err := backend.Transcribe(ctx, wavPath)
	if err != nil {
		return nil, "", err
	}

	doc := s.buildDocument(ctx, segments, settings.Transcribe.MinConfidence)
	return doc, lang, nil
}

func (s *Service) backend(settings config.Settings) (Backend, error) {
	switch settings.Transcribe.Backend {
	case "http":
		if settings.Transcribe.URL == "" {
			return nil, fmt.Errorf("configure transcribe.url for the http backend")
		}
		return newHTTPBackend(settings.Transcribe.URL), nil
	default:
		return newLocalBackend(settings.Transcribe.Model), nil
	}
}

func (s *Service) buildDocument(ctx context.Context, segments []Segment, minConfidence float64) *subtitles.Document {
	doc := &subtitles.Document{Format: models.FormatSRT}
	for _, seg := range segments {
		text := seg.Text
		if s.refiner != nil && seg.Confidence > 0 && seg.Confidence < minConfidence {
			if refined, err := s.refiner.RefineLine(ctx, text); err == nil && refined != "" {
				text = refined
			}
		}
		doc.Events = append(doc.Events, subtitles.Event{
			Kind:    "Dialogue",
			StartMS: seg.StartMS,
			EndMS:   seg.EndMS,
			Text:    text,
		})
	}
	return doc
}

// requestHeap orders by priority, then arrival.
type requestHeap []*request

func (h requestHeap) Len() int { return len(h) }
func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *requestHeap) Push(x any)   { *h = append(*h, x.(*request)) }
func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
