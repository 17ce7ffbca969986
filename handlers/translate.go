package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"golang.org/x/text/language"

	"sublarr/config"
	"sublarr/models"
	"sublarr/services/jobs"
)

// TranslateHandler exposes the translate and job endpoints.
type TranslateHandler struct {
	cfg   *config.Resolver
	queue *jobs.Service
}

// NewTranslateHandler builds the handler.
func NewTranslateHandler(cfg *config.Resolver, queue *jobs.Service) *TranslateHandler {
	return &TranslateHandler{cfg: cfg, queue: queue}
}

type translateRequest struct {
	FilePath       string `json:"file_path"`
	TargetLanguage string `json:"target_language,omitempty"`
	Force          bool   `json:"force,omitempty"`
}

func (h *TranslateHandler) resolveLanguage(requested string) (string, error) {
	if requested != "" {
		if _, err := language.Parse(requested); err != nil {
			return "", fmt.Errorf("%w: invalid target_language %q", models.ErrConfig, requested)
		}
		return requested, nil
	}
	settings, err := h.cfg.Effective()
	if err != nil {
		return "", err
	}
	if len(settings.Subtitles.DefaultLanguages) == 0 {
		return "", fmt.Errorf("%w: no target language configured", models.ErrConfig)
	}
	return settings.Subtitles.DefaultLanguages[0], nil
}

// Translate enqueues a translate job and returns its id.
func (h *TranslateHandler) Translate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrConfig, err))
		return
	}
	if strings.TrimSpace(req.FilePath) == "" {
		writeError(w, fmt.Errorf("%w: file_path is required", models.ErrConfig))
		return
	}
	lang, err := h.resolveLanguage(req.TargetLanguage)
	if err != nil {
		writeError(w, err)
		return
	}

	job, err := h.queue.EnqueueTranslate(req.FilePath, lang)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// TranslateSync enqueues and blocks until the job reaches a terminal state.
// A dropped client cancels the job.
func (h *TranslateHandler) TranslateSync(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrConfig, err))
		return
	}
	if strings.TrimSpace(req.FilePath) == "" {
		writeError(w, fmt.Errorf("%w: file_path is required", models.ErrConfig))
		return
	}
	lang, err := h.resolveLanguage(req.TargetLanguage)
	if err != nil {
		writeError(w, err)
		return
	}

	job, err := h.queue.EnqueueTranslate(req.FilePath, lang)
	if err != nil {
		writeError(w, err)
		return
	}

	final, err := h.queue.WaitTerminal(r.Context(), job.ID)
	if err != nil {
		_ = h.queue.Cancel(job.ID)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, final)
}

// List returns recent jobs.
func (h *TranslateHandler) List(w http.ResponseWriter, r *http.Request) {
	jobList, err := h.queue.List(200)
	if err != nil {
		writeError(w, err)
		return
	}
	if jobList == nil {
		jobList = []models.Job{}
	}
	writeJSON(w, http.StatusOK, jobList)
}

// Status returns one job by id.
func (h *TranslateHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["jobID"]
	job, err := h.queue.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Cancel requests cancellation of a job.
func (h *TranslateHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["jobID"]
	if err := h.queue.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
}
