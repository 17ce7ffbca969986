package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gorilla/mux"

	"sublarr/models"
	"sublarr/services/jobs"
	"sublarr/services/wanted"
)

// WantedHandler exposes the wanted-item surface.
type WantedHandler struct {
	svc   *wanted.Service
	queue *jobs.Service

	refreshRunning atomic.Bool
}

// NewWantedHandler builds the handler.
func NewWantedHandler(svc *wanted.Service, queue *jobs.Service) *WantedHandler {
	return &WantedHandler{svc: svc, queue: queue}
}

// List returns wanted rows, optionally filtered by ?status=.
func (h *WantedHandler) List(w http.ResponseWriter, r *http.Request) {
	status := models.WantedStatus(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := h.svc.List(status, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []models.WantedItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

type wantedUpdateRequest struct {
	ID      int64 `json:"id"`
	Ignored *bool `json:"ignored,omitempty"`
}

// Update flips operator flags on a wanted row.
func (h *WantedHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req wantedUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrConfig, err))
		return
	}
	if req.Ignored == nil {
		writeError(w, fmt.Errorf("%w: nothing to update", models.ErrConfig))
		return
	}
	if err := h.svc.SetIgnored(req.ID, *req.Ignored); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// Search queues a background search for one wanted row.
func (h *WantedHandler) Search(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("%w: bad id", models.ErrConfig))
		return
	}
	if _, err := h.svc.Get(id); err != nil {
		writeError(w, err)
		return
	}
	job, err := h.queue.EnqueueWantedSearch(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// Process runs the search synchronously and returns the outcome.
func (h *WantedHandler) Process(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("%w: bad id", models.ErrConfig))
		return
	}
	if err := h.svc.SearchWanted(r.Context(), id, nil); err != nil {
		writeError(w, err)
		return
	}
	item, err := h.svc.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// BatchSearch enqueues searches for every eligible wanted row.
func (h *WantedHandler) BatchSearch(w http.ResponseWriter, r *http.Request) {
	if !h.refreshRunning.CompareAndSwap(false, true) {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "batch search already running"})
		return
	}
	go func() {
		defer h.refreshRunning.Store(false)
		if err := h.svc.BatchSearch(); err != nil {
			// Logged inside the service; nothing to surface here.
			_ = err
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "batch search started"})
}

// BatchSearchStatus reports whether a batch search pass is in flight plus
// the current queue depth.
func (h *WantedHandler) BatchSearchStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.Counts()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running": h.refreshRunning.Load(),
		"queued":  counts[models.JobStateQueued],
		"active":  counts[models.JobStateRunning],
	})
}

// Refresh runs a reconcile pass now.
func (h *WantedHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	full := r.URL.Query().Get("full") == "true"
	stats, err := h.svc.Reconcile(r.Context(), full)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
