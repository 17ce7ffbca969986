package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"sublarr/models"
	"sublarr/services/providers"
)

// ProvidersHandler exposes provider health and ad-hoc search.
type ProvidersHandler struct {
	engine *providers.Engine
}

// NewProvidersHandler builds the handler.
func NewProvidersHandler(engine *providers.Engine) *ProvidersHandler {
	return &ProvidersHandler{engine: engine}
}

// List returns per-provider health, breaker state and counters.
func (h *ProvidersHandler) List(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status()
	if err != nil {
		writeError(w, err)
		return
	}
	if status == nil {
		status = []models.ProviderHealth{}
	}
	writeJSON(w, http.StatusOK, status)
}

// Test runs an operator connectivity test and clears breaker state on
// success.
func (h *ProvidersHandler) Test(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.engine.Test(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "provider": name})
}

type providerSearchRequest struct {
	FilePath string `json:"file_path"`
	Language string `json:"language"`
	Title    string `json:"title,omitempty"`
	Season   int    `json:"season,omitempty"`
	Episode  int    `json:"episode,omitempty"`
	Year     int    `json:"year,omitempty"`
	IMDBID   string `json:"imdb_id,omitempty"`
}

// Search performs a scored ad-hoc search without downloading anything.
func (h *ProvidersHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req providerSearchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrConfig, err))
		return
	}
	if req.Language == "" {
		writeError(w, fmt.Errorf("%w: language is required", models.ErrConfig))
		return
	}

	query := models.VideoQuery{
		Path:    req.FilePath,
		Title:   req.Title,
		Season:  req.Season,
		Episode: req.Episode,
		Year:    req.Year,
		IDs:     models.ExternalIDs{IMDB: req.IMDBID},
		Kind:    models.MediaKindMovie,
	}
	if req.Season > 0 || req.Episode > 0 {
		query.Kind = models.MediaKindEpisode
	}
	if req.FilePath != "" {
		if hash, size, err := providers.ComputeOSHash(req.FilePath); err == nil {
			query.Hash = hash
			query.SizeBytes = size
		}
	}

	results, err := h.engine.Search(r.Context(), query, req.Language, providers.SearchOptions{})
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []models.SubtitleResult{}
	}
	writeJSON(w, http.StatusOK, results)
}
