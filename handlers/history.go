package handlers

import (
	"net/http"
	"strconv"

	"sublarr/internal/database"
	"sublarr/models"
)

// HistoryHandler pages the download history.
type HistoryHandler struct {
	repo *database.HistoryRepository
}

// NewHistoryHandler builds the handler.
func NewHistoryHandler(repo *database.HistoryRepository) *HistoryHandler {
	return &HistoryHandler{repo: repo}
}

// List returns history rows newest first.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	items, err := h.repo.List(limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []models.DownloadHistory{}
	}
	writeJSON(w, http.StatusOK, items)
}
