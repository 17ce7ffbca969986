package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"sublarr/internal/database"
	"sublarr/models"
)

// ProfilesHandler exposes language-profile CRUD and assignment.
type ProfilesHandler struct {
	repo *database.ProfileRepository
}

// NewProfilesHandler builds the handler.
func NewProfilesHandler(repo *database.ProfileRepository) *ProfilesHandler {
	return &ProfilesHandler{repo: repo}
}

// List returns all profiles.
func (h *ProfilesHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.repo.List()
	if err != nil {
		writeError(w, err)
		return
	}
	if profiles == nil {
		profiles = []models.LanguageProfile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

// Create stores a new profile.
func (h *ProfilesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var profile models.LanguageProfile
	if err := decodeBody(r, &profile); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrConfig, err))
		return
	}
	if profile.Name == "" || len(profile.Languages) == 0 {
		writeError(w, fmt.Errorf("%w: name and languages are required", models.ErrConfig))
		return
	}
	created, err := h.repo.Create(profile)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Update rewrites a profile.
func (h *ProfilesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("%w: bad id", models.ErrConfig))
		return
	}
	var profile models.LanguageProfile
	if err := decodeBody(r, &profile); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrConfig, err))
		return
	}
	profile.ID = id
	if err := h.repo.Update(profile); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// Delete removes a profile.
func (h *ProfilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("%w: bad id", models.ErrConfig))
		return
	}
	if err := h.repo.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Assign binds a series or movie to a profile.
func (h *ProfilesHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var assignment models.ProfileAssignment
	if err := decodeBody(r, &assignment); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrConfig, err))
		return
	}
	if assignment.MediaID == 0 || assignment.Kind == "" {
		writeError(w, fmt.Errorf("%w: kind and mediaId are required", models.ErrConfig))
		return
	}
	if assignment.ProfileID == 0 {
		if err := h.repo.Unassign(assignment.Kind, assignment.MediaID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "unassigned"})
		return
	}
	if err := h.repo.Assign(assignment); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "assigned"})
}
