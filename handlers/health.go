package handlers

import (
	"net/http"
	"time"

	"sublarr/models"
	"sublarr/services/events"
	"sublarr/services/jobs"
	"sublarr/services/providers"
	"sublarr/services/wanted"
)

// HealthHandler answers liveness and detailed-status probes.
type HealthHandler struct {
	startedAt time.Time
	queue     *jobs.Service
	wanted    *wanted.Service
	engine    *providers.Engine
	hub       *events.WSHub
	version   string
}

// NewHealthHandler builds the handler.
func NewHealthHandler(queue *jobs.Service, wantedSvc *wanted.Service, engine *providers.Engine, hub *events.WSHub, version string) *HealthHandler {
	return &HealthHandler{
		startedAt: time.Now().UTC(),
		queue:     queue,
		wanted:    wantedSvc,
		engine:    engine,
		hub:       hub,
		version:   version,
	}
}

// Health is the cheap liveness probe.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

// Detailed reports queue depth, wanted counts and provider health.
func (h *HealthHandler) Detailed(w http.ResponseWriter, r *http.Request) {
	jobCounts, err := h.queue.Counts()
	if err != nil {
		writeError(w, err)
		return
	}
	wantedCounts, err := h.wanted.Counts()
	if err != nil {
		writeError(w, err)
		return
	}
	providerHealth, err := h.engine.Status()
	if err != nil {
		writeError(w, err)
		return
	}
	if providerHealth == nil {
		providerHealth = []models.ProviderHealth{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       h.version,
		"uptimeSeconds": int(time.Since(h.startedAt).Seconds()),
		"jobs":          jobCounts,
		"wanted":        wantedCounts,
		"providers":     providerHealth,
		"wsClients":     h.hub.ClientCount(),
	})
}
