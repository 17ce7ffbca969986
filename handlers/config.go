package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"sublarr/config"
	"sublarr/models"
)

// OverrideStore persists runtime config overrides.
type OverrideStore interface {
	AllConfigEntries() (map[string]string, error)
	SetMany(entries map[string]string) error
}

// Invalidator is anything whose caches depend on config.
type Invalidator interface {
	Invalidate()
}

// ConfigHandler exposes the opaque key/value override surface. Secrets are
// masked on read.
type ConfigHandler struct {
	resolver     *config.Resolver
	store        OverrideStore
	invalidators []Invalidator
}

// NewConfigHandler builds the handler.
func NewConfigHandler(resolver *config.Resolver, store OverrideStore, invalidators ...Invalidator) *ConfigHandler {
	return &ConfigHandler{resolver: resolver, store: store, invalidators: invalidators}
}

var secretKeyMarkers = []string{"api_key", "password", "token", "secret"}

func isSecretKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, marker := range secretKeyMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// Get returns all overrides with secret values masked.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.AllConfigEntries()
	if err != nil {
		writeError(w, err)
		return
	}
	masked := make(map[string]string, len(entries))
	for key, value := range entries {
		if isSecretKey(key) && value != "" {
			masked[key] = "********"
			continue
		}
		masked[key] = value
	}
	writeJSON(w, http.StatusOK, masked)
}

// Put applies a batch of overrides and invalidates every dependent cache.
// A masked value posted back unchanged leaves the stored secret alone.
func (h *ConfigHandler) Put(w http.ResponseWriter, r *http.Request) {
	var entries map[string]string
	if err := decodeBody(r, &entries); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrConfig, err))
		return
	}
	for key, value := range entries {
		if value == "********" {
			delete(entries, key)
		}
	}
	if err := h.store.SetMany(entries); err != nil {
		writeError(w, err)
		return
	}

	h.resolver.Invalidate()
	for _, inv := range h.invalidators {
		inv.Invalidate()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
