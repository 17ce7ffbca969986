package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sublarr/handlers"
	"sublarr/services/events"
)

// Handlers bundles everything Register mounts.
type Handlers struct {
	Translate *handlers.TranslateHandler
	Wanted    *handlers.WantedHandler
	Config    *handlers.ConfigHandler
	Providers *handlers.ProvidersHandler
	Profiles  *handlers.ProfilesHandler
	History   *handlers.HistoryHandler
	Webhook   *handlers.WebhookHandler
	Health    *handlers.HealthHandler
	WSHub     *events.WSHub
	APIKey    func() string
	Registry  *prometheus.Registry
}

// Register mounts the versioned API surface.
func Register(r *mux.Router, h Handlers) {
	// Unauthenticated surface first; mux matches in registration order.
	// Upstream webhooks carry no key, probes and scrapers should not need
	// one, and the WebSocket authenticates in-band.
	r.HandleFunc("/api/v1/webhook/{source}", h.Webhook.Receive).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/health", h.Health.Health).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/health/detailed", h.Health.Detailed).Methods(http.MethodGet)
	r.Handle("/api/v1/metrics", promhttp.HandlerFor(h.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.Handle("/api/v1/ws", h.WSHub)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(apiKeyMiddleware(h.APIKey))

	api.HandleFunc("/translate", h.Translate.Translate).Methods(http.MethodPost)
	api.HandleFunc("/translate/sync", h.Translate.TranslateSync).Methods(http.MethodPost)
	api.HandleFunc("/jobs", h.Translate.List).Methods(http.MethodGet)
	api.HandleFunc("/status/{jobID}", h.Translate.Status).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobID}/cancel", h.Translate.Cancel).Methods(http.MethodPost)

	api.HandleFunc("/wanted", h.Wanted.List).Methods(http.MethodGet)
	api.HandleFunc("/wanted", h.Wanted.Update).Methods(http.MethodPost)
	api.HandleFunc("/wanted/batch-search", h.Wanted.BatchSearch).Methods(http.MethodPost)
	api.HandleFunc("/wanted/batch-search/status", h.Wanted.BatchSearchStatus).Methods(http.MethodGet)
	api.HandleFunc("/wanted/refresh", h.Wanted.Refresh).Methods(http.MethodPost)
	api.HandleFunc("/wanted/{id}/search", h.Wanted.Search).Methods(http.MethodPost)
	api.HandleFunc("/wanted/{id}/process", h.Wanted.Process).Methods(http.MethodPost)

	api.HandleFunc("/config", h.Config.Get).Methods(http.MethodGet)
	api.HandleFunc("/config", h.Config.Put).Methods(http.MethodPut)

	api.HandleFunc("/providers", h.Providers.List).Methods(http.MethodGet)
	api.HandleFunc("/providers/search", h.Providers.Search).Methods(http.MethodPost)
	api.HandleFunc("/providers/test/{name}", h.Providers.Test).Methods(http.MethodPost)

	api.HandleFunc("/profiles", h.Profiles.List).Methods(http.MethodGet)
	api.HandleFunc("/profiles", h.Profiles.Create).Methods(http.MethodPost)
	api.HandleFunc("/profiles/assign", h.Profiles.Assign).Methods(http.MethodPut)
	api.HandleFunc("/profiles/{id}", h.Profiles.Update).Methods(http.MethodPut)
	api.HandleFunc("/profiles/{id}", h.Profiles.Delete).Methods(http.MethodDelete)

	api.HandleFunc("/history", h.History.List).Methods(http.MethodGet)
}

// apiKeyMiddleware enforces the X-Api-Key header when a key is configured.
func apiKeyMiddleware(getKey func() string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := getKey()
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			provided := r.Header.Get("X-Api-Key")
			if provided == "" {
				// Accept ?apikey= for clients that cannot set headers.
				provided = r.URL.Query().Get("apikey")
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"code":"AUTH_FAILED","message":"invalid or missing api key"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PathIsPublic reports whether a path skips API-key auth. Exposed for the
// router tests.
func PathIsPublic(path string) bool {
	switch {
	case strings.HasPrefix(path, "/api/v1/webhook/"),
		path == "/api/v1/health",
		path == "/api/v1/health/detailed",
		path == "/api/v1/metrics",
		path == "/api/v1/ws":
		return true
	}
	return false
}
