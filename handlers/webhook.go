package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"sublarr/services/wanted"
)

// WebhookHandler accepts fire-and-forget pings from upstream library
// managers. Processing is deferred so the upstream finishes its own
// post-processing first.
type WebhookHandler struct {
	wanted *wanted.Service
}

// NewWebhookHandler builds the handler.
func NewWebhookHandler(wantedSvc *wanted.Service) *WebhookHandler {
	return &WebhookHandler{wanted: wantedSvc}
}

// libraryEvent is the permissive envelope the upstreams send; only the
// fields we consume are declared, the rest is ignored.
type libraryEvent struct {
	EventType string `json:"eventType"`
	Series    struct {
		Title string `json:"title"`
	} `json:"series"`
	Movie struct {
		Title string `json:"title"`
	} `json:"movie"`
	EpisodeFile struct {
		Path string `json:"path"`
	} `json:"episodeFile"`
	MovieFile struct {
		Path string `json:"path"`
	} `json:"movieFile"`
}

// Receive acknowledges immediately and hands the event to the delay queue.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]

	var event libraryEvent
	// Permissive parsing: a malformed body is acknowledged and dropped, the
	// upstream does not retry webhooks.
	_ = json.NewDecoder(r.Body).Decode(&event)
	r.Body.Close()

	path := event.EpisodeFile.Path
	title := event.Series.Title
	if path == "" {
		path = event.MovieFile.Path
		title = event.Movie.Title
	}
	h.wanted.HandleLibraryEvent(source, event.EventType, path, title)

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
