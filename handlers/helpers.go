package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"sublarr/models"
)

// errorEnvelope is the machine-parseable error body every failing endpoint
// returns.
type errorEnvelope struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	RequestID       string `json:"request_id"`
	Timestamp       string `json:"timestamp"`
	Troubleshooting string `json:"troubleshooting,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("[http] encode response: %v", err)
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code, hint := classifyError(err)
	writeJSON(w, status, errorEnvelope{
		Code:            code,
		Message:         err.Error(),
		RequestID:       uuid.NewString(),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Troubleshooting: hint,
	})
}

// classifyError maps the error taxonomy onto HTTP statuses and stable codes.
func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", ""
	case errors.Is(err, models.ErrAuth):
		return http.StatusUnauthorized, "AUTH_FAILED", "check the X-Api-Key header"
	case errors.Is(err, models.ErrConfig):
		return http.StatusBadRequest, "CONFIG_ERROR", ""
	}

	var perr *models.ProviderError
	if errors.As(err, &perr) {
		status := http.StatusBadGateway
		if perr.Kind == models.ProviderTimeout {
			status = http.StatusGatewayTimeout
		}
		return status, "PROVIDER_" + upper(string(perr.Kind)), "provider " + perr.Provider + " failed; check its configuration and health"
	}

	var terr *models.TranslationError
	if errors.As(err, &terr) {
		status := http.StatusBadGateway
		switch terr.Kind {
		case models.BackendTimeout:
			status = http.StatusGatewayTimeout
		case models.LineCountMismatch:
			return http.StatusBadGateway, "TRANS_LINE_COUNT_MISMATCH", "the backend could not hold the 1:1 line mapping"
		}
		return status, "TRANS_" + upper(string(terr.Kind)), "check the translation backend configuration"
	}

	var pperr *models.PipelineError
	if errors.As(err, &pperr) {
		switch pperr.Kind {
		case models.UpgradeGateRejected, models.PipelineCancelled:
			return http.StatusConflict, "PIPELINE_" + upper(string(pperr.Kind)), ""
		default:
			return http.StatusOK, "PIPELINE_" + upper(string(pperr.Kind)), ""
		}
	}

	var ferr *models.FileError
	if errors.As(err, &ferr) {
		if ferr.Kind == models.PathOutsideMedia {
			return http.StatusBadRequest, "PATH_OUTSIDE_MEDIA", "the path must live under a configured media root"
		}
		return http.StatusInternalServerError, "FILE_" + upper(string(ferr.Kind)), ""
	}

	var serr *models.StoreError
	if errors.As(err, &serr) {
		return http.StatusInternalServerError, "STORE_" + upper(string(serr.Kind)), ""
	}

	return http.StatusInternalServerError, "INTERNAL", ""
}

func upper(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func decodeBody(r *http.Request, into any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return err
	}
	return nil
}
