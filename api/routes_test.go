package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func authedRouter(key string) *mux.Router {
	r := mux.NewRouter()
	sub := r.PathPrefix("/api/v1").Subrouter()
	sub.Use(apiKeyMiddleware(func() string { return key }))
	sub.HandleFunc("/jobs", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return r
}

func TestAPIKeyMiddlewareRejectsMissingKey(t *testing.T) {
	r := authedRouter("secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyMiddlewareAcceptsHeader(t *testing.T) {
	r := authedRouter("secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("X-Api-Key", "secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyMiddlewareAcceptsQueryParam(t *testing.T) {
	r := authedRouter("secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?apikey=secret", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyMiddlewareOpenWithoutConfiguredKey(t *testing.T) {
	r := authedRouter("")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPathIsPublic(t *testing.T) {
	assert.True(t, PathIsPublic("/api/v1/health"))
	assert.True(t, PathIsPublic("/api/v1/webhook/sonarr"))
	assert.True(t, PathIsPublic("/api/v1/metrics"))
	assert.False(t, PathIsPublic("/api/v1/jobs"))
	assert.False(t, PathIsPublic("/api/v1/config"))
}
