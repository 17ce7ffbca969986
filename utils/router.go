package utils

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter constructs the application router with the shared middleware.
func NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)
	return r
}

// corsMiddleware answers preflight requests and opens the API to browser
// clients; real authentication happens in the API-key middleware.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Api-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
