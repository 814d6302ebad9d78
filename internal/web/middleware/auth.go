package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// Authentication rejects requests whose X-API-Key header does not match apiKey
func Authentication(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given := r.Header.Get("X-API-Key")
			if given == "" || subtle.ConstantTimeCompare([]byte(given), []byte(apiKey)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "Invalid or missing API key"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
