package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/krinkuto11/ace-orchestrator/internal/config"
)

// requireAuth wraps a handler with a bearer-token check against
// API_KEY, using constant-time comparison.
func requireAuth(cfg *config.Config, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.APIKey == "" {
			writeError(w, http.StatusUnauthorized, "server has no API_KEY configured")
			return
		}
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next(w, r)
	}
}
