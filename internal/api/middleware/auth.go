package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/giftflow/wishlist-pipeline/internal/domain"
)

// OrchestratorSecret guards the continuous-query engine's callback route.
// The engine presents the configured shared secret in the
// X-Orchestrator-Secret header; anything else is rejected with 401.
func OrchestratorSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Orchestrator-Secret")
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": domain.ErrUnauthorized.Error()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
