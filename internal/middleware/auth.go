package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/render"
)

const (
	ErrorCodeUnauthorized    = "UNAUTHORIZED"
	ErrorMessageUnauthorized = "Invalid or missing API key"
)

// APIKey guards the operator endpoints. The key is accepted either as a
// bearer token or in the X-API-Key header. An empty configured key disables
// the check, which is the local-development mode.
func APIKey(key string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := r.Header.Get("X-API-Key")
			if presented == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					presented = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				w.WriteHeader(http.StatusUnauthorized)
				render.JSON(w, r, map[string]interface{}{
					"error":   ErrorCodeUnauthorized,
					"message": ErrorMessageUnauthorized,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
