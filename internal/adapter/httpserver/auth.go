package httpserver

import (
	"crypto/subtle"
	"net/http"

	"github.com/mikev9/text-processing/internal/config"
	"github.com/mikev9/text-processing/internal/domain"
)

// BasicAuth enforces HTTP Basic credentials with constant-time comparison.
// It is a no-op when auth is disabled in config. 401 responses carry the
// WWW-Authenticate: Basic challenge.
func BasicAuth(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.DisableAuth {
				next.ServeHTTP(w, r)
				return
			}
			username, password, ok := r.BasicAuth()
			if !ok {
				unauthorized(w, r, "not authenticated")
				return
			}
			userOK := subtle.ConstantTimeCompare([]byte(username), []byte(cfg.Username)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(password), []byte(cfg.Password)) == 1
			if !(userOK && passOK) {
				unauthorized(w, r, "incorrect username or password")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", "Basic")
	writeError(w, r, domain.ErrUnauthorized, map[string]string{"reason": msg})
}
