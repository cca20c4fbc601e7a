// Package auth implements the shared-secret admin gate protecting
// mutating routes. There is no session state: a single credential loaded
// at process start is compared against each request.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"filebay/internal/config"
)

// Gate validates admin credentials. With a bcrypt hash configured the
// plain key never has to live in the config file.
type Gate struct {
	key        string
	bcryptHash string
}

func NewGate(cfg config.Config) *Gate {
	return &Gate{
		key:        cfg.AdminKey,
		bcryptHash: cfg.AdminKeyBcrypt,
	}
}

// Enabled reports whether any admin credential is configured. With none,
// admin routes deny everything rather than becoming open.
func (g *Gate) Enabled() bool {
	return g.key != "" || g.bcryptHash != ""
}

// Allow checks a presented credential.
func (g *Gate) Allow(credential string) bool {
	if credential == "" || !g.Enabled() {
		return false
	}
	if g.bcryptHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(g.bcryptHash), []byte(credential)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(g.key), []byte(credential)) == 1
}

// CredentialFrom extracts the admin credential from a request: the
// Authorization header (with or without a "Bearer " prefix) or the
// adminKey query parameter.
func CredentialFrom(r *http.Request) string {
	if v := r.Header.Get("Authorization"); v != "" {
		return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
	}
	return r.URL.Query().Get("adminKey")
}

// Require wraps a handler, rejecting requests without a valid admin
// credential with a 403 JSON error.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Allow(CredentialFrom(r)) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"Access denied. Admin key required."}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
