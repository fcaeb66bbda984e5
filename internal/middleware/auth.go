package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health": true,
}

// TokenAuth checks bearer tokens against a bcrypt hash.
type TokenAuth struct {
	hash []byte

	mu       sync.RWMutex
	accepted [sha256.Size]byte
	known    bool
}

// NewTokenAuth creates a TokenAuth. An empty hash disables authentication.
func NewTokenAuth(tokenHash string) *TokenAuth {
	return &TokenAuth{hash: []byte(tokenHash)}
}

// Enabled reports whether a token hash is configured.
func (a *TokenAuth) Enabled() bool { return len(a.hash) > 0 }

// Verify reports whether token matches the configured hash. The digest of
// the last accepted token is remembered so bcrypt runs once per token.
func (a *TokenAuth) Verify(token string) bool {
	if token == "" {
		return false
	}
	sum := sha256.Sum256([]byte(token))

	a.mu.RLock()
	hit := a.known && subtle.ConstantTimeCompare(sum[:], a.accepted[:]) == 1
	a.mu.RUnlock()
	if hit {
		return true
	}

	if bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
		return false
	}
	a.mu.Lock()
	a.accepted, a.known = sum, true
	a.mu.Unlock()
	return true
}

// Handler requires "Authorization: Bearer <token>" on every non-public path.
// WebSocket clients may pass the token as the token query parameter.
func (a *TokenAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" && r.URL.Path == "/ws" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			unauthorized(w, "authorization required")
			return
		}
		if !a.Verify(token) {
			unauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="taskforge"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
