package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/btouchard/tasklist/internal/config"
)

// HashToken returns the hex SHA-256 digest stored in configuration for a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// BearerAuth returns middleware that accepts only requests carrying one of
// the configured API tokens. With no tokens configured every request passes.
func BearerAuth(tokens []config.APITokenEntry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(tokens) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				challengeAuth(w, "missing Authorization header")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				challengeAuth(w, "invalid Authorization header format")
				return
			}

			name, ok := matchToken(tokens, parts[1])
			if !ok {
				slog.Debug("token validation failed", "remote", r.RemoteAddr)
				invalidToken(w, "invalid token")
				return
			}

			slog.Debug("token accepted", "token_name", name)
			next.ServeHTTP(w, r)
		})
	}
}

// matchToken always walks the full list.
func matchToken(tokens []config.APITokenEntry, token string) (string, bool) {
	digest := []byte(HashToken(token))
	name, found := "", false
	for _, t := range tokens {
		if subtle.ConstantTimeCompare(digest, []byte(strings.ToLower(t.TokenHash))) == 1 {
			name, found = t.Name, true
		}
	}
	return name, found
}

// challengeAuth sends a 401 with a Bearer challenge for unauthenticated requests.
func challengeAuth(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="tasklist"`)
	http.Error(w, msg, http.StatusUnauthorized)
}

// invalidToken sends a 401 for requests with an unknown Bearer token.
func invalidToken(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	http.Error(w, msg, http.StatusUnauthorized)
}
