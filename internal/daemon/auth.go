package daemon

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// AuthHeader is the header name for bearer token authentication
	AuthHeader = "Authorization"

	// AuthScheme is the authentication scheme prefix
	AuthScheme = "Bearer "

	// TokenEnvVar holds the token CLI clients send to the daemon.
	TokenEnvVar = "CHAINWATCH_DAEMON_TOKEN"
)

// withAuth rejects requests whose bearer token does not match the
// configured bcrypt hash. It is a no-op when auth is disabled.
func (d *Daemon) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := d.app.Config.Daemon.Auth
		if !auth.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(AuthHeader)
		if header == "" {
			d.writeError(w, r, http.StatusUnauthorized, &APIError{Code: "UNAUTHORIZED", Message: "Missing Authorization header"})
			return
		}
		if !strings.HasPrefix(header, AuthScheme) {
			d.writeError(w, r, http.StatusUnauthorized, &APIError{Code: "UNAUTHORIZED", Message: "Invalid Authorization scheme, expected Bearer"})
			return
		}
		if !CheckToken(auth.TokenHash, strings.TrimPrefix(header, AuthScheme)) {
			d.logger.Warn("Rejected API request with invalid token", "path", r.URL.Path)
			d.writeError(w, r, http.StatusUnauthorized, &APIError{Code: "UNAUTHORIZED", Message: "Invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CheckToken reports whether token matches the bcrypt hash.
func CheckToken(hash, token string) bool {
	if hash == "" || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// GenerateToken returns a random token and its bcrypt hash for
// daemon.auth.tokenHash.
func GenerateToken() (token, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	token = hex.EncodeToString(b)
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash token: %w", err)
	}
	return token, string(h), nil
}
