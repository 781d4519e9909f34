// Package auth authenticates /rpc connections against a single
// pre-shared bearer token. There is no user/session model here — the
// bridge daemon serves exactly one operator, so the whole surface is a
// constant-time string comparison.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// Authenticator compares a presented token against the configured one
// in constant time, regardless of where the token came from.
type Authenticator struct {
	token           []byte
	allowQueryToken bool
}

// New builds an Authenticator for the given token. allowQueryToken
// enables the dev-only `?token=` fallback for clients that cannot set
// headers (e.g. a browser WebSocket constructor).
func New(token string, allowQueryToken bool) *Authenticator {
	return &Authenticator{token: []byte(token), allowQueryToken: allowQueryToken}
}

// TokenFromHeader extracts a bearer token from an Authorization header
// value. Returns "" if the header is absent or not bearer-shaped.
func TokenFromHeader(authHeader string) string {
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, bearerPrefix)
}

// Authenticate extracts a token from the request (Authorization header,
// falling back to the `token` query parameter if enabled) and reports
// whether it matches the configured token.
func (a *Authenticator) Authenticate(r *http.Request) bool {
	token := TokenFromHeader(r.Header.Get("Authorization"))
	if token == "" && a.allowQueryToken {
		token = r.URL.Query().Get("token")
	}
	return a.Equal(token)
}

// Equal reports whether token matches the configured token. Comparison
// never short-circuits on the first mismatching byte.
func (a *Authenticator) Equal(token string) bool {
	if len(token) != len(a.token) {
		return false
	}
	return subtle.ConstantTimeCompare(a.token, []byte(token)) == 1
}
