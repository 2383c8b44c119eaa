// Package auth guards the maintenance endpoints with a shared bearer token.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// bearerPrefix is the Authorization scheme accepted by the guard.
const bearerPrefix = "Bearer "

// contextKey is an unexported type used for context keys to avoid collisions.
type contextKey int

// adminKey marks a request that presented a valid admin token.
const adminKey contextKey = iota

// IsAdmin reports whether the request context carries a verified admin token.
func IsAdmin(ctx context.Context) bool {
	v, _ := ctx.Value(adminKey).(bool)
	return v
}

func contextWithAdmin(ctx context.Context) context.Context {
	return context.WithValue(ctx, adminKey, true)
}

// TokenVerifier checks bearer tokens against the configured admin token.
type TokenVerifier struct {
	digest [sha256.Size]byte
}

// NewTokenVerifier creates a verifier for token. An empty token yields a
// nil verifier, which disables the guard.
func NewTokenVerifier(token string) *TokenVerifier {
	if token == "" {
		return nil
	}
	return &TokenVerifier{digest: sha256.Sum256([]byte(token))}
}

// Verify reports whether r carries "Authorization: Bearer <token>". The
// comparison is constant-time over fixed-length digests so neither the
// token contents nor its length leak through timing.
func (v *TokenVerifier) Verify(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return false
	}
	presented := sha256.Sum256([]byte(strings.TrimSpace(header[len(bearerPrefix):])))
	return subtle.ConstantTimeCompare(presented[:], v.digest[:]) == 1
}
