package auth

import (
	"net/http"

	apperr "github.com/galleria/galleria/internal/errors"
	"github.com/galleria/galleria/internal/jsonutil"
)

// Middleware returns HTTP middleware that rejects requests without a valid
// admin bearer token. A nil verifier lets every request through.
func Middleware(verifier *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !verifier.Verify(r) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="galleria-admin"`)
				jsonutil.WriteErrorResponse(w, r, apperr.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(contextWithAdmin(r.Context())))
		})
	}
}
