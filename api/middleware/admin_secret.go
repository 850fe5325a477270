package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/recargas-app/recargas-backend/api/responses"
	pkgerrors "github.com/recargas-app/recargas-backend/pkg/errors"
	"github.com/recargas-app/recargas-backend/pkg/logger"
)

const adminTokenHeader = "X-Admin-Token"

// AdminSecret guards admin routes behind a shared token header.
// When no token is configured the routes are disabled entirely.
func AdminSecret(logg *logger.Logger, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeNotFound, "not found"))
				return
			}
			provided := r.Header.Get(adminTokenHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid admin token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
