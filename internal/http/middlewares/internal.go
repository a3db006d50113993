package middlewares

import (
	"crypto/subtle"
	"net/http"

	httperrors "github.com/revclaw/revclaw/internal/http/errors"
)

// RequireInternalCaller gatea /v1/agents/claim: solo el callback de identidad
// verificada (bot de Telegram) conoce el shared secret y setea el header.
// El verified_principal_id del body solo es confiable detrás de este gate.
func RequireInternalCaller(secret string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-RevClaw-Internal-Auth")
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				httperrors.WriteError(w, r, httperrors.ErrInternalOnly)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
