package middlewares

import (
	"context"
	"net/http"
	"strings"

	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	"github.com/revclaw/revclaw/internal/validation"
)

// AgentAuthenticator resuelve un bearer opaco de agente a su contexto
// autenticado. Lo implementa el service de tokens.
type AgentAuthenticator interface {
	Authenticate(ctx context.Context, bearer string) (*AgentAuth, error)
}

// SessionParser valida un JWT de sesión humana y devuelve el user id.
type SessionParser interface {
	Parse(raw string) (string, error)
}

// bearerFrom extrae el token del header Authorization. Los bearers viajan
// SOLO por header, nunca por query string.
func bearerFrom(r *http.Request) string {
	ah := strings.TrimSpace(r.Header.Get("Authorization"))
	if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		return ""
	}
	return strings.TrimSpace(ah[len("Bearer "):])
}

// RequireAgent autentica el ACCESS token opaco del agente y guarda el
// AgentAuth en el contexto. 401 si falta o no resuelve.
func RequireAgent(authn AgentAuthenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerFrom(r)
			if raw == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="revclaw", error="invalid_token"`)
				httperrors.WriteError(w, r, httperrors.ErrInvalidToken)
				return
			}
			auth, err := authn.Authenticate(r.Context(), raw)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="revclaw", error="invalid_token"`)
				httperrors.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAgentAuth(r.Context(), auth)))
		})
	}
}

// RequireScope falla cerrado (403) si el snapshot del token no porta el scope.
// Debe ir después de RequireAgent.
func RequireScope(scope string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := GetAgentAuth(r.Context())
			if auth == nil {
				httperrors.WriteError(w, r, httperrors.ErrInvalidToken)
				return
			}
			if !validation.HasScope(auth.Scopes, scope) {
				httperrors.WriteError(w, r, httperrors.ErrInsufficientScope.WithDetail("required scope: "+scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession autentica al principal humano por JWT de sesión.
func RequireSession(parser SessionParser) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerFrom(r)
			if raw == "" {
				httperrors.WriteError(w, r, httperrors.ErrInvalidSession)
				return
			}
			userID, err := parser.Parse(raw)
			if err != nil {
				httperrors.WriteError(w, r, httperrors.ErrInvalidSession.WithCause(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSessionUser(r.Context(), userID)))
		})
	}
}

// SessionOrAgent acepta cualquiera de los dos principals: el bearer opaco
// rc_at_ del agente o el JWT de sesión humana. El prefijo del token decide
// qué rama se intenta; 401 si ninguna resuelve.
func SessionOrAgent(parser SessionParser, authn AgentAuthenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerFrom(r)
			if raw == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="revclaw", error="invalid_token"`)
				httperrors.WriteError(w, r, httperrors.ErrInvalidToken)
				return
			}
			if strings.HasPrefix(raw, "rc_at_") {
				auth, err := authn.Authenticate(r.Context(), raw)
				if err != nil {
					w.Header().Set("WWW-Authenticate", `Bearer realm="revclaw", error="invalid_token"`)
					httperrors.WriteError(w, r, err)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithAgentAuth(r.Context(), auth)))
				return
			}
			userID, err := parser.Parse(raw)
			if err != nil {
				httperrors.WriteError(w, r, httperrors.ErrInvalidSession.WithCause(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSessionUser(r.Context(), userID)))
		})
	}
}

// OptionalSession intenta autenticar la sesión pero no falla si no hay token;
// lo usan los endpoints de decisión que también aceptan ?token= (magic link).
func OptionalSession(parser SessionParser) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := bearerFrom(r); raw != "" {
				if userID, err := parser.Parse(raw); err == nil {
					r = r.WithContext(WithSessionUser(r.Context(), userID))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
