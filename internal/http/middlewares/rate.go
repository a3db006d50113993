package middlewares

import (
	"net/http"
	"strconv"

	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	"github.com/revclaw/revclaw/internal/metrics"
	"github.com/revclaw/revclaw/internal/observability/logger"
	"github.com/revclaw/revclaw/internal/rate"
	tokens "github.com/revclaw/revclaw/internal/security/token"
)

// WithRefreshRateLimit limita los hits al endpoint de refresh por credencial
// presentada (hash truncado del bearer), independiente de la detección de
// reuse. Falla abierto si el backend del limiter no responde: el control de
// seguridad real es el tripwire de refreshed_at, esto solo frena brute force.
func WithRefreshRateLimit(l rate.Limiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil {
				next.ServeHTTP(w, r)
				return
			}
			caller := "anon"
			if raw := bearerFrom(r); raw != "" {
				// Key por credencial, no por IP: el atacante que adivina
				// valores rota IPs, no tokens.
				caller = tokens.SHA256Base64URL(raw)[:16]
			}
			res, err := l.Allow(r.Context(), rate.KeyFor("refresh", caller))
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter unavailable", logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}
			if !res.Allowed {
				metrics.RateLimited.WithLabelValues("refresh").Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
				httperrors.WriteError(w, r, httperrors.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
