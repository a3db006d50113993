// Package router arma el árbol de rutas chi y decide qué middleware protege
// cada grupo: bearer de agente, sesión humana, guard interno o rate limit.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/revclaw/revclaw/internal/http/handlers"
	"github.com/revclaw/revclaw/internal/http/middlewares"
	"github.com/revclaw/revclaw/internal/rate"
)

type Deps struct {
	Agents        *handlers.AgentsHandler
	Tokens        *handlers.TokensHandler
	Intents       *handlers.IntentsHandler
	Installations *handlers.InstallationsHandler
	Sessions      *handlers.SessionsHandler
	Projects      *handlers.ProjectsHandler
	Health        *handlers.HealthHandler

	AgentAuth      middlewares.AgentAuthenticator
	SessionParser  middlewares.SessionParser
	RefreshLimiter rate.Limiter
	InternalSecret string
}

func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middlewares.WithRequestID())
	r.Use(middlewares.WithLogging())
	r.Use(middlewares.WithMetrics())
	r.Use(middlewares.WithRecover())

	r.Get("/healthz", d.Health.Live)
	r.Get("/readyz", d.Health.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// Registro: público, es el bootstrap del agente.
		r.Post("/agents/register", d.Agents.Register)

		// Callback del bot: solo el caller interno con el shared secret.
		r.Group(func(r chi.Router) {
			r.Use(middlewares.RequireInternalCaller(d.InternalSecret))
			r.Post("/agents/claim", d.Agents.Claim)
			r.Post("/sessions", d.Sessions.Create)
		})

		// Emisión de tokens: el exchange se autentica con agent secret en el
		// body; el refresh con el bearer rc_rt_, rate-limiteado.
		r.Post("/tokens", d.Tokens.Exchange)
		r.Group(func(r chi.Router) {
			r.Use(middlewares.WithRefreshRateLimit(d.RefreshLimiter))
			r.Post("/tokens/refresh", d.Tokens.Refresh)
		})

		// Superficie del agente: bearer rc_at_ obligatorio.
		r.Group(func(r chi.Router) {
			r.Use(middlewares.RequireAgent(d.AgentAuth))
			r.Post("/intents", d.Intents.Create)
			r.Post("/intents/{id}/execute", d.Intents.Execute)

			r.Group(func(r chi.Router) {
				r.Use(middlewares.RequireScope("projects:publish"))
				r.Post("/projects/{id}/publish", d.Projects.Publish)
			})
		})

		// Magic links: sin sesión, la autoridad es el approval token.
		// El handler acepta ambas vías; OptionalSession deja pasar la sesión
		// si viene.
		r.Group(func(r chi.Router) {
			r.Use(middlewares.OptionalSession(d.SessionParser))
			r.Post("/intents/{id}/approve", d.Intents.Approve)
			r.Post("/intents/{id}/deny", d.Intents.Deny)
		})

		// Lectura de un intent: la sesión humana o el agente dueño (poll de
		// aprobación) pueden consultarlo.
		r.Group(func(r chi.Router) {
			r.Use(middlewares.SessionOrAgent(d.SessionParser, d.AgentAuth))
			r.Get("/intents/{id}", d.Intents.Get)
		})

		// Dashboard humano: sesión JWT obligatoria.
		r.Group(func(r chi.Router) {
			r.Use(middlewares.RequireSession(d.SessionParser))
			r.Get("/intents", d.Intents.List)
			r.Get("/installations", d.Installations.List)
			r.Get("/installations/{id}", d.Installations.Get)
			r.Patch("/installations/{id}/policy", d.Installations.UpdatePolicy)
			r.Post("/installations/{id}/revoke", d.Installations.Revoke)
		})
	})

	return r
}
