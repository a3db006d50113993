// Package metrics registra los contadores e histogramas Prometheus del
// servidor. Registro global: los handlers los incrementan directo.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "revclaw",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Requests HTTP por ruta, método y status.",
	}, []string{"route", "method", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "revclaw",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latencia por ruta.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	TokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "revclaw",
		Subsystem: "tokens",
		Name:      "issued_total",
		Help:      "Pares de tokens emitidos, por origen (exchange|refresh).",
	}, []string{"source"})

	ReuseDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "revclaw",
		Subsystem: "tokens",
		Name:      "reuse_detected_total",
		Help:      "Replays de refresh token detectados (cadena revocada).",
	})

	TokensRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "revclaw",
		Subsystem: "tokens",
		Name:      "revoked_total",
		Help:      "Tokens revocados por revocación de instalación o replay.",
	})

	Intents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "revclaw",
		Subsystem: "intents",
		Name:      "transitions_total",
		Help:      "Transiciones de intents (created|approved|denied|executed|expired|bypassed).",
	}, []string{"event", "kind"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "revclaw",
		Subsystem: "rate",
		Name:      "limited_total",
		Help:      "Requests rechazados por rate limit, por scope.",
	}, []string{"scope"})
)
