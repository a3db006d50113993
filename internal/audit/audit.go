// Package audit define el sink de eventos de seguridad. El core nunca depende
// de un backend concreto: emite a través de Recorder y el wiring decide si el
// destino es zap, la tabla append-only de postgres, o ambos.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/revclaw/revclaw/internal/observability/logger"
	"github.com/revclaw/revclaw/internal/store/core"
)

// Recorder es el contrato del sink. Los payloads ya llegan redactados: acá
// jamás entra un secreto o token en plaintext.
type Recorder interface {
	Record(ctx context.Context, ev core.AuditEvent)
}

// Event construye un AuditEvent con timestamp.
func Event(actor, action, subject string, fields map[string]any) core.AuditEvent {
	return core.AuditEvent{
		Actor:     actor,
		Action:    action,
		Subject:   subject,
		Fields:    fields,
		CreatedAt: time.Now().UTC(),
	}
}

// ZapRecorder escribe cada evento como una línea estructurada.
type ZapRecorder struct{ log *zap.Logger }

func NewZapRecorder() *ZapRecorder {
	return &ZapRecorder{log: logger.Named("audit")}
}

func (r *ZapRecorder) Record(_ context.Context, ev core.AuditEvent) {
	r.log.Info(ev.Action,
		zap.String("actor", ev.Actor),
		zap.String("subject", ev.Subject),
		zap.Any("fields", ev.Fields),
		zap.Time("at", ev.CreatedAt),
	)
}

// StoreRecorder persiste en la tabla append-only vía el repositorio.
type StoreRecorder struct{ repo core.Repository }

func NewStoreRecorder(repo core.Repository) *StoreRecorder {
	return &StoreRecorder{repo: repo}
}

func (r *StoreRecorder) Record(ctx context.Context, ev core.AuditEvent) {
	if err := r.repo.AppendAuditEvent(ctx, &ev); err != nil {
		// El audit trail no voltea la operación de negocio; se reporta y sigue.
		logger.Named("audit").Error("append failed", logger.Err(err), logger.String("action", ev.Action))
	}
}

// Fanout replica cada evento en todos los sinks.
type Fanout []Recorder

func (f Fanout) Record(ctx context.Context, ev core.AuditEvent) {
	for _, r := range f {
		r.Record(ctx, ev)
	}
}

// Nop descarta todo; útil en tests que no afirman sobre auditoría.
type Nop struct{}

func (Nop) Record(context.Context, core.AuditEvent) {}
