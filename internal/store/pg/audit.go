package pg

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/revclaw/revclaw/internal/store/core"
)

// AppendAuditEvent inserta en la tabla append-only. Este core nunca hace
// UPDATE ni DELETE sobre audit_events.
func (s *Store) AppendAuditEvent(ctx context.Context, ev *core.AuditEvent) error {
	fields, err := json.Marshal(ev.Fields)
	if err != nil {
		return err
	}
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	const q = `
		INSERT INTO audit_events (id, actor, action, subject, fields, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = s.pool.Exec(ctx, q, id, ev.Actor, ev.Action, ev.Subject, fields, ev.CreatedAt)
	return err
}
