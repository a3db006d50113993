package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/revclaw/revclaw/internal/store/core"
)

func (s *Store) CreateIntent(ctx context.Context, in *core.Intent) error {
	const q = `
		INSERT INTO intents (id, installation_id, agent_id, user_id, kind, payload, payload_hash,
		                     status, expires_at, approval_token_hash, approval_expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.pool.Exec(ctx, q, in.ID, in.InstallationID, in.AgentID, in.UserID, in.Kind,
		in.Payload, in.PayloadHash, in.Status, in.ExpiresAt,
		nullIfEmpty(in.ApprovalTokenHash), in.ApprovalExpiresAt, in.CreatedAt)
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

const intentCols = `id, installation_id, agent_id, user_id, kind, payload, payload_hash,
	status, expires_at, COALESCE(approval_token_hash, ''), approval_expires_at, approval_used_at,
	decided_at, COALESCE(denied_reason, ''), executed_at, result, created_at`

func scanIntent(row pgx.Row) (*core.Intent, error) {
	var in core.Intent
	err := row.Scan(&in.ID, &in.InstallationID, &in.AgentID, &in.UserID, &in.Kind,
		&in.Payload, &in.PayloadHash, &in.Status, &in.ExpiresAt,
		&in.ApprovalTokenHash, &in.ApprovalExpiresAt, &in.ApprovalUsedAt,
		&in.DecidedAt, &in.DeniedReason, &in.ExecutedAt, &in.Result, &in.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &in, nil
}

func (s *Store) GetIntent(ctx context.Context, id string) (*core.Intent, error) {
	return scanIntent(s.pool.QueryRow(ctx, `SELECT `+intentCols+` FROM intents WHERE id = $1`, id))
}

func (s *Store) ListIntentsByUser(ctx context.Context, userID string, limit int) ([]*core.Intent, error) {
	if limit <= 0 {
		limit = 50
	}
	// Pendientes primero, después por recencia: el orden del dashboard.
	rows, err := s.pool.Query(ctx, `
		SELECT `+intentCols+` FROM intents WHERE user_id = $1
		ORDER BY (status = 'PENDING_APPROVAL') DESC, created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*core.Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) CountIntentsSince(ctx context.Context, installationID, kind string, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM intents WHERE installation_id = $1 AND kind = $2 AND created_at >= $3`
	var n int
	err := s.pool.QueryRow(ctx, q, installationID, kind, since).Scan(&n)
	return n, err
}

func (s *Store) MarkIntentApproved(ctx context.Context, id string, at time.Time, viaApprovalToken bool) error {
	const q = `
		UPDATE intents SET status = 'APPROVED', decided_at = $2,
		       approval_used_at = CASE WHEN $3 THEN $2 ELSE approval_used_at END
		WHERE id = $1 AND status = 'PENDING_APPROVAL'`
	return s.conditional(ctx, q, id, at, viaApprovalToken)
}

func (s *Store) MarkIntentDenied(ctx context.Context, id, reason string, at time.Time, viaApprovalToken bool) error {
	const q = `
		UPDATE intents SET status = 'DENIED', decided_at = $2, denied_reason = $3,
		       approval_used_at = CASE WHEN $4 THEN $2 ELSE approval_used_at END
		WHERE id = $1 AND status = 'PENDING_APPROVAL'`
	return s.conditional(ctx, q, id, at, reason, viaApprovalToken)
}

func (s *Store) MarkIntentExpired(ctx context.Context, id string) error {
	const q = `UPDATE intents SET status = 'EXPIRED' WHERE id = $1 AND status IN ('PENDING_APPROVAL', 'APPROVED')`
	return s.conditional(ctx, q, id)
}

func (s *Store) ClaimIntentExecution(ctx context.Context, id string, at time.Time) error {
	const q = `
		UPDATE intents SET status = 'EXECUTED', executed_at = $2
		WHERE id = $1 AND status = 'APPROVED'`
	return s.conditional(ctx, q, id, at)
}

func (s *Store) ReleaseIntentExecution(ctx context.Context, id string) error {
	const q = `
		UPDATE intents SET status = 'APPROVED', executed_at = NULL
		WHERE id = $1 AND status = 'EXECUTED'`
	return s.conditional(ctx, q, id)
}

func (s *Store) SetIntentResult(ctx context.Context, id string, result []byte) error {
	const q = `UPDATE intents SET result = $2 WHERE id = $1`
	ct, err := s.pool.Exec(ctx, q, id, result)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
