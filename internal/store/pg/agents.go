package pg

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/revclaw/revclaw/internal/store/core"
)

// ====================== AGENTS ======================

func (s *Store) CreateAgent(ctx context.Context, a *core.Agent) error {
	manifest, err := json.Marshal(a.Manifest)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO agents (id, name, description, manifest, secret_hash, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.pool.Exec(ctx, q, a.ID, a.Name, a.Description, manifest, a.SecretHash, a.Status, a.CreatedAt)
	return err
}

func (s *Store) GetAgent(ctx context.Context, id string) (*core.Agent, error) {
	const q = `
		SELECT id, name, description, manifest, secret_hash, status, created_at
		FROM agents WHERE id = $1`
	var a core.Agent
	var manifest []byte
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&a.ID, &a.Name, &a.Description, &manifest, &a.SecretHash, &a.Status, &a.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if len(manifest) > 0 {
		_ = json.Unmarshal(manifest, &a.Manifest)
	}
	return &a, nil
}

func (s *Store) SetAgentStatus(ctx context.Context, id string, status core.AgentStatus) error {
	const q = `UPDATE agents SET status = $2 WHERE id = $1`
	ct, err := s.pool.Exec(ctx, q, id, status)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ====================== USERS ======================

func (s *Store) GetOrCreateUserByTelegramID(ctx context.Context, tgID string) (*core.User, error) {
	// Upsert por identidad externa: ON CONFLICT resuelve la carrera de dos
	// claims simultáneos del mismo principal.
	const q = `
		INSERT INTO users (id, telegram_user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (telegram_user_id)
		DO UPDATE SET telegram_user_id = EXCLUDED.telegram_user_id
		RETURNING id, telegram_user_id, COALESCE(display_name, ''), COALESCE(email, ''), created_at`
	var u core.User
	err := s.pool.QueryRow(ctx, q, uuid.NewString(), tgID, time.Now().UTC()).Scan(
		&u.ID, &u.TelegramUserID, &u.DisplayName, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*core.User, error) {
	const q = `
		SELECT id, telegram_user_id, COALESCE(display_name, ''), COALESCE(email, ''), created_at
		FROM users WHERE id = $1`
	var u core.User
	err := s.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.TelegramUserID, &u.DisplayName, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &u, nil
}

func (s *Store) SetUserEmail(ctx context.Context, id, mail string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET email = $2 WHERE id = $1`, id, mail)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ====================== CLAIMS ======================

func (s *Store) CreateClaim(ctx context.Context, c *core.AgentClaim) error {
	const q = `
		INSERT INTO agent_claims (id, agent_id, requested_scopes, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, q, c.ID, c.AgentID, c.RequestedScopes, c.Status, c.ExpiresAt, c.CreatedAt)
	return err
}

func (s *Store) GetClaim(ctx context.Context, id string) (*core.AgentClaim, error) {
	const q = `
		SELECT id, agent_id, requested_scopes, status, expires_at, claimed_by, claimed_at, created_at
		FROM agent_claims WHERE id = $1`
	var c core.AgentClaim
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&c.ID, &c.AgentID, &c.RequestedScopes, &c.Status, &c.ExpiresAt, &c.ClaimedBy, &c.ClaimedAt, &c.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &c, nil
}

func (s *Store) MarkClaimClaimed(ctx context.Context, id, userID string, at time.Time) error {
	const q = `
		UPDATE agent_claims SET status = 'CLAIMED', claimed_by = $2, claimed_at = $3
		WHERE id = $1 AND status = 'PENDING'`
	return s.conditional(ctx, q, id, userID, at)
}

func (s *Store) MarkClaimExpired(ctx context.Context, id string) error {
	const q = `UPDATE agent_claims SET status = 'EXPIRED' WHERE id = $1 AND status = 'PENDING'`
	return s.conditional(ctx, q, id)
}

// conditional ejecuta un UPDATE cuyo WHERE pinnea el estado previo esperado.
func (s *Store) conditional(ctx context.Context, q string, args ...any) error {
	var ct pgconn.CommandTag
	var err error
	ct, err = s.pool.Exec(ctx, q, args...)
	return affectedOrConflict(ct, err)
}

// ====================== INSTALLATIONS ======================

func (s *Store) CreateInstallation(ctx context.Context, inst *core.Installation) error {
	policy, err := json.Marshal(inst.Policy)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO installations (id, agent_id, user_id, granted_scopes, status, policy, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.pool.Exec(ctx, q, inst.ID, inst.AgentID, inst.UserID, inst.GrantedScopes, inst.Status, policy, inst.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505: unique_violation sobre (agent_id, user_id)
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return core.ErrConflict
		}
		return err
	}
	return nil
}

const installationCols = `id, agent_id, user_id, granted_scopes, status, policy, last_token_issued_at, created_at`

func scanInstallation(row pgx.Row) (*core.Installation, error) {
	var inst core.Installation
	var policy []byte
	err := row.Scan(&inst.ID, &inst.AgentID, &inst.UserID, &inst.GrantedScopes,
		&inst.Status, &policy, &inst.LastTokenIssuedAt, &inst.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if len(policy) > 0 {
		if err := json.Unmarshal(policy, &inst.Policy); err != nil {
			return nil, err
		}
	}
	return &inst, nil
}

func (s *Store) GetInstallation(ctx context.Context, id string) (*core.Installation, error) {
	return scanInstallation(s.pool.QueryRow(ctx,
		`SELECT `+installationCols+` FROM installations WHERE id = $1`, id))
}

func (s *Store) GetInstallationByAgentUser(ctx context.Context, agentID, userID string) (*core.Installation, error) {
	return scanInstallation(s.pool.QueryRow(ctx,
		`SELECT `+installationCols+` FROM installations WHERE agent_id = $1 AND user_id = $2`, agentID, userID))
}

func (s *Store) ListInstallationsByUser(ctx context.Context, userID string) ([]*core.Installation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+installationCols+` FROM installations WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*core.Installation
	for rows.Next() {
		inst, err := scanInstallation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *Store) UpdateInstallationPolicy(ctx context.Context, id string, p core.Policy) error {
	policy, err := json.Marshal(p)
	if err != nil {
		return err
	}
	const q = `UPDATE installations SET policy = $2 WHERE id = $1`
	ct, err := s.pool.Exec(ctx, q, id, policy)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) SetInstallationStatus(ctx context.Context, id string, status core.InstallationStatus) error {
	const q = `UPDATE installations SET status = $2 WHERE id = $1`
	ct, err := s.pool.Exec(ctx, q, id, status)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
