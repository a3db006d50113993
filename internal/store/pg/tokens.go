package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/revclaw/revclaw/internal/store/core"
)

// ====================== EXCHANGE CODES ======================

func (s *Store) CreateExchangeCode(ctx context.Context, c *core.ExchangeCode) error {
	const q = `
		INSERT INTO exchange_codes (id, code_hash, installation_id, scopes, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, q, c.ID, c.CodeHash, c.InstallationID, c.Scopes, c.Status, c.ExpiresAt, c.CreatedAt)
	return err
}

func (s *Store) GetExchangeCodeByHash(ctx context.Context, codeHash string) (*core.ExchangeCode, error) {
	const q = `
		SELECT id, code_hash, installation_id, scopes, status, expires_at, created_at
		FROM exchange_codes WHERE code_hash = $1`
	var c core.ExchangeCode
	err := s.pool.QueryRow(ctx, q, codeHash).Scan(
		&c.ID, &c.CodeHash, &c.InstallationID, &c.Scopes, &c.Status, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &c, nil
}

// RedeemExchangeCode marca el code USED y crea el par de tokens en una sola
// transacción: o todo persiste o nada.
func (s *Store) RedeemExchangeCode(ctx context.Context, codeID string, access, refresh *core.Token, at time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx,
			`UPDATE exchange_codes SET status = 'USED' WHERE id = $1 AND status = 'PENDING'`, codeID)
		if err := affectedOrConflict(ct, err); err != nil {
			return err
		}
		if err := insertToken(ctx, tx, access); err != nil {
			return err
		}
		if err := insertToken(ctx, tx, refresh); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE installations SET last_token_issued_at = $2 WHERE id = $1`, access.InstallationID, at)
		return err
	})
}

// ====================== TOKENS ======================

func insertToken(ctx context.Context, tx pgx.Tx, t *core.Token) error {
	const q = `
		INSERT INTO tokens (id, installation_id, token_type, token_hash, scopes, expires_at, parent_token_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := tx.Exec(ctx, q, t.ID, t.InstallationID, t.Type, t.TokenHash, t.Scopes, t.ExpiresAt, t.ParentTokenID, t.CreatedAt)
	return err
}

func (s *Store) GetTokenByHash(ctx context.Context, tokenHash string) (*core.Token, error) {
	const q = `
		SELECT id, installation_id, token_type, token_hash, scopes, expires_at,
		       revoked_at, refreshed_at, parent_token_id, created_at
		FROM tokens WHERE token_hash = $1`
	var t core.Token
	err := s.pool.QueryRow(ctx, q, tokenHash).Scan(
		&t.ID, &t.InstallationID, &t.Type, &t.TokenHash, &t.Scopes, &t.ExpiresAt,
		&t.RevokedAt, &t.RefreshedAt, &t.ParentTokenID, &t.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &t, nil
}

// RotateRefreshToken consume el refresh presentado y emite el par nuevo.
// El UPDATE condicional sobre refreshed_at es el punto de serialización: de
// dos refreshes concurrentes exactamente uno afecta la fila; el perdedor
// recibe ErrConflict y el caller lo escala como replay.
func (s *Store) RotateRefreshToken(ctx context.Context, consumedID string, access, refresh *core.Token, at time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE tokens SET refreshed_at = $2
			WHERE id = $1 AND refreshed_at IS NULL AND revoked_at IS NULL`, consumedID, at)
		if err := affectedOrConflict(ct, err); err != nil {
			return err
		}
		if err := insertToken(ctx, tx, access); err != nil {
			return err
		}
		if err := insertToken(ctx, tx, refresh); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE installations SET last_token_issued_at = $2 WHERE id = $1`, access.InstallationID, at)
		return err
	})
}

func (s *Store) RevokeInstallationTokens(ctx context.Context, installationID string, at time.Time) (int64, error) {
	const q = `UPDATE tokens SET revoked_at = $2 WHERE installation_id = $1 AND revoked_at IS NULL`
	ct, err := s.pool.Exec(ctx, q, installationID, at)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
