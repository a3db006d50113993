package core

import (
	"context"
	"time"
)

// Repository es el contrato del estado durable. Todas las transiciones de
// estado multi-paso del dominio se expresan como updates condicionales
// ("transiciona solo si el estado actual es el esperado"): cuando la condición
// no matchea, el método devuelve ErrConflict y el caller decide (carrera
// perdida, replay, estado terminal). Los métodos Redeem*/Rotate* son atómicos:
// o todos sus efectos persisten o ninguno.
type Repository interface {
	// ---- agents ----
	CreateAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	SetAgentStatus(ctx context.Context, id string, status AgentStatus) error

	// ---- users (principal humano) ----
	GetOrCreateUserByTelegramID(ctx context.Context, telegramUserID string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	SetUserEmail(ctx context.Context, id, email string) error

	// ---- claims ----
	CreateClaim(ctx context.Context, c *AgentClaim) error
	GetClaim(ctx context.Context, id string) (*AgentClaim, error)
	// MarkClaimClaimed: PENDING → CLAIMED, seteando claimed_by/claimed_at.
	MarkClaimClaimed(ctx context.Context, id, userID string, at time.Time) error
	// MarkClaimExpired: PENDING → EXPIRED (transición lazy al leer).
	MarkClaimExpired(ctx context.Context, id string) error

	// ---- installations ----
	CreateInstallation(ctx context.Context, inst *Installation) error
	GetInstallation(ctx context.Context, id string) (*Installation, error)
	GetInstallationByAgentUser(ctx context.Context, agentID, userID string) (*Installation, error)
	ListInstallationsByUser(ctx context.Context, userID string) ([]*Installation, error)
	UpdateInstallationPolicy(ctx context.Context, id string, p Policy) error
	SetInstallationStatus(ctx context.Context, id string, status InstallationStatus) error

	// ---- exchange codes ----
	CreateExchangeCode(ctx context.Context, c *ExchangeCode) error
	GetExchangeCodeByHash(ctx context.Context, codeHash string) (*ExchangeCode, error)
	// RedeemExchangeCode: atómico. code PENDING → USED, inserta el par de
	// tokens y actualiza last_token_issued_at. ErrConflict si el code ya no
	// está PENDING (segundo canje).
	RedeemExchangeCode(ctx context.Context, codeID string, access, refresh *Token, at time.Time) error

	// ---- tokens ----
	GetTokenByHash(ctx context.Context, tokenHash string) (*Token, error)
	// RotateRefreshToken: atómico. Setea refreshed_at del token consumido
	// (condicional a refreshed_at IS NULL y revoked_at IS NULL), inserta el
	// nuevo par y actualiza last_token_issued_at. ErrConflict cuando otro
	// refresh concurrente ya ganó; el caller lo trata como replay.
	RotateRefreshToken(ctx context.Context, consumedID string, access, refresh *Token, at time.Time) error
	// RevokeInstallationTokens revoca todo token vivo de la instalación
	// (ambas direcciones de la cadena, todos los pares). Devuelve cuántos.
	RevokeInstallationTokens(ctx context.Context, installationID string, at time.Time) (int64, error)

	// ---- intents ----
	CreateIntent(ctx context.Context, in *Intent) error
	GetIntent(ctx context.Context, id string) (*Intent, error)
	ListIntentsByUser(ctx context.Context, userID string, limit int) ([]*Intent, error)
	CountIntentsSince(ctx context.Context, installationID, kind string, since time.Time) (int, error)
	// MarkIntentApproved / MarkIntentDenied: PENDING_APPROVAL → terminal de
	// decisión; también marcan el approval token como usado cuando aplica.
	MarkIntentApproved(ctx context.Context, id string, at time.Time, viaApprovalToken bool) error
	MarkIntentDenied(ctx context.Context, id, reason string, at time.Time, viaApprovalToken bool) error
	MarkIntentExpired(ctx context.Context, id string) error
	// ClaimIntentExecution: APPROVED → EXECUTED. El ganador de la carrera es
	// el único que ejecuta el side effect.
	ClaimIntentExecution(ctx context.Context, id string, at time.Time) error
	// ReleaseIntentExecution: EXECUTED → APPROVED; solo para deshacer el claim
	// cuando el collaborator falló y el side effect no ocurrió.
	ReleaseIntentExecution(ctx context.Context, id string) error
	SetIntentResult(ctx context.Context, id string, result []byte) error

	// ---- audit ----
	AppendAuditEvent(ctx context.Context, ev *AuditEvent) error

	Ping(ctx context.Context) error
	Close()
}
