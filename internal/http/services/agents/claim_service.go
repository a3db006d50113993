package agents

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/revclaw/revclaw/internal/audit"
	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	"github.com/revclaw/revclaw/internal/observability/logger"
	tokens "github.com/revclaw/revclaw/internal/security/token"
	"github.com/revclaw/revclaw/internal/store/core"
	"github.com/revclaw/revclaw/internal/validation"
)

type ClaimInput struct {
	ClaimID             string   `json:"claim_id"`
	AgentID             string   `json:"agent_id"`
	VerifiedPrincipalID string   `json:"verified_principal_id"` // telegram user id, ya verificado por el bot
	PrincipalEmail      string   `json:"principal_email,omitempty"`
	GrantedScopes       []string `json:"granted_scopes,omitempty"` // vacío = conceder todo lo pedido
}

type ClaimResult struct {
	InstallationID    string    `json:"installation_id"`
	UserID            string    `json:"user_id"`
	GrantedScopes     []string  `json:"granted_scopes"`
	ExchangeCode      string    `json:"exchange_code"` // plaintext, un solo uso
	ExchangeExpiresAt time.Time `json:"exchange_expires_at"`
	AlreadyClaimed    bool      `json:"already_claimed,omitempty"`
}

// Claim consume un claim PENDING: resuelve/crea el User por su identidad de
// Telegram, crea la Installation (o reusa la existente para el par
// agent/user) y acuña el exchange code con el que el agente canjea su primer
// par de tokens. Re-claims del mismo principal son idempotentes: mismo
// installation id, exchange code nuevo.
func (s *Service) Claim(ctx context.Context, in ClaimInput) (*ClaimResult, error) {
	if in.ClaimID == "" || in.AgentID == "" || in.VerifiedPrincipalID == "" {
		return nil, httperrors.ErrValidation.WithDetail("claim_id, agent_id and verified_principal_id are required")
	}

	claim, err := s.Repo.GetClaim(ctx, in.ClaimID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, httperrors.ErrClaimNotFound
		}
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	// Un claim id ajeno no se distingue de uno inexistente.
	if claim.AgentID != in.AgentID {
		return nil, httperrors.ErrClaimNotFound
	}

	agent, err := s.Repo.GetAgent(ctx, claim.AgentID)
	if err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	if agent.Status != core.AgentActive {
		return nil, httperrors.ErrClaimRevoked.WithDetail("agent is suspended")
	}

	now := time.Now().UTC()

	user, err := s.Repo.GetOrCreateUserByTelegramID(ctx, in.VerifiedPrincipalID)
	if err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	if in.PrincipalEmail != "" && in.PrincipalEmail != user.Email {
		if err := s.Repo.SetUserEmail(ctx, user.ID, in.PrincipalEmail); err != nil {
			return nil, httperrors.ErrInternal.WithCause(err)
		}
	}

	switch claim.Status {
	case core.ClaimPending:
		// sigue abajo
	case core.ClaimClaimed:
		return s.reclaim(ctx, claim, user)
	case core.ClaimExpired:
		return nil, httperrors.ErrClaimExpired
	case core.ClaimRevoked:
		return nil, httperrors.ErrClaimRevoked
	default:
		return nil, httperrors.ErrInternal
	}

	if now.After(claim.ExpiresAt) {
		// Transición lazy; si otro lector ya la hizo, da igual.
		_ = s.Repo.MarkClaimExpired(ctx, claim.ID)
		return nil, httperrors.ErrClaimExpired
	}

	granted := claim.RequestedScopes
	if len(in.GrantedScopes) > 0 {
		granted, err = validation.NormalizeScopes(in.GrantedScopes)
		if err != nil {
			return nil, httperrors.ErrValidation.WithDetail(err.Error())
		}
		if !validation.ScopesSubset(granted, claim.RequestedScopes) {
			return nil, httperrors.ErrValidation.WithDetail("granted_scopes must be a subset of the requested scopes")
		}
	}

	// El CAS sobre el claim elige al ganador; la Installation se crea recién
	// después, así una carrera entre principales distintos nunca deja una
	// instalación colgando para el perdedor.
	if err := s.Repo.MarkClaimClaimed(ctx, claim.ID, user.ID, now); err != nil {
		if errors.Is(err, core.ErrConflict) {
			fresh, gerr := s.Repo.GetClaim(ctx, claim.ID)
			if gerr == nil && fresh.Status == core.ClaimClaimed {
				return s.reclaim(ctx, fresh, user)
			}
			return nil, httperrors.ErrClaimAlreadyUsed
		}
		return nil, httperrors.ErrInternal.WithCause(err)
	}

	inst, err := s.Repo.GetInstallationByAgentUser(ctx, claim.AgentID, user.ID)
	if errors.Is(err, core.ErrNotFound) {
		inst = &core.Installation{
			ID:            uuid.NewString(),
			AgentID:       claim.AgentID,
			UserID:        user.ID,
			GrantedScopes: granted,
			Status:        core.InstallationActive,
			Policy:        core.DefaultPolicy(),
			CreatedAt:     now,
		}
		if cerr := s.Repo.CreateInstallation(ctx, inst); cerr != nil {
			if errors.Is(cerr, core.ErrConflict) {
				inst, err = s.Repo.GetInstallationByAgentUser(ctx, claim.AgentID, user.ID)
				if err != nil {
					return nil, httperrors.ErrInternal.WithCause(err)
				}
			} else {
				return nil, httperrors.ErrInternal.WithCause(cerr)
			}
		}
	} else if err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}

	code, exp, err := s.mintExchangeCode(ctx, inst, now)
	if err != nil {
		return nil, err
	}

	s.Audit.Record(ctx, audit.Event("user:"+user.ID, "claim.completed", "installation:"+inst.ID, map[string]any{
		"agent_id": claim.AgentID,
		"claim_id": claim.ID,
		"scopes":   inst.GrantedScopes,
	}))
	logger.From(ctx).Info("claim completed",
		logger.AgentID(claim.AgentID), logger.UserID(user.ID), logger.InstallationID(inst.ID))

	return &ClaimResult{
		InstallationID:    inst.ID,
		UserID:            user.ID,
		GrantedScopes:     inst.GrantedScopes,
		ExchangeCode:      code,
		ExchangeExpiresAt: exp,
	}, nil
}

// reclaim resuelve el caso idempotente: el claim ya está CLAIMED. Si lo tomó
// el mismo principal devuelve la instalación existente con un exchange code
// fresco; si lo tomó otro, conflicto.
func (s *Service) reclaim(ctx context.Context, claim *core.AgentClaim, user *core.User) (*ClaimResult, error) {
	if claim.ClaimedBy == nil || *claim.ClaimedBy != user.ID {
		return nil, httperrors.ErrClaimAlreadyUsed
	}
	inst, err := s.Repo.GetInstallationByAgentUser(ctx, claim.AgentID, user.ID)
	if err != nil {
		// El ganador de una carrera concurrente todavía no insertó la fila.
		for i := 0; i < 3 && errors.Is(err, core.ErrNotFound); i++ {
			time.Sleep(20 * time.Millisecond)
			inst, err = s.Repo.GetInstallationByAgentUser(ctx, claim.AgentID, user.ID)
		}
		if err != nil {
			return nil, httperrors.ErrInternal.WithCause(err)
		}
	}
	if inst.Status != core.InstallationActive {
		return nil, httperrors.ErrInstallationInactive
	}

	code, exp, err := s.mintExchangeCode(ctx, inst, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return &ClaimResult{
		InstallationID:    inst.ID,
		UserID:            user.ID,
		GrantedScopes:     inst.GrantedScopes,
		ExchangeCode:      code,
		ExchangeExpiresAt: exp,
		AlreadyClaimed:    true,
	}, nil
}

func (s *Service) mintExchangeCode(ctx context.Context, inst *core.Installation, now time.Time) (string, time.Time, error) {
	code, err := tokens.GenerateOpaque(tokens.PrefixExchangeCode, 32)
	if err != nil {
		return "", time.Time{}, httperrors.ErrInternal.WithCause(err)
	}
	exp := now.Add(s.ExchangeTTL)
	rec := &core.ExchangeCode{
		ID:             uuid.NewString(),
		CodeHash:       tokens.SHA256Base64URL(code),
		InstallationID: inst.ID,
		Scopes:         inst.GrantedScopes,
		Status:         core.CodePending,
		ExpiresAt:      exp,
		CreatedAt:      now,
	}
	if err := s.Repo.CreateExchangeCode(ctx, rec); err != nil {
		return "", time.Time{}, httperrors.ErrInternal.WithCause(err)
	}
	return code, exp, nil
}
