// Package agents implementa registro de agentes y el claim que convierte una
// registración pendiente en una Installation aprobada por un humano.
package agents

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/revclaw/revclaw/internal/audit"
	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	"github.com/revclaw/revclaw/internal/observability/logger"
	"github.com/revclaw/revclaw/internal/security/secrets"
	tokens "github.com/revclaw/revclaw/internal/security/token"
	"github.com/revclaw/revclaw/internal/store/core"
	"github.com/revclaw/revclaw/internal/validation"
)

type Service struct {
	Repo  core.Repository
	Audit audit.Recorder

	ClaimTTL    time.Duration
	ExchangeTTL time.Duration
	Secrets     secrets.Params
}

func New(repo core.Repository, rec audit.Recorder, claimTTL, exchangeTTL time.Duration) *Service {
	return &Service{
		Repo:        repo,
		Audit:       rec,
		ClaimTTL:    claimTTL,
		ExchangeTTL: exchangeTTL,
		Secrets:     secrets.Default,
	}
}

type RegisterInput struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Manifest        map[string]any `json:"manifest"`
	RequestedScopes []string       `json:"requested_scopes"`
}

type RegisterResult struct {
	AgentID     string    `json:"agent_id"`
	AgentSecret string    `json:"agent_secret"` // plaintext, se muestra una sola vez
	ClaimID     string    `json:"claim_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Register crea el Agent (secret hasheado) y una Registration PENDING con su
// claim id y expiración.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	if in.Name == "" {
		return nil, httperrors.ErrValidation.WithDetail("name is required")
	}
	scopes, err := validation.NormalizeScopes(in.RequestedScopes)
	if err != nil {
		return nil, httperrors.ErrValidation.WithDetail(err.Error())
	}
	if len(scopes) == 0 {
		return nil, httperrors.ErrValidation.WithDetail("requested_scopes is required")
	}

	secret, err := tokens.GenerateOpaque(tokens.PrefixAgentSecret, 32)
	if err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	secretHash, err := secrets.Hash(s.Secrets, secret)
	if err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}

	now := time.Now().UTC()
	agent := &core.Agent{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Manifest:    in.Manifest,
		SecretHash:  secretHash,
		Status:      core.AgentActive,
		CreatedAt:   now,
	}
	if err := s.Repo.CreateAgent(ctx, agent); err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}

	// El claim id es un handle corto que viaja por el canal humano; lleva su
	// propio prefijo para que un leak sea greppeable.
	claimID, err := tokens.GenerateOpaque(tokens.PrefixClaim, 16)
	if err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	claim := &core.AgentClaim{
		ID:              claimID,
		AgentID:         agent.ID,
		RequestedScopes: scopes,
		Status:          core.ClaimPending,
		ExpiresAt:       now.Add(s.ClaimTTL),
		CreatedAt:       now,
	}
	if err := s.Repo.CreateClaim(ctx, claim); err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}

	s.Audit.Record(ctx, audit.Event("agent:"+agent.ID, "agent.registered", "claim:"+claim.ID, map[string]any{
		"name":   agent.Name,
		"scopes": scopes,
	}))
	logger.From(ctx).Info("agent registered",
		logger.AgentID(agent.ID), logger.String("claim_id", claim.ID))

	return &RegisterResult{
		AgentID:     agent.ID,
		AgentSecret: secret,
		ClaimID:     claim.ID,
		ExpiresAt:   claim.ExpiresAt,
	}, nil
}
