// Package tokens implementa el ciclo de vida de credenciales de agente:
// canje del exchange code, rotación de refresh con detección de replay, y la
// autenticación de access tokens para el middleware.
package tokens

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/revclaw/revclaw/internal/audit"
	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	"github.com/revclaw/revclaw/internal/metrics"
	"github.com/revclaw/revclaw/internal/observability/logger"
	"github.com/revclaw/revclaw/internal/security/secrets"
	sectoken "github.com/revclaw/revclaw/internal/security/token"
	"github.com/revclaw/revclaw/internal/store/core"
)

type Service struct {
	Repo  core.Repository
	Audit audit.Recorder

	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func New(repo core.Repository, rec audit.Recorder, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{Repo: repo, Audit: rec, AccessTTL: accessTTL, RefreshTTL: refreshTTL}
}

type ExchangeInput struct {
	AgentID      string `json:"agent_id"`
	AgentSecret  string `json:"agent_secret"`
	ExchangeCode string `json:"exchange_code"`
}

// TokenPair es la única respuesta que lleva tokens en plaintext. El wire
// shape es el contrato OAuth-like: token_type fijo "Bearer" y expires_in en
// segundos del access token. Los campos sin tag json son para uso interno.
type TokenPair struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	Scopes       []string `json:"scopes"`

	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
	InstallationID   string    `json:"-"`
}

// Exchange canjea un exchange code de un solo uso por el primer par
// access/refresh. El agente se autentica con su secret; el code queda USED
// atómicamente con la inserción del par.
func (s *Service) Exchange(ctx context.Context, in ExchangeInput) (*TokenPair, error) {
	if in.AgentID == "" || in.AgentSecret == "" || in.ExchangeCode == "" {
		return nil, httperrors.ErrValidation.WithDetail("agent_id, agent_secret and exchange_code are required")
	}

	agent, err := s.Repo.GetAgent(ctx, in.AgentID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, httperrors.ErrInvalidClient
		}
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	if !secrets.Verify(in.AgentSecret, agent.SecretHash) {
		return nil, httperrors.ErrInvalidClient
	}
	if agent.Status != core.AgentActive {
		return nil, httperrors.ErrInstallationInactive.WithDetail("agent is suspended")
	}

	code, err := s.Repo.GetExchangeCodeByHash(ctx, sectoken.SHA256Base64URL(in.ExchangeCode))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, httperrors.ErrInvalidClient
		}
		return nil, httperrors.ErrInternal.WithCause(err)
	}

	inst, err := s.Repo.GetInstallation(ctx, code.InstallationID)
	if err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	// El code es del agente o no existe, sin matices.
	if inst.AgentID != agent.ID {
		return nil, httperrors.ErrInvalidClient
	}

	now := time.Now().UTC()
	switch {
	case code.Status == core.CodeUsed:
		return nil, httperrors.ErrCodeAlreadyUsed
	case code.Status == core.CodeExpired || now.After(code.ExpiresAt):
		return nil, httperrors.ErrCodeExpired
	case code.Status != core.CodePending:
		return nil, httperrors.ErrInternal
	}
	if inst.Status != core.InstallationActive {
		return nil, httperrors.ErrInstallationInactive
	}

	pair, access, refresh, err := s.mintPair(inst.ID, code.Scopes, now)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.RedeemExchangeCode(ctx, code.ID, access, refresh, now); err != nil {
		if errors.Is(err, core.ErrConflict) {
			// Otro canje ganó la carrera por el mismo code.
			return nil, httperrors.ErrCodeAlreadyUsed
		}
		return nil, httperrors.ErrInternal.WithCause(err)
	}

	metrics.TokensIssued.WithLabelValues("exchange").Inc()
	s.Audit.Record(ctx, audit.Event("agent:"+agent.ID, "token.exchanged", "installation:"+inst.ID, map[string]any{
		"code_id": code.ID,
		"scopes":  code.Scopes,
	}))
	logger.From(ctx).Info("exchange code redeemed",
		logger.AgentID(agent.ID), logger.InstallationID(inst.ID))

	return pair, nil
}

// mintPair genera un par nuevo. Devuelve la respuesta plaintext y los dos
// registros (con hash) listos para persistir.
func (s *Service) mintPair(installationID string, scopes []string, now time.Time) (*TokenPair, *core.Token, *core.Token, error) {
	accessPlain, err := sectoken.GenerateOpaque(sectoken.PrefixAccessToken, 32)
	if err != nil {
		return nil, nil, nil, httperrors.ErrInternal.WithCause(err)
	}
	refreshPlain, err := sectoken.GenerateOpaque(sectoken.PrefixRefreshToken, 32)
	if err != nil {
		return nil, nil, nil, httperrors.ErrInternal.WithCause(err)
	}

	access := &core.Token{
		ID:             uuid.NewString(),
		InstallationID: installationID,
		Type:           core.TokenAccess,
		TokenHash:      sectoken.SHA256Base64URL(accessPlain),
		Scopes:         scopes,
		ExpiresAt:      now.Add(s.AccessTTL),
		CreatedAt:      now,
	}
	refresh := &core.Token{
		ID:             uuid.NewString(),
		InstallationID: installationID,
		Type:           core.TokenRefresh,
		TokenHash:      sectoken.SHA256Base64URL(refreshPlain),
		Scopes:         scopes,
		ExpiresAt:      now.Add(s.RefreshTTL),
		CreatedAt:      now,
	}
	pair := &TokenPair{
		AccessToken:      accessPlain,
		RefreshToken:     refreshPlain,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.AccessTTL.Seconds()),
		Scopes:           scopes,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		InstallationID:   installationID,
	}
	return pair, access, refresh, nil
}
