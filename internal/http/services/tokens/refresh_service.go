package tokens

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/revclaw/revclaw/internal/audit"
	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	"github.com/revclaw/revclaw/internal/http/middlewares"
	"github.com/revclaw/revclaw/internal/metrics"
	"github.com/revclaw/revclaw/internal/observability/logger"
	sectoken "github.com/revclaw/revclaw/internal/security/token"
	"github.com/revclaw/revclaw/internal/store/core"
	"github.com/revclaw/revclaw/internal/util"
)

// Refresh rota un refresh token: el presentado queda consumido y se emite un
// par nuevo con los mismos scopes congelados. Presentar un refresh ya
// consumido es un replay: se revoca la cadena entera de la instalación.
//
// El orden de chequeos importa: el tripwire de reuso va ANTES que expiración
// y revocación, porque un atacante con un token viejo robado tiene que
// disparar la revocación total aunque ese token ya esté vencido.
func (s *Service) Refresh(ctx context.Context, presented string) (*TokenPair, error) {
	if !strings.HasPrefix(presented, sectoken.PrefixRefreshToken) {
		// Un access token acá es un error de uso, no una credencial mala.
		if strings.HasPrefix(presented, sectoken.PrefixAccessToken) {
			return nil, httperrors.ErrTokenTypeWrong
		}
		return nil, httperrors.ErrInvalidToken
	}

	tok, err := s.Repo.GetTokenByHash(ctx, sectoken.SHA256Base64URL(presented))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, httperrors.ErrInvalidToken
		}
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	if tok.Type != core.TokenRefresh {
		return nil, httperrors.ErrTokenTypeWrong
	}

	now := time.Now().UTC()

	if tok.RefreshedAt != nil {
		return nil, s.escalateReuse(ctx, tok, presented, now)
	}
	if tok.RevokedAt != nil {
		return nil, httperrors.ErrInvalidToken
	}
	if now.After(tok.ExpiresAt) {
		return nil, httperrors.ErrInvalidToken
	}

	inst, err := s.Repo.GetInstallation(ctx, tok.InstallationID)
	if err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	if inst.Status != core.InstallationActive {
		return nil, httperrors.ErrInstallationInactive
	}
	agent, err := s.Repo.GetAgent(ctx, inst.AgentID)
	if err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	if agent.Status != core.AgentActive {
		return nil, httperrors.ErrInstallationInactive.WithDetail("agent is suspended")
	}

	pair, access, refresh, err := s.mintPair(tok.InstallationID, tok.Scopes, now)
	if err != nil {
		return nil, err
	}
	refresh.ParentTokenID = &tok.ID

	if err := s.Repo.RotateRefreshToken(ctx, tok.ID, access, refresh, now); err != nil {
		if errors.Is(err, core.ErrConflict) {
			// Perdimos el CAS: alguien más consumió este mismo valor en la
			// ventana entre el read y el update. Dos presentaciones del mismo
			// refresh son indistinguibles de un replay.
			return nil, s.escalateReuse(ctx, tok, presented, now)
		}
		return nil, httperrors.ErrInternal.WithCause(err)
	}

	metrics.TokensIssued.WithLabelValues("refresh").Inc()
	s.Audit.Record(ctx, audit.Event("installation:"+tok.InstallationID, "token.refreshed", "token:"+tok.ID, map[string]any{
		"new_refresh_id": refresh.ID,
	}))
	return pair, nil
}

// escalateReuse revoca todo token vivo de la instalación y deja el evento de
// seguridad. Siempre devuelve reuse_detected. El token presentado viaja
// enmascarado: nunca plaintext en logs ni audit.
func (s *Service) escalateReuse(ctx context.Context, tok *core.Token, presented string, now time.Time) error {
	n, err := s.Repo.RevokeInstallationTokens(ctx, tok.InstallationID, now)
	if err != nil {
		// La revocación falló pero el replay es real igual; se reporta y el
		// caller recibe el 403 de todas formas.
		logger.From(ctx).Error("chain revocation failed",
			logger.InstallationID(tok.InstallationID), logger.Err(err))
	}

	metrics.ReuseDetected.Inc()
	metrics.TokensRevoked.Add(float64(n))
	s.Audit.Record(ctx, audit.Event("system", "token.reuse_detected", "installation:"+tok.InstallationID, map[string]any{
		"token_id":       tok.ID,
		"presented":      util.MaskSecret(presented),
		"tokens_revoked": n,
	}))
	logger.From(ctx).Warn("refresh token replay detected; installation chain revoked",
		logger.InstallationID(tok.InstallationID),
		logger.String("token_id", tok.ID),
		logger.String("presented", util.MaskSecret(presented)),
		logger.Int("tokens_revoked", int(n)))

	return httperrors.ErrReuseDetected
}

// Authenticate resuelve un access token opaco a la identidad del agente.
// Implementa middlewares.AgentAuthenticator.
func (s *Service) Authenticate(ctx context.Context, bearer string) (*middlewares.AgentAuth, error) {
	if !strings.HasPrefix(bearer, sectoken.PrefixAccessToken) {
		return nil, httperrors.ErrInvalidToken
	}
	tok, err := s.Repo.GetTokenByHash(ctx, sectoken.SHA256Base64URL(bearer))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, httperrors.ErrInvalidToken
		}
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	if tok.Type != core.TokenAccess {
		return nil, httperrors.ErrTokenTypeWrong
	}
	now := time.Now().UTC()
	if tok.RevokedAt != nil || now.After(tok.ExpiresAt) {
		return nil, httperrors.ErrInvalidToken
	}

	inst, err := s.Repo.GetInstallation(ctx, tok.InstallationID)
	if err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	if inst.Status != core.InstallationActive {
		return nil, httperrors.ErrInstallationInactive
	}
	agent, err := s.Repo.GetAgent(ctx, inst.AgentID)
	if err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	if agent.Status != core.AgentActive {
		return nil, httperrors.ErrInstallationInactive.WithDetail("agent is suspended")
	}

	return &middlewares.AgentAuth{
		AgentID:        inst.AgentID,
		UserID:         inst.UserID,
		InstallationID: inst.ID,
		TokenID:        tok.ID,
		Scopes:         tok.Scopes,
	}, nil
}
