// Package installations expone la gestión que el humano hace desde su
// dashboard: listar bindings, editar policy y revocar.
package installations

import (
	"context"
	"errors"
	"time"

	"github.com/revclaw/revclaw/internal/audit"
	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	"github.com/revclaw/revclaw/internal/metrics"
	"github.com/revclaw/revclaw/internal/observability/logger"
	"github.com/revclaw/revclaw/internal/store/core"
)

type Service struct {
	Repo  core.Repository
	Audit audit.Recorder
}

func New(repo core.Repository, rec audit.Recorder) *Service {
	return &Service{Repo: repo, Audit: rec}
}

func (s *Service) List(ctx context.Context, userID string) ([]*core.Installation, error) {
	items, err := s.Repo.ListInstallationsByUser(ctx, userID)
	if err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	return items, nil
}

// owned carga la instalación y verifica pertenencia. Lo ajeno es 404.
func (s *Service) owned(ctx context.Context, userID, installationID string) (*core.Installation, error) {
	inst, err := s.Repo.GetInstallation(ctx, installationID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, httperrors.ErrNotFound
		}
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	if inst.UserID != userID {
		return nil, httperrors.ErrNotFound
	}
	return inst, nil
}

func (s *Service) Get(ctx context.Context, userID, installationID string) (*core.Installation, error) {
	return s.owned(ctx, userID, installationID)
}

type PolicyPatch struct {
	RequireApprovalPublish *bool     `json:"require_approval_publish,omitempty"`
	RequireApprovalApply   *bool     `json:"require_approval_apply,omitempty"`
	DailyApplyLimit        *int      `json:"daily_apply_limit,omitempty"`
	AllowedCategories      *[]string `json:"allowed_categories,omitempty"`
}

// UpdatePolicy aplica un patch parcial. Afecta intents FUTUROS; los que ya
// están en vuelo conservan la decisión tomada al crearse.
func (s *Service) UpdatePolicy(ctx context.Context, userID, installationID string, patch PolicyPatch) (*core.Installation, error) {
	inst, err := s.owned(ctx, userID, installationID)
	if err != nil {
		return nil, err
	}
	if inst.Status == core.InstallationRevoked {
		return nil, httperrors.ErrInstallationInactive
	}

	p := inst.Policy
	if patch.RequireApprovalPublish != nil {
		p.RequireApprovalPublish = *patch.RequireApprovalPublish
	}
	if patch.RequireApprovalApply != nil {
		p.RequireApprovalApply = *patch.RequireApprovalApply
	}
	if patch.DailyApplyLimit != nil {
		if *patch.DailyApplyLimit < 0 {
			return nil, httperrors.ErrValidation.WithDetail("daily_apply_limit must be >= 0")
		}
		p.DailyApplyLimit = *patch.DailyApplyLimit
	}
	if patch.AllowedCategories != nil {
		p.AllowedCategories = *patch.AllowedCategories
	}

	if err := s.Repo.UpdateInstallationPolicy(ctx, inst.ID, p); err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	inst.Policy = p

	s.Audit.Record(ctx, audit.Event("user:"+userID, "installation.policy_updated", "installation:"+inst.ID, map[string]any{
		"policy": p,
	}))
	return inst, nil
}

// Revoke marca la instalación REVOKED y revoca en cascada todos sus tokens
// vivos. Los intents pendientes mueren por la vía de la instalación inactiva.
func (s *Service) Revoke(ctx context.Context, userID, installationID string) error {
	inst, err := s.owned(ctx, userID, installationID)
	if err != nil {
		return err
	}
	if inst.Status == core.InstallationRevoked {
		return nil // idempotente
	}

	now := time.Now().UTC()
	if err := s.Repo.SetInstallationStatus(ctx, inst.ID, core.InstallationRevoked); err != nil {
		return httperrors.ErrInternal.WithCause(err)
	}
	n, err := s.Repo.RevokeInstallationTokens(ctx, inst.ID, now)
	if err != nil {
		return httperrors.ErrInternal.WithCause(err)
	}

	metrics.TokensRevoked.Add(float64(n))
	s.Audit.Record(ctx, audit.Event("user:"+userID, "installation.revoked", "installation:"+inst.ID, map[string]any{
		"tokens_revoked": n,
	}))
	logger.From(ctx).Info("installation revoked",
		logger.InstallationID(inst.ID), logger.UserID(userID), logger.Int("tokens_revoked", int(n)))
	return nil
}
