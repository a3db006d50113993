// Package intents implementa el ciclo de vida del intent hash-bound:
// creación con consulta de policy, decisión humana (sesión o magic link) y
// ejecución exactly-once contra el marketplace.
package intents

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/revclaw/revclaw/internal/audit"
	"github.com/revclaw/revclaw/internal/collab"
	"github.com/revclaw/revclaw/internal/email"
	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	"github.com/revclaw/revclaw/internal/http/middlewares"
	"github.com/revclaw/revclaw/internal/intent"
	"github.com/revclaw/revclaw/internal/metrics"
	"github.com/revclaw/revclaw/internal/observability/logger"
	sectoken "github.com/revclaw/revclaw/internal/security/token"
	"github.com/revclaw/revclaw/internal/store/core"
	"github.com/revclaw/revclaw/internal/validation"
)

type Service struct {
	Repo     core.Repository
	Audit    audit.Recorder
	Executor collab.Executor
	Mail     email.Sender

	BaseURL     string // para armar los magic links
	IntentTTL   time.Duration
	ApprovalTTL time.Duration
}

func New(repo core.Repository, rec audit.Recorder, exec collab.Executor, mail email.Sender, baseURL string, intentTTL, approvalTTL time.Duration) *Service {
	return &Service{
		Repo:        repo,
		Audit:       rec,
		Executor:    exec,
		Mail:        mail,
		BaseURL:     baseURL,
		IntentTTL:   intentTTL,
		ApprovalTTL: approvalTTL,
	}
}

type CreateInput struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type CreateResult struct {
	IntentID    string     `json:"intent_id,omitempty"`
	Status      string     `json:"status"`
	PayloadHash string     `json:"payload_hash"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	// Bypassed indica que la policy no exige aprobación para este kind: no se
	// persiste intent y el agente puede ejecutar directo.
	Bypassed bool `json:"bypassed,omitempty"`
}

// Create valida kind/payload contra los scopes y la policy de la instalación.
// Si la policy exige aprobación, persiste el intent PENDING_APPROVAL y manda
// el magic link al dueño; si no, responde bypass sin persistir.
//
// La policy se consulta acá y solo acá: lo que quede PENDING sobrevive a
// ediciones posteriores de la policy.
func (s *Service) Create(ctx context.Context, auth *middlewares.AgentAuth, in CreateInput) (*CreateResult, error) {
	kind, err := intent.ParseKind(in.Kind)
	if err != nil {
		return nil, httperrors.ErrValidation.WithDetail(err.Error())
	}
	if !validation.HasScope(auth.Scopes, kind.RequiredScope()) {
		return nil, httperrors.ErrInsufficientScope.WithDetail("requires " + kind.RequiredScope())
	}
	if err := intent.ValidatePayload(kind, in.Payload); err != nil {
		return nil, httperrors.ErrValidation.WithDetail(err.Error())
	}

	inst, err := s.Repo.GetInstallation(ctx, auth.InstallationID)
	if err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	if inst.Status != core.InstallationActive {
		return nil, httperrors.ErrInstallationInactive
	}

	if cat := intent.Category(kind, in.Payload); cat != "" && len(inst.Policy.AllowedCategories) > 0 {
		if !contains(inst.Policy.AllowedCategories, cat) {
			return nil, httperrors.ErrValidation.WithDetail("category " + cat + " is not allowed by the installation policy")
		}
	}

	now := time.Now().UTC()
	if kind == intent.KindApplicationSubmit && inst.Policy.DailyApplyLimit > 0 {
		n, err := s.Repo.CountIntentsSince(ctx, inst.ID, string(kind), now.Add(-24*time.Hour))
		if err != nil {
			return nil, httperrors.ErrInternal.WithCause(err)
		}
		if n >= inst.Policy.DailyApplyLimit {
			return nil, httperrors.ErrDailyLimitReached
		}
	}

	canonical, hash, err := intent.HashPayload(in.Payload)
	if err != nil {
		return nil, httperrors.ErrInvalidJSON.WithDetail(err.Error())
	}

	if !kind.RequiresApproval(inst.Policy) {
		metrics.Intents.WithLabelValues("bypassed", string(kind)).Inc()
		return &CreateResult{Status: "BYPASSED", PayloadHash: hash, Bypassed: true}, nil
	}

	approvalPlain, err := sectoken.GenerateOpaque(sectoken.PrefixApproval, 32)
	if err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	approvalExp := now.Add(s.ApprovalTTL)

	it := &core.Intent{
		ID:                uuid.NewString(),
		InstallationID:    inst.ID,
		AgentID:           auth.AgentID,
		UserID:            inst.UserID,
		Kind:              string(kind),
		Payload:           canonical,
		PayloadHash:       hash,
		Status:            core.IntentPendingApproval,
		ExpiresAt:         now.Add(s.IntentTTL),
		CreatedAt:         now,
		ApprovalTokenHash: sectoken.SHA256Base64URL(approvalPlain),
		ApprovalExpiresAt: &approvalExp,
	}
	if err := s.Repo.CreateIntent(ctx, it); err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}

	s.notifyOwner(ctx, it, approvalPlain)

	metrics.Intents.WithLabelValues("created", string(kind)).Inc()
	s.Audit.Record(ctx, audit.Event("agent:"+auth.AgentID, "intent.created", "intent:"+it.ID, map[string]any{
		"kind":         it.Kind,
		"payload_hash": it.PayloadHash,
	}))
	logger.From(ctx).Info("intent created",
		logger.IntentID(it.ID), logger.IntentKind(it.Kind), logger.InstallationID(inst.ID))

	return &CreateResult{
		IntentID:    it.ID,
		Status:      string(it.Status),
		PayloadHash: it.PayloadHash,
		ExpiresAt:   &it.ExpiresAt,
	}, nil
}

// notifyOwner manda el magic link de aprobación. Best effort: el intent
// existe igual y el humano puede decidir desde el dashboard.
func (s *Service) notifyOwner(ctx context.Context, it *core.Intent, approvalPlain string) {
	user, err := s.Repo.GetUser(ctx, it.UserID)
	if err != nil || user.Email == "" {
		return
	}
	agentName := it.AgentID
	if agent, err := s.Repo.GetAgent(ctx, it.AgentID); err == nil {
		agentName = agent.Name
	}
	approveURL, denyURL := email.ApprovalLink(s.BaseURL, it.ID, approvalPlain)
	subject, html, text := email.ApprovalBody(agentName, it.Kind, approveURL, denyURL)
	if err := s.Mail.Send(user.Email, subject, html, text); err != nil {
		logger.From(ctx).Warn("approval mail failed", logger.IntentID(it.ID), logger.Err(err))
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
