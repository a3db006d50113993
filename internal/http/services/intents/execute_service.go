package intents

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/revclaw/revclaw/internal/audit"
	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	"github.com/revclaw/revclaw/internal/http/middlewares"
	"github.com/revclaw/revclaw/internal/intent"
	"github.com/revclaw/revclaw/internal/metrics"
	"github.com/revclaw/revclaw/internal/observability/logger"
	sectoken "github.com/revclaw/revclaw/internal/security/token"
	"github.com/revclaw/revclaw/internal/store/core"
	"github.com/revclaw/revclaw/internal/validation"
)

type ExecuteResult struct {
	IntentID   string          `json:"intent_id"`
	Status     string          `json:"status"`
	ExecutedAt time.Time       `json:"executed_at"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// Execute consume un intent APROBADO exactamente una vez. El payload real se
// re-hashea y tiene que calzar byte a byte (canónico) con el aprobado; el CAS
// APPROVED→EXECUTED se toma ANTES del side effect, así dos ejecutores
// concurrentes nunca duplican la acción.
func (s *Service) Execute(ctx context.Context, auth *middlewares.AgentAuth, intentID string, payload json.RawMessage) (*ExecuteResult, error) {
	it, err := s.Repo.GetIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, httperrors.ErrIntentNotFound
		}
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	// Un intent ajeno no existe para este agente.
	if it.InstallationID != auth.InstallationID {
		return nil, httperrors.ErrIntentNotFound
	}

	now := time.Now().UTC()
	switch it.Status {
	case core.IntentPendingApproval:
		if now.After(it.ExpiresAt) {
			_ = s.Repo.MarkIntentExpired(ctx, it.ID)
			metrics.Intents.WithLabelValues("expired", it.Kind).Inc()
			return nil, httperrors.ErrIntentExpired
		}
		return nil, httperrors.ErrIntentNotApproved
	case core.IntentDenied:
		return nil, httperrors.ErrIntentAlreadyDenied
	case core.IntentExpired:
		return nil, httperrors.ErrIntentExpired
	case core.IntentExecuted:
		return nil, httperrors.ErrIntentAlreadyExecuted
	case core.IntentApproved:
		// La aprobación no congela el reloj: pasado expires_at el intent
		// deja de ser ejecutable.
		if now.After(it.ExpiresAt) {
			_ = s.Repo.MarkIntentExpired(ctx, it.ID)
			metrics.Intents.WithLabelValues("expired", it.Kind).Inc()
			return nil, httperrors.ErrIntentExpired
		}
		// sigue
	default:
		return nil, httperrors.ErrInternal
	}

	_, hash, err := intent.HashPayload(payload)
	if err != nil {
		return nil, httperrors.ErrInvalidJSON.WithDetail(err.Error())
	}
	if !sectoken.HashEqual(hash, it.PayloadHash) {
		s.Audit.Record(ctx, audit.Event("agent:"+auth.AgentID, "intent.payload_mismatch", "intent:"+it.ID, map[string]any{
			"expected_hash":  it.PayloadHash,
			"presented_hash": hash,
		}))
		return nil, httperrors.ErrPayloadMismatch
	}

	// Claim primero, side effect después. El perdedor del CAS relee para
	// devolver el conflicto preciso.
	if err := s.Repo.ClaimIntentExecution(ctx, it.ID, now); err != nil {
		if errors.Is(err, core.ErrConflict) {
			if fresh, gerr := s.Repo.GetIntent(ctx, it.ID); gerr == nil {
				switch fresh.Status {
				case core.IntentExecuted:
					return nil, httperrors.ErrIntentAlreadyExecuted
				case core.IntentDenied:
					return nil, httperrors.ErrIntentAlreadyDenied
				case core.IntentExpired:
					return nil, httperrors.ErrIntentExpired
				}
			}
			return nil, httperrors.ErrIntentAlreadyExecuted
		}
		return nil, httperrors.ErrInternal.WithCause(err)
	}

	result, execErr := s.Executor.Execute(ctx, intent.ActionKind(it.Kind), it.Payload)
	if execErr != nil {
		// El side effect no ocurrió: se devuelve el claim para que un retry
		// posterior pueda ejecutar. Best effort; si falla queda EXECUTED sin
		// resultado y el audit trail lo cuenta.
		if rerr := s.Repo.ReleaseIntentExecution(ctx, it.ID); rerr != nil {
			logger.From(ctx).Error("execution claim release failed",
				logger.IntentID(it.ID), logger.Err(rerr))
		}
		s.Audit.Record(ctx, audit.Event("agent:"+auth.AgentID, "intent.execution_failed", "intent:"+it.ID, map[string]any{
			"kind":  it.Kind,
			"error": execErr.Error(),
		}))
		return nil, httperrors.ErrCollaborator.WithCause(execErr)
	}

	if result != nil {
		if err := s.Repo.SetIntentResult(ctx, it.ID, result); err != nil {
			logger.From(ctx).Error("intent result persist failed",
				logger.IntentID(it.ID), logger.Err(err))
		}
	}

	metrics.Intents.WithLabelValues("executed", it.Kind).Inc()
	s.Audit.Record(ctx, audit.Event("agent:"+auth.AgentID, "intent.executed", "intent:"+it.ID, map[string]any{
		"kind":         it.Kind,
		"payload_hash": it.PayloadHash,
	}))
	logger.From(ctx).Info("intent executed",
		logger.IntentID(it.ID), logger.IntentKind(it.Kind))

	return &ExecuteResult{
		IntentID:   it.ID,
		Status:     string(core.IntentExecuted),
		ExecutedAt: now,
		Result:     result,
	}, nil
}

// ExecuteBypass corre la acción sin intent persistido, solo si la policy de
// la instalación NO exige aprobación para ese kind. Si la exige, el agente
// tiene que venir con un intent aprobado.
func (s *Service) ExecuteBypass(ctx context.Context, auth *middlewares.AgentAuth, kind intent.ActionKind, payload json.RawMessage) (json.RawMessage, error) {
	if !validation.HasScope(auth.Scopes, kind.RequiredScope()) {
		return nil, httperrors.ErrInsufficientScope.WithDetail("requires " + kind.RequiredScope())
	}
	if err := intent.ValidatePayload(kind, payload); err != nil {
		return nil, httperrors.ErrValidation.WithDetail(err.Error())
	}
	inst, err := s.Repo.GetInstallation(ctx, auth.InstallationID)
	if err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	if inst.Status != core.InstallationActive {
		return nil, httperrors.ErrInstallationInactive
	}
	if kind.RequiresApproval(inst.Policy) {
		return nil, httperrors.ErrIntentRequired
	}

	canonical, _, err := intent.HashPayload(payload)
	if err != nil {
		return nil, httperrors.ErrInvalidJSON.WithDetail(err.Error())
	}
	result, execErr := s.Executor.Execute(ctx, kind, canonical)
	if execErr != nil {
		return nil, httperrors.ErrCollaborator.WithCause(execErr)
	}

	metrics.Intents.WithLabelValues("bypassed", string(kind)).Inc()
	s.Audit.Record(ctx, audit.Event("agent:"+auth.AgentID, "intent.bypass_executed", "installation:"+inst.ID, map[string]any{
		"kind": string(kind),
	}))
	return result, nil
}
