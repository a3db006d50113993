package intents

import (
	"context"
	"errors"
	"time"

	"github.com/revclaw/revclaw/internal/audit"
	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	"github.com/revclaw/revclaw/internal/metrics"
	"github.com/revclaw/revclaw/internal/observability/logger"
	sectoken "github.com/revclaw/revclaw/internal/security/token"
	"github.com/revclaw/revclaw/internal/store/core"
)

// Authority identifica quién decide: una sesión de dashboard (UserID) o el
// approval token del magic link (ApprovalToken). Exactamente uno presente.
type Authority struct {
	UserID        string
	ApprovalToken string
}

type DecideInput struct {
	IntentID string
	Approve  bool
	Reason   string // solo para deny
}

type DecideResult struct {
	IntentID  string    `json:"intent_id"`
	Status    string    `json:"status"`
	DecidedAt time.Time `json:"decided_at"`
}

// Decide aplica la disposición humana sobre un intent PENDING_APPROVAL.
// La decisión es un CAS: el segundo decisor recibe conflicto, venga por la
// vía que venga.
func (s *Service) Decide(ctx context.Context, who Authority, in DecideInput) (*DecideResult, error) {
	it, err := s.Repo.GetIntent(ctx, in.IntentID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, httperrors.ErrIntentNotFound
		}
		return nil, httperrors.ErrInternal.WithCause(err)
	}

	now := time.Now().UTC()
	if it.Status == core.IntentPendingApproval && now.After(it.ExpiresAt) {
		_ = s.Repo.MarkIntentExpired(ctx, it.ID)
		metrics.Intents.WithLabelValues("expired", it.Kind).Inc()
		return nil, httperrors.ErrIntentExpired
	}
	if it.Status != core.IntentPendingApproval {
		return nil, httperrors.ErrIntentAlreadyDecided
	}

	viaToken := false
	switch {
	case who.UserID != "":
		if who.UserID != it.UserID {
			return nil, httperrors.ErrNotOwner
		}
	case who.ApprovalToken != "":
		viaToken = true
		if it.ApprovalTokenHash == "" ||
			!sectoken.HashEqual(sectoken.SHA256Base64URL(who.ApprovalToken), it.ApprovalTokenHash) {
			return nil, httperrors.ErrApprovalTokenUsed
		}
		if it.ApprovalUsedAt != nil {
			return nil, httperrors.ErrApprovalTokenUsed
		}
		if it.ApprovalExpiresAt != nil && now.After(*it.ApprovalExpiresAt) {
			return nil, httperrors.ErrIntentExpired
		}
	default:
		return nil, httperrors.ErrInvalidSession
	}

	if in.Approve {
		err = s.Repo.MarkIntentApproved(ctx, it.ID, now, viaToken)
	} else {
		err = s.Repo.MarkIntentDenied(ctx, it.ID, in.Reason, now, viaToken)
	}
	if err != nil {
		if errors.Is(err, core.ErrConflict) {
			return nil, httperrors.ErrIntentAlreadyDecided
		}
		return nil, httperrors.ErrInternal.WithCause(err)
	}

	status, event := core.IntentApproved, "approved"
	if !in.Approve {
		status, event = core.IntentDenied, "denied"
	}
	actor := "user:" + it.UserID
	if viaToken {
		actor = "user:" + it.UserID + ":magic-link"
	}
	metrics.Intents.WithLabelValues(event, it.Kind).Inc()
	s.Audit.Record(ctx, audit.Event(actor, "intent."+event, "intent:"+it.ID, map[string]any{
		"kind":   it.Kind,
		"reason": in.Reason,
	}))
	logger.From(ctx).Info("intent decided",
		logger.IntentID(it.ID), logger.String("decision", event))

	return &DecideResult{IntentID: it.ID, Status: string(status), DecidedAt: now}, nil
}

// Get devuelve un intent si pertenece al usuario de la sesión.
func (s *Service) Get(ctx context.Context, userID, intentID string) (*core.Intent, error) {
	it, err := s.Repo.GetIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, httperrors.ErrIntentNotFound
		}
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	if it.UserID != userID {
		return nil, httperrors.ErrIntentNotFound
	}
	s.lazyExpire(ctx, it)
	return it, nil
}

// GetForInstallation devuelve un intent si lo creó la installation del
// bearer. Intents ajenos aparentan no existir.
func (s *Service) GetForInstallation(ctx context.Context, installationID, intentID string) (*core.Intent, error) {
	it, err := s.Repo.GetIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, httperrors.ErrIntentNotFound
		}
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	if it.InstallationID != installationID {
		return nil, httperrors.ErrIntentNotFound
	}
	s.lazyExpire(ctx, it)
	return it, nil
}

// List devuelve los intents del usuario, pendientes primero.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*core.Intent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items, err := s.Repo.ListIntentsByUser(ctx, userID, limit)
	if err != nil {
		return nil, httperrors.ErrInternal.WithCause(err)
	}
	for _, it := range items {
		s.lazyExpire(ctx, it)
	}
	return items, nil
}

// lazyExpire proyecta la expiración en lecturas: mutación best-effort más la
// vista coherente para el caller aunque el CAS lo gane otro.
func (s *Service) lazyExpire(ctx context.Context, it *core.Intent) {
	live := it.Status == core.IntentPendingApproval || it.Status == core.IntentApproved
	if live && time.Now().UTC().After(it.ExpiresAt) {
		if err := s.Repo.MarkIntentExpired(ctx, it.ID); err == nil {
			metrics.Intents.WithLabelValues("expired", it.Kind).Inc()
		}
		it.Status = core.IntentExpired
	}
}
