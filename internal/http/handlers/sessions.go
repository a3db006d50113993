package handlers

import (
	"context"
	"net/http"
	"time"

	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	"github.com/revclaw/revclaw/internal/store/core"
)

// SessionIssuer abstrae al emisor de JWTs de dashboard para poder fakearlo en
// tests de handler.
type SessionIssuer interface {
	Issue(userID string) (string, time.Time, error)
}

type SessionsHandler struct {
	Repo   interface {
		GetOrCreateUserByTelegramID(ctx context.Context, telegramUserID string) (*core.User, error)
	}
	Issuer SessionIssuer
}

func NewSessionsHandler(repo interface {
	GetOrCreateUserByTelegramID(ctx context.Context, telegramUserID string) (*core.User, error)
}, issuer SessionIssuer) *SessionsHandler {
	return &SessionsHandler{Repo: repo, Issuer: issuer}
}

// Create — POST /v1/sessions. Emite la sesión de dashboard para un principal
// ya verificado por el bot; por eso vive detrás del guard interno, igual que
// el claim.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in struct {
		VerifiedPrincipalID string `json:"verified_principal_id"`
	}
	if err := readJSON(w, r, &in); err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	if in.VerifiedPrincipalID == "" {
		httperrors.WriteError(w, r, httperrors.ErrValidation.WithDetail("verified_principal_id is required"))
		return
	}

	user, err := h.Repo.GetOrCreateUserByTelegramID(r.Context(), in.VerifiedPrincipalID)
	if err != nil {
		httperrors.WriteError(w, r, httperrors.ErrInternal.WithCause(err))
		return
	}
	token, exp, err := h.Issuer.Issue(user.ID)
	if err != nil {
		httperrors.WriteError(w, r, httperrors.ErrInternal.WithCause(err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_token": token,
		"user_id":       user.ID,
		"expires_at":    exp,
	})
}
