package handlers

import (
	"net/http"
	"strings"

	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	"github.com/revclaw/revclaw/internal/http/services/tokens"
)

type TokensHandler struct {
	Svc *tokens.Service
}

func NewTokensHandler(svc *tokens.Service) *TokensHandler {
	return &TokensHandler{Svc: svc}
}

// Exchange — POST /v1/tokens
func (h *TokensHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var in tokens.ExchangeInput
	if err := readJSON(w, r, &in); err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	out, err := h.Svc.Exchange(r.Context(), in)
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Refresh — POST /v1/tokens/refresh. El refresh viaja como bearer, no en el
// body: rc_rt_ nunca se loggea ni queda en access logs de proxies.
func (h *TokensHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := bearerToken(r)
	if raw == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="revclaw"`)
		httperrors.WriteError(w, r, httperrors.ErrInvalidToken)
		return
	}
	out, err := h.Svc.Refresh(r.Context(), raw)
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
