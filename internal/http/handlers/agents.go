package handlers

import (
	"net/http"

	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	"github.com/revclaw/revclaw/internal/http/services/agents"
)

type AgentsHandler struct {
	Svc *agents.Service
}

func NewAgentsHandler(svc *agents.Service) *AgentsHandler {
	return &AgentsHandler{Svc: svc}
}

// Register — POST /v1/agents/register
func (h *AgentsHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in agents.RegisterInput
	if err := readJSON(w, r, &in); err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	out, err := h.Svc.Register(r.Context(), in)
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// Claim — POST /v1/agents/claim (solo callback interno del bot)
func (h *AgentsHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var in agents.ClaimInput
	if err := readJSON(w, r, &in); err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	out, err := h.Svc.Claim(r.Context(), in)
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	status := http.StatusCreated
	if out.AlreadyClaimed {
		status = http.StatusOK
	}
	writeJSON(w, status, out)
}
