package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	"github.com/revclaw/revclaw/internal/http/middlewares"
	"github.com/revclaw/revclaw/internal/http/services/installations"
	"github.com/revclaw/revclaw/internal/store/core"
)

type InstallationsHandler struct {
	Svc *installations.Service
}

func NewInstallationsHandler(svc *installations.Service) *InstallationsHandler {
	return &InstallationsHandler{Svc: svc}
}

type installationView struct {
	ID                string      `json:"id"`
	AgentID           string      `json:"agent_id"`
	GrantedScopes     []string    `json:"granted_scopes"`
	Status            string      `json:"status"`
	Policy            core.Policy `json:"policy"`
	LastTokenIssuedAt *time.Time  `json:"last_token_issued_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

func toInstallationView(in *core.Installation) installationView {
	return installationView{
		ID:                in.ID,
		AgentID:           in.AgentID,
		GrantedScopes:     in.GrantedScopes,
		Status:            string(in.Status),
		Policy:            in.Policy,
		LastTokenIssuedAt: in.LastTokenIssuedAt,
		CreatedAt:         in.CreatedAt,
	}
}

// List — GET /v1/installations
func (h *InstallationsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middlewares.GetSessionUser(r.Context())
	items, err := h.Svc.List(r.Context(), userID)
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	views := make([]installationView, 0, len(items))
	for _, in := range items {
		views = append(views, toInstallationView(in))
	}
	writeJSON(w, http.StatusOK, map[string]any{"installations": views})
}

// Get — GET /v1/installations/{id}
func (h *InstallationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middlewares.GetSessionUser(r.Context())
	inst, err := h.Svc.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallationView(inst))
}

// UpdatePolicy — PATCH /v1/installations/{id}/policy
func (h *InstallationsHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	userID := middlewares.GetSessionUser(r.Context())
	var patch installations.PolicyPatch
	if err := readJSON(w, r, &patch); err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	inst, err := h.Svc.UpdatePolicy(r.Context(), userID, chi.URLParam(r, "id"), patch)
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallationView(inst))
}

// Revoke — POST /v1/installations/{id}/revoke
func (h *InstallationsHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID := middlewares.GetSessionUser(r.Context())
	if err := h.Svc.Revoke(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}
