package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	"github.com/revclaw/revclaw/internal/http/middlewares"
	"github.com/revclaw/revclaw/internal/http/services/intents"
	"github.com/revclaw/revclaw/internal/store/core"
)

type IntentsHandler struct {
	Svc *intents.Service
}

func NewIntentsHandler(svc *intents.Service) *IntentsHandler {
	return &IntentsHandler{Svc: svc}
}

// Create — POST /v1/intents (agente autenticado)
func (h *IntentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	auth := middlewares.GetAgentAuth(r.Context())
	var in intents.CreateInput
	if err := readJSON(w, r, &in); err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	out, err := h.Svc.Create(r.Context(), auth, in)
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	status := http.StatusCreated
	if out.Bypassed {
		status = http.StatusOK
	}
	writeJSON(w, status, out)
}

// Execute — POST /v1/intents/{id}/execute (agente autenticado)
func (h *IntentsHandler) Execute(w http.ResponseWriter, r *http.Request) {
	auth := middlewares.GetAgentAuth(r.Context())
	var in struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := readJSON(w, r, &in); err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	out, err := h.Svc.Execute(r.Context(), auth, chi.URLParam(r, "id"), in.Payload)
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// intentView es la proyección pública de un intent (sin hashes de approval).
type intentView struct {
	ID           string          `json:"id"`
	AgentID      string          `json:"agent_id"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	PayloadHash  string          `json:"payload_hash"`
	Status       string          `json:"status"`
	ExpiresAt    time.Time       `json:"expires_at"`
	CreatedAt    time.Time       `json:"created_at"`
	DecidedAt    *time.Time      `json:"decided_at,omitempty"`
	DeniedReason string          `json:"denied_reason,omitempty"`
	ExecutedAt   *time.Time      `json:"executed_at,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

func toIntentView(it *core.Intent) intentView {
	return intentView{
		ID:           it.ID,
		AgentID:      it.AgentID,
		Kind:         it.Kind,
		Payload:      json.RawMessage(it.Payload),
		PayloadHash:  it.PayloadHash,
		Status:       string(it.Status),
		ExpiresAt:    it.ExpiresAt,
		CreatedAt:    it.CreatedAt,
		DecidedAt:    it.DecidedAt,
		DeniedReason: it.DeniedReason,
		ExecutedAt:   it.ExecutedAt,
		Result:       json.RawMessage(it.Result),
	}
}

// List — GET /v1/intents (sesión humana)
func (h *IntentsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middlewares.GetSessionUser(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.Svc.List(r.Context(), userID, limit)
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	views := make([]intentView, 0, len(items))
	for _, it := range items {
		views = append(views, toIntentView(it))
	}
	writeJSON(w, http.StatusOK, map[string]any{"intents": views})
}

// Get — GET /v1/intents/{id}. El dueño puede ser la sesión humana o el
// agente que lo creó (polling del estado de aprobación).
func (h *IntentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	var it *core.Intent
	var err error
	if auth := middlewares.GetAgentAuth(r.Context()); auth != nil {
		it, err = h.Svc.GetForInstallation(r.Context(), auth.InstallationID, chi.URLParam(r, "id"))
	} else {
		it, err = h.Svc.Get(r.Context(), middlewares.GetSessionUser(r.Context()), chi.URLParam(r, "id"))
	}
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toIntentView(it))
}

// Approve — POST /v1/intents/{id}/approve. Acepta sesión de dashboard o el
// approval token del magic link (?token= o body).
func (h *IntentsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

// Deny — POST /v1/intents/{id}/deny
func (h *IntentsHandler) Deny(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *IntentsHandler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	var body struct {
		Token  string `json:"token,omitempty"`
		Reason string `json:"reason,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &body); err != nil {
			httperrors.WriteError(w, r, err)
			return
		}
	}

	who := intents.Authority{UserID: middlewares.GetSessionUser(r.Context())}
	if who.UserID == "" {
		who.ApprovalToken = body.Token
		if who.ApprovalToken == "" {
			who.ApprovalToken = r.URL.Query().Get("token")
		}
	}

	out, err := h.Svc.Decide(r.Context(), who, intents.DecideInput{
		IntentID: chi.URLParam(r, "id"),
		Approve:  approve,
		Reason:   body.Reason,
	})
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
