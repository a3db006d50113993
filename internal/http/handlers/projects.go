package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	"github.com/revclaw/revclaw/internal/http/middlewares"
	"github.com/revclaw/revclaw/internal/http/services/intents"
	"github.com/revclaw/revclaw/internal/intent"
)

// IntentIDHeader referencia el intent aprobado que habilita una operación
// gateada.
const IntentIDHeader = "X-RevClaw-Intent-Id"

// ProjectsHandler expone la operación de negocio gateada por intent: publicar
// un proyecto en el marketplace en nombre del humano.
type ProjectsHandler struct {
	Intents *intents.Service
}

func NewProjectsHandler(svc *intents.Service) *ProjectsHandler {
	return &ProjectsHandler{Intents: svc}
}

// Publish — POST /v1/projects/{id}/publish (agente autenticado).
// Con X-RevClaw-Intent-Id consume el intent aprobado; sin el header solo pasa
// si la policy de la instalación no exige aprobación para publicar.
func (h *ProjectsHandler) Publish(w http.ResponseWriter, r *http.Request) {
	auth := middlewares.GetAgentAuth(r.Context())
	projectID := chi.URLParam(r, "id")

	var in struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := readJSON(w, r, &in); err != nil {
		httperrors.WriteError(w, r, err)
		return
	}

	var payload intent.ProjectPublishPayload
	if err := json.Unmarshal(in.Payload, &payload); err != nil || payload.ProjectID != projectID {
		httperrors.WriteError(w, r, httperrors.ErrValidation.WithDetail("payload.project_id must match the URL"))
		return
	}

	if intentID := r.Header.Get(IntentIDHeader); intentID != "" {
		out, err := h.Intents.Execute(r.Context(), auth, intentID, in.Payload)
		if err != nil {
			httperrors.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	result, err := h.Intents.ExecuteBypass(r.Context(), auth, intent.KindProjectPublish, in.Payload)
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "PUBLISHED", "result": result})
}
