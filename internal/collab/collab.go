// Package collab es la frontera capability-scoped hacia el resto del
// marketplace. El core no reimplementa reglas de negocio (CRUD, comisiones,
// notificaciones): despacha la acción ya autorizada y consume el resultado.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/revclaw/revclaw/internal/intent"
)

// Executor ejecuta una acción de marketplace ya aprobada (o en bypass).
// El resultado es un resumen JSON que se persiste en el intent.
type Executor interface {
	Execute(ctx context.Context, kind intent.ActionKind, payload json.RawMessage) (result json.RawMessage, err error)
}

// HTTPExecutor reenvía la acción al servicio de marketplace interno. Cada kind
// mapea a un endpoint fijo; la autorización de transporte es un bearer interno
// de servicio a servicio, nunca el token del agente.
type HTTPExecutor struct {
	BaseURL      string
	ServiceToken string
	Client       *http.Client
}

func NewHTTPExecutor(baseURL, serviceToken string) *HTTPExecutor {
	return &HTTPExecutor{
		BaseURL:      baseURL,
		ServiceToken: serviceToken,
		Client:       &http.Client{Timeout: 10 * time.Second},
	}
}

func endpointFor(kind intent.ActionKind) (string, error) {
	switch kind {
	case intent.KindProjectPublish:
		return "/internal/projects/publish", nil
	case intent.KindApplicationSubmit:
		return "/internal/applications", nil
	case intent.KindCouponCreate:
		return "/internal/coupon-templates", nil
	case intent.KindPlanExecute:
		return "/internal/plans/execute", nil
	case intent.KindProjectInvite:
		return "/internal/project-invitations", nil
	}
	return "", fmt.Errorf("no collaborator endpoint for kind %q", kind)
}

func (e *HTTPExecutor) Execute(ctx context.Context, kind intent.ActionKind, payload json.RawMessage) (json.RawMessage, error) {
	path, err := endpointFor(kind)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.ServiceToken)

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("collaborator call: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("collaborator returned %d", resp.StatusCode)
	}
	if len(body) == 0 {
		body = []byte(`{}`)
	}
	return json.RawMessage(body), nil
}

// EchoExecutor es el executor de dev: no hay marketplace atrás, devuelve un
// acuse con el kind ejecutado.
type EchoExecutor struct{}

func (EchoExecutor) Execute(_ context.Context, kind intent.ActionKind, _ json.RawMessage) (json.RawMessage, error) {
	ack, _ := json.Marshal(map[string]string{"executed": string(kind)})
	return json.RawMessage(ack), nil
}
