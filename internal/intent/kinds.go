// Package intent modela las acciones de alto riesgo que requieren disposición
// humana explícita: el set cerrado de kinds, el contrato de payload de cada
// uno y el hashing canónico que ata la aprobación a un payload exacto.
package intent

import (
	"encoding/json"
	"fmt"

	"github.com/revclaw/revclaw/internal/store/core"
)

// ActionKind es el discriminador cerrado de acciones de alto riesgo.
type ActionKind string

const (
	KindProjectPublish     ActionKind = "PROJECT_PUBLISH"
	KindApplicationSubmit  ActionKind = "APPLICATION_SUBMIT"
	KindCouponCreate       ActionKind = "COUPON_TEMPLATE_CREATE"
	KindPlanExecute        ActionKind = "PLAN_EXECUTE"
	KindProjectInvite      ActionKind = "PROJECT_INVITATION_CREATE"
)

// Kinds enumera todos los kinds válidos; cualquier switch sobre ActionKind
// debe cubrirlos todos.
func Kinds() []ActionKind {
	return []ActionKind{
		KindProjectPublish,
		KindApplicationSubmit,
		KindCouponCreate,
		KindPlanExecute,
		KindProjectInvite,
	}
}

func ParseKind(s string) (ActionKind, error) {
	k := ActionKind(s)
	switch k {
	case KindProjectPublish, KindApplicationSubmit, KindCouponCreate, KindPlanExecute, KindProjectInvite:
		return k, nil
	}
	return "", fmt.Errorf("unknown intent kind %q", s)
}

// RequiredScope es la capability que el token del agente debe portar para
// siquiera proponer (o ejecutar por bypass) una acción de este kind.
func (k ActionKind) RequiredScope() string {
	switch k {
	case KindProjectPublish:
		return "projects:publish"
	case KindApplicationSubmit:
		return "applications:write"
	case KindCouponCreate:
		return "coupons:write"
	case KindPlanExecute:
		return "plans:execute"
	case KindProjectInvite:
		return "projects:invite"
	}
	return ""
}

// RequiresApproval consulta la policy de la instalación para este kind. Se
// evalúa una sola vez, al crear el intent; no se re-chequea al ejecutar.
func (k ActionKind) RequiresApproval(p core.Policy) bool {
	switch k {
	case KindProjectPublish:
		return p.RequireApprovalPublish
	case KindApplicationSubmit:
		return p.RequireApprovalApply
	case KindCouponCreate, KindPlanExecute, KindProjectInvite:
		// Sin flag de bypass: siempre requieren humano.
		return true
	}
	return true
}

// ---- contratos de payload por kind ----

type ProjectPublishPayload struct {
	ProjectID string `json:"project_id"`
	Title     string `json:"title,omitempty"`
}

type ApplicationSubmitPayload struct {
	ProjectID   string `json:"project_id"`
	CoverLetter string `json:"cover_letter,omitempty"`
	Category    string `json:"category,omitempty"`
}

type CouponTemplatePayload struct {
	Name       string `json:"name"`
	PercentOff int    `json:"percent_off"`
	MaxUses    int    `json:"max_uses,omitempty"`
}

type PlanExecutePayload struct {
	PlanID string `json:"plan_id"`
}

type ProjectInvitePayload struct {
	ProjectID  string `json:"project_id"`
	Freelancer string `json:"freelancer_id"`
	Message    string `json:"message,omitempty"`
}

// ValidatePayload chequea que el payload cumpla el contrato del kind. El shape
// es parte de la variante, no un blob JSON suelto.
func ValidatePayload(k ActionKind, payload json.RawMessage) error {
	strict := func(v any) error {
		return json.Unmarshal(payload, v)
	}
	switch k {
	case KindProjectPublish:
		var p ProjectPublishPayload
		if err := strict(&p); err != nil {
			return err
		}
		if p.ProjectID == "" {
			return fmt.Errorf("project_id is required")
		}
	case KindApplicationSubmit:
		var p ApplicationSubmitPayload
		if err := strict(&p); err != nil {
			return err
		}
		if p.ProjectID == "" {
			return fmt.Errorf("project_id is required")
		}
	case KindCouponCreate:
		var p CouponTemplatePayload
		if err := strict(&p); err != nil {
			return err
		}
		if p.Name == "" {
			return fmt.Errorf("name is required")
		}
		if p.PercentOff <= 0 || p.PercentOff > 100 {
			return fmt.Errorf("percent_off must be in (0,100]")
		}
	case KindPlanExecute:
		var p PlanExecutePayload
		if err := strict(&p); err != nil {
			return err
		}
		if p.PlanID == "" {
			return fmt.Errorf("plan_id is required")
		}
	case KindProjectInvite:
		var p ProjectInvitePayload
		if err := strict(&p); err != nil {
			return err
		}
		if p.ProjectID == "" || p.Freelancer == "" {
			return fmt.Errorf("project_id and freelancer_id are required")
		}
	default:
		return fmt.Errorf("unknown intent kind %q", k)
	}
	return nil
}

// Category extrae la categoría declarada del payload, para el chequeo de
// AllowedCategories en APPLICATION_SUBMIT. Vacío si el kind no la porta.
func Category(k ActionKind, payload json.RawMessage) string {
	if k != KindApplicationSubmit {
		return ""
	}
	var p ApplicationSubmitPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return ""
	}
	return p.Category
}
