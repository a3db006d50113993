package errors

import (
	"fmt"
	"net/http"
)

// AppError es la estructura estándar para errores de la aplicación.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // causa original, para logs; no se expone al cliente
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func New(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// FromError convierte un error genérico en AppError; lo desconocido es 500.
func FromError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return ErrInternal.WithCause(err)
}

// WithDetail devuelve una COPIA con detalle extra (no muta los globales).
func (e *AppError) WithDetail(detail string) *AppError {
	newErr := *e
	newErr.Detail = detail
	return &newErr
}

// WithCause devuelve una COPIA con la causa original.
func (e *AppError) WithCause(err error) *AppError {
	newErr := *e
	newErr.Err = err
	return &newErr
}

// Catálogo. Los codes son contrato estable con los clientes; los mensajes no.
var (
	// 400
	ErrInvalidJSON    = New(http.StatusBadRequest, "invalid_json", "El body no es JSON válido.")
	ErrValidation     = New(http.StatusBadRequest, "validation_failed", "La solicitud no pasa validación.")
	ErrTokenTypeWrong = New(http.StatusBadRequest, "token_type_mismatch", "El token presentado no es del tipo requerido.")

	// 401
	ErrInvalidClient  = New(http.StatusUnauthorized, "invalid_client", "Credenciales de agente inválidas.")
	ErrInvalidToken   = New(http.StatusUnauthorized, "invalid_token", "Bearer token ausente, desconocido, expirado o revocado.")
	ErrInvalidSession = New(http.StatusUnauthorized, "invalid_session", "Sesión inválida o expirada.")

	// 403
	ErrReuseDetected        = New(http.StatusForbidden, "reuse_detected", "Refresh token ya rotado: replay detectado, cadena revocada.")
	ErrInsufficientScope    = New(http.StatusForbidden, "insufficient_scope", "El token no porta el scope requerido.")
	ErrClaimRevoked         = New(http.StatusForbidden, "claim_revoked", "El claim fue revocado o el agente está inactivo.")
	ErrInstallationInactive = New(http.StatusForbidden, "installation_inactive", "La instalación no está activa.")
	ErrNotOwner             = New(http.StatusForbidden, "not_owner", "El recurso no pertenece al principal autenticado.")
	ErrIntentRequired       = New(http.StatusForbidden, "intent_required", "La operación exige un intent aprobado (X-RevClaw-Intent-Id).")
	ErrPayloadMismatch      = New(http.StatusForbidden, "payload_mismatch", "El payload no coincide con el aprobado.")
	ErrApprovalTokenUsed    = New(http.StatusForbidden, "approval_token_used", "El approval token ya fue usado o no coincide.")
	ErrInternalOnly         = New(http.StatusForbidden, "internal_only", "Endpoint reservado para el callback interno verificado.")

	// 404
	ErrClaimNotFound  = New(http.StatusNotFound, "claim_not_found", "Claim inexistente o de otro agente.")
	ErrIntentNotFound = New(http.StatusNotFound, "intent_not_found", "Intent inexistente.")
	ErrNotFound       = New(http.StatusNotFound, "not_found", "Recurso inexistente.")

	// 409
	ErrClaimAlreadyUsed      = New(http.StatusConflict, "claim_already_used", "El claim ya fue consumido.")
	ErrCodeAlreadyUsed       = New(http.StatusConflict, "code_already_used", "El exchange code ya fue canjeado.")
	ErrIntentAlreadyDecided  = New(http.StatusConflict, "intent_already_decided", "El intent ya tiene disposición.")
	ErrIntentAlreadyDenied   = New(http.StatusConflict, "intent_already_denied", "El intent fue denegado; no se puede ejecutar.")
	ErrIntentAlreadyExecuted = New(http.StatusConflict, "intent_already_executed", "El intent ya fue ejecutado.")
	ErrIntentNotApproved     = New(http.StatusConflict, "intent_not_approved", "El intent no está aprobado.")
	ErrDailyLimitReached     = New(http.StatusConflict, "daily_limit_reached", "Se alcanzó el límite diario de postulaciones.")

	// 410
	ErrClaimExpired  = New(http.StatusGone, "claim_expired", "El claim expiró.")
	ErrCodeExpired   = New(http.StatusGone, "code_expired", "El exchange code expiró.")
	ErrIntentExpired = New(http.StatusGone, "intent_expired", "El intent expiró sin disposición.")

	// 429
	ErrRateLimited = New(http.StatusTooManyRequests, "rate_limited", "Demasiados intentos; probá más tarde.")

	// 5xx
	ErrInternal     = New(http.StatusInternalServerError, "internal_error", "Error interno.")
	ErrCollaborator = New(http.StatusBadGateway, "collaborator_error", "El marketplace no pudo ejecutar la acción.")
)
