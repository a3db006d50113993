package core

import "time"

// Agent es la identidad con la que un bot se autentica (id + secret).
// Nunca se borra; solo se suspende, para conservar el rastro de auditoría.
type Agent struct {
	ID          string
	Name        string
	Description string
	Manifest    map[string]any
	SecretHash  string // argon2id PHC, nunca el plaintext
	Status      AgentStatus
	CreatedAt   time.Time
}

type AgentStatus string

const (
	AgentActive    AgentStatus = "ACTIVE"
	AgentSuspended AgentStatus = "SUSPENDED"
)

// User es el principal humano, resuelto por su identidad externa verificada
// (el id de usuario de Telegram que entrega el callback del bot).
type User struct {
	ID             string
	TelegramUserID string
	DisplayName    string
	Email          string
	CreatedAt      time.Time
}

// AgentClaim es el artefacto de un solo uso que prueba que un humano aprobó
// el binding Agent↔User. Transiciona exactamente una vez a estado terminal.
type AgentClaim struct {
	ID              string
	AgentID         string
	RequestedScopes []string
	Status          ClaimStatus
	ExpiresAt       time.Time
	ClaimedBy       *string // user id
	ClaimedAt       *time.Time
	CreatedAt       time.Time
}

type ClaimStatus string

const (
	ClaimPending ClaimStatus = "PENDING"
	ClaimClaimed ClaimStatus = "CLAIMED"
	ClaimExpired ClaimStatus = "EXPIRED"
	ClaimRevoked ClaimStatus = "REVOKED"
)

// Installation es el binding durable Agent↔User. Es dueño conceptual de todos
// los tokens e intents que cuelgan de él.
type Installation struct {
	ID                string
	AgentID           string
	UserID            string
	GrantedScopes     []string // subconjunto de los requested del claim
	Status            InstallationStatus
	Policy            Policy
	LastTokenIssuedAt *time.Time
	CreatedAt         time.Time
}

type InstallationStatus string

const (
	InstallationActive    InstallationStatus = "ACTIVE"
	InstallationSuspended InstallationStatus = "SUSPENDED"
	InstallationRevoked   InstallationStatus = "REVOKED"
)

// Policy son los flags de aprobación por instalación. Se consultan una sola
// vez, al crear el intent; no se re-chequean al ejecutar.
type Policy struct {
	RequireApprovalPublish bool     `json:"require_approval_publish"`
	RequireApprovalApply   bool     `json:"require_approval_apply"`
	DailyApplyLimit        int      `json:"daily_apply_limit"` // 0 = sin límite
	AllowedCategories      []string `json:"allowed_categories,omitempty"`
}

// DefaultPolicy: conservadora, aprobación requerida para todo kind de alto riesgo.
func DefaultPolicy() Policy {
	return Policy{RequireApprovalPublish: true, RequireApprovalApply: true}
}

// ExchangeCode se emite al completar un claim y se canjea exactamente una vez
// por el primer par de tokens.
type ExchangeCode struct {
	ID             string
	CodeHash       string
	InstallationID string
	Scopes         []string // snapshot al momento del claim
	Status         CodeStatus
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

type CodeStatus string

const (
	CodePending CodeStatus = "PENDING"
	CodeUsed    CodeStatus = "USED"
	CodeExpired CodeStatus = "EXPIRED"
)

type TokenType string

const (
	TokenAccess  TokenType = "ACCESS"
	TokenRefresh TokenType = "REFRESH"
)

// Token es un bearer opaco (ACCESS o REFRESH); en DB solo vive el hash.
// RefreshedAt es el tripwire de replay: se setea en el instante en que un
// REFRESH se consume para rotar; un segundo uso del mismo valor es un ataque.
type Token struct {
	ID             string
	InstallationID string
	Type           TokenType
	TokenHash      string
	Scopes         []string // congelado al emitir; ediciones posteriores no lo tocan
	ExpiresAt      time.Time
	RevokedAt      *time.Time
	RefreshedAt    *time.Time
	ParentTokenID  *string // REFRESH nuevo → REFRESH consumido (cadena)
	CreatedAt      time.Time
}

type IntentStatus string

const (
	IntentPendingApproval IntentStatus = "PENDING_APPROVAL"
	IntentApproved        IntentStatus = "APPROVED"
	IntentDenied          IntentStatus = "DENIED"
	IntentExpired         IntentStatus = "EXPIRED"
	IntentExecuted        IntentStatus = "EXECUTED"
)

// Intent es la propuesta hash-bound de una acción de alto riesgo.
// EXECUTED es terminal y se alcanza a lo sumo una vez.
type Intent struct {
	ID             string
	InstallationID string
	AgentID        string
	UserID         string
	Kind           string // intent.ActionKind serializado
	Payload        []byte // JSON canónico
	PayloadHash    string
	Status         IntentStatus
	ExpiresAt      time.Time
	CreatedAt      time.Time

	// Aprobación por magic link (opcional).
	ApprovalTokenHash string
	ApprovalExpiresAt *time.Time
	ApprovalUsedAt    *time.Time

	DecidedAt    *time.Time
	DeniedReason string
	ExecutedAt   *time.Time
	Result       []byte // resumen JSON del resultado de ejecución
}

// AuditEvent es un hecho inmutable, append-only. Este core solo escribe.
type AuditEvent struct {
	ID        string
	Actor     string // "agent:<id>" | "user:<id>" | "system"
	Action    string // ej: "token.reuse_detected"
	Subject   string // ej: "installation:<id>"
	Fields    map[string]any
	CreatedAt time.Time
}
