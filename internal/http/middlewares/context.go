package middlewares

import "context"

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyAgentAuth
	ctxKeySessionUser
)

// AgentAuth es el contexto autenticado de un agente: quién es, para qué humano
// actúa y qué capabilities porta su token (snapshot congelado al emitir).
type AgentAuth struct {
	AgentID        string
	UserID         string
	InstallationID string
	TokenID        string
	Scopes         []string
}

func setRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, rid)
}

func GetRequestID(ctx context.Context) string {
	rid, _ := ctx.Value(ctxKeyRequestID).(string)
	return rid
}

func WithAgentAuth(ctx context.Context, a *AgentAuth) context.Context {
	return context.WithValue(ctx, ctxKeyAgentAuth, a)
}

func GetAgentAuth(ctx context.Context) *AgentAuth {
	a, _ := ctx.Value(ctxKeyAgentAuth).(*AgentAuth)
	return a
}

func WithSessionUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeySessionUser, userID)
}

// GetSessionUser devuelve el user id del principal humano autenticado por
// sesión, o vacío.
func GetSessionUser(ctx context.Context) string {
	u, _ := ctx.Value(ctxKeySessionUser).(string)
	return u
}
