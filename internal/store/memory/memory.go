// Package memory implementa core.Repository en memoria, con la misma
// semántica de transiciones condicionales que el adapter de postgres.
// Se usa en tests y en modo dev sin base de datos.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/revclaw/revclaw/internal/store/core"
)

type Store struct {
	mu sync.Mutex

	agents        map[string]*core.Agent
	users         map[string]*core.User
	usersByTG     map[string]string // telegram id → user id
	claims        map[string]*core.AgentClaim
	installations map[string]*core.Installation
	codes         map[string]*core.ExchangeCode // por id
	codesByHash   map[string]string
	tokens        map[string]*core.Token
	tokensByHash  map[string]string
	intents       map[string]*core.Intent
	audit         []*core.AuditEvent
}

func New() *Store {
	return &Store{
		agents:        map[string]*core.Agent{},
		users:         map[string]*core.User{},
		usersByTG:     map[string]string{},
		claims:        map[string]*core.AgentClaim{},
		installations: map[string]*core.Installation{},
		codes:         map[string]*core.ExchangeCode{},
		codesByHash:   map[string]string{},
		tokens:        map[string]*core.Token{},
		tokensByHash:  map[string]string{},
		intents:       map[string]*core.Intent{},
	}
}

// ---- agents ----

func (s *Store) CreateAgent(_ context.Context, a *core.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.agents[a.ID] = &cp
	return nil
}

func (s *Store) GetAgent(_ context.Context, id string) (*core.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) SetAgentStatus(_ context.Context, id string, status core.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return core.ErrNotFound
	}
	a.Status = status
	return nil
}

// ---- users ----

func (s *Store) GetOrCreateUserByTelegramID(_ context.Context, tgID string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.usersByTG[tgID]; ok {
		cp := *s.users[id]
		return &cp, nil
	}
	u := &core.User{
		ID:             uuid.NewString(),
		TelegramUserID: tgID,
		CreatedAt:      time.Now().UTC(),
	}
	s.users[u.ID] = u
	s.usersByTG[tgID] = u.ID
	cp := *u
	return &cp, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) SetUserEmail(_ context.Context, id, mail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return core.ErrNotFound
	}
	u.Email = mail
	return nil
}

// ---- claims ----

func (s *Store) CreateClaim(_ context.Context, c *core.AgentClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.claims[c.ID] = &cp
	return nil
}

func (s *Store) GetClaim(_ context.Context, id string) (*core.AgentClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) MarkClaimClaimed(_ context.Context, id, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[id]
	if !ok {
		return core.ErrNotFound
	}
	if c.Status != core.ClaimPending {
		return core.ErrConflict
	}
	c.Status = core.ClaimClaimed
	c.ClaimedBy = &userID
	c.ClaimedAt = &at
	return nil
}

func (s *Store) MarkClaimExpired(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[id]
	if !ok {
		return core.ErrNotFound
	}
	if c.Status != core.ClaimPending {
		return core.ErrConflict
	}
	c.Status = core.ClaimExpired
	return nil
}

// ---- installations ----

func (s *Store) CreateInstallation(_ context.Context, inst *core.Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.installations {
		if other.AgentID == inst.AgentID && other.UserID == inst.UserID {
			return core.ErrConflict
		}
	}
	cp := *inst
	s.installations[inst.ID] = &cp
	return nil
}

func (s *Store) GetInstallation(_ context.Context, id string) (*core.Installation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.installations[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (s *Store) GetInstallationByAgentUser(_ context.Context, agentID, userID string) (*core.Installation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.installations {
		if inst.AgentID == agentID && inst.UserID == userID {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *Store) ListInstallationsByUser(_ context.Context, userID string) ([]*core.Installation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Installation
	for _, inst := range s.installations {
		if inst.UserID == userID {
			cp := *inst
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) UpdateInstallationPolicy(_ context.Context, id string, p core.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.installations[id]
	if !ok {
		return core.ErrNotFound
	}
	inst.Policy = p
	return nil
}

func (s *Store) SetInstallationStatus(_ context.Context, id string, status core.InstallationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.installations[id]
	if !ok {
		return core.ErrNotFound
	}
	inst.Status = status
	return nil
}

// ---- exchange codes ----

func (s *Store) CreateExchangeCode(_ context.Context, c *core.ExchangeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.codes[c.ID] = &cp
	s.codesByHash[c.CodeHash] = c.ID
	return nil
}

func (s *Store) GetExchangeCodeByHash(_ context.Context, codeHash string) (*core.ExchangeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.codesByHash[codeHash]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *s.codes[id]
	return &cp, nil
}

func (s *Store) RedeemExchangeCode(_ context.Context, codeID string, access, refresh *core.Token, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[codeID]
	if !ok {
		return core.ErrNotFound
	}
	if c.Status != core.CodePending {
		return core.ErrConflict
	}
	c.Status = core.CodeUsed
	s.insertTokenLocked(access)
	s.insertTokenLocked(refresh)
	if inst, ok := s.installations[c.InstallationID]; ok {
		t := at
		inst.LastTokenIssuedAt = &t
	}
	return nil
}

func (s *Store) insertTokenLocked(t *core.Token) {
	cp := *t
	s.tokens[t.ID] = &cp
	s.tokensByHash[t.TokenHash] = t.ID
}

// ---- tokens ----

func (s *Store) GetTokenByHash(_ context.Context, tokenHash string) (*core.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokensByHash[tokenHash]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *s.tokens[id]
	return &cp, nil
}

func (s *Store) RotateRefreshToken(_ context.Context, consumedID string, access, refresh *core.Token, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[consumedID]
	if !ok {
		return core.ErrNotFound
	}
	if t.RefreshedAt != nil || t.RevokedAt != nil {
		return core.ErrConflict
	}
	ts := at
	t.RefreshedAt = &ts
	s.insertTokenLocked(access)
	s.insertTokenLocked(refresh)
	if inst, ok := s.installations[t.InstallationID]; ok {
		inst.LastTokenIssuedAt = &ts
	}
	return nil
}

func (s *Store) RevokeInstallationTokens(_ context.Context, installationID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	ts := at
	for _, t := range s.tokens {
		if t.InstallationID == installationID && t.RevokedAt == nil {
			t.RevokedAt = &ts
			n++
		}
	}
	return n, nil
}

// ---- intents ----

func (s *Store) CreateIntent(_ context.Context, in *core.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *in
	s.intents[in.ID] = &cp
	return nil
}

func (s *Store) GetIntent(_ context.Context, id string) (*core.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (s *Store) ListIntentsByUser(_ context.Context, userID string, limit int) ([]*core.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Intent
	for _, in := range s.intents {
		if in.UserID == userID {
			cp := *in
			out = append(out, &cp)
		}
	}
	// Pendientes primero, después por creación descendente.
	sort.Slice(out, func(i, j int) bool {
		pi := out[i].Status == core.IntentPendingApproval
		pj := out[j].Status == core.IntentPendingApproval
		if pi != pj {
			return pi
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountIntentsSince(_ context.Context, installationID, kind string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, in := range s.intents {
		if in.InstallationID == installationID && in.Kind == kind && !in.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkIntentApproved(_ context.Context, id string, at time.Time, viaApprovalToken bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return core.ErrNotFound
	}
	if in.Status != core.IntentPendingApproval {
		return core.ErrConflict
	}
	ts := at
	in.Status = core.IntentApproved
	in.DecidedAt = &ts
	if viaApprovalToken {
		in.ApprovalUsedAt = &ts
	}
	return nil
}

func (s *Store) MarkIntentDenied(_ context.Context, id, reason string, at time.Time, viaApprovalToken bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return core.ErrNotFound
	}
	if in.Status != core.IntentPendingApproval {
		return core.ErrConflict
	}
	ts := at
	in.Status = core.IntentDenied
	in.DecidedAt = &ts
	in.DeniedReason = reason
	if viaApprovalToken {
		in.ApprovalUsedAt = &ts
	}
	return nil
}

func (s *Store) MarkIntentExpired(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return core.ErrNotFound
	}
	if in.Status != core.IntentPendingApproval && in.Status != core.IntentApproved {
		return core.ErrConflict
	}
	in.Status = core.IntentExpired
	return nil
}

func (s *Store) ClaimIntentExecution(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return core.ErrNotFound
	}
	if in.Status != core.IntentApproved {
		return core.ErrConflict
	}
	ts := at
	in.Status = core.IntentExecuted
	in.ExecutedAt = &ts
	return nil
}

func (s *Store) ReleaseIntentExecution(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return core.ErrNotFound
	}
	if in.Status != core.IntentExecuted {
		return core.ErrConflict
	}
	in.Status = core.IntentApproved
	in.ExecutedAt = nil
	return nil
}

func (s *Store) SetIntentResult(_ context.Context, id string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return core.ErrNotFound
	}
	in.Result = append([]byte(nil), result...)
	return nil
}

// ---- audit ----

func (s *Store) AppendAuditEvent(_ context.Context, ev *core.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.audit = append(s.audit, &cp)
	return nil
}

// AuditEvents devuelve una copia del log de auditoría (solo para tests).
func (s *Store) AuditEvents() []*core.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.AuditEvent, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close()                     {}
