package intents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revclaw/revclaw/internal/audit"
	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	agentssvc "github.com/revclaw/revclaw/internal/http/services/agents"
	"github.com/revclaw/revclaw/internal/http/middlewares"
	"github.com/revclaw/revclaw/internal/intent"
	"github.com/revclaw/revclaw/internal/store/core"
	"github.com/revclaw/revclaw/internal/store/memory"
)

// fakeExecutor cuenta ejecuciones y puede fallar a demanda.
type fakeExecutor struct {
	calls atomic.Int64
	fail  atomic.Bool
}

func (f *fakeExecutor) Execute(_ context.Context, kind intent.ActionKind, _ json.RawMessage) (json.RawMessage, error) {
	if f.fail.Load() {
		return nil, fmt.Errorf("marketplace down")
	}
	f.calls.Add(1)
	return json.RawMessage(fmt.Sprintf(`{"executed":%q}`, kind)), nil
}

// fakeSender captura el approval token de los magic links enviados.
type fakeSender struct {
	mu     sync.Mutex
	tokens []string
}

func (f *fakeSender) Send(_, _, _, textBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, line := range strings.Fields(textBody) {
		if u, err := url.Parse(line); err == nil {
			if tok := u.Query().Get("token"); tok != "" {
				f.tokens = append(f.tokens, tok)
				return nil
			}
		}
	}
	return nil
}

func (f *fakeSender) last(t *testing.T) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.tokens, "no approval mail captured")
	return f.tokens[len(f.tokens)-1]
}

type env struct {
	repo   *memory.Store
	svc    *Service
	exec   *fakeExecutor
	mail   *fakeSender
	auth   *middlewares.AgentAuth
	instID string
	userID string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repo := memory.New()
	exec := &fakeExecutor{}
	mail := &fakeSender{}
	svc := New(repo, audit.Nop{}, exec, mail, "http://localhost:8080", 24*time.Hour, 24*time.Hour)

	ag := agentssvc.New(repo, audit.Nop{}, 10*time.Minute, 5*time.Minute)
	reg, err := ag.Register(context.Background(), agentssvc.RegisterInput{
		Name:            "proposal-bot",
		RequestedScopes: []string{"projects:publish", "applications:write", "coupons:write"},
	})
	require.NoError(t, err)
	cl, err := ag.Claim(context.Background(), agentssvc.ClaimInput{
		ClaimID:             reg.ClaimID,
		AgentID:             reg.AgentID,
		VerifiedPrincipalID: "tg-9",
		PrincipalEmail:      "owner@example.com",
	})
	require.NoError(t, err)

	return &env{
		repo: repo,
		svc:  svc,
		exec: exec,
		mail: mail,
		auth: &middlewares.AgentAuth{
			AgentID:        reg.AgentID,
			UserID:         cl.UserID,
			InstallationID: cl.InstallationID,
			Scopes:         cl.GrantedScopes,
		},
		instID: cl.InstallationID,
		userID: cl.UserID,
	}
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	return httperrors.FromError(err).Code
}

func publishPayload(project string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"project_id":%q,"title":"Site"}`, project))
}

func (e *env) createApproved(t *testing.T, payload json.RawMessage) string {
	t.Helper()
	out, err := e.svc.Create(context.Background(), e.auth, CreateInput{
		Kind: string(intent.KindProjectPublish), Payload: payload,
	})
	require.NoError(t, err)
	_, err = e.svc.Decide(context.Background(), Authority{UserID: e.userID}, DecideInput{
		IntentID: out.IntentID, Approve: true,
	})
	require.NoError(t, err)
	return out.IntentID
}

func TestCreatePendingAndHash(t *testing.T) {
	e := newEnv(t)

	out, err := e.svc.Create(context.Background(), e.auth, CreateInput{
		Kind:    string(intent.KindProjectPublish),
		Payload: json.RawMessage(`{"title":"Site","project_id":"p-1"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "PENDING_APPROVAL", out.Status)
	assert.False(t, out.Bypassed)

	// El hash es sobre el JSON canónico: orden de claves irrelevante.
	out2, err := e.svc.Create(context.Background(), e.auth, CreateInput{
		Kind:    string(intent.KindProjectPublish),
		Payload: json.RawMessage(`{"project_id":"p-1","title":"Site"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, out.PayloadHash, out2.PayloadHash)
}

func TestCreateRequiresScope(t *testing.T) {
	e := newEnv(t)
	e.auth.Scopes = []string{"applications:write"}

	_, err := e.svc.Create(context.Background(), e.auth, CreateInput{
		Kind: string(intent.KindProjectPublish), Payload: publishPayload("p-1"),
	})
	assert.Equal(t, "insufficient_scope", errCode(t, err))
}

func TestCreateBypassWhenPolicyAllows(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.repo.UpdateInstallationPolicy(context.Background(), e.instID, core.Policy{
		RequireApprovalPublish: false,
		RequireApprovalApply:   true,
	}))

	out, err := e.svc.Create(context.Background(), e.auth, CreateInput{
		Kind: string(intent.KindProjectPublish), Payload: publishPayload("p-1"),
	})
	require.NoError(t, err)
	assert.True(t, out.Bypassed)
	assert.Empty(t, out.IntentID)
}

func TestDailyApplyLimit(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.repo.UpdateInstallationPolicy(context.Background(), e.instID, core.Policy{
		RequireApprovalApply: true,
		DailyApplyLimit:      2,
	}))

	apply := func() error {
		_, err := e.svc.Create(context.Background(), e.auth, CreateInput{
			Kind:    string(intent.KindApplicationSubmit),
			Payload: json.RawMessage(`{"project_id":"p-9","cover_letter":"hi"}`),
		})
		return err
	}
	require.NoError(t, apply())
	require.NoError(t, apply())
	assert.Equal(t, "daily_limit_reached", errCode(t, apply()))
}

func TestApproveThenExecuteExactlyOnce(t *testing.T) {
	e := newEnv(t)
	payload := publishPayload("p-1")
	id := e.createApproved(t, payload)

	out, err := e.svc.Execute(context.Background(), e.auth, id, payload)
	require.NoError(t, err)
	assert.Equal(t, "EXECUTED", out.Status)
	assert.Equal(t, int64(1), e.exec.calls.Load())

	_, err = e.svc.Execute(context.Background(), e.auth, id, payload)
	assert.Equal(t, "intent_already_executed", errCode(t, err))
	assert.Equal(t, int64(1), e.exec.calls.Load())
}

func TestConcurrentExecuteSingleSideEffect(t *testing.T) {
	e := newEnv(t)
	payload := publishPayload("p-1")
	id := e.createApproved(t, payload)

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := e.svc.Execute(context.Background(), e.auth, id, payload)
			errs <- err
		}()
	}
	ok := 0
	for i := 0; i < n; i++ {
		if err := <-errs; err == nil {
			ok++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(1), e.exec.calls.Load())
}

func TestExecutePayloadMismatch(t *testing.T) {
	e := newEnv(t)
	id := e.createApproved(t, publishPayload("p-1"))

	_, err := e.svc.Execute(context.Background(), e.auth, id, publishPayload("p-OTHER"))
	assert.Equal(t, "payload_mismatch", errCode(t, err))
	assert.Equal(t, int64(0), e.exec.calls.Load())

	// El intent sigue APPROVED y ejecutable con el payload correcto.
	out, err := e.svc.Execute(context.Background(), e.auth, id, publishPayload("p-1"))
	require.NoError(t, err)
	assert.Equal(t, "EXECUTED", out.Status)
}

func TestExecuteRequiresApproval(t *testing.T) {
	e := newEnv(t)
	payload := publishPayload("p-1")
	out, err := e.svc.Create(context.Background(), e.auth, CreateInput{
		Kind: string(intent.KindProjectPublish), Payload: payload,
	})
	require.NoError(t, err)

	_, err = e.svc.Execute(context.Background(), e.auth, out.IntentID, payload)
	assert.Equal(t, "intent_not_approved", errCode(t, err))
}

func TestDenyThenExecute(t *testing.T) {
	e := newEnv(t)
	payload := publishPayload("p-1")
	out, err := e.svc.Create(context.Background(), e.auth, CreateInput{
		Kind: string(intent.KindProjectPublish), Payload: payload,
	})
	require.NoError(t, err)

	_, err = e.svc.Decide(context.Background(), Authority{UserID: e.userID}, DecideInput{
		IntentID: out.IntentID, Approve: false, Reason: "not today",
	})
	require.NoError(t, err)

	_, err = e.svc.Execute(context.Background(), e.auth, out.IntentID, payload)
	assert.Equal(t, "intent_already_denied", errCode(t, err))
	assert.Equal(t, int64(0), e.exec.calls.Load())
}

func TestDecideIsSingleShot(t *testing.T) {
	e := newEnv(t)
	out, err := e.svc.Create(context.Background(), e.auth, CreateInput{
		Kind: string(intent.KindProjectPublish), Payload: publishPayload("p-1"),
	})
	require.NoError(t, err)

	_, err = e.svc.Decide(context.Background(), Authority{UserID: e.userID}, DecideInput{
		IntentID: out.IntentID, Approve: true,
	})
	require.NoError(t, err)

	_, err = e.svc.Decide(context.Background(), Authority{UserID: e.userID}, DecideInput{
		IntentID: out.IntentID, Approve: false,
	})
	assert.Equal(t, "intent_already_decided", errCode(t, err))
}

func TestDecideOnlyOwner(t *testing.T) {
	e := newEnv(t)
	out, err := e.svc.Create(context.Background(), e.auth, CreateInput{
		Kind: string(intent.KindProjectPublish), Payload: publishPayload("p-1"),
	})
	require.NoError(t, err)

	_, err = e.svc.Decide(context.Background(), Authority{UserID: "someone-else"}, DecideInput{
		IntentID: out.IntentID, Approve: true,
	})
	assert.Equal(t, "not_owner", errCode(t, err))
}

func TestMagicLinkApprove(t *testing.T) {
	e := newEnv(t)
	payload := publishPayload("p-1")
	out, err := e.svc.Create(context.Background(), e.auth, CreateInput{
		Kind: string(intent.KindProjectPublish), Payload: payload,
	})
	require.NoError(t, err)

	tok := e.mail.last(t)
	_, err = e.svc.Decide(context.Background(), Authority{ApprovalToken: tok}, DecideInput{
		IntentID: out.IntentID, Approve: true,
	})
	require.NoError(t, err)

	// El link es de un solo uso aunque la decisión ya esté tomada.
	_, err = e.svc.Decide(context.Background(), Authority{ApprovalToken: tok}, DecideInput{
		IntentID: out.IntentID, Approve: false,
	})
	assert.Equal(t, "intent_already_decided", errCode(t, err))

	res, err := e.svc.Execute(context.Background(), e.auth, out.IntentID, payload)
	require.NoError(t, err)
	assert.Equal(t, "EXECUTED", res.Status)
}

func TestMagicLinkWrongToken(t *testing.T) {
	e := newEnv(t)
	out, err := e.svc.Create(context.Background(), e.auth, CreateInput{
		Kind: string(intent.KindProjectPublish), Payload: publishPayload("p-1"),
	})
	require.NoError(t, err)

	_, err = e.svc.Decide(context.Background(), Authority{ApprovalToken: "rc_appr_forged"}, DecideInput{
		IntentID: out.IntentID, Approve: true,
	})
	assert.Equal(t, "approval_token_used", errCode(t, err))
}

func TestExpiredIntent(t *testing.T) {
	e := newEnv(t)
	e.svc.IntentTTL = -time.Minute // nace vencido

	payload := publishPayload("p-1")
	out, err := e.svc.Create(context.Background(), e.auth, CreateInput{
		Kind: string(intent.KindProjectPublish), Payload: payload,
	})
	require.NoError(t, err)

	_, err = e.svc.Decide(context.Background(), Authority{UserID: e.userID}, DecideInput{
		IntentID: out.IntentID, Approve: true,
	})
	assert.Equal(t, "intent_expired", errCode(t, err))

	_, err = e.svc.Execute(context.Background(), e.auth, out.IntentID, payload)
	assert.Equal(t, "intent_expired", errCode(t, err))
}

// La aprobación no alarga la vida del intent: pasado expires_at un APPROVED
// tampoco se puede ejecutar, y la expiración queda persistida.
func TestApprovedIntentExpires(t *testing.T) {
	e := newEnv(t)
	e.svc.IntentTTL = 60 * time.Millisecond

	payload := publishPayload("p-1")
	id := e.createApproved(t, payload)

	time.Sleep(120 * time.Millisecond)

	_, err := e.svc.Execute(context.Background(), e.auth, id, payload)
	assert.Equal(t, "intent_expired", errCode(t, err))
	assert.Equal(t, int64(0), e.exec.calls.Load())

	it, err := e.repo.GetIntent(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, core.IntentExpired, it.Status)
}

func TestCollaboratorFailureReleasesClaim(t *testing.T) {
	e := newEnv(t)
	payload := publishPayload("p-1")
	id := e.createApproved(t, payload)

	e.exec.fail.Store(true)
	_, err := e.svc.Execute(context.Background(), e.auth, id, payload)
	assert.Equal(t, "collaborator_error", errCode(t, err))

	// El claim se devolvió: un retry posterior ejecuta.
	e.exec.fail.Store(false)
	out, err := e.svc.Execute(context.Background(), e.auth, id, payload)
	require.NoError(t, err)
	assert.Equal(t, "EXECUTED", out.Status)
	assert.Equal(t, int64(1), e.exec.calls.Load())
}

func TestExecuteForeignIntentLooksNonexistent(t *testing.T) {
	e := newEnv(t)
	id := e.createApproved(t, publishPayload("p-1"))

	stranger := &middlewares.AgentAuth{
		AgentID:        "other-agent",
		UserID:         "other-user",
		InstallationID: "other-installation",
		Scopes:         []string{"projects:publish"},
	}
	_, err := e.svc.Execute(context.Background(), stranger, id, publishPayload("p-1"))
	assert.Equal(t, "intent_not_found", errCode(t, err))
}

func TestListPendingFirst(t *testing.T) {
	e := newEnv(t)
	first, err := e.svc.Create(context.Background(), e.auth, CreateInput{
		Kind: string(intent.KindProjectPublish), Payload: publishPayload("p-1"),
	})
	require.NoError(t, err)
	_, err = e.svc.Decide(context.Background(), Authority{UserID: e.userID}, DecideInput{
		IntentID: first.IntentID, Approve: true,
	})
	require.NoError(t, err)

	second, err := e.svc.Create(context.Background(), e.auth, CreateInput{
		Kind: string(intent.KindProjectPublish), Payload: publishPayload("p-2"),
	})
	require.NoError(t, err)

	items, err := e.svc.List(context.Background(), e.userID, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.IntentID, items[0].ID, "pending intents come first")
}
