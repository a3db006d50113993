package tokens

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revclaw/revclaw/internal/audit"
	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	agentssvc "github.com/revclaw/revclaw/internal/http/services/agents"
	"github.com/revclaw/revclaw/internal/store/core"
	"github.com/revclaw/revclaw/internal/store/memory"
	"github.com/revclaw/revclaw/internal/util"
)

// setup registra un agente, completa el claim y devuelve todo lo necesario
// para canjear tokens.
func setup(t *testing.T) (*memory.Store, *Service, *agentssvc.ClaimResult, *agentssvc.RegisterResult) {
	t.Helper()
	repo := memory.New()
	ag := agentssvc.New(repo, audit.Nop{}, 10*time.Minute, 5*time.Minute)
	svc := New(repo, audit.Nop{}, 15*time.Minute, 720*time.Hour)

	reg, err := ag.Register(context.Background(), agentssvc.RegisterInput{
		Name:            "proposal-bot",
		RequestedScopes: []string{"projects:publish", "applications:write"},
	})
	require.NoError(t, err)

	cl, err := ag.Claim(context.Background(), agentssvc.ClaimInput{
		ClaimID:             reg.ClaimID,
		AgentID:             reg.AgentID,
		VerifiedPrincipalID: "tg-1001",
	})
	require.NoError(t, err)
	return repo, svc, cl, reg
}

func code(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	return httperrors.FromError(err).Code
}

func TestExchangeIssuesPair(t *testing.T) {
	_, svc, cl, reg := setup(t)

	pair, err := svc.Exchange(context.Background(), ExchangeInput{
		AgentID:      reg.AgentID,
		AgentSecret:  reg.AgentSecret,
		ExchangeCode: cl.ExchangeCode,
	})
	require.NoError(t, err)
	assert.Contains(t, pair.AccessToken, "rc_at_")
	assert.Contains(t, pair.RefreshToken, "rc_rt_")
	assert.Equal(t, cl.InstallationID, pair.InstallationID)
	assert.ElementsMatch(t, []string{"applications:write", "projects:publish"}, pair.Scopes)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64((15*time.Minute).Seconds()), pair.ExpiresIn)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), pair.AccessExpiresAt, time.Minute)
}

func TestExchangeCodeIsSingleUse(t *testing.T) {
	_, svc, cl, reg := setup(t)

	in := ExchangeInput{AgentID: reg.AgentID, AgentSecret: reg.AgentSecret, ExchangeCode: cl.ExchangeCode}
	_, err := svc.Exchange(context.Background(), in)
	require.NoError(t, err)

	_, err = svc.Exchange(context.Background(), in)
	assert.Equal(t, "code_already_used", code(t, err))
}

func TestExchangeRejectsBadCredentials(t *testing.T) {
	_, svc, cl, reg := setup(t)

	_, err := svc.Exchange(context.Background(), ExchangeInput{
		AgentID: reg.AgentID, AgentSecret: "rc_sec_wrong", ExchangeCode: cl.ExchangeCode,
	})
	assert.Equal(t, "invalid_client", code(t, err))

	_, err = svc.Exchange(context.Background(), ExchangeInput{
		AgentID: reg.AgentID, AgentSecret: reg.AgentSecret, ExchangeCode: "rc_xchg_nope",
	})
	assert.Equal(t, "invalid_client", code(t, err))
}

func TestRefreshRotates(t *testing.T) {
	_, svc, cl, reg := setup(t)
	pair, err := svc.Exchange(context.Background(), ExchangeInput{
		AgentID: reg.AgentID, AgentSecret: reg.AgentSecret, ExchangeCode: cl.ExchangeCode,
	})
	require.NoError(t, err)

	next, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, next.AccessToken)
	assert.Equal(t, pair.Scopes, next.Scopes)

	// El nuevo par queda utilizable.
	auth, err := svc.Authenticate(context.Background(), next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, cl.InstallationID, auth.InstallationID)
}

func TestRefreshReplayRevokesChain(t *testing.T) {
	_, svc, cl, reg := setup(t)
	pair, err := svc.Exchange(context.Background(), ExchangeInput{
		AgentID: reg.AgentID, AgentSecret: reg.AgentSecret, ExchangeCode: cl.ExchangeCode,
	})
	require.NoError(t, err)

	next, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)

	// Replay del refresh viejo: 403 y cadena entera afuera.
	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	assert.Equal(t, "reuse_detected", code(t, err))

	_, err = svc.Authenticate(context.Background(), next.AccessToken)
	assert.Equal(t, "invalid_token", code(t, err))
	_, err = svc.Refresh(context.Background(), next.RefreshToken)
	assert.Equal(t, "invalid_token", code(t, err))
}

func TestRefreshReplayAuditTrail(t *testing.T) {
	repo := memory.New()
	ag := agentssvc.New(repo, audit.Nop{}, 10*time.Minute, 5*time.Minute)
	svc := New(repo, audit.NewStoreRecorder(repo), 15*time.Minute, 720*time.Hour)

	reg, err := ag.Register(context.Background(), agentssvc.RegisterInput{
		Name: "bot", RequestedScopes: []string{"projects:publish"},
	})
	require.NoError(t, err)
	cl, err := ag.Claim(context.Background(), agentssvc.ClaimInput{
		ClaimID: reg.ClaimID, AgentID: reg.AgentID, VerifiedPrincipalID: "tg-7",
	})
	require.NoError(t, err)
	pair, err := svc.Exchange(context.Background(), ExchangeInput{
		AgentID: reg.AgentID, AgentSecret: reg.AgentSecret, ExchangeCode: cl.ExchangeCode,
	})
	require.NoError(t, err)
	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	_, _ = svc.Refresh(context.Background(), pair.RefreshToken)

	var found bool
	for _, ev := range repo.AuditEvents() {
		if ev.Action == "token.reuse_detected" {
			found = true
			assert.Equal(t, "installation:"+cl.InstallationID, ev.Subject)
			// El token replayado queda enmascarado, nunca en plaintext.
			presented, _ := ev.Fields["presented"].(string)
			assert.Equal(t, util.MaskSecret(pair.RefreshToken), presented)
			assert.NotContains(t, presented, pair.RefreshToken)
		}
	}
	assert.True(t, found, "expected token.reuse_detected in the audit trail")
}

func TestConcurrentRefreshLoserEscalates(t *testing.T) {
	_, svc, cl, reg := setup(t)
	pair, err := svc.Exchange(context.Background(), ExchangeInput{
		AgentID: reg.AgentID, AgentSecret: reg.AgentSecret, ExchangeCode: cl.ExchangeCode,
	})
	require.NoError(t, err)

	type res struct {
		pair *TokenPair
		err  error
	}
	results := make(chan res, 2)
	for i := 0; i < 2; i++ {
		go func() {
			p, err := svc.Refresh(context.Background(), pair.RefreshToken)
			results <- res{p, err}
		}()
	}
	a, b := <-results, <-results

	// Exactamente uno gana; el otro se trata como replay.
	winners := 0
	for _, r := range []res{a, b} {
		if r.err == nil {
			winners++
		} else {
			assert.Equal(t, "reuse_detected", httperrors.FromError(r.err).Code)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestAuthenticateRejectsRefreshToken(t *testing.T) {
	_, svc, cl, reg := setup(t)
	pair, err := svc.Exchange(context.Background(), ExchangeInput{
		AgentID: reg.AgentID, AgentSecret: reg.AgentSecret, ExchangeCode: cl.ExchangeCode,
	})
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), pair.RefreshToken)
	assert.Equal(t, "invalid_token", code(t, err))

	// Y al revés: un access no rota. Es un 400 de tipo, no un 401.
	_, err = svc.Refresh(context.Background(), pair.AccessToken)
	assert.Equal(t, "token_type_mismatch", code(t, err))
	assert.Equal(t, http.StatusBadRequest, httperrors.FromError(err).HTTPStatus)
	_ = cl
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	repo, _, cl, reg := setup(t)
	svc := New(repo, audit.Nop{}, -time.Minute, 720*time.Hour) // ya nace vencido

	pair, err := svc.Exchange(context.Background(), ExchangeInput{
		AgentID: reg.AgentID, AgentSecret: reg.AgentSecret, ExchangeCode: cl.ExchangeCode,
	})
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), pair.AccessToken)
	assert.Equal(t, "invalid_token", code(t, err))
}

func TestSuspendedAgentBlocksRefresh(t *testing.T) {
	repo, svc, cl, reg := setup(t)
	pair, err := svc.Exchange(context.Background(), ExchangeInput{
		AgentID: reg.AgentID, AgentSecret: reg.AgentSecret, ExchangeCode: cl.ExchangeCode,
	})
	require.NoError(t, err)

	require.NoError(t, repo.SetAgentStatus(context.Background(), reg.AgentID, core.AgentSuspended))

	// Suspender el agente corta la rotación aunque la instalación siga ACTIVE.
	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	assert.Equal(t, "installation_inactive", code(t, err))
	_, err = svc.Authenticate(context.Background(), pair.AccessToken)
	assert.Equal(t, "installation_inactive", code(t, err))
}

func TestRevokedInstallationBlocksEverything(t *testing.T) {
	repo, svc, cl, reg := setup(t)
	pair, err := svc.Exchange(context.Background(), ExchangeInput{
		AgentID: reg.AgentID, AgentSecret: reg.AgentSecret, ExchangeCode: cl.ExchangeCode,
	})
	require.NoError(t, err)

	require.NoError(t, repo.SetInstallationStatus(context.Background(), cl.InstallationID, core.InstallationRevoked))

	_, err = svc.Authenticate(context.Background(), pair.AccessToken)
	assert.Equal(t, "installation_inactive", code(t, err))
	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	assert.Equal(t, "installation_inactive", code(t, err))
}
