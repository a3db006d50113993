package agents

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revclaw/revclaw/internal/audit"
	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	"github.com/revclaw/revclaw/internal/store/core"
	"github.com/revclaw/revclaw/internal/store/memory"
)

func newService(t *testing.T) (*memory.Store, *Service) {
	t.Helper()
	repo := memory.New()
	return repo, New(repo, audit.Nop{}, 10*time.Minute, 5*time.Minute)
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	return httperrors.FromError(err).Code
}

func TestRegisterReturnsSecretOnce(t *testing.T) {
	repo, svc := newService(t)

	out, err := svc.Register(context.Background(), RegisterInput{
		Name:            "proposal-bot",
		RequestedScopes: []string{"projects:publish", "projects:publish", " applications:write "},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.AgentSecret, "rc_sec_"))
	assert.True(t, strings.HasPrefix(out.ClaimID, "rc_claim_"))

	// En reposo solo queda el hash argon2id, nunca el plaintext.
	agent, err := repo.GetAgent(context.Background(), out.AgentID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(agent.SecretHash, "$argon2id$"))
	assert.NotContains(t, agent.SecretHash, out.AgentSecret)

	claim, err := repo.GetClaim(context.Background(), out.ClaimID)
	require.NoError(t, err)
	// Normalizados: sin duplicados, sin espacios, orden estable.
	assert.Equal(t, []string{"applications:write", "projects:publish"}, claim.RequestedScopes)
}

func TestRegisterValidation(t *testing.T) {
	_, svc := newService(t)

	_, err := svc.Register(context.Background(), RegisterInput{RequestedScopes: []string{"a:b"}})
	assert.Equal(t, "validation_failed", errCode(t, err))

	_, err = svc.Register(context.Background(), RegisterInput{Name: "x"})
	assert.Equal(t, "validation_failed", errCode(t, err))

	_, err = svc.Register(context.Background(), RegisterInput{Name: "x", RequestedScopes: []string{"NOT VALID"}})
	assert.Equal(t, "validation_failed", errCode(t, err))
}

func TestClaimCreatesInstallation(t *testing.T) {
	repo, svc := newService(t)
	reg, err := svc.Register(context.Background(), RegisterInput{
		Name: "bot", RequestedScopes: []string{"projects:publish", "coupons:write"},
	})
	require.NoError(t, err)

	out, err := svc.Claim(context.Background(), ClaimInput{
		ClaimID:             reg.ClaimID,
		AgentID:             reg.AgentID,
		VerifiedPrincipalID: "tg-42",
		GrantedScopes:       []string{"projects:publish"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.ExchangeCode, "rc_xchg_"))
	assert.Equal(t, []string{"projects:publish"}, out.GrantedScopes)
	assert.False(t, out.AlreadyClaimed)

	inst, err := repo.GetInstallation(context.Background(), out.InstallationID)
	require.NoError(t, err)
	assert.Equal(t, core.InstallationActive, inst.Status)
	assert.True(t, inst.Policy.RequireApprovalPublish, "default policy is conservative")
}

func TestClaimRejectsScopeEscalation(t *testing.T) {
	_, svc := newService(t)
	reg, err := svc.Register(context.Background(), RegisterInput{
		Name: "bot", RequestedScopes: []string{"projects:publish"},
	})
	require.NoError(t, err)

	_, err = svc.Claim(context.Background(), ClaimInput{
		ClaimID:             reg.ClaimID,
		AgentID:             reg.AgentID,
		VerifiedPrincipalID: "tg-42",
		GrantedScopes:       []string{"projects:publish", "coupons:write"},
	})
	assert.Equal(t, "validation_failed", errCode(t, err))
}

func TestClaimIdempotentForSamePrincipal(t *testing.T) {
	_, svc := newService(t)
	reg, err := svc.Register(context.Background(), RegisterInput{
		Name: "bot", RequestedScopes: []string{"projects:publish"},
	})
	require.NoError(t, err)

	in := ClaimInput{ClaimID: reg.ClaimID, AgentID: reg.AgentID, VerifiedPrincipalID: "tg-42"}
	first, err := svc.Claim(context.Background(), in)
	require.NoError(t, err)

	second, err := svc.Claim(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first.InstallationID, second.InstallationID)
	assert.True(t, second.AlreadyClaimed)
	// El code es fresco en cada re-claim.
	assert.NotEqual(t, first.ExchangeCode, second.ExchangeCode)
}

func TestClaimConflictForDifferentPrincipal(t *testing.T) {
	_, svc := newService(t)
	reg, err := svc.Register(context.Background(), RegisterInput{
		Name: "bot", RequestedScopes: []string{"projects:publish"},
	})
	require.NoError(t, err)

	_, err = svc.Claim(context.Background(), ClaimInput{
		ClaimID: reg.ClaimID, AgentID: reg.AgentID, VerifiedPrincipalID: "tg-1",
	})
	require.NoError(t, err)

	_, err = svc.Claim(context.Background(), ClaimInput{
		ClaimID: reg.ClaimID, AgentID: reg.AgentID, VerifiedPrincipalID: "tg-2",
	})
	assert.Equal(t, "claim_already_used", errCode(t, err))
}

func TestClaimExpires(t *testing.T) {
	repo := memory.New()
	svc := New(repo, audit.Nop{}, -time.Minute, 5*time.Minute) // nace vencido

	reg, err := svc.Register(context.Background(), RegisterInput{
		Name: "bot", RequestedScopes: []string{"projects:publish"},
	})
	require.NoError(t, err)

	_, err = svc.Claim(context.Background(), ClaimInput{
		ClaimID: reg.ClaimID, AgentID: reg.AgentID, VerifiedPrincipalID: "tg-1",
	})
	assert.Equal(t, "claim_expired", errCode(t, err))

	// La transición lazy quedó persistida.
	claim, err := repo.GetClaim(context.Background(), reg.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, core.ClaimExpired, claim.Status)
}

func TestClaimWrongAgentLooksNonexistent(t *testing.T) {
	_, svc := newService(t)
	reg, err := svc.Register(context.Background(), RegisterInput{
		Name: "bot", RequestedScopes: []string{"projects:publish"},
	})
	require.NoError(t, err)
	other, err := svc.Register(context.Background(), RegisterInput{
		Name: "other", RequestedScopes: []string{"projects:publish"},
	})
	require.NoError(t, err)

	_, err = svc.Claim(context.Background(), ClaimInput{
		ClaimID: reg.ClaimID, AgentID: other.AgentID, VerifiedPrincipalID: "tg-1",
	})
	assert.Equal(t, "claim_not_found", errCode(t, err))
}
