package installations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revclaw/revclaw/internal/audit"
	httperrors "github.com/revclaw/revclaw/internal/http/errors"
	agentssvc "github.com/revclaw/revclaw/internal/http/services/agents"
	tokenssvc "github.com/revclaw/revclaw/internal/http/services/tokens"
	"github.com/revclaw/revclaw/internal/store/core"
	"github.com/revclaw/revclaw/internal/store/memory"
)

func setup(t *testing.T) (*memory.Store, *Service, *tokenssvc.Service, *agentssvc.ClaimResult, *agentssvc.RegisterResult) {
	t.Helper()
	repo := memory.New()
	ag := agentssvc.New(repo, audit.Nop{}, 10*time.Minute, 5*time.Minute)
	tok := tokenssvc.New(repo, audit.Nop{}, 15*time.Minute, 720*time.Hour)
	svc := New(repo, audit.Nop{})

	reg, err := ag.Register(context.Background(), agentssvc.RegisterInput{
		Name: "bot", RequestedScopes: []string{"projects:publish"},
	})
	require.NoError(t, err)
	cl, err := ag.Claim(context.Background(), agentssvc.ClaimInput{
		ClaimID: reg.ClaimID, AgentID: reg.AgentID, VerifiedPrincipalID: "tg-5",
	})
	require.NoError(t, err)
	return repo, svc, tok, cl, reg
}

func TestListAndGetScopedToOwner(t *testing.T) {
	_, svc, _, cl, _ := setup(t)

	items, err := svc.List(context.Background(), cl.UserID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, cl.InstallationID, items[0].ID)

	_, err = svc.Get(context.Background(), "someone-else", cl.InstallationID)
	require.Error(t, err)
	assert.Equal(t, "not_found", httperrors.FromError(err).Code)
}

func TestPolicyPatchIsPartial(t *testing.T) {
	_, svc, _, cl, _ := setup(t)

	off := false
	limit := 3
	inst, err := svc.UpdatePolicy(context.Background(), cl.UserID, cl.InstallationID, PolicyPatch{
		RequireApprovalPublish: &off,
		DailyApplyLimit:        &limit,
	})
	require.NoError(t, err)
	assert.False(t, inst.Policy.RequireApprovalPublish)
	assert.True(t, inst.Policy.RequireApprovalApply, "untouched fields keep their value")
	assert.Equal(t, 3, inst.Policy.DailyApplyLimit)

	neg := -1
	_, err = svc.UpdatePolicy(context.Background(), cl.UserID, cl.InstallationID, PolicyPatch{
		DailyApplyLimit: &neg,
	})
	require.Error(t, err)
	assert.Equal(t, "validation_failed", httperrors.FromError(err).Code)
}

func TestRevokeCascadesToTokens(t *testing.T) {
	repo, svc, tok, cl, reg := setup(t)

	pair, err := tok.Exchange(context.Background(), tokenssvc.ExchangeInput{
		AgentID: reg.AgentID, AgentSecret: reg.AgentSecret, ExchangeCode: cl.ExchangeCode,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), cl.UserID, cl.InstallationID))

	inst, err := repo.GetInstallation(context.Background(), cl.InstallationID)
	require.NoError(t, err)
	assert.Equal(t, core.InstallationRevoked, inst.Status)

	_, err = tok.Authenticate(context.Background(), pair.AccessToken)
	require.Error(t, err)
	_, err = tok.Refresh(context.Background(), pair.RefreshToken)
	require.Error(t, err)

	// Revocar de nuevo es un no-op.
	require.NoError(t, svc.Revoke(context.Background(), cl.UserID, cl.InstallationID))
}
