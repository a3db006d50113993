package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateOpaque(t *testing.T) {
	a, err := GenerateOpaque(PrefixRefreshToken, 32)
	require.NoError(t, err)
	b, err := GenerateOpaque(PrefixRefreshToken, 32)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "rc_rt_"))
	assert.NotEqual(t, a, b, "two mints must never collide")
	// 32 bytes base64url sin padding = 43 chars
	assert.Len(t, strings.TrimPrefix(a, PrefixRefreshToken), 43)
}

func TestSHA256Base64URL(t *testing.T) {
	h1 := SHA256Base64URL("rc_at_abc")
	h2 := SHA256Base64URL("rc_at_abc")
	h3 := SHA256Base64URL("rc_at_abd")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.NotContains(t, h1, "=")
	assert.True(t, HashEqual(h1, h2))
	assert.False(t, HashEqual(h1, h3))
}
