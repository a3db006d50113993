package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	phc, err := Hash(Default, "rc_sec_abcdef123456")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(phc, "$argon2id$v=19$"))

	assert.True(t, Verify("rc_sec_abcdef123456", phc))
	assert.False(t, Verify("rc_sec_abcdef123457", phc))
	assert.False(t, Verify("", phc))
}

func TestHashEmptySecret(t *testing.T) {
	_, err := Hash(Default, "")
	require.Error(t, err)
}

func TestVerifyGarbagePHC(t *testing.T) {
	assert.False(t, Verify("whatever", "not-a-phc-string"))
	assert.False(t, Verify("whatever", "$argon2id$v=18$m=1,t=1,p=1$AAAA$AAAA"))
	// Segmentos de más o de menos: nunca pánico, siempre false.
	assert.False(t, Verify("whatever", "$argon2id$v=19$m=1,t=1,p=1$AAAA"))
	assert.False(t, Verify("whatever", "$argon2id$v=19$m=1,t=1,p=1$AAAA$AAAA$extra"))
}

// El PHC usa '$' como separador, que %s de Sscanf no respeta; este test fija
// que el parse por segmentos recupera los params exactos del Hash.
func TestVerifyParsesStoredParams(t *testing.T) {
	params := Params{Memory: 8 * 1024, Time: 2, Parallelism: 2, KeyLen: 16}
	phc, err := Hash(params, "rc_sec_param-roundtrip")
	require.NoError(t, err)
	assert.Contains(t, phc, "$m=8192,t=2,p=2$")
	assert.True(t, Verify("rc_sec_param-roundtrip", phc))
	assert.False(t, Verify("rc_sec_param-roundtrip2", phc))
}

func TestHashSaltsAreUnique(t *testing.T) {
	a, err := Hash(Default, "same")
	require.NoError(t, err)
	b, err := Hash(Default, "same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
