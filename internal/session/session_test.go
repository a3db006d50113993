package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	iss, err := New("revclaw-test", time.Hour, "unit-seed")
	require.NoError(t, err)

	tok, exp, err := iss.Issue("user-123")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	sub, err := iss.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-123", sub)
}

func TestParseRejectsForeignIssuer(t *testing.T) {
	a, err := New("issuer-a", time.Hour, "seed-a")
	require.NoError(t, err)
	b, err := New("issuer-b", time.Hour, "seed-b")
	require.NoError(t, err)

	tok, _, err := a.Issue("user-123")
	require.NoError(t, err)

	_, err = b.Parse(tok)
	require.Error(t, err, "different key and issuer must fail")
}

func TestParseRejectsExpired(t *testing.T) {
	iss, err := New("revclaw-test", time.Nanosecond, "unit-seed")
	require.NoError(t, err)
	// New clampa TTL<=0 a 1h pero 1ns es válido y expira enseguida.
	tok, _, err := iss.Issue("user-123")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = iss.Parse(tok)
	require.Error(t, err)
}

func TestSeededKeyIsDeterministic(t *testing.T) {
	a, err := New("revclaw", time.Hour, "same-seed")
	require.NoError(t, err)
	b, err := New("revclaw", time.Hour, "same-seed")
	require.NoError(t, err)

	tok, _, err := a.Issue("u1")
	require.NoError(t, err)
	sub, err := b.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)
}
