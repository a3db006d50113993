package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	l := NewMemoryLimiter(3, time.Minute)
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	ctx := context.Background()
	key := KeyFor("refresh", "agent-1")

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "hit %d within limit", i)
	}

	res, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))

	// La ventana desliza: 61s después el primer hit salió y vuelve a permitir.
	now = now.Add(61 * time.Second)
	res, err = l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute)
	ctx := context.Background()

	res, err := l.Allow(ctx, KeyFor("refresh", "a"))
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, KeyFor("refresh", "a"))
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = l.Allow(ctx, KeyFor("refresh", "b"))
	require.NoError(t, err)
	assert.True(t, res.Allowed, "another caller has its own window")
}
