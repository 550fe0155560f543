package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/vaultcore/internal/store/adapters/memory"
)

func TestStoreLimiter_BlocksAfterMax(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewStoreLimiter(memory.New().Throttle(), "recovery:", 3, time.Hour)
	l.Now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Hour, res.RetryAfter)

	// otra cuenta no se ve afectada
	res, _ = l.Allow(ctx, "u2")
	assert.True(t, res.Allowed)

	require.NoError(t, l.Reset(ctx, "u1"))
	res, _ = l.Allow(ctx, "u1")
	assert.True(t, res.Allowed)
}

func TestStoreLimiter_PeekDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	l := NewStoreLimiter(memory.New().Throttle(), "recovery:", 2, time.Hour)
	l.Now = func() time.Time { return now }

	res, err := l.Peek(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.CurrentHits)
	assert.Equal(t, int64(2), res.Remaining)

	_, _ = l.Allow(ctx, "u1")
	_, _ = l.Allow(ctx, "u1")
	for i := 0; i < 3; i++ {
		res, err = l.Peek(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, int64(2), res.CurrentHits)
		assert.Equal(t, 30*time.Minute, res.RetryAfter)
	}

	// la ventana siguiente arranca de cero
	now = now.Add(time.Hour)
	res, _ = l.Peek(ctx, "u1")
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.CurrentHits)
}

func TestKeyedLimiter_Burst(t *testing.T) {
	l := NewKeyedLimiter(0.001, 2, time.Minute)
	ctx := context.Background()

	r1, _ := l.Allow(ctx, "1.2.3.4")
	r2, _ := l.Allow(ctx, "1.2.3.4")
	r3, _ := l.Allow(ctx, "1.2.3.4")
	assert.True(t, r1.Allowed)
	assert.True(t, r2.Allowed)
	assert.False(t, r3.Allowed)
	assert.Greater(t, r3.RetryAfter, time.Duration(0))

	other, _ := l.Allow(ctx, "5.6.7.8")
	assert.True(t, other.Allowed)
}
