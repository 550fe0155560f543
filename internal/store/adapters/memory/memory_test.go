package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

func TestDevices_ConcurrentPairingRespectsCeiling(t *testing.T) {
	ctx := context.Background()
	c := New()
	now := time.Now()

	var ok, limited int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := &repository.Device{ID: fmt.Sprintf("d%d", i), OwnerUserID: "u1", LastSyncAt: now}
			err := c.Devices().CreatePending(ctx, d, 5)
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.Is(err, repository.ErrLimitReached):
				atomic.AddInt64(&limited, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 5, ok)
	assert.EqualValues(t, 15, limited)
}

func TestSessions_UpdateRequiresVersion(t *testing.T) {
	ctx := context.Background()
	c := New()
	now := time.Now()
	s := &repository.Session{IDHash: "h", UserID: "u1", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, c.Sessions().Create(ctx, s))

	got, err := c.Sessions().Get(ctx, "h")
	require.NoError(t, err)
	got.Revoked = true
	require.NoError(t, c.Sessions().Update(ctx, got, got.Version))
	assert.ErrorIs(t, c.Sessions().Update(ctx, got, 1), repository.ErrPreconditionFailed)

	n, err := c.Sessions().RevokeAllByUser(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRecovery_EmergencyCodeSingleUse(t *testing.T) {
	ctx := context.Background()
	c := New()
	now := time.Now()
	require.NoError(t, c.Recovery().Put(ctx, &repository.RecoveryMaterial{UserID: "u1", SetID: "s", Threshold: 2, ShareCount: 3}))
	require.NoError(t, c.Recovery().SetEmergencyCode(ctx, "u1", "hash", now, now.Add(time.Hour)))

	require.NoError(t, c.Recovery().ConsumeEmergencyCode(ctx, "u1", now))
	assert.ErrorIs(t, c.Recovery().ConsumeEmergencyCode(ctx, "u1", now), repository.ErrPreconditionFailed)
}

func TestThrottle_WindowRolls(t *testing.T) {
	ctx := context.Background()
	c := New()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	h, _, err := c.Throttle().Hit(ctx, "k", time.Hour, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, h)
	h, _, _ = c.Throttle().Hit(ctx, "k", time.Hour, now.Add(10*time.Minute))
	assert.EqualValues(t, 2, h)
	h, _, _ = c.Throttle().Hit(ctx, "k", time.Hour, now.Add(61*time.Minute))
	assert.EqualValues(t, 1, h)
}

func TestRecovery_PurgeKeepsCurrentSet(t *testing.T) {
	ctx := context.Background()
	c := New()
	for i, set := range []string{"old", "cur", "old"} {
		b := &repository.KeyBackup{ID: fmt.Sprintf("b%d", i), UserID: "u1", SetID: set, Sealed: []byte{byte(i)}}
		require.NoError(t, c.Recovery().PutBackup(ctx, b))
	}
	assert.ErrorIs(t, c.Recovery().PutBackup(ctx, &repository.KeyBackup{ID: "b1", UserID: "u1"}), repository.ErrConflict)

	n, err := c.Recovery().PurgeBackups(ctx, "u1", "cur")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	list, err := c.Recovery().ListBackups(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b1", list[0].ID)
}
