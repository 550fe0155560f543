package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

func openTemp(t *testing.T) *Conn {
	t.Helper()
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "vault.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	c := openTemp(t)
	require.NoError(t, c.Migrate(context.Background()))
	require.NoError(t, c.Ping(context.Background()))
}

func TestSQLite_UserAndRecord(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	u := &repository.User{ID: "u1", Username: "alice", CreatedAt: now}
	rec := &repository.OpaqueRecord{UserID: "u1", Username: "alice", Backend: "opaque", Envelope: []byte{1, 2}, Salt: []byte{3}, CreatedAt: now}
	require.NoError(t, c.Users().Create(ctx, u, rec))
	assert.ErrorIs(t, c.Users().Create(ctx, u, rec), repository.ErrConflict)

	got, err := c.Users().GetRecord(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, got.Envelope)

	_, err = c.Users().GetByUsername(ctx, "bob")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSQLite_SessionCAS(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	repo := c.Sessions()

	s := &repository.Session{IDHash: "h1", UserID: "u1", Method: "opaque", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, repo.Create(ctx, s))
	assert.EqualValues(t, 1, s.Version)

	first, err := repo.Get(ctx, "h1")
	require.NoError(t, err)
	stale, err := repo.Get(ctx, "h1")
	require.NoError(t, err)

	first.Revoked = true
	first.RevokedAt = &now
	require.NoError(t, repo.Update(ctx, first, 1))

	stale.ExpiresAt = now.Add(2 * time.Hour)
	assert.ErrorIs(t, repo.Update(ctx, stale, 1), repository.ErrPreconditionFailed)

	after, err := repo.Get(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, after.Revoked)
	assert.EqualValues(t, 2, after.Version)

	n, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_DeviceCeiling(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	repo := c.Devices()

	mk := func(id string) *repository.Device {
		return &repository.Device{ID: id, OwnerUserID: "u1", Name: id, Type: "phone", PublicKey: []byte(id),
			LastSyncAt: now, CreatedAt: now, UpdatedAt: now}
	}
	require.NoError(t, repo.CreatePending(ctx, mk("d1"), 2))
	require.NoError(t, repo.CreatePending(ctx, mk("d2"), 2))
	assert.ErrorIs(t, repo.CreatePending(ctx, mk("d3"), 2), repository.ErrLimitReached)

	// revocar libera un lugar
	_, err := repo.Transition(ctx, "d1", []repository.TrustState{repository.TrustPending, repository.TrustTrusted}, repository.TrustRevoked, 0, now)
	require.NoError(t, err)
	require.NoError(t, repo.CreatePending(ctx, mk("d3"), 2))

	_, err = repo.Transition(ctx, "d1", []repository.TrustState{repository.TrustPending}, repository.TrustTrusted, 1, now)
	assert.ErrorIs(t, err, repository.ErrPreconditionFailed)
}

func TestSQLite_ThrottleSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault.db")
	now := time.Now().UTC()

	c1, err := Open(ctx, path, true)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _, err := c1.Throttle().Hit(ctx, "recovery:u1", time.Hour, now)
		require.NoError(t, err)
	}
	require.NoError(t, c1.Close())

	c2, err := Open(ctx, path, true)
	require.NoError(t, err)
	defer c2.Close()
	hits, _, err := c2.Throttle().Hit(ctx, "recovery:u1", time.Hour, now)
	require.NoError(t, err)
	assert.EqualValues(t, 4, hits)
}

func TestSQLite_ThrottlePeek(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)
	now := time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC)

	hits, _, err := c.Throttle().Peek(ctx, "recovery:u1", time.Hour, now)
	require.NoError(t, err)
	assert.EqualValues(t, 0, hits)

	_, _, err = c.Throttle().Hit(ctx, "recovery:u1", time.Hour, now)
	require.NoError(t, err)
	hits, resetAt, err := c.Throttle().Peek(ctx, "recovery:u1", time.Hour, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits)
	assert.Equal(t, time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC), resetAt)

	hits, _, err = c.Throttle().Peek(ctx, "recovery:u1", time.Hour, now.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 0, hits)
}

func TestSQLite_RecoveryBackups(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	repo := c.Recovery()

	b := &repository.KeyBackup{ID: "b1", UserID: "u1", SetID: "s1", Label: "export", Sealed: []byte{9, 9}, CreatedAt: now}
	require.NoError(t, repo.PutBackup(ctx, b))
	assert.ErrorIs(t, repo.PutBackup(ctx, b), repository.ErrConflict)
	require.NoError(t, repo.PutBackup(ctx, &repository.KeyBackup{ID: "b2", UserID: "u1", SetID: "s0", Sealed: []byte{1}, CreatedAt: now.Add(time.Second)}))

	list, err := repo.ListBackups(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b1", list[0].ID)
	assert.Equal(t, []byte{9, 9}, list[0].Sealed)
	assert.Equal(t, now, list[0].CreatedAt)

	n, err := repo.PurgeBackups(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.ErrorIs(t, repo.DeleteBackup(ctx, "u2", "b1"), repository.ErrNotFound)
	require.NoError(t, repo.DeleteBackup(ctx, "u1", "b1"))
	list, err = repo.ListBackups(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSQLite_AuditAppendRange(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)
	repo := c.Audit()
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, err := repo.Last(ctx, "u1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, repo.Append(ctx, &repository.AuditEvent{
			ID: "e" + string(rune('0'+i)), UserID: "u1", Seq: i, Type: "login", Severity: "info",
			Timestamp: now, Details: []byte(`{}`), PreviousHash: "p", IntegrityHash: "h",
		}))
	}
	dup := &repository.AuditEvent{ID: "dup", UserID: "u1", Seq: 3, Type: "x", Severity: "info", Timestamp: now, Details: []byte(`{}`)}
	assert.ErrorIs(t, repo.Append(ctx, dup), repository.ErrConflict)

	evs, err := repo.Range(ctx, "u1", 2, 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.EqualValues(t, 2, evs[0].Seq)

	last, err := repo.Last(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, last.Seq)
}
