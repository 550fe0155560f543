package recovery

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/vaultcore/internal/audit"
	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/domain/types"
)

var exportKey = bytes.Repeat([]byte{0x5a}, 64)

func TestBackup_SealedAtSetupOpensOnRecovery(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	kit, err := e.svc.Setup(ctx, "u1", 2, 3, BackupInput{DeviceID: "d1", Label: "export", Key: exportKey})
	require.NoError(t, err)
	require.Len(t, kit.Backups, 1)
	assert.True(t, kit.Backups[0].Current)

	stored, err := e.conn.Recovery().ListBackups(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.False(t, bytes.Contains(stored[0].Sealed, exportKey[:16]))

	res, err := e.svc.RecoverWithMnemonic(ctx, "u1", kit.Phrase)
	require.NoError(t, err)
	require.Len(t, res.Backups, 1)
	assert.Equal(t, exportKey, res.Backups[0].Key)
	assert.Equal(t, "d1", res.Backups[0].DeviceID)
	assert.Equal(t, kit.Backups[0].ID, res.Backups[0].BackupID)

	shares, err := ParseShares(kit.Shares[1:])
	require.NoError(t, err)
	res, err = e.svc.RecoverWithShares(ctx, "u1", shares)
	require.NoError(t, err)
	require.Len(t, res.Backups, 1)
	assert.Equal(t, exportKey, res.Backups[0].Key)
}

func TestCreateBackup_RequiresPhrase(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	kit, err := e.svc.Setup(ctx, "u1", 2, 3)
	require.NoError(t, err)

	in := BackupInput{Label: "laptop", Key: exportKey}
	_, err = e.svc.CreateBackup(ctx, "u1", strings.Repeat("abandon ", 23)+"art", in)
	hasCode(t, err, types.CodeInvalidCredentials)
	_, err = e.svc.CreateBackup(ctx, "u1", kit.Phrase, BackupInput{})
	hasCode(t, err, types.CodeClient)

	info, err := e.svc.CreateBackup(ctx, "u1", kit.Phrase, in)
	require.NoError(t, err)
	assert.Equal(t, kit.SetID, info.SetID)

	list, err := e.svc.ListBackups(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "laptop", list[0].Label)
	assert.True(t, list[0].Current)

	require.NoError(t, e.svc.RemoveBackup(ctx, "u1", info.ID))
	hasCode(t, e.svc.RemoveBackup(ctx, "u1", info.ID), types.CodeNotFound)
	list, err = e.svc.ListBackups(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	// otro usuario no puede borrar backups ajenos
	info, err = e.svc.CreateBackup(ctx, "u1", kit.Phrase, in)
	require.NoError(t, err)
	hasCode(t, e.svc.RemoveBackup(ctx, "u2", info.ID), types.CodeNotFound)
}

func TestSetup_PurgesBackupsOfPreviousSet(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, err := e.svc.Setup(ctx, "u1", 2, 3, BackupInput{Key: exportKey})
	require.NoError(t, err)

	kit, err := e.svc.Setup(ctx, "u1", 2, 3)
	require.NoError(t, err)
	list, err := e.svc.ListBackups(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	res, err := e.svc.RecoverWithMnemonic(ctx, "u1", kit.Phrase)
	require.NoError(t, err)
	assert.Empty(t, res.Backups)
}

type eventRecorder struct{ events []string }

func (r *eventRecorder) LogEvent(_ context.Context, _, eventType string, _ map[string]any) (*repository.AuditEvent, error) {
	r.events = append(r.events, eventType)
	return &repository.AuditEvent{}, nil
}

func TestRecover_SkipsAlteredBackup(t *testing.T) {
	rec := &eventRecorder{}
	e := newEnv(t, func(c *Config) { c.Audit = rec })
	ctx := context.Background()
	kit, err := e.svc.Setup(ctx, "u1", 2, 3,
		BackupInput{Label: "a", Key: exportKey},
		BackupInput{Label: "b", Key: []byte("second key")})
	require.NoError(t, err)

	repo := e.conn.Recovery()
	stored, err := repo.ListBackups(ctx, "u1")
	require.NoError(t, err)
	victim := stored[0]
	victim.Sealed[len(victim.Sealed)-1] ^= 0x01
	require.NoError(t, repo.DeleteBackup(ctx, "u1", victim.ID))
	require.NoError(t, repo.PutBackup(ctx, &victim))

	res, err := e.svc.RecoverWithMnemonic(ctx, "u1", kit.Phrase)
	require.NoError(t, err)
	require.Len(t, res.Backups, 1)
	assert.Equal(t, []byte("second key"), res.Backups[0].Key)
	assert.Contains(t, rec.events, audit.EventBackupUnsealFailed)
}

func TestStatus_ReportsThrottle(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	kit, err := e.svc.Setup(ctx, "u1", 2, 3, BackupInput{Key: exportKey})
	require.NoError(t, err)

	st, err := e.svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Attempts)
	assert.Equal(t, 3, st.MaxAttempts)
	assert.Equal(t, 1, st.Backups)
	assert.False(t, st.Locked)

	wrong := strings.Repeat("abandon ", 23) + "art"
	for i := 0; i < 3; i++ {
		_, err := e.svc.RecoverWithMnemonic(ctx, "u1", wrong)
		hasCode(t, err, types.CodeInvalidCredentials)
	}
	st, err = e.svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Attempts)
	assert.True(t, st.Locked)
	assert.Equal(t, int64(3600), st.RetryAfterSeconds)

	// Status no consume intentos
	st, err = e.svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Attempts)

	require.NoError(t, e.svc.ResetAttempts(ctx, "u1"))
	st, err = e.svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Attempts)
	assert.False(t, st.Locked)

	_, err = e.svc.RecoverWithMnemonic(ctx, "u1", kit.Phrase)
	require.NoError(t, err)
}
