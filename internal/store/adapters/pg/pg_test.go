package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

var uniqueViolation = &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}

var sessionColumns = []string{"id_hash", "user_id", "export_key_hash", "method", "capabilities",
	"issued_at", "expires_at", "revoked", "revoked_at", "version"}

var deviceColumns = []string{"id", "owner_user_id", "name", "type", "public_key", "trust_state", "trust_token",
	"trust_score", "predecessor_id", "last_sync_at", "created_at", "updated_at"}

// ─── Devices ───

func TestDeviceCreatePending_LimitReached(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs("devices:u1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT COUNT`).WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	repo := &deviceRepo{pool: mock}
	err := repo.CreatePending(context.Background(), &repository.Device{ID: "d3", OwnerUserID: "u1"}, 2)
	assert.ErrorIs(t, err, repository.ErrLimitReached)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceCreatePending_DuplicateIsConflict(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs("devices:u1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT COUNT`).WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO devices`).WillReturnError(uniqueViolation)
	mock.ExpectRollback()

	repo := &deviceRepo{pool: mock}
	d := &repository.Device{ID: "d1", OwnerUserID: "u1"}
	err := repo.CreatePending(context.Background(), d, 5)
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Empty(t, d.TrustState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceTransition_WrongStateIsPrecondition(t *testing.T) {
	mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`UPDATE devices SET trust_state`).
		WillReturnRows(pgxmock.NewRows(deviceColumns))
	mock.ExpectQuery(`SELECT .+ FROM devices WHERE id = \$1`).WithArgs("d1").
		WillReturnRows(pgxmock.NewRows(deviceColumns).
			AddRow("d1", "u1", "phone", "mobile", []byte{1}, "revoked", "", 0.0, "", now, now, now))

	repo := &deviceRepo{pool: mock}
	_, err := repo.Transition(context.Background(), "d1",
		[]repository.TrustState{repository.TrustPending}, repository.TrustTrusted, 1, now)
	assert.ErrorIs(t, err, repository.ErrPreconditionFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceTransition_MissingIsNotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`UPDATE devices SET trust_state`).
		WillReturnRows(pgxmock.NewRows(deviceColumns))
	mock.ExpectQuery(`SELECT .+ FROM devices WHERE id = \$1`).WithArgs("gone").
		WillReturnRows(pgxmock.NewRows(deviceColumns))

	repo := &deviceRepo{pool: mock}
	_, err := repo.Transition(context.Background(), "gone",
		[]repository.TrustState{repository.TrustPending}, repository.TrustTrusted, 1, time.Now())
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ─── Sessions ───

func TestSessionUpdate_StaleVersionReportsPrecondition(t *testing.T) {
	mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectExec(`UPDATE sessions SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT .+ FROM sessions WHERE id_hash = \$1`).WithArgs("h1").
		WillReturnRows(pgxmock.NewRows(sessionColumns).
			AddRow("h1", "u1", "", "opaque", "", now, now.Add(time.Hour), false, nil, int64(3)))

	repo := &sessionRepo{pool: mock}
	s := &repository.Session{IDHash: "h1", ExpiresAt: now}
	err := repo.Update(context.Background(), s, 2)
	assert.ErrorIs(t, err, repository.ErrPreconditionFailed)
	assert.Zero(t, s.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionUpdate_BumpsVersion(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`UPDATE sessions SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := &sessionRepo{pool: mock}
	s := &repository.Session{IDHash: "h1", ExpiresAt: time.Now()}
	require.NoError(t, repo.Update(context.Background(), s, 4))
	assert.EqualValues(t, 5, s.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionCreate_DuplicateIsConflict(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO sessions`).WillReturnError(uniqueViolation)

	repo := &sessionRepo{pool: mock}
	err := repo.Create(context.Background(), &repository.Session{IDHash: "h1", UserID: "u1"})
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ─── Audit ───

func TestAuditAppend_SeqCollisionIsConflict(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO audit_events`).WillReturnError(uniqueViolation)

	repo := &auditRepo{pool: mock}
	err := repo.Append(context.Background(), &repository.AuditEvent{ID: "e1", UserID: "u1", Seq: 7})
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditAppend_OtherErrorsAreWrapped(t *testing.T) {
	mock := newMock(t)
	boom := errors.New("connection reset")
	mock.ExpectExec(`INSERT INTO audit_events`).WillReturnError(boom)

	repo := &auditRepo{pool: mock}
	err := repo.Append(context.Background(), &repository.AuditEvent{ID: "e1", UserID: "u1", Seq: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, repository.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLast_EmptyChainIsNotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT .+ FROM audit_events WHERE user_id = \$1 ORDER BY seq DESC`).WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "seq", "type", "severity", "ts", "details",
			"removed_fields", "previous_hash", "integrity_hash"}))

	repo := &auditRepo{pool: mock}
	_, err := repo.Last(context.Background(), "u1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ─── Recovery ───

func TestRecoveryBackups(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO recovery_backups`).WillReturnError(uniqueViolation)
	mock.ExpectExec(`DELETE FROM recovery_backups WHERE user_id = \$1 AND id = \$2`).WithArgs("u1", "b9").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM recovery_backups WHERE user_id = \$1 AND set_id <> \$2`).WithArgs("u1", "s2").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	repo := &recoveryRepo{pool: mock}
	ctx := context.Background()
	err := repo.PutBackup(ctx, &repository.KeyBackup{ID: "b1", UserID: "u1", SetID: "s2", Sealed: []byte{1}})
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.ErrorIs(t, repo.DeleteBackup(ctx, "u1", "b9"), repository.ErrNotFound)
	n, err := repo.PurgeBackups(ctx, "u1", "s2")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmergencyCode_ConsumedTwiceIsPrecondition(t *testing.T) {
	mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectExec(`UPDATE recovery_material SET emergency_used_at`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`(?s)SELECT .+ FROM recovery_material WHERE user_id = \$1`).WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "set_id", "validation_level", "verifier", "threshold", "share_count",
			"emergency_code_hash", "emergency_issued_at", "emergency_expires_at", "emergency_used_at", "created_at", "updated_at"}).
			AddRow("u1", "s1", 3, "v", 2, 3, "hash", nil, nil, nil, now, now))

	repo := &recoveryRepo{pool: mock}
	err := repo.ConsumeEmergencyCode(context.Background(), "u1", now)
	assert.ErrorIs(t, err, repository.ErrPreconditionFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestThrottlePeek(t *testing.T) {
	mock := newMock(t)
	now := time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC)
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT hits FROM throttle_counters`).WithArgs("recovery:u1", start.UnixMilli()).
		WillReturnRows(pgxmock.NewRows([]string{"hits"}).AddRow(int64(2)))
	mock.ExpectQuery(`SELECT hits FROM throttle_counters`).WithArgs("recovery:u2", start.UnixMilli()).
		WillReturnRows(pgxmock.NewRows([]string{"hits"}))

	repo := &throttleRepo{pool: mock}
	hits, resetAt, err := repo.Peek(context.Background(), "recovery:u1", time.Hour, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits)
	assert.Equal(t, start.Add(time.Hour), resetAt)

	hits, _, err = repo.Peek(context.Background(), "recovery:u2", time.Hour, now)
	require.NoError(t, err)
	assert.Zero(t, hits)
	assert.NoError(t, mock.ExpectationsWereMet())
}
