package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

func TestSessionUpdate_StaleVersionReportsPrecondition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec(`UPDATE sessions SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM sessions WHERE id_hash = \?`).
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows([]string{"id_hash", "user_id", "export_key_hash", "method", "capabilities",
			"issued_at", "expires_at", "revoked", "revoked_at", "version"}).
			AddRow("h1", "u1", "", "opaque", "", toMillis(now), toMillis(now.Add(time.Hour)), false, nil, int64(3)))

	repo := NewWithDB(db).Sessions()
	err = repo.Update(context.Background(), &repository.Session{IDHash: "h1", ExpiresAt: now}, 2)
	assert.ErrorIs(t, err, repository.ErrPreconditionFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionUpdate_MissingReportsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE sessions SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM sessions`).WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"id_hash"}))

	repo := NewWithDB(db).Sessions()
	err = repo.Update(context.Background(), &repository.Session{IDHash: "gone"}, 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceCreatePending_LimitReached(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO devices`).WillReturnResult(sqlmock.NewResult(0, 0))

	d := &repository.Device{ID: "d1", OwnerUserID: "u1"}
	err = NewWithDB(db).Devices().CreatePending(context.Background(), d, 1)
	assert.ErrorIs(t, err, repository.ErrLimitReached)
	assert.NoError(t, mock.ExpectationsWereMet())
}
