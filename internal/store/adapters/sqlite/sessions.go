package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

type sessionRepo struct{ db *sql.DB }

const sessionCols = `id_hash, user_id, export_key_hash, method, capabilities, issued_at, expires_at, revoked, revoked_at, version`

func (r *sessionRepo) Create(ctx context.Context, s *repository.Session) error {
	if s.Version == 0 {
		s.Version = 1
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.IDHash, s.UserID, s.ExportKeyHash, s.Method, joinList(s.Capabilities),
		toMillis(s.IssuedAt), toMillis(s.ExpiresAt), s.Revoked, nullMillis(s.RevokedAt), s.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func scanSession(row rowScanner) (*repository.Session, error) {
	var s repository.Session
	var caps string
	var issued, expires int64
	var revokedAt sql.NullInt64
	if err := row.Scan(&s.IDHash, &s.UserID, &s.ExportKeyHash, &s.Method, &caps,
		&issued, &expires, &s.Revoked, &revokedAt, &s.Version); err != nil {
		return nil, err
	}
	s.Capabilities = splitList(caps)
	s.IssuedAt = fromMillis(issued)
	s.ExpiresAt = fromMillis(expires)
	s.RevokedAt = ptrFromMillis(revokedAt)
	return &s, nil
}

func (r *sessionRepo) Get(ctx context.Context, idHash string) (*repository.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id_hash = ?`, idHash))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

func (r *sessionRepo) Update(ctx context.Context, s *repository.Session, expectedVersion int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = ?, revoked = ?, revoked_at = ?, capabilities = ?, version = version + 1
		 WHERE id_hash = ? AND version = ?`,
		toMillis(s.ExpiresAt), s.Revoked, nullMillis(s.RevokedAt), joinList(s.Capabilities), s.IDHash, expectedVersion)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, s.IDHash); err != nil {
			return err
		}
		return repository.ErrPreconditionFailed
	}
	s.Version = expectedVersion + 1
	return nil
}

func (r *sessionRepo) Delete(ctx context.Context, idHash string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id_hash = ?`, idHash); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *sessionRepo) ListByUser(ctx context.Context, userID string) ([]repository.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE user_id = ? ORDER BY issued_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []repository.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *sessionRepo) RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked = 1, revoked_at = ?, version = version + 1
		 WHERE user_id = ? AND revoked = 0`, toMillis(at), userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *sessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE revoked = 1 OR expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
