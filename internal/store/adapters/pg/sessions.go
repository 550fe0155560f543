package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

type sessionRepo struct{ pool querier }

const sessionCols = `id_hash, user_id, export_key_hash, method, capabilities, issued_at, expires_at, revoked, revoked_at, version`

func (r *sessionRepo) Create(ctx context.Context, s *repository.Session) error {
	if s.Version == 0 {
		s.Version = 1
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (`+sessionCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.IDHash, s.UserID, s.ExportKeyHash, s.Method, joinList(s.Capabilities),
		s.IssuedAt, s.ExpiresAt, s.Revoked, utcPtr(s.RevokedAt), s.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	var caps string
	if err := row.Scan(&s.IDHash, &s.UserID, &s.ExportKeyHash, &s.Method, &caps,
		&s.IssuedAt, &s.ExpiresAt, &s.Revoked, &s.RevokedAt, &s.Version); err != nil {
		return nil, err
	}
	s.Capabilities = splitList(caps)
	return &s, nil
}

func (r *sessionRepo) Get(ctx context.Context, idHash string) (*repository.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id_hash = $1`, idHash))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

func (r *sessionRepo) Update(ctx context.Context, s *repository.Session, expectedVersion int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET expires_at = $1, revoked = $2, revoked_at = $3, capabilities = $4, version = version + 1
		 WHERE id_hash = $5 AND version = $6`,
		s.ExpiresAt, s.Revoked, utcPtr(s.RevokedAt), joinList(s.Capabilities), s.IDHash, expectedVersion)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, s.IDHash); err != nil {
			return err
		}
		return repository.ErrPreconditionFailed
	}
	s.Version = expectedVersion + 1
	return nil
}

func (r *sessionRepo) Delete(ctx context.Context, idHash string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id_hash = $1`, idHash); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *sessionRepo) ListByUser(ctx context.Context, userID string) ([]repository.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE user_id = $1 ORDER BY issued_at`, userID)
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
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET revoked = TRUE, revoked_at = $1, version = version + 1
		 WHERE user_id = $2 AND revoked = FALSE`, at, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *sessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE revoked = TRUE OR expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
