package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

type userRepo struct{ db *sql.DB }

func (r *userRepo) Create(ctx context.Context, user *repository.User, record *repository.OpaqueRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, username, export_key_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Username, user.ExportKeyHash, toMillis(user.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("create user: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO opaque_records (username, user_id, backend, envelope, salt, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.Username, record.UserID, record.Backend, record.Envelope, record.Salt,
		toMillis(record.CreatedAt), toMillis(record.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("create opaque record: %w", err)
	}
	return tx.Commit()
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*repository.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, username, export_key_hash, created_at FROM users WHERE id = ?`, id))
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*repository.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, username, export_key_hash, created_at FROM users WHERE username = ?`, username))
}

func (r *userRepo) scanUser(row *sql.Row) (*repository.User, error) {
	var u repository.User
	var created int64
	if err := row.Scan(&u.ID, &u.Username, &u.ExportKeyHash, &created); err != nil {
		return nil, notFound(err)
	}
	u.CreatedAt = fromMillis(created)
	return &u, nil
}

func (r *userRepo) GetRecord(ctx context.Context, username string) (*repository.OpaqueRecord, error) {
	var rec repository.OpaqueRecord
	var created, updated int64
	err := r.db.QueryRowContext(ctx,
		`SELECT username, user_id, backend, envelope, salt, created_at, updated_at
		 FROM opaque_records WHERE username = ?`, username).
		Scan(&rec.Username, &rec.UserID, &rec.Backend, &rec.Envelope, &rec.Salt, &created, &updated)
	if err != nil {
		return nil, notFound(err)
	}
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)
	return &rec, nil
}

func (r *userRepo) ResetRecord(ctx context.Context, username string, record *repository.OpaqueRecord) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE opaque_records SET backend = ?, envelope = ?, salt = ?, updated_at = ? WHERE username = ?`,
		record.Backend, record.Envelope, record.Salt, toMillis(time.Now()), username)
	if err != nil {
		return fmt.Errorf("reset opaque record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ─── Credentials ───

type credentialRepo struct{ db *sql.DB }

func (r *credentialRepo) Create(ctx context.Context, c *repository.Credential) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO credentials (id, owner_user_id, public_key, sign_count, platform_class, transports, created_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerUserID, c.PublicKey, int64(c.SignCount), string(c.PlatformClass), joinList(c.Transports),
		toMillis(c.CreatedAt), toMillis(c.LastUsedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

const credentialCols = `id, owner_user_id, public_key, sign_count, platform_class, transports, created_at, last_used_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*repository.Credential, error) {
	var c repository.Credential
	var count, created, used int64
	var class, transports string
	if err := row.Scan(&c.ID, &c.OwnerUserID, &c.PublicKey, &count, &class, &transports, &created, &used); err != nil {
		return nil, err
	}
	c.SignCount = uint32(count)
	c.PlatformClass = repository.PlatformClass(class)
	c.Transports = splitList(transports)
	c.CreatedAt = fromMillis(created)
	c.LastUsedAt = fromMillis(used)
	return &c, nil
}

func (r *credentialRepo) Get(ctx context.Context, id string) (*repository.Credential, error) {
	c, err := scanCredential(r.db.QueryRowContext(ctx, `SELECT `+credentialCols+` FROM credentials WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (r *credentialRepo) ListByUser(ctx context.Context, userID string) ([]repository.Credential, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+credentialCols+` FROM credentials WHERE owner_user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()
	var out []repository.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *credentialRepo) UpdateCounter(ctx context.Context, id string, expected, next uint32, usedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE credentials SET sign_count = ?, last_used_at = ? WHERE id = ? AND sign_count = ?`,
		int64(next), toMillis(usedAt), id, int64(expected))
	if err != nil {
		return fmt.Errorf("update credential counter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return repository.ErrPreconditionFailed
	}
	return nil
}
