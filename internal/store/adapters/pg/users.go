package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

type userRepo struct{ pool querier }

func (r *userRepo) Create(ctx context.Context, user *repository.User, record *repository.OpaqueRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO users (id, username, export_key_hash, created_at) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Username, user.ExportKeyHash, user.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("create user: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO opaque_records (username, user_id, backend, envelope, salt, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		record.Username, record.UserID, record.Backend, record.Envelope, record.Salt, record.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("create opaque record: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*repository.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT id, username, export_key_hash, created_at FROM users WHERE id = $1`, id))
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*repository.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT id, username, export_key_hash, created_at FROM users WHERE username = $1`, username))
}

func scanUser(row pgx.Row) (*repository.User, error) {
	var u repository.User
	if err := row.Scan(&u.ID, &u.Username, &u.ExportKeyHash, &u.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *userRepo) GetRecord(ctx context.Context, username string) (*repository.OpaqueRecord, error) {
	var rec repository.OpaqueRecord
	err := r.pool.QueryRow(ctx,
		`SELECT username, user_id, backend, envelope, salt, created_at, updated_at
		 FROM opaque_records WHERE username = $1`, username).
		Scan(&rec.Username, &rec.UserID, &rec.Backend, &rec.Envelope, &rec.Salt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *userRepo) ResetRecord(ctx context.Context, username string, record *repository.OpaqueRecord) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE opaque_records SET backend = $1, envelope = $2, salt = $3, updated_at = NOW() WHERE username = $4`,
		record.Backend, record.Envelope, record.Salt, username)
	if err != nil {
		return fmt.Errorf("reset opaque record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ─── Credentials ───

type credentialRepo struct{ pool querier }

const credentialCols = `id, owner_user_id, public_key, sign_count, platform_class, transports, created_at, last_used_at`

func (r *credentialRepo) Create(ctx context.Context, c *repository.Credential) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO credentials (`+credentialCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.OwnerUserID, c.PublicKey, int64(c.SignCount), string(c.PlatformClass), joinList(c.Transports),
		c.CreatedAt, c.LastUsedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

func scanCredential(row pgx.Row) (*repository.Credential, error) {
	var c repository.Credential
	var count int64
	var class, transports string
	if err := row.Scan(&c.ID, &c.OwnerUserID, &c.PublicKey, &count, &class, &transports, &c.CreatedAt, &c.LastUsedAt); err != nil {
		return nil, err
	}
	c.SignCount = uint32(count)
	c.PlatformClass = repository.PlatformClass(class)
	c.Transports = splitList(transports)
	return &c, nil
}

func (r *credentialRepo) Get(ctx context.Context, id string) (*repository.Credential, error) {
	c, err := scanCredential(r.pool.QueryRow(ctx, `SELECT `+credentialCols+` FROM credentials WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (r *credentialRepo) ListByUser(ctx context.Context, userID string) ([]repository.Credential, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+credentialCols+` FROM credentials WHERE owner_user_id = $1 ORDER BY created_at`, userID)
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
	tag, err := r.pool.Exec(ctx,
		`UPDATE credentials SET sign_count = $1, last_used_at = $2 WHERE id = $3 AND sign_count = $4`,
		int64(next), usedAt, id, int64(expected))
	if err != nil {
		return fmt.Errorf("update credential counter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return repository.ErrPreconditionFailed
	}
	return nil
}
