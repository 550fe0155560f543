package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

type recoveryRepo struct{ db *sql.DB }

func (r *recoveryRepo) Put(ctx context.Context, m *repository.RecoveryMaterial) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recovery_material (user_id, set_id, validation_level, verifier, threshold, share_count,
		     emergency_code_hash, emergency_issued_at, emergency_expires_at, emergency_used_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     set_id = excluded.set_id, validation_level = excluded.validation_level,
		     verifier = excluded.verifier, threshold = excluded.threshold, share_count = excluded.share_count,
		     emergency_code_hash = excluded.emergency_code_hash, emergency_issued_at = excluded.emergency_issued_at,
		     emergency_expires_at = excluded.emergency_expires_at, emergency_used_at = excluded.emergency_used_at,
		     updated_at = excluded.updated_at`,
		m.UserID, m.SetID, m.ValidationLevel, m.Verifier, m.Threshold, m.ShareCount,
		m.EmergencyCodeHash, nullMillis(m.EmergencyIssuedAt), nullMillis(m.EmergencyExpiresAt), nullMillis(m.EmergencyUsedAt),
		toMillis(m.CreatedAt), toMillis(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put recovery material: %w", err)
	}
	return nil
}

func (r *recoveryRepo) Get(ctx context.Context, userID string) (*repository.RecoveryMaterial, error) {
	var m repository.RecoveryMaterial
	var issued, expires, used sql.NullInt64
	var created, updated int64
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, set_id, validation_level, verifier, threshold, share_count,
		        emergency_code_hash, emergency_issued_at, emergency_expires_at, emergency_used_at, created_at, updated_at
		 FROM recovery_material WHERE user_id = ?`, userID).
		Scan(&m.UserID, &m.SetID, &m.ValidationLevel, &m.Verifier, &m.Threshold, &m.ShareCount,
			&m.EmergencyCodeHash, &issued, &expires, &used, &created, &updated)
	if err != nil {
		return nil, notFound(err)
	}
	m.EmergencyIssuedAt = ptrFromMillis(issued)
	m.EmergencyExpiresAt = ptrFromMillis(expires)
	m.EmergencyUsedAt = ptrFromMillis(used)
	m.CreatedAt = fromMillis(created)
	m.UpdatedAt = fromMillis(updated)
	return &m, nil
}

func (r *recoveryRepo) SetEmergencyCode(ctx context.Context, userID, codeHash string, issuedAt, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recovery_material SET emergency_code_hash = ?, emergency_issued_at = ?, emergency_expires_at = ?,
		     emergency_used_at = NULL, updated_at = ? WHERE user_id = ?`,
		codeHash, toMillis(issuedAt), toMillis(expiresAt), toMillis(issuedAt), userID)
	if err != nil {
		return fmt.Errorf("set emergency code: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *recoveryRepo) ConsumeEmergencyCode(ctx context.Context, userID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recovery_material SET emergency_used_at = ?, updated_at = ?
		 WHERE user_id = ? AND emergency_used_at IS NULL AND emergency_code_hash <> ''`,
		toMillis(at), toMillis(at), userID)
	if err != nil {
		return fmt.Errorf("consume emergency code: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, userID); err != nil {
			return err
		}
		return repository.ErrPreconditionFailed
	}
	return nil
}

// ─── Backups ───

func (r *recoveryRepo) PutBackup(ctx context.Context, b *repository.KeyBackup) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recovery_backups (id, user_id, set_id, device_id, label, sealed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.SetID, b.DeviceID, b.Label, b.Sealed, toMillis(b.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("put recovery backup: %w", err)
	}
	return nil
}

func (r *recoveryRepo) ListBackups(ctx context.Context, userID string) ([]repository.KeyBackup, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, set_id, device_id, label, sealed, created_at
		 FROM recovery_backups WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list recovery backups: %w", err)
	}
	defer rows.Close()
	var out []repository.KeyBackup
	for rows.Next() {
		var b repository.KeyBackup
		var created int64
		if err := rows.Scan(&b.ID, &b.UserID, &b.SetID, &b.DeviceID, &b.Label, &b.Sealed, &created); err != nil {
			return nil, err
		}
		b.CreatedAt = fromMillis(created)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *recoveryRepo) DeleteBackup(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recovery_backups WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete recovery backup: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *recoveryRepo) PurgeBackups(ctx context.Context, userID, keepSetID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recovery_backups WHERE user_id = ? AND set_id <> ?`, userID, keepSetID)
	if err != nil {
		return 0, fmt.Errorf("purge recovery backups: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ─── Throttle ───

type throttleRepo struct{ db *sql.DB }

func (r *throttleRepo) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	start := now.UTC().Truncate(window)
	var hits int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO throttle_counters (key, window_start, hits) VALUES (?, ?, 1)
		 ON CONFLICT(key) DO UPDATE SET
		     hits = CASE WHEN window_start = excluded.window_start THEN hits + 1 ELSE 1 END,
		     window_start = excluded.window_start
		 RETURNING hits`, key, toMillis(start)).Scan(&hits)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("throttle hit: %w", err)
	}
	return hits, start.Add(window), nil
}

func (r *throttleRepo) Peek(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	start := now.UTC().Truncate(window)
	var hits int64
	err := r.db.QueryRowContext(ctx,
		`SELECT hits FROM throttle_counters WHERE key = ? AND window_start = ?`, key, toMillis(start)).Scan(&hits)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, fmt.Errorf("throttle peek: %w", err)
	}
	return hits, start.Add(window), nil
}

func (r *throttleRepo) Reset(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM throttle_counters WHERE key = ?`, key); err != nil {
		return fmt.Errorf("throttle reset: %w", err)
	}
	return nil
}
