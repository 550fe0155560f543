package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

type recoveryRepo struct{ pool querier }

func (r *recoveryRepo) Put(ctx context.Context, m *repository.RecoveryMaterial) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO recovery_material (user_id, set_id, validation_level, verifier, threshold, share_count,
		     emergency_code_hash, emergency_issued_at, emergency_expires_at, emergency_used_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (user_id) DO UPDATE SET
		     set_id = EXCLUDED.set_id, validation_level = EXCLUDED.validation_level,
		     verifier = EXCLUDED.verifier, threshold = EXCLUDED.threshold, share_count = EXCLUDED.share_count,
		     emergency_code_hash = EXCLUDED.emergency_code_hash, emergency_issued_at = EXCLUDED.emergency_issued_at,
		     emergency_expires_at = EXCLUDED.emergency_expires_at, emergency_used_at = EXCLUDED.emergency_used_at,
		     updated_at = EXCLUDED.updated_at`,
		m.UserID, m.SetID, m.ValidationLevel, m.Verifier, m.Threshold, m.ShareCount,
		m.EmergencyCodeHash, utcPtr(m.EmergencyIssuedAt), utcPtr(m.EmergencyExpiresAt), utcPtr(m.EmergencyUsedAt),
		m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put recovery material: %w", err)
	}
	return nil
}

func (r *recoveryRepo) Get(ctx context.Context, userID string) (*repository.RecoveryMaterial, error) {
	var m repository.RecoveryMaterial
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, set_id, validation_level, verifier, threshold, share_count,
		        emergency_code_hash, emergency_issued_at, emergency_expires_at, emergency_used_at, created_at, updated_at
		 FROM recovery_material WHERE user_id = $1`, userID).
		Scan(&m.UserID, &m.SetID, &m.ValidationLevel, &m.Verifier, &m.Threshold, &m.ShareCount,
			&m.EmergencyCodeHash, &m.EmergencyIssuedAt, &m.EmergencyExpiresAt, &m.EmergencyUsedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r *recoveryRepo) SetEmergencyCode(ctx context.Context, userID, codeHash string, issuedAt, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE recovery_material SET emergency_code_hash = $1, emergency_issued_at = $2, emergency_expires_at = $3,
		     emergency_used_at = NULL, updated_at = $2 WHERE user_id = $4`,
		codeHash, issuedAt, expiresAt, userID)
	if err != nil {
		return fmt.Errorf("set emergency code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *recoveryRepo) ConsumeEmergencyCode(ctx context.Context, userID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE recovery_material SET emergency_used_at = $1, updated_at = $1
		 WHERE user_id = $2 AND emergency_used_at IS NULL AND emergency_code_hash <> ''`, at, userID)
	if err != nil {
		return fmt.Errorf("consume emergency code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, userID); err != nil {
			return err
		}
		return repository.ErrPreconditionFailed
	}
	return nil
}

// ─── Backups ───

func (r *recoveryRepo) PutBackup(ctx context.Context, b *repository.KeyBackup) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO recovery_backups (id, user_id, set_id, device_id, label, sealed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.UserID, b.SetID, b.DeviceID, b.Label, b.Sealed, b.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("put recovery backup: %w", err)
	}
	return nil
}

func (r *recoveryRepo) ListBackups(ctx context.Context, userID string) ([]repository.KeyBackup, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, set_id, device_id, label, sealed, created_at
		 FROM recovery_backups WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list recovery backups: %w", err)
	}
	defer rows.Close()
	var out []repository.KeyBackup
	for rows.Next() {
		var b repository.KeyBackup
		if err := rows.Scan(&b.ID, &b.UserID, &b.SetID, &b.DeviceID, &b.Label, &b.Sealed, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.CreatedAt = b.CreatedAt.UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *recoveryRepo) DeleteBackup(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM recovery_backups WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("delete recovery backup: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *recoveryRepo) PurgeBackups(ctx context.Context, userID, keepSetID string) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM recovery_backups WHERE user_id = $1 AND set_id <> $2`, userID, keepSetID)
	if err != nil {
		return 0, fmt.Errorf("purge recovery backups: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ─── Throttle ───

type throttleRepo struct{ pool querier }

func (r *throttleRepo) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	start := now.UTC().Truncate(window)
	var hits int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO throttle_counters (key, window_start, hits) VALUES ($1, $2, 1)
		 ON CONFLICT (key) DO UPDATE SET
		     hits = CASE WHEN throttle_counters.window_start = EXCLUDED.window_start
		                 THEN throttle_counters.hits + 1 ELSE 1 END,
		     window_start = EXCLUDED.window_start
		 RETURNING hits`, key, start.UnixMilli()).Scan(&hits)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("throttle hit: %w", err)
	}
	return hits, start.Add(window), nil
}

func (r *throttleRepo) Peek(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	start := now.UTC().Truncate(window)
	var hits int64
	err := r.pool.QueryRow(ctx,
		`SELECT hits FROM throttle_counters WHERE key = $1 AND window_start = $2`, key, start.UnixMilli()).Scan(&hits)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, time.Time{}, fmt.Errorf("throttle peek: %w", err)
	}
	return hits, start.Add(window), nil
}

func (r *throttleRepo) Reset(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM throttle_counters WHERE key = $1`, key); err != nil {
		return fmt.Errorf("throttle reset: %w", err)
	}
	return nil
}
