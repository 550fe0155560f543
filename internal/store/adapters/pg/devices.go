package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

type deviceRepo struct{ pool querier }

const deviceCols = `id, owner_user_id, name, type, public_key, trust_state, trust_token, trust_score, predecessor_id, last_sync_at, created_at, updated_at`

// CreatePending serializa por dueño con un advisory lock de transacción,
// así dos pairings concurrentes no pueden superar maxDevices.
func (r *deviceRepo) CreatePending(ctx context.Context, d *repository.Device, maxDevices int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "devices:"+d.OwnerUserID); err != nil {
		return fmt.Errorf("create device: lock: %w", err)
	}
	if maxDevices > 0 {
		var active int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM devices WHERE owner_user_id = $1 AND trust_state IN ('pending', 'trusted')`,
			d.OwnerUserID).Scan(&active); err != nil {
			return fmt.Errorf("create device: count: %w", err)
		}
		if active >= maxDevices {
			return repository.ErrLimitReached
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO devices (`+deviceCols+`) VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8, $9, $10, $11)`,
		d.ID, d.OwnerUserID, d.Name, d.Type, d.PublicKey, d.TrustToken, d.TrustScore, d.PredecessorID,
		d.LastSyncAt, d.CreatedAt, d.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("create device: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("create device: commit: %w", err)
	}
	d.TrustState = repository.TrustPending
	return nil
}

func scanDevice(row pgx.Row) (*repository.Device, error) {
	var d repository.Device
	var state string
	if err := row.Scan(&d.ID, &d.OwnerUserID, &d.Name, &d.Type, &d.PublicKey, &state, &d.TrustToken,
		&d.TrustScore, &d.PredecessorID, &d.LastSyncAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.TrustState = repository.TrustState(state)
	return &d, nil
}

func (r *deviceRepo) Get(ctx context.Context, id string) (*repository.Device, error) {
	d, err := scanDevice(r.pool.QueryRow(ctx, `SELECT `+deviceCols+` FROM devices WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (r *deviceRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]repository.Device, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+deviceCols+` FROM devices WHERE owner_user_id = $1 ORDER BY created_at`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()
	var out []repository.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *deviceRepo) Transition(ctx context.Context, id string, from []repository.TrustState, to repository.TrustState, score float64, at time.Time) (*repository.Device, error) {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}
	d, err := scanDevice(r.pool.QueryRow(ctx,
		`UPDATE devices SET trust_state = $1, trust_score = $2, updated_at = $3
		 WHERE id = $4 AND trust_state = ANY($5)
		 RETURNING `+deviceCols, string(to), score, at, id, states))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition device: %w", err)
	}
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, repository.ErrPreconditionFailed
}

func (r *deviceRepo) Touch(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE devices SET last_sync_at = $1, updated_at = $1
		 WHERE id = $2 AND trust_state IN ('pending', 'trusted')`, at, id)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return repository.ErrPreconditionFailed
	}
	return nil
}

func (r *deviceRepo) ExpireStale(ctx context.Context, cutoff, at time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE devices SET trust_state = 'expired', trust_score = 0, updated_at = $1
		 WHERE trust_state IN ('pending', 'trusted') AND last_sync_at < $2`, at, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire stale devices: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
