package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

type deviceRepo struct{ db *sql.DB }

const deviceCols = `id, owner_user_id, name, type, public_key, trust_state, trust_token, trust_score, predecessor_id, last_sync_at, created_at, updated_at`

// CreatePending usa un único INSERT ... SELECT condicionado al conteo, que en
// SQLite es atómico respecto de otros writers.
func (r *deviceRepo) CreatePending(ctx context.Context, d *repository.Device, maxDevices int) error {
	limit := int64(maxDevices)
	if maxDevices <= 0 {
		limit = math.MaxInt64
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (`+deviceCols+`)
		 SELECT ?, ?, ?, ?, ?, 'pending', ?, ?, ?, ?, ?, ?
		 WHERE (SELECT COUNT(*) FROM devices
		        WHERE owner_user_id = ? AND trust_state IN ('pending', 'trusted')) < ?`,
		d.ID, d.OwnerUserID, d.Name, d.Type, d.PublicKey, d.TrustToken, d.TrustScore, d.PredecessorID,
		toMillis(d.LastSyncAt), toMillis(d.CreatedAt), toMillis(d.UpdatedAt),
		d.OwnerUserID, limit)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("create device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrLimitReached
	}
	d.TrustState = repository.TrustPending
	return nil
}

func scanDevice(row rowScanner) (*repository.Device, error) {
	var d repository.Device
	var state string
	var lastSync, created, updated int64
	if err := row.Scan(&d.ID, &d.OwnerUserID, &d.Name, &d.Type, &d.PublicKey, &state, &d.TrustToken,
		&d.TrustScore, &d.PredecessorID, &lastSync, &created, &updated); err != nil {
		return nil, err
	}
	d.TrustState = repository.TrustState(state)
	d.LastSyncAt = fromMillis(lastSync)
	d.CreatedAt = fromMillis(created)
	d.UpdatedAt = fromMillis(updated)
	return &d, nil
}

func (r *deviceRepo) Get(ctx context.Context, id string) (*repository.Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, `SELECT `+deviceCols+` FROM devices WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (r *deviceRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]repository.Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceCols+` FROM devices WHERE owner_user_id = ? ORDER BY created_at`, ownerUserID)
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
	if len(from) == 0 {
		return nil, repository.ErrInvalidInput
	}
	args := []any{string(to), score, toMillis(at), id}
	marks := make([]string, len(from))
	for i, st := range from {
		marks[i] = "?"
		args = append(args, string(st))
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET trust_state = ?, trust_score = ?, updated_at = ?
		 WHERE id = ? AND trust_state IN (`+strings.Join(marks, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("transition device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, repository.ErrPreconditionFailed
	}
	return r.Get(ctx, id)
}

func (r *deviceRepo) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET last_sync_at = ?, updated_at = ?
		 WHERE id = ? AND trust_state IN ('pending', 'trusted')`, toMillis(at), toMillis(at), id)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return repository.ErrPreconditionFailed
	}
	return nil
}

func (r *deviceRepo) ExpireStale(ctx context.Context, cutoff, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET trust_state = 'expired', trust_score = 0, updated_at = ?
		 WHERE trust_state IN ('pending', 'trusted') AND last_sync_at < ?`, toMillis(at), toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("expire stale devices: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
