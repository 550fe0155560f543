package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

type auditRepo struct{ pool querier }

const auditCols = `id, user_id, seq, type, severity, ts, details, removed_fields, previous_hash, integrity_hash`

func (r *auditRepo) Append(ctx context.Context, e *repository.AuditEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_events (`+auditCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.UserID, e.Seq, e.Type, e.Severity, e.Timestamp, e.Details,
		joinList(e.RemovedFields), e.PreviousHash, e.IntegrityHash)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func scanEvent(row pgx.Row) (*repository.AuditEvent, error) {
	var e repository.AuditEvent
	var removed string
	if err := row.Scan(&e.ID, &e.UserID, &e.Seq, &e.Type, &e.Severity, &e.Timestamp, &e.Details,
		&removed, &e.PreviousHash, &e.IntegrityHash); err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()
	e.RemovedFields = splitList(removed)
	return &e, nil
}

func (r *auditRepo) Last(ctx context.Context, userID string) (*repository.AuditEvent, error) {
	e, err := scanEvent(r.pool.QueryRow(ctx,
		`SELECT `+auditCols+` FROM audit_events WHERE user_id = $1 ORDER BY seq DESC LIMIT 1`, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (r *auditRepo) Range(ctx context.Context, userID string, fromSeq int64, limit int) ([]repository.AuditEvent, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+auditCols+` FROM audit_events WHERE user_id = $1 AND seq >= $2 ORDER BY seq ASC LIMIT $3`,
		userID, fromSeq, limitArg)
	if err != nil {
		return nil, fmt.Errorf("range audit events: %w", err)
	}
	defer rows.Close()
	var out []repository.AuditEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
