package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

type auditRepo struct{ db *sql.DB }

const auditCols = `id, user_id, seq, type, severity, ts, details, removed_fields, previous_hash, integrity_hash`

func (r *auditRepo) Append(ctx context.Context, e *repository.AuditEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_events (`+auditCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Seq, e.Type, e.Severity, toMillis(e.Timestamp), e.Details,
		joinList(e.RemovedFields), e.PreviousHash, e.IntegrityHash)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func scanEvent(row rowScanner) (*repository.AuditEvent, error) {
	var e repository.AuditEvent
	var ts int64
	var removed string
	if err := row.Scan(&e.ID, &e.UserID, &e.Seq, &e.Type, &e.Severity, &ts, &e.Details,
		&removed, &e.PreviousHash, &e.IntegrityHash); err != nil {
		return nil, err
	}
	e.Timestamp = fromMillis(ts)
	e.RemovedFields = splitList(removed)
	return &e, nil
}

func (r *auditRepo) Last(ctx context.Context, userID string) (*repository.AuditEvent, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+auditCols+` FROM audit_events WHERE user_id = ? ORDER BY seq DESC LIMIT 1`, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (r *auditRepo) Range(ctx context.Context, userID string, fromSeq int64, limit int) ([]repository.AuditEvent, error) {
	if limit <= 0 {
		limit = -1 // sin límite en SQLite
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditCols+` FROM audit_events WHERE user_id = ? AND seq >= ? ORDER BY seq ASC LIMIT ?`,
		userID, fromSeq, limit)
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
