package memory

import (
	"context"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

type auditRepo Conn

func (r *auditRepo) Append(ctx context.Context, e *repository.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := r.audit[e.UserID]
	if n := len(chain); n > 0 && chain[n-1].Seq >= e.Seq {
		return repository.ErrConflict
	}
	r.audit[e.UserID] = append(chain, cloneEvent(e))
	return nil
}

func (r *auditRepo) Last(ctx context.Context, userID string) (*repository.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := r.audit[userID]
	if len(chain) == 0 {
		return nil, repository.ErrNotFound
	}
	e := cloneEvent(&chain[len(chain)-1])
	return &e, nil
}

func (r *auditRepo) Range(ctx context.Context, userID string, fromSeq int64, limit int) ([]repository.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := r.audit[userID]
	var out []repository.AuditEvent
	for _, e := range chain {
		if e.Seq < fromSeq {
			continue
		}
		out = append(out, cloneEvent(&e))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func cloneEvent(in *repository.AuditEvent) repository.AuditEvent {
	out := *in
	out.Details = append([]byte(nil), in.Details...)
	out.RemovedFields = append([]string(nil), in.RemovedFields...)
	return out
}

// UnsafeTamperAuditForTests modifica un evento ya persistido. Usar sólo en tests.
func (c *Conn) UnsafeTamperAuditForTests(userID string, seq int64, fn func(e *repository.AuditEvent)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	chain := c.audit[userID]
	for i := range chain {
		if chain[i].Seq == seq {
			fn(&chain[i])
			return true
		}
	}
	return false
}

// UnsafeDeleteAuditForTests elimina un evento de la cadena. Usar sólo en tests.
func (c *Conn) UnsafeDeleteAuditForTests(userID string, seq int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	chain := c.audit[userID]
	for i := range chain {
		if chain[i].Seq == seq {
			c.audit[userID] = append(chain[:i:i], chain[i+1:]...)
			return true
		}
	}
	return false
}
