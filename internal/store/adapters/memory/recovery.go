package memory

import (
	"context"
	"slices"
	"time"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

type recoveryRepo Conn

func (r *recoveryRepo) Put(ctx context.Context, m *repository.RecoveryMaterial) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovery[m.UserID] = cloneMaterial(m)
	return nil
}

func (r *recoveryRepo) Get(ctx context.Context, userID string) (*repository.RecoveryMaterial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.recovery[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneMaterial(m), nil
}

func (r *recoveryRepo) SetEmergencyCode(ctx context.Context, userID, codeHash string, issuedAt, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.recovery[userID]
	if !ok {
		return repository.ErrNotFound
	}
	m.EmergencyCodeHash = codeHash
	m.EmergencyIssuedAt = &issuedAt
	m.EmergencyExpiresAt = &expiresAt
	m.EmergencyUsedAt = nil
	m.UpdatedAt = issuedAt
	return nil
}

func (r *recoveryRepo) ConsumeEmergencyCode(ctx context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.recovery[userID]
	if !ok {
		return repository.ErrNotFound
	}
	if m.EmergencyUsedAt != nil || m.EmergencyCodeHash == "" {
		return repository.ErrPreconditionFailed
	}
	m.EmergencyUsedAt = &at
	m.UpdatedAt = at
	return nil
}

func (r *recoveryRepo) PutBackup(ctx context.Context, b *repository.KeyBackup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.backups[b.UserID] {
		if cur.ID == b.ID {
			return repository.ErrConflict
		}
	}
	c := *b
	c.Sealed = slices.Clone(b.Sealed)
	r.backups[b.UserID] = append(r.backups[b.UserID], c)
	return nil
}

func (r *recoveryRepo) ListBackups(ctx context.Context, userID string) ([]repository.KeyBackup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]repository.KeyBackup, 0, len(r.backups[userID]))
	for _, b := range r.backups[userID] {
		b.Sealed = slices.Clone(b.Sealed)
		out = append(out, b)
	}
	return out, nil
}

func (r *recoveryRepo) DeleteBackup(ctx context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.backups[userID]
	i := slices.IndexFunc(list, func(b repository.KeyBackup) bool { return b.ID == id })
	if i < 0 {
		return repository.ErrNotFound
	}
	r.backups[userID] = slices.Delete(list, i, i+1)
	return nil
}

func (r *recoveryRepo) PurgeBackups(ctx context.Context, userID, keepSetID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.backups[userID]
	kept := slices.DeleteFunc(list, func(b repository.KeyBackup) bool { return b.SetID != keepSetID })
	n := len(list) - len(kept)
	if len(kept) == 0 {
		delete(r.backups, userID)
	} else {
		r.backups[userID] = kept
	}
	return n, nil
}

func cloneMaterial(in *repository.RecoveryMaterial) *repository.RecoveryMaterial {
	out := *in
	out.EmergencyIssuedAt = cloneTime(in.EmergencyIssuedAt)
	out.EmergencyExpiresAt = cloneTime(in.EmergencyExpiresAt)
	out.EmergencyUsedAt = cloneTime(in.EmergencyUsedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ─── Throttle ───

type throttleEntry struct {
	windowStart time.Time
	hits        int64
}

type throttleRepo Conn

func (r *throttleRepo) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := now.UTC().Truncate(window)
	e, ok := r.throttle[key]
	if !ok || !e.windowStart.Equal(start) {
		e = &throttleEntry{windowStart: start}
		r.throttle[key] = e
	}
	e.hits++
	return e.hits, start.Add(window), nil
}

func (r *throttleRepo) Peek(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := now.UTC().Truncate(window)
	e, ok := r.throttle[key]
	if !ok || !e.windowStart.Equal(start) {
		return 0, start.Add(window), nil
	}
	return e.hits, start.Add(window), nil
}

func (r *throttleRepo) Reset(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.throttle, key)
	return nil
}
