package memory

import (
	"context"
	"time"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

type userRepo Conn

func (r *userRepo) Create(ctx context.Context, user *repository.User, record *repository.OpaqueRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.usernames[user.Username]; ok {
		return repository.ErrConflict
	}
	if _, ok := r.users[user.ID]; ok {
		return repository.ErrConflict
	}
	u := *user
	rec := cloneRecord(record)
	r.users[u.ID] = &u
	r.usernames[u.Username] = u.ID
	r.records[u.Username] = rec
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*repository.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*repository.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.usernames[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *r.users[id]
	return &out, nil
}

func (r *userRepo) GetRecord(ctx context.Context, username string) (*repository.OpaqueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (r *userRepo) ResetRecord(ctx context.Context, username string, record *repository.OpaqueRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.records[username]
	if !ok {
		return repository.ErrNotFound
	}
	rec := cloneRecord(record)
	rec.CreatedAt = prev.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	r.records[username] = rec
	return nil
}

func cloneRecord(in *repository.OpaqueRecord) *repository.OpaqueRecord {
	out := *in
	out.Envelope = append([]byte(nil), in.Envelope...)
	out.Salt = append([]byte(nil), in.Salt...)
	return &out
}

// ─── Credentials ───

type credentialRepo Conn

func (r *credentialRepo) Create(ctx context.Context, c *repository.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.credentials[c.ID]; ok {
		return repository.ErrConflict
	}
	r.credentials[c.ID] = cloneCredential(c)
	return nil
}

func (r *credentialRepo) Get(ctx context.Context, id string) (*repository.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.credentials[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneCredential(c), nil
}

func (r *credentialRepo) ListByUser(ctx context.Context, userID string) ([]repository.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.Credential
	for _, c := range r.credentials {
		if c.OwnerUserID == userID {
			out = append(out, *cloneCredential(c))
		}
	}
	return out, nil
}

func (r *credentialRepo) UpdateCounter(ctx context.Context, id string, expected, next uint32, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.credentials[id]
	if !ok {
		return repository.ErrNotFound
	}
	if c.SignCount != expected {
		return repository.ErrPreconditionFailed
	}
	c.SignCount = next
	c.LastUsedAt = usedAt
	return nil
}

func cloneCredential(in *repository.Credential) *repository.Credential {
	out := *in
	out.PublicKey = append([]byte(nil), in.PublicKey...)
	out.Transports = append([]string(nil), in.Transports...)
	return &out
}
