package memory

import (
	"context"
	"time"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

type sessionRepo Conn

func (r *sessionRepo) Create(ctx context.Context, s *repository.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.IDHash]; ok {
		return repository.ErrConflict
	}
	cp := cloneSession(s)
	if cp.Version == 0 {
		cp.Version = 1
	}
	r.sessions[s.IDHash] = cp
	s.Version = cp.Version
	return nil
}

func (r *sessionRepo) Get(ctx context.Context, idHash string) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[idHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneSession(s), nil
}

func (r *sessionRepo) Update(ctx context.Context, s *repository.Session, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.IDHash]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return repository.ErrPreconditionFailed
	}
	cp := cloneSession(s)
	cp.Version = expectedVersion + 1
	r.sessions[s.IDHash] = cp
	s.Version = cp.Version
	return nil
}

func (r *sessionRepo) Delete(ctx context.Context, idHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, idHash)
	return nil
}

func (r *sessionRepo) ListByUser(ctx context.Context, userID string) ([]repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, *cloneSession(s))
		}
	}
	return out, nil
}

func (r *sessionRepo) RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.UserID != userID || s.Revoked {
			continue
		}
		t := at
		s.Revoked = true
		s.RevokedAt = &t
		s.Version++
		n++
	}
	return n, nil
}

func (r *sessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, s := range r.sessions {
		if s.Revoked || s.Expired(now) {
			delete(r.sessions, k)
			n++
		}
	}
	return n, nil
}

func cloneSession(in *repository.Session) *repository.Session {
	out := *in
	out.Capabilities = append([]string(nil), in.Capabilities...)
	if in.RevokedAt != nil {
		t := *in.RevokedAt
		out.RevokedAt = &t
	}
	return &out
}
