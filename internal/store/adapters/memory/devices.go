package memory

import (
	"context"
	"time"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

type deviceRepo Conn

func (r *deviceRepo) CreatePending(ctx context.Context, d *repository.Device, maxDevices int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[d.ID]; ok {
		return repository.ErrConflict
	}
	if maxDevices > 0 {
		active := 0
		for _, cur := range r.devices {
			if cur.OwnerUserID == d.OwnerUserID &&
				(cur.TrustState == repository.TrustPending || cur.TrustState == repository.TrustTrusted) {
				active++
			}
		}
		if active >= maxDevices {
			return repository.ErrLimitReached
		}
	}
	cp := cloneDevice(d)
	cp.TrustState = repository.TrustPending
	r.devices[d.ID] = cp
	return nil
}

func (r *deviceRepo) Get(ctx context.Context, id string) (*repository.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneDevice(d), nil
}

func (r *deviceRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]repository.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.Device
	for _, d := range r.devices {
		if d.OwnerUserID == ownerUserID {
			out = append(out, *cloneDevice(d))
		}
	}
	return out, nil
}

func (r *deviceRepo) Transition(ctx context.Context, id string, from []repository.TrustState, to repository.TrustState, score float64, at time.Time) (*repository.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	allowed := false
	for _, st := range from {
		if d.TrustState == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, repository.ErrPreconditionFailed
	}
	d.TrustState = to
	d.TrustScore = score
	d.UpdatedAt = at
	return cloneDevice(d), nil
}

func (r *deviceRepo) Touch(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return repository.ErrNotFound
	}
	if d.TrustState != repository.TrustTrusted && d.TrustState != repository.TrustPending {
		return repository.ErrPreconditionFailed
	}
	d.LastSyncAt = at
	d.UpdatedAt = at
	return nil
}

func (r *deviceRepo) ExpireStale(ctx context.Context, cutoff, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.devices {
		if d.TrustState != repository.TrustPending && d.TrustState != repository.TrustTrusted {
			continue
		}
		if d.LastSyncAt.Before(cutoff) {
			d.TrustState = repository.TrustExpired
			d.TrustScore = 0
			d.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

func cloneDevice(in *repository.Device) *repository.Device {
	out := *in
	out.PublicKey = append([]byte(nil), in.PublicKey...)
	return &out
}
