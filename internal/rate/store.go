package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

// StoreLimiter es una ventana fija sobre repository.ThrottleRepository.
// Con un adapter durable (sqlite/postgres) el conteo sobrevive reinicios.
type StoreLimiter struct {
	Repo   repository.ThrottleRepository
	Prefix string
	Max    int64
	Window time.Duration
	Now    func() time.Time
}

func NewStoreLimiter(repo repository.ThrottleRepository, prefix string, max int, window time.Duration) *StoreLimiter {
	return &StoreLimiter{Repo: repo, Prefix: prefix, Max: int64(max), Window: window, Now: time.Now}
}

func (l *StoreLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.Now()
	hits, resetAt, err := l.Repo.Hit(ctx, l.Prefix+key, l.Window, now)
	if err != nil {
		return Result{}, fmt.Errorf("rate: store: %w", err)
	}
	return decide(hits, l.Max, resetAt, now), nil
}

// Peek informa el conteo de la ventana actual sin sumar un hit.
func (l *StoreLimiter) Peek(ctx context.Context, key string) (Result, error) {
	now := l.Now()
	hits, resetAt, err := l.Repo.Peek(ctx, l.Prefix+key, l.Window, now)
	if err != nil {
		return Result{}, fmt.Errorf("rate: store: %w", err)
	}
	return peek(hits, l.Max, resetAt, now), nil
}

// Reset limpia el contador (tras un recovery exitoso).
func (l *StoreLimiter) Reset(ctx context.Context, key string) error {
	return l.Repo.Reset(ctx, l.Prefix+key)
}

var _ InspectableLimiter = (*StoreLimiter)(nil)
