package rate

import (
	"context"
	"math"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	xrate "golang.org/x/time/rate"
)

// KeyedLimiter mantiene un token bucket por key (p.ej. IP del cliente).
// Los buckets inactivos expiran vía go-cache.
type KeyedLimiter struct {
	limit xrate.Limit
	burst int
	mu    sync.Mutex
	items *gocache.Cache
}

// NewKeyedLimiter crea un limitador de rps requests/seg con ráfaga burst.
func NewKeyedLimiter(rps float64, burst int, idle time.Duration) *KeyedLimiter {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &KeyedLimiter{
		limit: xrate.Limit(rps),
		burst: burst,
		items: gocache.New(idle, idle),
	}
}

func (k *KeyedLimiter) bucket(key string) *xrate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	if v, ok := k.items.Get(key); ok {
		k.items.SetDefault(key, v)
		return v.(*xrate.Limiter)
	}
	l := xrate.NewLimiter(k.limit, k.burst)
	k.items.SetDefault(key, l)
	return l
}

func (k *KeyedLimiter) Allow(_ context.Context, key string) (Result, error) {
	l := k.bucket(key)
	r := l.Reserve()
	delay := r.Delay()
	if delay == 0 {
		return Result{Allowed: true, Remaining: int64(math.Floor(l.Tokens()))}, nil
	}
	r.Cancel()
	if delay == xrate.InfDuration {
		delay = time.Minute
	}
	return Result{Allowed: false, RetryAfter: delay}, nil
}
