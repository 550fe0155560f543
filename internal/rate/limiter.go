// Package rate agrupa los limitadores de vaultcore:
//
//   - StoreLimiter: ventana fija persistida en el store (throttling de recovery por cuenta,
//     sobrevive reinicios).
//   - RedisLimiter: ventana fija INCR+EXPIRE compartida entre réplicas.
//   - KeyedLimiter: token bucket en proceso (golang.org/x/time/rate) para el middleware HTTP.
package rate

import (
	"context"
	"time"
)

// Result describe la decisión de un limitador.
type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	CurrentHits int64
}

// Limiter decide si key puede continuar.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// ResettableLimiter además permite limpiar el contador de key.
type ResettableLimiter interface {
	Limiter
	Reset(ctx context.Context, key string) error
}

// InspectableLimiter además deja ver el estado de key sin consumir un
// intento. Allowed indica si el próximo intento pasaría.
type InspectableLimiter interface {
	ResettableLimiter
	Peek(ctx context.Context, key string) (Result, error)
}

// peek es decide visto desde el próximo intento.
func peek(hits, max int64, resetAt, now time.Time) Result {
	res := decide(hits+1, max, resetAt, now)
	res.CurrentHits = hits
	res.Remaining = max - hits
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	return res
}

func decide(hits, max int64, resetAt, now time.Time) Result {
	res := Result{Allowed: hits <= max, CurrentHits: hits, Remaining: max - hits}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = resetAt.Sub(now)
		if res.RetryAfter < time.Second {
			res.RetryAfter = time.Second
		}
	}
	return res
}
