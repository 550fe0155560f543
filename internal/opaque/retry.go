package opaque

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/dropDatabas3/vaultcore/internal/domain/types"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
)

// RetryPolicy es el backoff exponencial para errores de red.
type RetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// Jitter en [0,1]: fracción aleatoria restada a cada espera.
	Jitter float64
}

// DefaultRetryPolicy: 100ms, 200ms, 400ms... tope 2s.
var DefaultRetryPolicy = RetryPolicy{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: 0.2}

func (p RetryPolicy) delay(n int) time.Duration {
	d := float64(p.Initial)
	for i := 0; i < n; i++ {
		d *= p.Factor
	}
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	if p.Jitter > 0 {
		d -= d * p.Jitter * rand.Float64()
	}
	return time.Duration(d)
}

// Retry ejecuta fn reintentando sólo NETWORK_ERROR. Cada ejecución consume
// un intento del flujo; sin intentos devuelve ErrAttemptsExhausted y el
// llamador debe empezar con un Flow nuevo. El resto de los errores
// (INVALID_CREDENTIALS incluido) vuelve sin reintentar.
func (f *Flow) Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	var last error
	for n := 0; ; n++ {
		if !f.consume() {
			if last != nil {
				return types.Wrap(types.CodeNetwork, "retry", &exhausted{last})
			}
			return ErrAttemptsExhausted
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if types.CodeOf(err) != types.CodeNetwork {
			return err
		}
		last = err

		if f.AttemptsLeft() == 0 {
			continue
		}
		logger.From(ctx).Debug("opaque step failed, retrying", logger.Attempt(n+1), logger.Err(err))
		t := time.NewTimer(p.delay(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return types.Wrap(types.CodeNetwork, "retry", ctx.Err())
		case <-t.C:
		}
	}
}

type exhausted struct{ last error }

func (e *exhausted) Error() string { return ErrAttemptsExhausted.Error() + ": " + e.last.Error() }
func (e *exhausted) Unwrap() error { return e.last }
func (e *exhausted) Is(target error) bool {
	return target == ErrAttemptsExhausted
}
