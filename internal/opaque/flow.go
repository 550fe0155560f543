package opaque

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dropDatabas3/vaultcore/internal/domain/types"
)

// State es el estado de un Flow.
type State string

const (
	StateIdle               State = "idle"
	StateClientRequest      State = "client-request"
	StateServerProcessing   State = "server-processing"
	StateClientCompletion   State = "client-completion"
	StateServerVerification State = "server-verification"
	StateAuthenticated      State = "authenticated"
	StateRegistered         State = "registered"
	StateError              State = "error"
)

// Kind distingue registro de autenticación.
type Kind string

const (
	KindRegistration   Kind = "registration"
	KindAuthentication Kind = "authentication"
)

var order = []State{StateIdle, StateClientRequest, StateServerProcessing, StateClientCompletion, StateServerVerification}

var (
	ErrInvalidTransition = types.New(types.CodeInvalidTransition, "flow", "invalid transition")
	ErrAttemptsExhausted = types.New(types.CodeNetwork, "flow", "attempts exhausted")
	ErrFlowTerminated    = types.New(types.CodeClient, "flow", "flow already terminated")
)

// Flow es la máquina de estados de un intento. Cada paso corre una sola vez,
// en orden, con su propio timeout; cualquier fallo deja el flujo en error
// y hay que crear uno nuevo.
type Flow struct {
	mu       sync.Mutex
	kind     Kind
	state    State
	err      error
	attempts int
	history  []State
}

// NewFlow crea un flujo en idle con maxAttempts reintentos de red en total.
func NewFlow(kind Kind, maxAttempts int) *Flow {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Flow{kind: kind, state: StateIdle, attempts: maxAttempts, history: []State{StateIdle}}
}

func (f *Flow) Kind() Kind { return f.kind }

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err es el error que llevó el flujo a StateError.
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// History devuelve los estados recorridos.
func (f *Flow) History() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]State(nil), f.history...)
}

// AttemptsLeft devuelve cuántos intentos de red quedan.
func (f *Flow) AttemptsLeft() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *Flow) terminal() bool {
	return f.state == StateError || f.state == StateAuthenticated || f.state == StateRegistered
}

func (f *Flow) next() State {
	for i, s := range order {
		if s == f.state && i+1 < len(order) {
			return order[i+1]
		}
	}
	return ""
}

// Cancel lleva el flujo a error si todavía no terminó.
func (f *Flow) Cancel(reason error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.terminal() {
		f.fail(reason)
	}
}

func (f *Flow) fail(err error) {
	if err == nil {
		err = types.New(types.CodeClient, "flow", "cancelled")
	}
	f.state = StateError
	f.err = err
	f.history = append(f.history, StateError)
}

// Step ejecuta fn como el paso `to`. to debe ser el siguiente estado; si no,
// devuelve ErrInvalidTransition sin tocar el flujo. fn corre con un contexto
// limitado por timeout: si vence, el flujo queda en error con NETWORK_ERROR
// aunque fn siga corriendo (su resultado se descarta).
func (f *Flow) Step(ctx context.Context, to State, timeout time.Duration, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	if f.terminal() {
		f.mu.Unlock()
		return ErrFlowTerminated
	}
	if f.next() != to {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.state, to)
	}
	f.state = to
	f.history = append(f.history, to)
	f.mu.Unlock()

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- types.Newf(types.CodeClient, string(to), "panic: %v", r)
			}
		}()
		done <- fn(sctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-sctx.Done():
		err = types.Wrap(types.CodeNetwork, string(to), sctx.Err())
	}
	if err == nil && sctx.Err() != nil {
		// fn terminó justo al vencer: el paso no cuenta
		err = types.Wrap(types.CodeNetwork, string(to), sctx.Err())
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !types.HasCode(err, types.CodeNetwork) {
		err = types.Wrap(types.CodeNetwork, string(to), err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terminal() {
		// cancelado mientras corría
		return f.err
	}
	if err != nil {
		f.fail(err)
		return err
	}
	if to == StateServerVerification {
		final := StateAuthenticated
		if f.kind == KindRegistration {
			final = StateRegistered
		}
		f.state = final
		f.history = append(f.history, final)
	}
	return nil
}

// consume descuenta un intento. false si ya no quedan.
func (f *Flow) consume() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts <= 0 {
		return false
	}
	f.attempts--
	return true
}
