package repository

import "errors"

// Errores que todo adapter debe devolver (envueltos o no) para que los
// servicios decidan sin conocer el driver.
var (
	ErrNotFound = errors.New("not found")
	// ErrConflict: clave única ya ocupada (username, credential id, share set).
	ErrConflict = errors.New("conflict")
	// ErrPreconditionFailed: el compare-and-set perdió contra otra escritura.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrLimitReached: techo por usuario (dispositivos activos).
	ErrLimitReached = errors.New("limit reached")
	// ErrInvalidInput: argumentos que el adapter rechaza antes de ir a la base.
	ErrInvalidInput = errors.New("invalid input")
)

func IsNotFound(err error) bool           { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool           { return errors.Is(err, ErrConflict) }
func IsPreconditionFailed(err error) bool { return errors.Is(err, ErrPreconditionFailed) }
func IsLimitReached(err error) bool       { return errors.Is(err, ErrLimitReached) }
