// Package types define la taxonomía de errores compartida por los componentes.
//
// Cada componente devuelve *Error con un Code estable; la capa HTTP mapea
// el Code a status, y audit registra la causa precisa (Err) aunque al
// cliente sólo le llegue un mensaje genérico.
package types

import (
	"errors"
	"fmt"
)

// Code clasifica un error de dominio.
type Code string

const (
	CodeClient             Code = "CLIENT_ERROR"
	CodeServer             Code = "SERVER_ERROR"
	CodeNetwork            Code = "NETWORK_ERROR"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeReplaySuspected    Code = "REPLAY_SUSPECTED"
	CodeDeviceLimit        Code = "DEVICE_LIMIT_REACHED"
	CodeTamperDetected     Code = "TAMPER_DETECTED"
	CodeRateLimited        Code = "RATE_LIMITED"

	// credential
	CodeNotSupported       Code = "NOT_SUPPORTED"
	CodeUserCancelled      Code = "USER_CANCELLED"
	CodeVerificationFailed Code = "VERIFICATION_FAILED"

	// device / flujo
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeDeviceRevoked     Code = "DEVICE_REVOKED"
	CodeNotFound          Code = "NOT_FOUND"

	// recovery
	CodeWrongWordCount      Code = "WRONG_WORD_COUNT"
	CodeUnknownWord         Code = "UNKNOWN_WORD"
	CodeChecksumMismatch    Code = "CHECKSUM_MISMATCH"
	CodeInsufficientShares  Code = "INSUFFICIENT_SHARES"
	CodeMixedShareSets      Code = "MIXED_SHARE_SETS"
	CodeDuplicateShare      Code = "DUPLICATE_SHARE"
	CodeMalformedShare      Code = "MALFORMED_SHARE"
	CodeRecoveryUnavailable Code = "RECOVERY_UNAVAILABLE"
)

// Error es el error tipado de los componentes.
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := string(e.Code)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is compara por Code, así errors.Is(err, types.E(types.CodeNetwork)) funciona
// sin importar Op/Msg/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && t.Op == "" && t.Msg == "" && t.Err == nil
}

// E crea un *Error sin contexto, útil como target de errors.Is.
func E(code Code) *Error { return &Error{Code: code} }

// New crea un error con operación y mensaje.
func New(code Code, op, msg string) *Error { return &Error{Code: code, Op: op, Msg: msg} }

// Wrap envuelve err con código y operación.
func Wrap(code Code, op string, err error) *Error { return &Error{Code: code, Op: op, Err: err} }

// Newf es New con formato.
func Newf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extrae el Code; errores no tipados son SERVER_ERROR.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeServer
}

// HasCode reporta si err (o alguno que envuelve) tiene el code dado.
func HasCode(err error, code Code) bool { return errors.Is(err, E(code)) }
