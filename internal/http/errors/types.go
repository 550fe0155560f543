package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/dropDatabas3/vaultcore/internal/domain/types"
)

// AppError es el error que ve un cliente HTTP.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // causa original, sólo para logs
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// New crea un AppError.
func New(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// WithDetail devuelve una copia con Detail; no muta los errores predefinidos.
func (e *AppError) WithDetail(detail string) *AppError {
	c := *e
	c.Detail = detail
	return &c
}

// WithCause devuelve una copia con la causa original.
func (e *AppError) WithCause(err error) *AppError {
	c := *e
	c.Err = err
	return &c
}

// =================================================================================
// ERRORES PREDEFINIDOS
// =================================================================================

var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "La solicitud contiene sintaxis inválida o parámetros faltantes.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidJSON = &AppError{
		Code:       "INVALID_JSON",
		Message:    "El cuerpo de la solicitud no es un JSON válido.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrMissingFields = &AppError{
		Code:       "MISSING_FIELDS",
		Message:    "Faltan campos requeridos en la solicitud.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidFormat = &AppError{
		Code:       "INVALID_FORMAT",
		Message:    "El formato de uno o más campos es inválido.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrUnsupportedMediaType = &AppError{
		Code:       "UNSUPPORTED_MEDIA_TYPE",
		Message:    "Content-Type debe ser application/json.",
		HTTPStatus: http.StatusUnsupportedMediaType,
	}

	ErrBodyTooLarge = &AppError{
		Code:       "BODY_TOO_LARGE",
		Message:    "El cuerpo de la solicitud excede el tamaño máximo permitido.",
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}
)

var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "No autorizado. Se requiere autenticación.",
		HTTPStatus: http.StatusUnauthorized,
	}

	// ErrInvalidCredentials es la única respuesta ante cualquier falla de
	// autenticación; la causa exacta queda en audit.
	ErrInvalidCredentials = &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "Las credenciales proporcionadas son inválidas.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrSessionInvalid = &AppError{
		Code:       "SESSION_INVALID",
		Message:    "La sesión no es válida, por favor inicie sesión nuevamente.",
		HTTPStatus: http.StatusUnauthorized,
	}
)

var (
	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "No tiene permisos para realizar esta acción.",
		HTTPStatus: http.StatusForbidden,
	}

	ErrRestrictedSession = &AppError{
		Code:       "RESTRICTED_SESSION",
		Message:    "La sesión actual es restringida; complete la recuperación de la cuenta.",
		HTTPStatus: http.StatusForbidden,
	}

	ErrDeviceRevoked = &AppError{
		Code:       string(types.CodeDeviceRevoked),
		Message:    "El dispositivo fue revocado.",
		HTTPStatus: http.StatusForbidden,
	}

	ErrRecoveryUnavailable = &AppError{
		Code:       string(types.CodeRecoveryUnavailable),
		Message:    "La vía de recuperación no está disponible para esta cuenta.",
		HTTPStatus: http.StatusForbidden,
	}
)

var (
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "El recurso solicitado no fue encontrado.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrMethodNotAllowed = &AppError{
		Code:       "METHOD_NOT_ALLOWED",
		Message:    "Método HTTP no permitido para este recurso.",
		HTTPStatus: http.StatusMethodNotAllowed,
	}
)

var (
	ErrInvalidTransition = &AppError{
		Code:       string(types.CodeInvalidTransition),
		Message:    "La operación no es válida en el estado actual del recurso.",
		HTTPStatus: http.StatusConflict,
	}

	ErrDeviceLimit = &AppError{
		Code:       string(types.CodeDeviceLimit),
		Message:    "Se alcanzó el máximo de dispositivos de la cuenta.",
		HTTPStatus: http.StatusConflict,
	}

	ErrTamperDetected = &AppError{
		Code:       string(types.CodeTamperDetected),
		Message:    "Se detectó una manipulación del registro.",
		HTTPStatus: http.StatusConflict,
	}

	ErrRequestInProgress = &AppError{
		Code:       "REQUEST_IN_PROGRESS",
		Message:    "Ya hay una solicitud en curso con el mismo message_id.",
		HTTPStatus: http.StatusConflict,
	}
)

var (
	ErrRateLimited = &AppError{
		Code:       string(types.CodeRateLimited),
		Message:    "Demasiadas solicitudes. Intente más tarde.",
		HTTPStatus: http.StatusTooManyRequests,
	}
)

var (
	ErrInternalServerError = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Ocurrió un error inesperado en el servidor.",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrNotImplemented = &AppError{
		Code:       string(types.CodeNotSupported),
		Message:    "La funcionalidad no está disponible en este servidor.",
		HTTPStatus: http.StatusNotImplemented,
	}

	ErrServiceUnavailable = &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "El servicio no está disponible temporalmente.",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)

// FromError convierte cualquier error en AppError. Los *types.Error se
// mapean por Code; los errores de autenticación colapsan en
// ErrInvalidCredentials para no revelar el motivo.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	var te *types.Error
	if !stderrors.As(err, &te) {
		return ErrInternalServerError.WithCause(err)
	}

	switch te.Code {
	case types.CodeInvalidCredentials, types.CodeVerificationFailed, types.CodeReplaySuspected:
		return ErrInvalidCredentials.WithCause(err)
	case types.CodeClient, types.CodeUserCancelled:
		return ErrBadRequest.WithDetail(te.Msg).WithCause(err)
	case types.CodeWrongWordCount, types.CodeUnknownWord, types.CodeChecksumMismatch,
		types.CodeInsufficientShares, types.CodeMixedShareSets, types.CodeDuplicateShare,
		types.CodeMalformedShare:
		return New(http.StatusBadRequest, string(te.Code), "El material de recuperación es inválido.").
			WithDetail(te.Msg).WithCause(err)
	case types.CodeNotFound:
		return ErrNotFound.WithCause(err)
	case types.CodeInvalidTransition:
		return ErrInvalidTransition.WithDetail(te.Msg).WithCause(err)
	case types.CodeDeviceRevoked:
		return ErrDeviceRevoked.WithCause(err)
	case types.CodeDeviceLimit:
		return ErrDeviceLimit.WithCause(err)
	case types.CodeTamperDetected:
		return ErrTamperDetected.WithCause(err)
	case types.CodeRateLimited:
		return ErrRateLimited.WithCause(err)
	case types.CodeRecoveryUnavailable:
		return ErrRecoveryUnavailable.WithDetail(te.Msg).WithCause(err)
	case types.CodeNotSupported:
		return ErrNotImplemented.WithCause(err)
	case types.CodeNetwork:
		return ErrServiceUnavailable.WithCause(err)
	default:
		return ErrInternalServerError.WithCause(err)
	}
}
