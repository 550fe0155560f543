// Package dto define los cuerpos de request/response de la API HTTP.
package dto

import "github.com/dropDatabas3/vaultcore/internal/session"

// Envelope va embebido en todo request de protocolo. MessageID hace
// idempotente el paso (ver middlewares.WithIdempotency).
type Envelope struct {
	MessageID string `json:"message_id,omitempty"`
}

// SessionResponse es lo que devuelve todo flujo que termina en sesión.
type SessionResponse struct {
	Success    bool             `json:"success"`
	Session    *session.Session `json:"session"`
	Method     string           `json:"method,omitempty"`
	Restricted bool             `json:"restricted,omitempty"`
}

// OK es la respuesta mínima de éxito.
type OK struct {
	Success bool `json:"success"`
}
