package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// HTTP
// =================================================================================

func RequestID(v string) zap.Field       { return zap.String("request_id", v) }
func Method(v string) zap.Field          { return zap.String("method", v) }
func Path(v string) zap.Field            { return zap.String("path", v) }
func Status(v int) zap.Field             { return zap.Int("status", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func ClientIP(v string) zap.Field        { return zap.String("client_ip", v) }

// =================================================================================
// DOMINIO
// =================================================================================

// UserID es el ID interno (uuid), nunca el username.
func UserID(v string) zap.Field { return zap.String("user_id", v) }

// Subject es el pseudónimo HMAC del username.
func Subject(v string) zap.Field { return zap.String("subject", v) }

func DeviceID(v string) zap.Field     { return zap.String("device_id", v) }
func CredentialID(v string) zap.Field { return zap.String("credential_id", v) }

// SessionHash es el hash del token; el token en claro no se loguea.
func SessionHash(v string) zap.Field { return zap.String("session_hash", v) }

// Flow identifica el flujo (registration, login, recovery, pairing).
func Flow(v string) zap.Field { return zap.String("flow", v) }

// State es el estado de una máquina de estados (OPAQUE, trust).
func State(v string) zap.Field { return zap.String("state", v) }

func Backend(v string) zap.Field  { return zap.String("backend", v) }
func Platform(v string) zap.Field { return zap.String("platform", v) }
func Code(v string) zap.Field     { return zap.String("code", v) }
func Attempt(v int) zap.Field     { return zap.Int("attempt", v) }
func Seq(v int64) zap.Field       { return zap.Int64("seq", v) }

// =================================================================================
// SISTEMA
// =================================================================================

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Err(err error) zap.Field      { return zap.Error(err) }
func Count(v int) zap.Field        { return zap.Int("count", v) }
func String(k, v string) zap.Field { return zap.String(k, v) }
func Int(k string, v int) zap.Field {
	return zap.Int(k, v)
}
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
