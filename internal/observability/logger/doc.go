// Package logger expone un zap.Logger de proceso con scoping por contexto.
//
// El servicio maneja secretos (envelopes OPAQUE, shares, códigos de emergencia),
// por eso los helpers de campos de este paquete nunca aceptan material sensible:
// los IDs se loguean tal cual, los usernames sólo como pseudónimo (ver audit.Pseudonymizer).
//
// Uso:
//
//	logger.Init(logger.Config{Env: cfg.Log.Env, Level: cfg.Log.Level, ServiceName: "vaultcore"})
//	defer logger.Sync()
//
//	log := logger.From(ctx).With(logger.Component("session"))
//	log.Info("session revoked", logger.SessionHash(h), logger.UserID(uid))
package logger
