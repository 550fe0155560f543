// Package email envía alertas de seguridad por SMTP (go-mail).
//
// vaultcore no guarda emails de usuarios: los destinatarios son operadores
// configurados en audit.alert_to. Los cuerpos se renderizan desde templates
// embebidos y nunca incluyen detalles sin scrubbing.
package email
