package email

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

// Alert es el contenido de una alerta de seguridad.
type Alert struct {
	Kind     string // tamper_detected | replay_suspected | ...
	Subject  string // pseudónimo del usuario
	Severity string
	At       time.Time
	Detail   string
}

var alertTpl = template.Must(template.New("alert").Parse(`vaultcore security alert

Kind:     {{.Kind}}
Severity: {{.Severity}}
Subject:  {{.Subject}}
At:       {{.At.UTC.Format "2006-01-02T15:04:05Z07:00"}}
{{if .Detail}}
{{.Detail}}
{{end}}`))

// RenderAlert devuelve asunto y cuerpo de texto.
func RenderAlert(a Alert) (subject, body string, err error) {
	var buf bytes.Buffer
	if err := alertTpl.Execute(&buf, a); err != nil {
		return "", "", fmt.Errorf("render alert: %w", err)
	}
	return fmt.Sprintf("[vaultcore] %s (%s)", a.Kind, a.Severity), buf.String(), nil
}

var emergencyTpl = template.Must(template.New("emergency").Parse(`Se emitió un código de emergencia para tu cuenta de vaultcore.

Código:  {{.Code}}
Vence:   {{.ExpiresAt.UTC.Format "2006-01-02T15:04:05Z07:00"}}

El código sirve una sola vez y abre una sesión restringida: vas a tener
que completar la recuperación con tu frase o tus shares.
Si no lo pediste, ignorá este mensaje y revisá tus dispositivos.
`))

// RenderEmergencyCode arma el mensaje de entrega de un código de emergencia.
func RenderEmergencyCode(code string, expiresAt time.Time) (subject, body string, err error) {
	var buf bytes.Buffer
	data := struct {
		Code      string
		ExpiresAt time.Time
	}{code, expiresAt}
	if err := emergencyTpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render emergency code: %w", err)
	}
	return "[vaultcore] Código de emergencia", buf.String(), nil
}
