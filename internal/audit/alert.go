package audit

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/vaultcore/internal/email"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
)

// Alerter entrega alertas de seguridad fuera de banda.
type Alerter interface {
	Alert(ctx context.Context, a email.Alert) error
}

// LogAlerter escribe la alerta en el log (nivel error). Es el default.
type LogAlerter struct{}

func (LogAlerter) Alert(_ context.Context, a email.Alert) error {
	logger.Named("alert").Error("security alert",
		logger.String("kind", a.Kind),
		logger.String("severity", a.Severity),
		logger.Subject(a.Subject),
		logger.String("detail", a.Detail),
	)
	return nil
}

// MailAlerter envía la alerta por SMTP.
type MailAlerter struct {
	Sender email.Sender
	To     []string
}

func (m MailAlerter) Alert(_ context.Context, a email.Alert) error {
	if m.Sender == nil || len(m.To) == 0 {
		return fmt.Errorf("mail alerter: not configured")
	}
	subject, body, err := email.RenderAlert(a)
	if err != nil {
		return err
	}
	return m.Sender.Send(m.To, subject, body, "")
}

// Alerters reparte la alerta a varios destinos; devuelve el primer error.
type Alerters []Alerter

func (as Alerters) Alert(ctx context.Context, a email.Alert) error {
	var first error
	for _, x := range as {
		if err := x.Alert(ctx, a); err != nil && first == nil {
			first = err
		}
	}
	return first
}
