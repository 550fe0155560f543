package email

import (
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"

	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
	"github.com/dropDatabas3/vaultcore/internal/util"
)

// Sender envía un mensaje multipart (texto + html opcional).
type Sender interface {
	Send(to []string, subject, textBody, htmlBody string) error
}

// SMTPSender implementa Sender usando SMTP.
type SMTPSender struct {
	Host               string
	Port               int
	From               string
	User               string
	Pass               string
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool

	// dial permite reemplazar el envío real en tests.
	dial func(d *mail.Dialer, m *mail.Message) error
}

func NewSMTPSender(host string, port int, from, user, pass, tlsMode string) *SMTPSender {
	if tlsMode == "" {
		tlsMode = "auto"
	}
	return &SMTPSender{Host: host, Port: port, From: from, User: user, Pass: pass, TLSMode: tlsMode}
}

func (s *SMTPSender) Send(to []string, subject, textBody, htmlBody string) error {
	if len(to) == 0 {
		return fmt.Errorf("smtp send: no recipients")
	}
	log := logger.L().With(
		logger.Component("smtp"),
		logger.String("host", s.Host),
		logger.Int("port", s.Port),
		logger.Count(len(to)),
		logger.String("to", util.MaskEmails(to)),
	)

	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)
	if htmlBody != "" {
		m.AddAlternative("text/html", htmlBody)
	}

	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{ServerName: s.Host, InsecureSkipVerify: s.InsecureSkipVerify}
	switch s.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	case "starttls":
		d.StartTLSPolicy = mail.MandatoryStartTLS
	}

	send := s.dial
	if send == nil {
		send = func(d *mail.Dialer, m *mail.Message) error { return d.DialAndSend(m) }
	}
	if err := send(d, m); err != nil {
		log.Error("smtp send failed", logger.Err(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Info("security alert sent", logger.String("subject", subject))
	return nil
}
