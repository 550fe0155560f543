package email

import (
	"errors"
	"testing"
	"time"

	mail "github.com/go-mail/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderAlert(t *testing.T) {
	subj, body, err := RenderAlert(Alert{
		Kind: "tamper_detected", Severity: "critical", Subject: "ab12",
		At: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), Detail: "broken at 3",
	})
	require.NoError(t, err)
	assert.Equal(t, "[vaultcore] tamper_detected (critical)", subj)
	assert.Contains(t, body, "2026-05-01T10:00:00Z")
	assert.Contains(t, body, "broken at 3")
}

func TestSMTPSender_Send(t *testing.T) {
	s := NewSMTPSender("smtp.example", 587, "alerts@example", "", "", "starttls")
	var got *mail.Message
	s.dial = func(d *mail.Dialer, m *mail.Message) error {
		assert.Equal(t, mail.MandatoryStartTLS, d.StartTLSPolicy)
		got = m
		return nil
	}
	require.NoError(t, s.Send([]string{"ops@example"}, "subj", "body", ""))
	require.NotNil(t, got)
	assert.Equal(t, []string{"ops@example"}, got.GetHeader("To"))

	s.dial = func(*mail.Dialer, *mail.Message) error { return errors.New("boom") }
	assert.Error(t, s.Send([]string{"ops@example"}, "subj", "body", ""))
	assert.Error(t, s.Send(nil, "subj", "body", ""))
}
