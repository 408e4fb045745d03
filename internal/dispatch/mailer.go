package dispatch

import (
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPMailer delivers plain-text mail through a configured SMTP relay.
type SMTPMailer struct {
	// Addr is the relay address (host:port).
	Addr string

	// From is the envelope sender.
	From string
}

// Send delivers one message. The relay is assumed to accept unauthenticated
// submission (internal relay); authenticated transports can wrap Mailer.
func (m *SMTPMailer) Send(to, subject, body string) error {
	if m.Addr == "" || m.From == "" {
		return fmt.Errorf("smtp mailer: relay address and sender must be configured")
	}

	msg := strings.Join([]string{
		"From: " + m.From,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(m.Addr, nil, m.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}
