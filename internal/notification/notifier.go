// Package notification delivers alert summaries by email.
package notification

import (
	"fmt"
	"net/smtp"

	"ddosguard/internal/config"
	"ddosguard/internal/model"
)

// EmailNotifier implements model.Notifier over SMTP.
type EmailNotifier struct {
	cfg  config.SMTPConfig
	auth smtp.Auth
}

// NewEmailNotifier builds a Notifier from an SMTP configuration. PlainAuth
// withholds credentials until the server identifies itself over TLS.
func NewEmailNotifier(cfg config.SMTPConfig) *EmailNotifier {
	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	return &EmailNotifier{cfg: cfg, auth: auth}
}

// Send emails subject/body to every configured recipient.
func (n *EmailNotifier) Send(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)

	msg := []byte("To: " + joinComma(n.cfg.To) + "\r\n" +
		"From: " + n.cfg.From + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n" +
		"\r\n" +
		body)

	if err := smtp.SendMail(addr, n.auth, n.cfg.From, n.cfg.To, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

var _ model.Notifier = (*EmailNotifier)(nil)
