// ABOUTME: SMTP email delivery using go-mail. Dial-per-send for sporadic membership traffic.
// ABOUTME: One recipient per message; invitation links are personal.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"
)

// SmtpConfig holds SMTP connection parameters sourced from global env vars.
type SmtpConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
	TLS      bool
}

// SendFunc delivers one rendered email. EmailSend is the production value;
// tests substitute a recorder.
type SendFunc func(ctx context.Context, cfg SmtpConfig, to, subject, htmlBody, textBody string) error

// EmailSend sends an HTML+plaintext multipart email to a single recipient.
// Uses DialAndSend (dial-per-send), no persistent SMTP connection.
func EmailSend(ctx context.Context, cfg SmtpConfig, to, subject, htmlBody, textBody string) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("email send: no recipient")
	}

	// Strip CR/LF from subject to prevent header injection.
	subject = strings.NewReplacer("\r", "", "\n", "").Replace(subject)

	m := mail.NewMsg()
	if err := m.FromFormat("Gestor", cfg.From); err != nil {
		return fmt.Errorf("email send: set from: %w", err)
	}
	if err := m.To(to); err != nil {
		return fmt.Errorf("email send: set to: %w", err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, textBody)
	m.AddAlternativeString(mail.TypeTextHTML, htmlBody)

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
	}
	if cfg.Username != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain))
		opts = append(opts, mail.WithUsername(cfg.Username))
		opts = append(opts, mail.WithPassword(cfg.Password))
	}
	if cfg.TLS {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}

	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("email send: create client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}
