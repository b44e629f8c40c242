package notifier

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/goliatone/go-accounts"
)

// SMTPConfig configures the SMTP relay
type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier mails notifications through an SMTP relay.
type SMTPNotifier struct {
	cfg      SMTPConfig
	links    accounts.LinkBuilder
	sendMail sendMailFunc
}

func NewSMTPNotifier(cfg SMTPConfig, baseURL string) *SMTPNotifier {
	return &SMTPNotifier{
		cfg:      cfg,
		links:    accounts.LinkBuilder{BaseURL: baseURL},
		sendMail: smtp.SendMail,
	}
}

func (m *SMTPNotifier) Send(ctx context.Context, n accounts.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := Render(m.links, n)
	if err != nil {
		return err
	}

	raw := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		m.cfg.From, n.To, msg.Subject, msg.Body)
	addr := fmt.Sprintf("%s:%s", m.cfg.Host, m.cfg.Port)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := m.sendMail(addr, auth, m.cfg.From, []string{n.To}, []byte(raw)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", n.To, err)
	}
	return nil
}
