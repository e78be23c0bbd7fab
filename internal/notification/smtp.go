package notification

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/fuomag9/inframirror/internal/models"
)

// SMTPProvider sends email notifications
type SMTPProvider struct{}

func init() {
	RegisterProvider(&SMTPProvider{})
}

func (s *SMTPProvider) Name() string {
	return "smtp"
}

func (s *SMTPProvider) Send(ctx context.Context, n *models.Notification, message *Message) error {
	host := configString(n.Config, "smtp_host")
	from := configString(n.Config, "from_email")
	to := recipients(configString(n.Config, "to_email"))
	if host == "" || from == "" || len(to) == 0 {
		return fmt.Errorf("missing required SMTP configuration")
	}

	useTLS, _ := n.Config["use_tls"].(bool)
	port := 25
	if p, ok := n.Config["smtp_port"].(float64); ok && p > 0 {
		port = int(p)
	} else if useTLS {
		port = 587
	}

	mail := gomail.NewMessage()
	mail.SetHeader("From", from)
	mail.SetHeader("To", to...)
	mail.SetHeader("Subject", message.Title)
	mail.SetBody("text/plain", FormatMessage(message))

	dialer := gomail.NewDialer(host, port, configString(n.Config, "smtp_username"), configString(n.Config, "smtp_password"))
	if skip, _ := n.Config["ignore_tls_error"].(bool); skip {
		dialer.TLSConfig = &tls.Config{InsecureSkipVerify: true, ServerName: host}
	}

	// gomail has no context support; give up waiting once ctx ends.
	done := make(chan error, 1)
	go func() { done <- dialer.DialAndSend(mail) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to send email: %w", ctx.Err())
	}
}

func (s *SMTPProvider) Validate(config map[string]any) error {
	for _, key := range []string{"smtp_host", "from_email", "to_email"} {
		if err := requireString(config, key); err != nil {
			return err
		}
	}
	if p, ok := config["smtp_port"].(float64); ok && (p < 1 || p > 65535) {
		return fmt.Errorf("smtp_port must be between 1 and 65535")
	}
	return nil
}

func recipients(list string) []string {
	var out []string
	for _, r := range strings.Split(list, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
