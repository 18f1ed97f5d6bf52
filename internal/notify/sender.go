// Package notify renders incident reports and delivers them by mail
package notify

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/acctguard/acctguard/internal/config"
)

type Message struct {
	To       string
	From     string
	FromName string
	Subject  string
	Text     string
	HTML     string
	Avatar   string   // Inline image path, referenced as cid:avatar
	Files    []string // Attachment paths
}

type Result struct {
	Success   bool
	MessageID string
	Error     error
}

type Sender interface {
	Send(ctx context.Context, msg Message) Result
	Name() string
}

func NewSender(cfg config.NotifyConfig) (Sender, error) {
	switch cfg.Provider {
	case "", "smtp":
		return NewSMTPSender(cfg.SMTP, cfg.From)
	case "resend":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("resend provider requires notify.api_key")
		}
		return NewResendSender(cfg.APIKey), nil
	case "sendgrid":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("sendgrid provider requires notify.api_key")
		}
		return NewSendGridSender(cfg.APIKey), nil
	}
	return nil, fmt.Errorf("unknown notify provider: %s", cfg.Provider)
}

// ValidateEmail checks for injection characters and RFC 5322 compliance
func ValidateEmail(email string) error {
	if strings.ContainsAny(email, "\r\n,;") {
		return fmt.Errorf("email contains invalid characters")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	return nil
}

func validateMessage(msg Message) error {
	if err := ValidateEmail(msg.From); err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if err := ValidateEmail(msg.To); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("subject contains invalid characters")
	}
	return nil
}

func fromHeader(msg Message) string {
	if msg.FromName == "" {
		return msg.From
	}
	return (&mail.Address{Name: msg.FromName, Address: msg.From}).String()
}
