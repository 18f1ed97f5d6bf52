package notify

import (
	"context"
	"fmt"
	"strings"

	gomail "gopkg.in/gomail.v2"

	"github.com/acctguard/acctguard/internal/config"
)

type smtpServer struct {
	host string
	port int
}

// Known providers by sender domain. 465 is implicit TLS, 587 STARTTLS.
var knownSMTPServers = map[string]smtpServer{
	"gmail.com": {"smtp.gmail.com", 587},
	"qq.com":    {"smtp.qq.com", 587},
	"163.com":   {"smtp.163.com", 465},
}

type SMTPSender struct {
	config config.SMTPConfig
	from   string
	send   func(*gomail.Message) error
}

// NewSMTPSender resolves the server from the sender's domain unless host and
// port are configured explicitly
func NewSMTPSender(cfg config.SMTPConfig, from string) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		server, ok := serverForSender(from)
		if !ok {
			return nil, fmt.Errorf("unsupported sender %q: set notify.smtp.host and port", from)
		}
		if cfg.Host == "" {
			cfg.Host = server.host
		}
		if cfg.Port == 0 {
			cfg.Port = server.port
		}
	}
	if cfg.Username == "" {
		cfg.Username = from
	}

	s := &SMTPSender{config: cfg, from: from}
	s.send = s.dial
	return s, nil
}

func serverForSender(from string) (smtpServer, bool) {
	at := strings.LastIndex(from, "@")
	if at < 0 {
		return smtpServer{}, false
	}
	server, ok := knownSMTPServers[strings.ToLower(from[at+1:])]
	return server, ok
}

func (s *SMTPSender) Name() string { return "smtp" }

func (s *SMTPSender) Send(ctx context.Context, msg Message) Result {
	if msg.From == "" {
		msg.From = s.from
	}
	if err := validateMessage(msg); err != nil {
		return Result{Success: false, Error: err}
	}
	if err := ctx.Err(); err != nil {
		return Result{Success: false, Error: err}
	}

	if err := s.send(buildMessage(msg)); err != nil {
		return Result{Success: false, Error: sanitizeSMTPError(err)}
	}
	return Result{Success: true, MessageID: fmt.Sprintf("smtp-%s", msg.To)}
}

// buildMessage lays out a plain part followed by the HTML alternative, with
// the avatar inline and files as attachments
func buildMessage(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.From, msg.FromName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)

	m.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}
	if msg.Avatar != "" {
		m.Embed(msg.Avatar, gomail.Rename("avatar"))
	}
	for _, path := range msg.Files {
		m.Attach(path)
	}
	return m
}

func (s *SMTPSender) dial(m *gomail.Message) error {
	// NewDialer turns on implicit TLS for port 465
	d := gomail.NewDialer(s.config.Host, s.config.Port, s.config.Username, s.config.Password)
	return d.DialAndSend(m)
}

func sanitizeSMTPError(err error) error {
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "auth") {
		return fmt.Errorf("SMTP authentication failed")
	}
	if strings.Contains(s, "certificate") {
		return fmt.Errorf("TLS certificate error")
	}
	return fmt.Errorf("SMTP error: %w", err)
}
