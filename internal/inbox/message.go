package inbox

import (
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Email is one decoded message addressed to a watched account
type Email struct {
	Account   string
	UID       uint32
	MessageID string
	From      string
	Subject   string
	Date      time.Time
	Body      string // Richest text/plain part
	HTMLBody  string // Richest text/html part
}

// parseMessage converts a fetched IMAP message. A nil section means only the
// envelope was fetched.
func parseMessage(msg *imap.Message, section *imap.BodySectionName) *Email {
	if msg == nil {
		return nil
	}

	email := &Email{UID: msg.Uid}
	if msg.Envelope != nil {
		email.Subject = msg.Envelope.Subject
		email.Date = msg.Envelope.Date
		email.MessageID = msg.Envelope.MessageId
		if len(msg.Envelope.From) > 0 {
			email.From = msg.Envelope.From[0].Address()
		}
	}

	if section == nil {
		return email
	}
	r := msg.GetBody(section)
	if r == nil {
		return email
	}
	decodeBody(r, email)
	return email
}

// decodeBody walks the MIME tree keeping the longest plain and HTML inline
// parts. Attachments are skipped.
func decodeBody(r io.Reader, email *Email) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		// Malformed header; leave the body empty
		return
	}
	defer mr.Close()

	if email.Subject == "" {
		if subject, err := mr.Header.Subject(); err == nil {
			email.Subject = subject
		}
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(ct, "text/plain"):
			if len(body) > len(email.Body) {
				email.Body = string(body)
			}
		case strings.HasPrefix(ct, "text/html"):
			if len(body) > len(email.HTMLBody) {
				email.HTMLBody = string(body)
			}
		}
	}
}
