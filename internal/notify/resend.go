package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/resend/resend-go/v2"
)

type ResendSender struct {
	client *resend.Client
}

func NewResendSender(apiKey string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey)}
}

func (s *ResendSender) Name() string { return "resend" }

func (s *ResendSender) Send(ctx context.Context, msg Message) Result {
	if err := validateMessage(msg); err != nil {
		return Result{Success: false, Error: err}
	}

	attachments, err := resendAttachments(msg.Files)
	if err != nil {
		return Result{Success: false, Error: err}
	}

	sent, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:        fromHeader(msg),
		To:          []string{msg.To},
		Subject:     msg.Subject,
		Text:        msg.Text,
		Html:        msg.HTML,
		Attachments: attachments,
	})
	if err != nil {
		return Result{Success: false, Error: fmt.Errorf("resend: %w", err)}
	}
	return Result{Success: true, MessageID: sent.Id}
}

func resendAttachments(paths []string) ([]*resend.Attachment, error) {
	var out []*resend.Attachment
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}
		out = append(out, &resend.Attachment{Content: data, Filename: filepath.Base(path)})
	}
	return out, nil
}
