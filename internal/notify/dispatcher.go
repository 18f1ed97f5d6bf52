package notify

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/acctguard/acctguard/internal/config"
)

// Incident triggers carried in reports
const (
	TriggerMalicious = "malicious_reset"
	TriggerForced    = "forced_reset"
)

// Incident describes one detected password change and how handling ended
type Incident struct {
	Account    string
	Trigger    string
	DetectedAt time.Time
	FinishedAt time.Time
	Attempts   int
	Err        error
	Files      []string
}

func reason(trigger string) string {
	switch trigger {
	case TriggerMalicious:
		return "someone else changed the password"
	case TriggerForced:
		return "the provider forced a password change"
	}
	return "unknown"
}

func formatTime(t time.Time) string {
	return t.Format("01/02 15:04:05")
}

// Dispatcher reports incident outcomes to the operator
type Dispatcher struct {
	sender Sender
	engine *Engine
	config config.NotifyConfig
	log    *zap.Logger
}

func NewDispatcher(cfg config.NotifyConfig, sender Sender, log *zap.Logger) (*Dispatcher, error) {
	engine, err := NewEngine()
	if err != nil {
		return nil, err
	}
	return &Dispatcher{sender: sender, engine: engine, config: cfg, log: log.Named("notify")}, nil
}

// Recovered sends the success report
func (d *Dispatcher) Recovered(ctx context.Context, inc Incident) error {
	var subject string
	if inc.Trigger == TriggerForced {
		subject = fmt.Sprintf("At %s the provider forced a password change on %s; the password has been restored",
			formatTime(inc.DetectedAt), inc.Account)
	} else {
		subject = fmt.Sprintf("At %s someone changed the password of %s; the password has been restored",
			formatTime(inc.DetectedAt), inc.Account)
	}

	data := d.reportData(inc)
	data.Headline = fmt.Sprintf("Password of %s restored", inc.Account)
	return d.deliver(ctx, "recovered", subject, data, nil)
}

// Exhausted sends the failure report with the log and screenshot attached
func (d *Dispatcher) Exhausted(ctx context.Context, inc Incident) error {
	subject := fmt.Sprintf("Sorry, the password of %s could not be restored, please recover it manually", inc.Account)

	data := d.reportData(inc)
	data.Headline = fmt.Sprintf("Recovery of %s failed", inc.Account)
	return d.deliver(ctx, "exhausted", subject, data, d.existingFiles(inc.Files))
}

func (d *Dispatcher) reportData(inc Incident) ReportData {
	data := ReportData{
		Account:    inc.Account,
		Reason:     reason(inc.Trigger),
		DetectedAt: formatTime(inc.DetectedAt),
		FinishedAt: formatTime(inc.FinishedAt),
		Elapsed:    HumanizeDuration(inc.FinishedAt.Sub(inc.DetectedAt)),
		Attempts:   inc.Attempts,
		Avatar:     d.avatar() != "",
	}
	if inc.Err != nil {
		data.Error = inc.Err.Error()
	}
	return data
}

func (d *Dispatcher) avatar() string {
	if d.config.Avatar == "" {
		return ""
	}
	if _, err := os.Stat(d.config.Avatar); err != nil {
		return ""
	}
	return d.config.Avatar
}

// existingFiles drops attachments that are missing or empty
func (d *Dispatcher) existingFiles(paths []string) []string {
	var out []string
	for _, path := range paths {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			d.log.Error("Attachment missing, skipped", zap.String("path", path))
			continue
		}
		out = append(out, path)
	}
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, template, subject string, data ReportData, files []string) error {
	report, err := d.engine.Render(template, data)
	if err != nil {
		return err
	}

	result := d.sender.Send(ctx, Message{
		To:       d.config.To,
		From:     d.config.From,
		FromName: d.config.FromName,
		Subject:  subject,
		Text:     report.Text,
		HTML:     report.HTML,
		Avatar:   d.avatar(),
		Files:    files,
	})
	if !result.Success {
		d.log.Error("Failed to send notification",
			zap.String("provider", d.sender.Name()), zap.String("subject", subject), zap.Error(result.Error))
		return fmt.Errorf("failed to send notification: %w", result.Error)
	}

	d.log.Info("Notification sent",
		zap.String("provider", d.sender.Name()), zap.String("subject", subject), zap.String("message_id", result.MessageID))
	return nil
}
