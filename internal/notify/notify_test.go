package notify

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"github.com/acctguard/acctguard/internal/config"
)

func TestHumanizeDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{420 * time.Millisecond, "0.42s"},
		{0, "0.00s"},
		{-time.Second, "0.00s"},
		{9 * time.Second, "09s"},
		{59*time.Second + 900*time.Millisecond, "59s"},
		{2*time.Minute + 9*time.Second, "02m09s"},
		{time.Hour + 2*time.Minute + 9*time.Second, "01h02m09s"},
		{49*time.Hour + 2*time.Minute + 9*time.Second, "02d01h02m09s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, HumanizeDuration(tt.in))
		})
	}
}

func TestNewSMTPSenderResolvesServer(t *testing.T) {
	tests := []struct {
		name     string
		from     string
		cfg      config.SMTPConfig
		wantHost string
		wantPort int
	}{
		{"gmail", "bot@gmail.com", config.SMTPConfig{}, "smtp.gmail.com", 587},
		{"qq", "bot@qq.com", config.SMTPConfig{}, "smtp.qq.com", 587},
		{"163", "bot@163.com", config.SMTPConfig{}, "smtp.163.com", 465},
		{"explicit wins", "bot@gmail.com", config.SMTPConfig{Host: "mail.example.com", Port: 2525}, "mail.example.com", 2525},
		{"explicit host only", "bot@example.com", config.SMTPConfig{Host: "mail.example.com", Port: 465}, "mail.example.com", 465},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSMTPSender(tt.cfg, tt.from)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, s.config.Host)
			assert.Equal(t, tt.wantPort, s.config.Port)
			assert.Equal(t, tt.from, s.config.Username)
		})
	}
}

func TestNewSMTPSenderUnsupported(t *testing.T) {
	_, err := NewSMTPSender(config.SMTPConfig{}, "bot@example.com")
	assert.Error(t, err)
}

func TestNewSender(t *testing.T) {
	s, err := NewSender(config.NotifyConfig{From: "bot@gmail.com"})
	require.NoError(t, err)
	assert.Equal(t, "smtp", s.Name())

	s, err = NewSender(config.NotifyConfig{Provider: "resend", APIKey: "re_test"})
	require.NoError(t, err)
	assert.Equal(t, "resend", s.Name())

	s, err = NewSender(config.NotifyConfig{Provider: "sendgrid", APIKey: "SG.test"})
	require.NoError(t, err)
	assert.Equal(t, "sendgrid", s.Name())

	_, err = NewSender(config.NotifyConfig{Provider: "sendgrid"})
	assert.Error(t, err)

	_, err = NewSender(config.NotifyConfig{Provider: "pigeon"})
	assert.Error(t, err)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestSMTPSendLayout(t *testing.T) {
	dir := t.TempDir()
	avatar := writeFile(t, dir, "ting.jpg", "jpeg-bytes")
	logFile := writeFile(t, dir, "2024-03-09.log", "log line")

	s, err := NewSMTPSender(config.SMTPConfig{Password: "secret"}, "bot@gmail.com")
	require.NoError(t, err)

	var raw bytes.Buffer
	s.send = func(m *gomail.Message) error {
		_, err := m.WriteTo(&raw)
		return err
	}

	result := s.Send(context.Background(), Message{
		To:       "owner@example.com",
		FromName: "Im Robot",
		Subject:  "Recovered",
		Text:     "plain body",
		HTML:     "<p>html body</p>",
		Avatar:   avatar,
		Files:    []string{logFile},
	})
	require.True(t, result.Success, "send failed: %v", result.Error)

	out := raw.String()
	assert.Contains(t, out, "Im Robot")
	assert.Contains(t, out, "<bot@gmail.com>")
	assert.Contains(t, out, "multipart/alternative")
	assert.Contains(t, out, "Content-ID: <avatar>")
	assert.Contains(t, out, `attachment; filename="2024-03-09.log"`)

	plain := strings.Index(out, "text/plain")
	html := strings.Index(out, "text/html")
	require.True(t, plain >= 0 && html >= 0)
	assert.Less(t, plain, html, "plain part must precede the html alternative")
}

func TestSMTPSendRejectsInjection(t *testing.T) {
	s, err := NewSMTPSender(config.SMTPConfig{}, "bot@gmail.com")
	require.NoError(t, err)
	s.send = func(*gomail.Message) error {
		t.Fatal("message should not be sent")
		return nil
	}

	result := s.Send(context.Background(), Message{To: "owner@example.com\r\nBcc: x@example.com", Subject: "x"})
	assert.False(t, result.Success)

	result = s.Send(context.Background(), Message{To: "owner@example.com", Subject: "x\r\nBcc: y"})
	assert.False(t, result.Success)
}

func TestSMTPSendError(t *testing.T) {
	s, err := NewSMTPSender(config.SMTPConfig{}, "bot@gmail.com")
	require.NoError(t, err)
	s.send = func(*gomail.Message) error { return errors.New("535 auth failed") }

	result := s.Send(context.Background(), Message{To: "owner@example.com", Subject: "x"})
	assert.False(t, result.Success)
	assert.EqualError(t, result.Error, "SMTP authentication failed")
}

func TestBuildSendGridMail(t *testing.T) {
	logFile := writeFile(t, t.TempDir(), "today.log", "log line")

	m, err := buildSendGridMail(Message{
		To: "owner@example.com", From: "bot@example.com", FromName: "Im Robot",
		Subject: "s", Text: "t", HTML: "<p>h</p>", Files: []string{logFile},
	})
	require.NoError(t, err)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "today.log", m.Attachments[0].Filename)
	assert.Equal(t, "bG9nIGxpbmU=", m.Attachments[0].Content)
	assert.Equal(t, "Im Robot", m.From.Name)

	_, err = buildSendGridMail(Message{Files: []string{filepath.Join(t.TempDir(), "missing")}})
	assert.Error(t, err)
}

func TestResendAttachments(t *testing.T) {
	logFile := writeFile(t, t.TempDir(), "today.log", "log line")

	atts, err := resendAttachments([]string{logFile})
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "today.log", atts[0].Filename)
	assert.Equal(t, []byte("log line"), atts[0].Content)
}

func TestEngineRender(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	report, err := e.Render("exhausted", ReportData{
		Headline: "Recovery failed",
		Account:  "a@example.com",
		Attempts: 12,
		Error:    "<timeout>",
	})
	require.NoError(t, err)
	assert.Contains(t, report.Text, "12, all failed")
	assert.Contains(t, report.Text, "<timeout>")
	assert.Contains(t, report.HTML, "&lt;timeout&gt;")
	assert.NotContains(t, report.HTML, "cid:avatar")

	_, err = e.Render("missing", ReportData{})
	assert.Error(t, err)
}

type captureSender struct {
	messages []Message
	err      error
}

func (c *captureSender) Name() string { return "capture" }

func (c *captureSender) Send(_ context.Context, msg Message) Result {
	c.messages = append(c.messages, msg)
	if c.err != nil {
		return Result{Success: false, Error: c.err}
	}
	return Result{Success: true, MessageID: "id-1"}
}

func newTestDispatcher(t *testing.T, cfg config.NotifyConfig, sender Sender) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(cfg, sender, zap.NewNop())
	require.NoError(t, err)
	return d
}

func TestDispatcherRecovered(t *testing.T) {
	sender := &captureSender{}
	d := newTestDispatcher(t, config.NotifyConfig{From: "bot@gmail.com", FromName: "Im Robot", To: "owner@example.com"}, sender)

	detected := time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)
	err := d.Recovered(context.Background(), Incident{
		Account:    "a@example.com",
		Trigger:    TriggerMalicious,
		DetectedAt: detected,
		FinishedAt: detected.Add(2*time.Minute + 9*time.Second),
		Attempts:   1,
	})
	require.NoError(t, err)
	require.Len(t, sender.messages, 1)

	msg := sender.messages[0]
	assert.Equal(t, "owner@example.com", msg.To)
	assert.Equal(t, "Im Robot", msg.FromName)
	assert.Contains(t, msg.Subject, "a@example.com")
	assert.Contains(t, msg.Subject, "03/09 14:00:00")
	assert.Contains(t, msg.Text, "02m09s")
	assert.Empty(t, msg.Files)
	assert.Empty(t, msg.Avatar)
}

func TestDispatcherForcedSubject(t *testing.T) {
	sender := &captureSender{}
	d := newTestDispatcher(t, config.NotifyConfig{From: "bot@gmail.com", To: "owner@example.com"}, sender)

	require.NoError(t, d.Recovered(context.Background(), Incident{Account: "a@example.com", Trigger: TriggerForced}))
	assert.Contains(t, sender.messages[0].Subject, "forced")
}

func TestDispatcherExhausted(t *testing.T) {
	dir := t.TempDir()
	logFile := writeFile(t, dir, "today.log", "log line")
	empty := writeFile(t, dir, "empty.png", "")
	avatar := writeFile(t, dir, "ting.jpg", "jpeg")

	sender := &captureSender{}
	d := newTestDispatcher(t, config.NotifyConfig{From: "bot@gmail.com", To: "owner@example.com", Avatar: avatar}, sender)

	err := d.Exhausted(context.Background(), Incident{
		Account:  "a@example.com",
		Trigger:  TriggerForced,
		Attempts: 12,
		Err:      errors.New("verify password change: timed out"),
		Files:    []string{logFile, empty, filepath.Join(dir, "missing.png"), ""},
	})
	require.NoError(t, err)
	require.Len(t, sender.messages, 1)

	msg := sender.messages[0]
	assert.Equal(t, []string{logFile}, msg.Files)
	assert.Equal(t, avatar, msg.Avatar)
	assert.Contains(t, msg.Text, "the provider forced a password change")
	assert.Contains(t, msg.Text, "verify password change: timed out")
	assert.Contains(t, msg.HTML, "cid:avatar")
}

func TestDispatcherSendFailure(t *testing.T) {
	sender := &captureSender{err: errors.New("connection refused")}
	d := newTestDispatcher(t, config.NotifyConfig{From: "bot@gmail.com", To: "owner@example.com"}, sender)

	err := d.Exhausted(context.Background(), Incident{Account: "a@example.com"})
	assert.Error(t, err)
}
