package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "imap.gmail.com", cfg.Inbox.Server)
	assert.Equal(t, 993, cfg.Inbox.Port)
	assert.True(t, cfg.Inbox.SSL)
	assert.Equal(t, "INBOX", cfg.Inbox.Folder)
	assert.Equal(t, 3, cfg.Inbox.SinceDays)
	assert.Equal(t, 12, cfg.Recovery.MaxAttempts)
	assert.Equal(t, 1, cfg.Recovery.MaxWorkers)
	assert.Equal(t, 10*time.Minute, cfg.Recovery.ResetLinkWait)
	assert.Equal(t, 2*time.Second, cfg.Recovery.ResetLinkPoll)
	assert.Equal(t, 124*time.Second, cfg.Guard.Interval)
	assert.Equal(t, 5, cfg.Guard.Profiles)
	assert.Equal(t, "Im Robot", cfg.Notify.FromName)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, "https://www.netflix.com/YourAccount?confirm=password", cfg.Browser.Endpoints.Confirmation)
	assert.Equal(t, 110*time.Millisecond, cfg.Browser.TypingMinDelay)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
accounts:
  - username: alice@example.com
    password: secret1
    profile_prefix: fam
  - username: bob@example.com
    password: secret2
    profile_prefix: bob
    pin: "1234"
inbox:
  server: imap.example.com
  port: 143
  ssl: false
  email: watch@example.com
  password: app-pass
recovery:
  max_attempts: 3
  reset_link_wait: 90s
store:
  type: bolt
  path: /tmp/state.bolt
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, "alice@example.com", cfg.Accounts[0].Username)
	assert.Equal(t, "fam", cfg.Accounts[0].ProfilePrefix)
	assert.Equal(t, "secret1", cfg.Accounts[0].ProfilePIN())
	assert.Equal(t, "1234", cfg.Accounts[1].ProfilePIN())
	assert.Equal(t, "imap.example.com", cfg.Inbox.Server)
	assert.Equal(t, 143, cfg.Inbox.Port)
	assert.False(t, cfg.Inbox.SSL)
	assert.Equal(t, 3, cfg.Recovery.MaxAttempts)
	assert.Equal(t, 90*time.Second, cfg.Recovery.ResetLinkWait)
	assert.Equal(t, "bolt", cfg.Store.Type)
	// Recipient falls back to the watched mailbox
	assert.Equal(t, "watch@example.com", cfg.Notify.To)
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("PULL_MAIL_USERNAME", "legacy@example.com")
	t.Setenv("PULL_MAIL_PASSWORD", "legacy-pass")
	t.Setenv("IMAP_HOST", "imap.qq.com")
	t.Setenv("IMAP_SSL", "0")
	t.Setenv("PUSH_MAIL_USERNAME", "robot@gmail.com")
	t.Setenv("PUSH_MAIL_PASSWORD", "push-pass")
	t.Setenv("INBOX", "owner@example.com")
	t.Setenv("ENABLE_ACCOUNT_PROTECTION", "1")
	t.Setenv("ACCOUNTS", "[a@example.com|pa|fam][b@example.com|pb|kids]")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "legacy@example.com", cfg.Inbox.Email)
	assert.Equal(t, "legacy-pass", cfg.Inbox.Password)
	assert.Equal(t, "imap.qq.com", cfg.Inbox.Server)
	assert.False(t, cfg.Inbox.SSL)
	assert.Equal(t, "robot@gmail.com", cfg.Notify.From)
	assert.Equal(t, "robot@gmail.com", cfg.Notify.SMTP.Username)
	assert.Equal(t, "push-pass", cfg.Notify.SMTP.Password)
	assert.Equal(t, "owner@example.com", cfg.Notify.To)
	assert.True(t, cfg.Guard.Enabled)
	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, Account{Username: "b@example.com", Password: "pb", ProfilePrefix: "kids"}, cfg.Accounts[1])
}

func TestLoadNetflixAccountsEnv(t *testing.T) {
	t.Setenv("MULTIPLE_NETFLIX_ACCOUNTS", "[a@example.com|pa|fam]")
	t.Setenv("ACCOUNTS", "[a@example.com|pa|fam][c@example.com|pc|home]")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, "a@example.com", cfg.Accounts[0].Username)
	assert.Equal(t, Account{Username: "c@example.com", Password: "pc", ProfilePrefix: "home"}, cfg.Accounts[1])
}

func TestPrefixedEnvWins(t *testing.T) {
	t.Setenv("PULL_MAIL_USERNAME", "legacy@example.com")
	t.Setenv("ACCTGUARD_INBOX_EMAIL", "new@example.com")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", cfg.Inbox.Email)
}

func TestParseAccountsFile(t *testing.T) {
	path := writeFile(t, "accounts.txt", `
# watched accounts
alice@example.com-pass1-fam
bob@example.com-pass2-bob_profiles

alice@example.com-other-dup
`)

	accounts, err := ParseAccountsFile(path)
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.Equal(t, Account{Username: "bob@example.com", Password: "pass2", ProfilePrefix: "bob_profiles"}, accounts[1])

	assert.Len(t, dedupeAccounts(accounts), 2)
}

func TestParseAccountsFileBadLine(t *testing.T) {
	path := writeFile(t, "accounts.txt", "no-separator\n")
	_, err := ParseAccountsFile(path)
	assert.Error(t, err)
}

func TestParseAccountsList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"single", "[a@x.com|p|n]", 1},
		{"multiple", "[a@x.com|p|n] [b@x.com|q|m]", 2},
		{"missing field", "[a@x.com|p]", 0},
		{"empty", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAccountsList(tt.input)
			if len(got) != tt.expected {
				t.Errorf("ParseAccountsList(%q) = %d accounts, want %d", tt.input, len(got), tt.expected)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Accounts: []Account{{Username: "a@example.com", Password: "p"}},
			Inbox:    InboxConfig{Server: "imap.example.com", Port: 993, Email: "w@example.com", Password: "x"},
			Notify:   NotifyConfig{Provider: "smtp", From: "robot@gmail.com", To: "owner@example.com"},
			Recovery: RecoveryConfig{MaxAttempts: 12},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no accounts", func(c *Config) { c.Accounts = nil }, true},
		{"account without password", func(c *Config) { c.Accounts[0].Password = "" }, true},
		{"no inbox password", func(c *Config) { c.Inbox.Password = "" }, true},
		{"no recipient", func(c *Config) { c.Notify.To = "" }, true},
		{"resend without key", func(c *Config) { c.Notify.Provider = "resend" }, true},
		{"resend with key", func(c *Config) { c.Notify.Provider = "resend"; c.Notify.APIKey = "re_x" }, false},
		{"unknown provider", func(c *Config) { c.Notify.Provider = "pigeon" }, true},
		{"zero attempts", func(c *Config) { c.Recovery.MaxAttempts = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveWritesPrivateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, Save(path, &Config{Accounts: []Account{{Username: "a@example.com", Password: "p"}}}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "a@example.com", cfg.Accounts[0].Username)
}
