package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "ACCTGUARD"

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

type Config struct {
	Accounts     []Account      `yaml:"accounts" mapstructure:"accounts"`
	AccountsFile string         `yaml:"accounts_file,omitempty" mapstructure:"accounts_file"`
	RulesFile    string         `yaml:"rules_file,omitempty" mapstructure:"rules_file"`
	Inbox        InboxConfig    `yaml:"inbox" mapstructure:"inbox"`
	Notify       NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Store        StoreConfig    `yaml:"store" mapstructure:"store"`
	Browser      BrowserConfig  `yaml:"browser" mapstructure:"browser"`
	Recovery     RecoveryConfig `yaml:"recovery" mapstructure:"recovery"`
	Guard        GuardConfig    `yaml:"guard" mapstructure:"guard"`
	Logging      LoggingConfig  `yaml:"logging" mapstructure:"logging"`
	Status       StatusConfig   `yaml:"status" mapstructure:"status"`
}

// Account is one watched streaming-service login
type Account struct {
	Username      string `yaml:"username" mapstructure:"username"`
	Password      string `yaml:"password" mapstructure:"password"`
	ProfilePrefix string `yaml:"profile_prefix" mapstructure:"profile_prefix"`
	PIN           string `yaml:"pin,omitempty" mapstructure:"pin"` // Defaults to the password
}

// ProfilePIN returns the PIN used to lift profile locks
func (a Account) ProfilePIN() string {
	if a.PIN != "" {
		return a.PIN
	}
	return a.Password
}

// String never includes credentials
func (a Account) String() string { return a.Username }

// InboxConfig holds IMAP settings for the mailbox receiving provider notices
type InboxConfig struct {
	Server    string `yaml:"server" mapstructure:"server"`
	Port      int    `yaml:"port" mapstructure:"port"`
	SSL       bool   `yaml:"ssl" mapstructure:"ssl"`
	Email     string `yaml:"email" mapstructure:"email"`
	Password  string `yaml:"password" mapstructure:"password"`
	Folder    string `yaml:"folder" mapstructure:"folder"`
	SinceDays int    `yaml:"since_days" mapstructure:"since_days"` // Trailing SENTSINCE window
}

// NotifyConfig selects how operator notifications are delivered
type NotifyConfig struct {
	Provider string     `yaml:"provider" mapstructure:"provider"` // "smtp", "resend", "sendgrid"
	From     string     `yaml:"from" mapstructure:"from"`
	FromName string     `yaml:"from_name" mapstructure:"from_name"`
	To       string     `yaml:"to" mapstructure:"to"`
	APIKey   string     `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Avatar   string     `yaml:"avatar,omitempty" mapstructure:"avatar"` // Inline image, Content-ID "avatar"
	SMTP     SMTPConfig `yaml:"smtp,omitempty" mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host     string `yaml:"host,omitempty" mapstructure:"host"`
	Port     int    `yaml:"port,omitempty" mapstructure:"port"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// StoreConfig selects the keyed state backend
type StoreConfig struct {
	Type        string `yaml:"type" mapstructure:"type"` // "sqlite", "bolt", "memory"
	Path        string `yaml:"path" mapstructure:"path"`
	HistoryPath string `yaml:"history_path" mapstructure:"history_path"` // Incident journal, always sqlite
}

type BrowserConfig struct {
	Headless       bool          `yaml:"headless" mapstructure:"headless"`
	ExecPath       string        `yaml:"exec_path,omitempty" mapstructure:"exec_path"`
	UserAgent      string        `yaml:"user_agent" mapstructure:"user_agent"`
	WindowWidth    int           `yaml:"window_width" mapstructure:"window_width"`
	WindowHeight   int           `yaml:"window_height" mapstructure:"window_height"`
	ElementTimeout time.Duration `yaml:"element_timeout" mapstructure:"element_timeout"`
	TypingMinDelay time.Duration `yaml:"typing_min_delay" mapstructure:"typing_min_delay"`
	TypingMaxDelay time.Duration `yaml:"typing_max_delay" mapstructure:"typing_max_delay"`
	Endpoints      Endpoints     `yaml:"endpoints" mapstructure:"endpoints"`
}

// Endpoints are the provider URLs the session driver navigates to
type Endpoints struct {
	Login          string `yaml:"login" mapstructure:"login"`
	Logout         string `yaml:"logout" mapstructure:"logout"`
	ChangePassword string `yaml:"change_password" mapstructure:"change_password"`
	ForgotPassword string `yaml:"forgot_password" mapstructure:"forgot_password"`
	ManageProfiles string `yaml:"manage_profiles" mapstructure:"manage_profiles"`
	Browse         string `yaml:"browse" mapstructure:"browse"`
	Account        string `yaml:"account" mapstructure:"account"`
	Confirmation   string `yaml:"confirmation" mapstructure:"confirmation"`
	BotTest        string `yaml:"bot_test" mapstructure:"bot_test"`
}

type RecoveryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	MaxWorkers    int           `yaml:"max_workers" mapstructure:"max_workers"`
	ResetLinkWait time.Duration `yaml:"reset_link_wait" mapstructure:"reset_link_wait"`
	ResetLinkPoll time.Duration `yaml:"reset_link_poll" mapstructure:"reset_link_poll"`
	PollInterval  time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	Force         bool          `yaml:"force" mapstructure:"force"`
}

type GuardConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	Profiles int           `yaml:"profiles" mapstructure:"profiles"`
}

type LoggingConfig struct {
	Dir   string `yaml:"dir" mapstructure:"dir"`
	Level string `yaml:"level" mapstructure:"level"`
	Debug bool   `yaml:"debug" mapstructure:"debug"`
}

type StatusConfig struct {
	Listen string `yaml:"listen,omitempty" mapstructure:"listen"`
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".acctguard", "config.yaml")
}

// legacyEnv maps config keys to the environment names used by existing deployments
var legacyEnv = map[string]string{
	"inbox.email":       "PULL_MAIL_USERNAME",
	"inbox.password":    "PULL_MAIL_PASSWORD",
	"inbox.server":      "IMAP_HOST",
	"inbox.port":        "IMAP_PORT",
	"inbox.ssl":         "IMAP_SSL",
	"notify.from":       "PUSH_MAIL_USERNAME",
	"notify.to":         "INBOX",
	"guard.enabled":     "ENABLE_ACCOUNT_PROTECTION",
	"browser.exec_path": "DRIVER_EXECUTABLE_FILE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("accounts_file", "")
	v.SetDefault("rules_file", "")

	v.SetDefault("inbox.server", "imap.gmail.com")
	v.SetDefault("inbox.port", 993)
	v.SetDefault("inbox.ssl", true)
	v.SetDefault("inbox.folder", "INBOX")
	v.SetDefault("inbox.since_days", 3)

	v.SetDefault("notify.provider", "smtp")
	v.SetDefault("notify.from_name", "Im Robot")

	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.path", filepath.Join("data", "state.db"))
	v.SetDefault("store.history_path", filepath.Join("data", "history.db"))

	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 768)
	v.SetDefault("browser.element_timeout", 24*time.Second)
	v.SetDefault("browser.typing_min_delay", 110*time.Millisecond)
	v.SetDefault("browser.typing_max_delay", 240*time.Millisecond)
	v.SetDefault("browser.endpoints.login", "https://www.netflix.com/login")
	v.SetDefault("browser.endpoints.logout", "https://www.netflix.com/SignOut?lnkctr=mL")
	v.SetDefault("browser.endpoints.change_password", "https://www.netflix.com/password")
	v.SetDefault("browser.endpoints.forgot_password", "https://www.netflix.com/LoginHelp")
	v.SetDefault("browser.endpoints.manage_profiles", "https://www.netflix.com/ManageProfiles")
	v.SetDefault("browser.endpoints.browse", "https://www.netflix.com/browse")
	v.SetDefault("browser.endpoints.account", "https://www.netflix.com/YourAccount")
	v.SetDefault("browser.endpoints.confirmation", "https://www.netflix.com/YourAccount?confirm=password")
	v.SetDefault("browser.endpoints.bot_test", "https://bot.sannysoft.com/")

	v.SetDefault("recovery.max_attempts", 12)
	v.SetDefault("recovery.max_workers", 1)
	v.SetDefault("recovery.reset_link_wait", 10*time.Minute)
	v.SetDefault("recovery.reset_link_poll", 2*time.Second)
	v.SetDefault("recovery.poll_interval", 3*time.Second)
	v.SetDefault("recovery.force", false)

	v.SetDefault("guard.enabled", false)
	v.SetDefault("guard.interval", 124*time.Second)
	v.SetDefault("guard.profiles", 5)

	v.SetDefault("logging.dir", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.debug", false)

	v.SetDefault("status.listen", "")
}

// NewViper returns a viper instance with defaults and environment bindings.
// Callers may bind command-line flags onto it before passing it to LoadWith.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		// Prefixed name first so it wins over the legacy one
		_ = v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
	// The SMTP password falls back to PUSH_MAIL_PASSWORD
	_ = v.BindEnv("notify.smtp.password", envPrefix+"_NOTIFY_SMTP_PASSWORD", "PUSH_MAIL_PASSWORD")
	return v
}

// Account lists in the "[user|password|prefix]..." format
var accountListEnv = []string{"MULTIPLE_NETFLIX_ACCOUNTS", "ACCOUNTS"}

// Load reads .env, the YAML config at path (if it exists) and the environment
func Load(path string) (*Config, error) {
	return LoadWith(NewViper(), path)
}

// LoadWith is Load using a caller-provided viper instance
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := checkFilePermissions(path); err != nil {
				fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
			}
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.AccountsFile != "" {
		accounts, err := ParseAccountsFile(cfg.AccountsFile)
		if err != nil {
			return nil, err
		}
		cfg.Accounts = append(cfg.Accounts, accounts...)
	}
	for _, name := range accountListEnv {
		if env := os.Getenv(name); env != "" {
			cfg.Accounts = append(cfg.Accounts, ParseAccountsList(env)...)
		}
	}
	cfg.Accounts = dedupeAccounts(cfg.Accounts)

	if cfg.Notify.SMTP.Username == "" {
		cfg.Notify.SMTP.Username = cfg.Notify.From
	}
	if cfg.Notify.To == "" {
		cfg.Notify.To = cfg.Inbox.Email
	}
	if cfg.Recovery.MaxWorkers < 1 {
		cfg.Recovery.MaxWorkers = 1
	}

	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Validate checks the settings needed by the watcher
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("accounts: at least one account is required")
	}
	for i, a := range c.Accounts {
		if a.Username == "" || a.Password == "" {
			return fmt.Errorf("accounts[%d]: username and password are required", i)
		}
	}
	if err := c.ValidateInbox(); err != nil {
		return err
	}
	if c.Notify.To == "" {
		return fmt.Errorf("notify: recipient (to) is required")
	}
	switch c.Notify.Provider {
	case "", "smtp":
		if c.Notify.From == "" {
			return fmt.Errorf("notify: from address is required")
		}
	case "resend", "sendgrid":
		if c.Notify.APIKey == "" {
			return fmt.Errorf("notify: api_key is required for %s", c.Notify.Provider)
		}
	default:
		return fmt.Errorf("notify: unknown provider %q", c.Notify.Provider)
	}
	if c.Recovery.MaxAttempts < 1 {
		return fmt.Errorf("recovery: max_attempts must be positive")
	}
	return nil
}

// ValidateInbox validates the IMAP settings
func (c *Config) ValidateInbox() error {
	if c.Inbox.Email == "" {
		return fmt.Errorf("inbox: email address is required")
	}
	if c.Inbox.Password == "" {
		return fmt.Errorf("inbox: password (app password) is required")
	}
	if c.Inbox.Server == "" {
		return fmt.Errorf("inbox: IMAP server is required")
	}
	if c.Inbox.Port == 0 {
		return fmt.Errorf("inbox: IMAP port is required")
	}
	return nil
}
