// Package browser drives a Chrome instance through the provider's account
// pages: login, forgot-password, reset completion and profile management.
package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/acctguard/acctguard/internal/config"
)

//go:embed stealth.js
var stealthScript string

// Probes look for transient elements on an already loaded page
const probeTimeout = 2 * time.Second

// Launcher owns one Chrome process. Sessions opened from it get their own
// browser context, so cookies never leak between accounts.
type Launcher struct {
	config config.BrowserConfig
	logDir string
	log    *zap.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	launch        func() (*chromeProcess, error)
}

type chromeProcess struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewLauncher prepares a launcher. Chrome starts on the first Open.
func NewLauncher(cfg config.BrowserConfig, logDir string, log *zap.Logger) *Launcher {
	l := &Launcher{config: cfg, logDir: logDir, log: log.Named("browser")}
	l.launch = l.launchChrome
	return l
}

func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	width, height := cfg.WindowWidth, cfg.WindowHeight
	if width <= 0 || height <= 0 {
		width, height = 1366, 768
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(width, height),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

func (l *Launcher) start() (context.Context, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browserCtx != nil {
		if l.browserCtx.Err() == nil {
			return l.browserCtx, nil
		}
		// Chrome exited or was killed
		l.log.Warn("Browser is gone, relaunching", zap.Error(context.Cause(l.browserCtx)))
		l.stop()
	}

	p, err := l.launch()
	if err != nil {
		return nil, err
	}
	l.allocCancel = p.allocCancel
	l.browserCtx = p.browserCtx
	l.browserCancel = p.browserCancel
	l.log.Debug("Browser started", zap.Bool("headless", l.config.Headless))
	return p.browserCtx, nil
}

func (l *Launcher) launchChrome() (*chromeProcess, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(l.config)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// An empty Run launches the process
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return &chromeProcess{allocCancel: allocCancel, browserCtx: browserCtx, browserCancel: browserCancel}, nil
}

// Open returns a fresh isolated session with the stealth script installed
func (l *Launcher) Open(ctx context.Context) (*Session, error) {
	browserCtx, err := l.start()
	if err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	s := &Session{
		ctx:    tabCtx,
		cancel: cancel,
		config: l.config,
		logDir: l.logDir,
		log:    l.log,
		sleep:  sleepCtx,
	}

	err = s.run(ctx, l.elementTimeout(), chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	return s, nil
}

func (l *Launcher) elementTimeout() time.Duration {
	if l.config.ElementTimeout > 0 {
		return l.config.ElementTimeout
	}
	return 24 * time.Second
}

// BotCheck loads the bot-detection test page and saves a full-page screenshot
func (l *Launcher) BotCheck(ctx context.Context, path string) error {
	if path == "" {
		path = "bot_test.png"
	}
	target := l.config.Endpoints.BotTest
	if target == "" {
		target = "https://bot.sannysoft.com/"
	}

	s, err := l.Open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var buf []byte
	err = s.run(ctx, time.Minute,
		chromedp.Navigate(target),
		chromedp.Sleep(3500*time.Millisecond),
		chromedp.FullScreenshot(&buf, 90),
	)
	if err != nil {
		return fmt.Errorf("bot check failed: %w", err)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	l.log.Info("Bot check screenshot saved", zap.String("path", path))
	return nil
}

// Close shuts the browser down
func (l *Launcher) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stop()
}

func (l *Launcher) stop() {
	if l.browserCancel != nil {
		l.browserCancel()
	}
	if l.allocCancel != nil {
		l.allocCancel()
	}
	l.browserCtx, l.browserCancel, l.allocCancel = nil, nil, nil
}

// Session is one isolated tab. It is not safe for concurrent use.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	config config.BrowserConfig
	logDir string
	log    *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Close disposes the tab and its browser context
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// step runs actions and reports a deadline as an AutomationTimeoutError
func (s *Session) step(ctx context.Context, step, target string, timeout time.Duration, actions ...chromedp.Action) error {
	err := s.run(ctx, timeout, actions...)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return &AutomationTimeoutError{Step: step, Target: target, Err: err}
	}
	return fmt.Errorf("%s: %w", step, err)
}

func (s *Session) elementTimeout() time.Duration {
	if s.config.ElementTimeout > 0 {
		return s.config.ElementTimeout
	}
	return 24 * time.Second
}

// visible reports whether sel becomes visible within wait
func (s *Session) visible(ctx context.Context, sel string, wait time.Duration, opts ...chromedp.QueryOption) (bool, error) {
	err := s.run(ctx, wait, chromedp.WaitVisible(sel, opts...))
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	return false, err
}

// CurrentURL returns the tab's location
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, s.elementTimeout(), chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// waitURL polls the location until match accepts it or timeout elapses
func (s *Session) waitURL(ctx context.Context, step, target string, timeout time.Duration, match func(string) bool) error {
	deadline := time.Now().Add(timeout)
	for {
		loc, err := s.CurrentURL(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", step, err)
		}
		if match(loc) {
			return nil
		}
		if time.Now().After(deadline) {
			return &AutomationTimeoutError{Step: step, Target: target, Err: context.DeadlineExceeded}
		}
		if err := s.sleep(ctx, 500*time.Millisecond); err != nil {
			return err
		}
	}
}

func urlContains(fragment string) func(string) bool {
	return func(u string) bool { return strings.Contains(u, fragment) }
}

// Screenshot saves the current page under the log dir and returns the path
func (s *Session) Screenshot(ctx context.Context) (string, error) {
	var buf []byte
	if err := s.run(ctx, s.elementTimeout(), chromedp.CaptureScreenshot(&buf)); err != nil {
		return "", fmt.Errorf("failed to capture screenshot: %w", err)
	}

	dir := filepath.Join(s.logDir, "screenshots", "error_page")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, screenshotName(time.Now()))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return "", err
	}
	s.log.Info("Error page screenshot saved", zap.String("path", path))
	return path, nil
}

func screenshotName(t time.Time) string {
	return fmt.Sprintf("%s_%06d.png", t.Format("2006-01-02_15_04_05"), t.Nanosecond()/1000)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
