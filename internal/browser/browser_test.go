package browser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/acctguard/acctguard/internal/config"
)

func TestAllocatorOptions(t *testing.T) {
	base := len(allocatorOptions(config.BrowserConfig{}))

	full := allocatorOptions(config.BrowserConfig{
		Headless:  true,
		ExecPath:  "/usr/bin/chromium",
		UserAgent: "Mozilla/5.0",
	})
	if len(full) != base+3 {
		t.Errorf("got %d options, want %d", len(full), base+3)
	}
}

func TestScreenshotName(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 123456789, time.UTC)
	if got, want := screenshotName(ts), "2024-03-09_14_05_07_123456.png"; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestAutomationErrors(t *testing.T) {
	cause := errors.New("context deadline exceeded")
	var err error = &AutomationTimeoutError{Step: "login", Target: "#id_password", Err: cause}
	if !strings.Contains(err.Error(), "#id_password") {
		t.Errorf("message lacks target: %s", err)
	}
	if !errors.Is(err, cause) {
		t.Error("timeout error does not unwrap to its cause")
	}

	err = &AutomationUnknownError{Step: "submit", Attempts: 10, Message: "Something went wrong"}
	if !strings.Contains(err.Error(), "10") {
		t.Errorf("message lacks attempts: %s", err)
	}
}

func TestProfileSelectors(t *testing.T) {
	if got, want := profileItem(1), `//li[@id="profile_0"]`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if got := profileLockIcon(3); !strings.Contains(got, ")[3]") {
		t.Errorf("lock icon selector does not index profile 3: %s", got)
	}
	if got, want := nthProfileLink(2), `(//a[@class="profile-link"])[2]`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestLauncherRelaunchesDeadBrowser(t *testing.T) {
	l := NewLauncher(config.BrowserConfig{}, t.TempDir(), zap.NewNop())

	var launches, stopped int
	l.launch = func() (*chromeProcess, error) {
		launches++
		ctx, cancel := context.WithCancel(context.Background())
		return &chromeProcess{
			allocCancel:   func() { stopped++ },
			browserCtx:    ctx,
			browserCancel: cancel,
		}, nil
	}

	first, err := l.start()
	if err != nil {
		t.Fatal(err)
	}
	again, err := l.start()
	if err != nil {
		t.Fatal(err)
	}
	if again != first || launches != 1 {
		t.Fatalf("live browser was relaunched: %d launches", launches)
	}

	// Chrome dying ends the browser context
	l.browserCancel()

	next, err := l.start()
	if err != nil {
		t.Fatal(err)
	}
	if launches != 2 {
		t.Errorf("got %d launches, want 2", launches)
	}
	if stopped != 1 {
		t.Errorf("dead allocator not released: %d", stopped)
	}
	if next.Err() != nil {
		t.Error("relaunched browser context is already done")
	}

	l.Close()
	if next.Err() == nil {
		t.Error("Close left the browser running")
	}
}

func TestLauncherLaunchError(t *testing.T) {
	l := NewLauncher(config.BrowserConfig{}, t.TempDir(), zap.NewNop())
	l.launch = func() (*chromeProcess, error) { return nil, errors.New("no chrome") }

	if _, err := l.start(); err == nil {
		t.Fatal("expected launch error")
	}
	if l.browserCtx != nil {
		t.Error("failed launch was cached")
	}
}
