package recovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/acctguard/acctguard/internal/config"
	"github.com/acctguard/acctguard/internal/inbox"
	"github.com/acctguard/acctguard/internal/notify"
	"github.com/acctguard/acctguard/internal/state"
)

const (
	maliciousBody = "Your password was changed.\n" +
		"[https://www.netflix.com/YourAccount?lnktrk=EMP&g=ABC-123&lkid=URL_YOUR_ACCOUNT_2]"
	forcedBody = "We reset your password to protect your account.\n" +
		"[https://www.netflix.com/LoginHelp?lnktrk=EVO&g=QQQ&lkid=URL_LOGIN_HELP]"
	resetLink    = "https://www.netflix.com/password?g=5f1e&lkid=URL_PASSWORD"
	deliveryBody = "Reset your password\n[" + resetLink + "]\n" +
		"[https://www.netflix.com/accountaccess?g=5f1e&lkid=URL_ACCOUNT_ACCESS]"
	deliveryNoLinkBody = "Reset your password\n" +
		"[https://www.netflix.com/accountaccess?g=5f1e&lkid=URL_ACCOUNT_ACCESS]"
)

var (
	alice = config.Account{Username: "alice@example.com", Password: "alice-original", ProfilePrefix: "alice"}
	bob   = config.Account{Username: "bob@example.com", Password: "bob-original", ProfilePrefix: "bob"}
)

// fakeMailbox hands out queued messages per account in push order
type fakeMailbox struct {
	mu      sync.Mutex
	queues  map[string][]*inbox.Email
	fetches map[string]int
	err     map[string]error
	panics  map[string]bool
	uid     uint32
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		queues:  make(map[string][]*inbox.Email),
		fetches: make(map[string]int),
		err:     make(map[string]error),
		panics:  make(map[string]bool),
	}
}

func (m *fakeMailbox) push(account, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uid++
	m.queues[account] = append(m.queues[account], &inbox.Email{Account: account, UID: m.uid, Body: body})
}

func (m *fakeMailbox) fetchCount(account string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches[account]
}

func (m *fakeMailbox) FetchLatest(_ context.Context, account string, _ bool) (*inbox.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[account]++
	if m.panics[account] {
		panic("mailbox exploded")
	}
	if err := m.err[account]; err != nil {
		return nil, err
	}
	q := m.queues[account]
	if len(q) == 0 {
		return nil, nil
	}
	m.queues[account] = q[1:]
	return q[0], nil
}

// fakeDriver records every call into its factory's log
type fakeDriver struct {
	sessions *fakeSessions
	id       int

	requestErr  error
	completeErr error
	verifyErr   error
	onComplete  func(link, password string)
}

func (d *fakeDriver) record(format string, args ...any) {
	d.sessions.mu.Lock()
	defer d.sessions.mu.Unlock()
	d.sessions.calls = append(d.sessions.calls, fmt.Sprintf(format, args...))
}

func (d *fakeDriver) ClearBrowserData(context.Context) error {
	d.record("clear")
	return nil
}

func (d *fakeDriver) RequestPasswordReset(_ context.Context, email string) error {
	d.record("request:%s", email)
	return d.requestErr
}

func (d *fakeDriver) CompleteReset(_ context.Context, link, password string) error {
	d.record("complete:%s:%s", link, password)
	if d.onComplete != nil {
		d.onComplete(link, password)
	}
	return d.completeErr
}

func (d *fakeDriver) SubmitNewPassword(_ context.Context, password string) error {
	d.record("submit:%s", password)
	return nil
}

func (d *fakeDriver) ChangePasswordInAccount(_ context.Context, current, next string) error {
	d.record("change:%s:%s", current, next)
	return nil
}

func (d *fakeDriver) VerifyPasswordChanged(context.Context) error {
	d.record("verify")
	return d.verifyErr
}

func (d *fakeDriver) Screenshot(context.Context) (string, error) {
	d.record("screenshot")
	return fmt.Sprintf("/logs/screenshots/error_page/%d.png", d.id), nil
}

func (d *fakeDriver) Close() {
	d.sessions.mu.Lock()
	defer d.sessions.mu.Unlock()
	d.sessions.closed++
}

type fakeSessions struct {
	mu     sync.Mutex
	opened int
	closed int
	calls  []string
	build  func(d *fakeDriver)
}

func (f *fakeSessions) open(context.Context) (Driver, error) {
	f.mu.Lock()
	f.opened++
	d := &fakeDriver{sessions: f, id: f.opened}
	f.mu.Unlock()

	if f.build != nil {
		f.build(d)
	}
	return d, nil
}

func (f *fakeSessions) snapshot() (opened, closed int, calls []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened, f.closed, append([]string(nil), f.calls...)
}

type fakeNotifier struct {
	mu        sync.Mutex
	recovered []notify.Incident
	exhausted []notify.Incident
}

func (n *fakeNotifier) Recovered(_ context.Context, inc notify.Incident) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recovered = append(n.recovered, inc)
	return nil
}

func (n *fakeNotifier) Exhausted(_ context.Context, inc notify.Incident) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.exhausted = append(n.exhausted, inc)
	return nil
}

type harness struct {
	orch     *Orchestrator
	mailbox  *fakeMailbox
	sessions *fakeSessions
	notifier *fakeNotifier
	repo     *state.Repository
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	rules, err := inbox.DefaultRules()
	if err != nil {
		t.Fatalf("DefaultRules: %v", err)
	}

	h := &harness{
		mailbox:  newFakeMailbox(),
		sessions: &fakeSessions{},
		notifier: &fakeNotifier{},
		repo:     state.NewRepository(state.NewMemoryStore()),
	}
	if opts.ResetLinkPoll == 0 {
		opts.ResetLinkPoll = 5 * time.Millisecond
	}
	if opts.ResetLinkWait == 0 {
		opts.ResetLinkWait = 2 * time.Second
	}

	h.orch = NewOrchestrator(Deps{
		Mailbox:    h.mailbox,
		Classifier: inbox.NewClassifier(rules),
		State:      h.repo,
		Sessions:   h.sessions.open,
		Notifier:   h.notifier,
		LogFile:    func() string { return "/logs/2024-03-09.log" },
		Log:        zap.NewNop(),
	}, opts)

	var n int
	h.orch.genPassword = func(length int) (string, error) {
		n++
		return fmt.Sprintf("random%d-%d", length, n), nil
	}
	return h
}

// markSeen makes the next poll count as a steady-state poll
func (h *harness) markSeen(t *testing.T, account string) {
	t.Helper()
	if _, err := h.repo.MarkSeen(context.Background(), account); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
}
