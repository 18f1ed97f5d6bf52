// Package recovery turns password-change notices into restore attempts and
// schedules mailbox polling across accounts.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acctguard/acctguard/internal/browser"
	"github.com/acctguard/acctguard/internal/config"
	"github.com/acctguard/acctguard/internal/history"
	"github.com/acctguard/acctguard/internal/inbox"
	"github.com/acctguard/acctguard/internal/metrics"
	"github.com/acctguard/acctguard/internal/notify"
	"github.com/acctguard/acctguard/internal/state"
)

// Phase is where an attempt currently stands
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseDetecting         Phase = "detecting"
	PhaseMaliciousPath     Phase = "malicious_path"
	PhaseForcedPath        Phase = "forced_path"
	PhaseAwaitingResetLink Phase = "awaiting_reset_link"
	PhaseResetting         Phase = "resetting"
	PhaseVerifying         Phase = "verifying"
	PhaseRecovered         Phase = "recovered"
	PhaseRetrying          Phase = "retrying"
	PhaseExhausted         Phase = "exhausted"
)

// Outcome is how a detection or incident ended
type Outcome string

const (
	OutcomePending   Outcome = "pending"   // Actionable, recovery not run yet
	OutcomeSkipped   Outcome = "skipped"   // Echo of our own reset
	OutcomeIgnored   Outcome = "ignored"   // Notice predates this process
	OutcomeRecovered Outcome = "recovered" // Original password restored
	OutcomeExhausted Outcome = "exhausted" // Every attempt failed
)

// Attempt tracks one incident from detection to its outcome
type Attempt struct {
	ID        string
	Account   string
	Trigger   inbox.Classification
	StartedAt time.Time
	Count     int
	Phase     Phase
	Outcome   Outcome
	Err       error

	submitted bool // The current attempt set a new password
}

// Actionable reports whether the detection calls for recovery
func (a *Attempt) Actionable() bool {
	return a != nil && a.Outcome == OutcomePending
}

// Mailbox fetches the newest unprocessed message for an account
type Mailbox interface {
	FetchLatest(ctx context.Context, account string, subjectOnly bool) (*inbox.Email, error)
}

// Classifier tags messages and extracts reset links
type Classifier interface {
	Classify(e *inbox.Email) inbox.Classification
	ResetLink(e *inbox.Email) (string, error)
}

// Driver is the browser session a recovery attempt runs in
type Driver interface {
	ClearBrowserData(ctx context.Context) error
	RequestPasswordReset(ctx context.Context, email string) error
	CompleteReset(ctx context.Context, resetURL, newPassword string) error
	SubmitNewPassword(ctx context.Context, newPassword string) error
	ChangePasswordInAccount(ctx context.Context, current, next string) error
	VerifyPasswordChanged(ctx context.Context) error
	Screenshot(ctx context.Context) (string, error)
	Close()
}

// SessionFactory opens a fresh isolated browser session
type SessionFactory func(ctx context.Context) (Driver, error)

// Notifier reports incident outcomes
type Notifier interface {
	Recovered(ctx context.Context, inc notify.Incident) error
	Exhausted(ctx context.Context, inc notify.Incident) error
}

// Journal keeps finished incidents
type Journal interface {
	Add(ctx context.Context, entry *history.Entry) error
}

type Options struct {
	MaxAttempts   int
	ResetLinkWait time.Duration
	ResetLinkPoll time.Duration
	Force         bool // Act on notices found by the first poll
}

func OptionsFromConfig(cfg config.RecoveryConfig) Options {
	return Options{
		MaxAttempts:   cfg.MaxAttempts,
		ResetLinkWait: cfg.ResetLinkWait,
		ResetLinkPoll: cfg.ResetLinkPoll,
		Force:         cfg.Force,
	}
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Mailbox    Mailbox
	Classifier Classifier
	State      *state.Repository
	Sessions   SessionFactory
	Notifier   Notifier
	Journal    Journal       // Optional
	LogFile    func() string // Current log file, attached to failure reports
	Log        *zap.Logger
}

// Orchestrator runs detection and recovery for single accounts
type Orchestrator struct {
	Deps
	opts        Options
	log         *zap.Logger
	now         func() time.Time
	genPassword func(n int) (string, error)
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 12
	}
	if opts.ResetLinkWait <= 0 {
		opts.ResetLinkWait = 10 * time.Minute
	}
	if opts.ResetLinkPoll <= 0 {
		opts.ResetLinkPoll = 2 * time.Second
	}
	if deps.LogFile == nil {
		deps.LogFile = func() string { return "" }
	}
	return &Orchestrator{
		Deps:        deps,
		opts:        opts,
		log:         deps.Log.Named("recovery"),
		now:         time.Now,
		genPassword: browser.GeneratePassword,
	}
}

// Detect polls the account's mail once and decides whether recovery is due.
// It returns nil when there was no new message.
func (o *Orchestrator) Detect(ctx context.Context, acct config.Account) (*Attempt, error) {
	email, err := o.Mailbox.FetchLatest(ctx, acct.Username, false)
	if err != nil {
		metrics.MailPoll("error")
		return nil, err
	}

	class := inbox.Unrelated
	if email != nil {
		metrics.MailPoll("message")
		class = o.Classifier.Classify(email)
	} else {
		metrics.MailPoll("empty")
	}

	first, err := o.State.MarkSeen(ctx, acct.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to mark account seen: %w", err)
	}
	if email == nil {
		return nil, nil
	}

	a := &Attempt{
		ID:        uuid.NewString(),
		Account:   acct.Username,
		Trigger:   class,
		StartedAt: o.now(),
		Phase:     PhaseDetecting,
	}
	log := o.log.With(zap.String("account", acct.Username), zap.String("attempt", a.ID))

	switch class {
	case inbox.MaliciousReset:
		suppressed, err := o.State.ConsumeSuppress(ctx, acct.Username)
		if err != nil {
			return nil, fmt.Errorf("failed to read suppress flag: %w", err)
		}
		if suppressed {
			log.Info("Password change notice is the receipt of our own reset, ignored")
			a.Phase, a.Outcome = PhaseIdle, OutcomeSkipped
			return a, nil
		}
		if first && !o.opts.Force {
			log.Info("First poll since startup, old password change notice ignored")
			a.Phase, a.Outcome = PhaseIdle, OutcomeIgnored
			return a, nil
		}
		log.Info("Someone changed the account password")
		a.Phase, a.Outcome = PhaseMaliciousPath, OutcomePending
	case inbox.ForcedReset:
		log.Info("Provider requires a password change")
		a.Phase, a.Outcome = PhaseForcedPath, OutcomePending
	default:
		a.Phase, a.Outcome = PhaseIdle, OutcomeSkipped
	}
	return a, nil
}

// Handle runs Detect and, when it calls for it, Recover
func (o *Orchestrator) Handle(ctx context.Context, acct config.Account) (*Attempt, error) {
	a, err := o.Detect(ctx, acct)
	if err != nil || !a.Actionable() {
		return a, err
	}
	return a, o.Recover(ctx, acct, a)
}

// Recover restores the original password, retrying with a fresh session
// up to MaxAttempts times
func (o *Orchestrator) Recover(ctx context.Context, acct config.Account, a *Attempt) error {
	metrics.Incident(string(a.Trigger))
	log := o.log.With(zap.String("account", acct.Username), zap.String("attempt", a.ID))

	var screenshot string
	for n := 1; n <= o.opts.MaxAttempts; n++ {
		a.Count = n
		err := o.attempt(ctx, acct, a, &screenshot)
		if err == nil {
			return o.recovered(ctx, acct, a, log)
		}
		if ctx.Err() != nil {
			if !a.submitted {
				// No reset went through, so no confirmation will follow
				if err := o.State.SetSuppressNext(context.WithoutCancel(ctx), acct.Username, false); err != nil {
					log.Error("Failed to clear suppress flag", zap.Error(err))
				}
			}
			return ctx.Err()
		}

		a.Err = err
		metrics.Recovery("failed")
		log.Warn("Recovery attempt failed",
			zap.Int("attempt", n), zap.Int("max_attempts", o.opts.MaxAttempts),
			zap.String("phase", string(a.Phase)), zap.Error(err))

		if err := o.State.SetSuppressNext(ctx, acct.Username, false); err != nil {
			log.Error("Failed to re-arm detection", zap.Error(err))
		}
		a.Phase = PhaseRetrying
	}

	a.Phase, a.Outcome = PhaseExhausted, OutcomeExhausted
	metrics.Recovery("exhausted")
	log.Error("Too many failed attempts, giving up on this incident", zap.Int("attempts", a.Count))

	o.record(ctx, a, log)
	inc := o.incident(a)
	inc.Err = a.Err
	inc.Files = []string{o.LogFile(), screenshot}
	if err := o.Notifier.Exhausted(ctx, inc); err != nil {
		log.Error("Failed to send failure report", zap.Error(err))
	}
	return &RetryExhaustedError{Account: acct.Username, Attempts: a.Count, Err: a.Err}
}

func (o *Orchestrator) recovered(ctx context.Context, acct config.Account, a *Attempt, log *zap.Logger) error {
	a.Phase, a.Outcome, a.Err = PhaseRecovered, OutcomeRecovered, nil
	metrics.Recovery("recovered")
	log.Info("Original password restored", zap.Int("attempts", a.Count))

	// The provider mails a change confirmation for our own reset as well
	if err := o.State.SetSuppressNext(ctx, acct.Username, true); err != nil {
		log.Error("Failed to set suppress flag", zap.Error(err))
	}
	o.record(ctx, a, log)
	if err := o.Notifier.Recovered(ctx, o.incident(a)); err != nil {
		log.Error("Failed to send success report", zap.Error(err))
	}
	return nil
}

func (o *Orchestrator) record(ctx context.Context, a *Attempt, log *zap.Logger) {
	if o.Journal == nil {
		return
	}
	entry := &history.Entry{
		AttemptID:  a.ID,
		Account:    a.Account,
		Trigger:    string(a.Trigger),
		Outcome:    string(a.Outcome),
		Attempts:   a.Count,
		DetectedAt: a.StartedAt,
		FinishedAt: o.now(),
	}
	if a.Err != nil {
		entry.Error = a.Err.Error()
	}
	if err := o.Journal.Add(ctx, entry); err != nil {
		log.Error("Failed to record incident", zap.Error(err))
	}
}

func (o *Orchestrator) incident(a *Attempt) notify.Incident {
	return notify.Incident{
		Account:    a.Account,
		Trigger:    string(a.Trigger),
		DetectedAt: a.StartedAt,
		FinishedAt: o.now(),
		Attempts:   a.Count,
	}
}

// attempt runs one full path in its own session. On failure the error page
// is captured into screenshot.
func (o *Orchestrator) attempt(ctx context.Context, acct config.Account, a *Attempt, screenshot *string) (err error) {
	a.submitted = false
	drv, err := o.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to open browser session: %w", err)
	}
	defer drv.Close()
	defer func() {
		if err == nil || ctx.Err() != nil {
			return
		}
		path, serr := drv.Screenshot(ctx)
		if serr != nil {
			o.log.Warn("Failed to capture error page", zap.Error(serr))
			return
		}
		*screenshot = path
	}()

	if err := drv.ClearBrowserData(ctx); err != nil {
		return err
	}

	switch a.Trigger {
	case inbox.MaliciousReset:
		a.Phase = PhaseMaliciousPath
		return o.resetTo(ctx, drv, acct, a, acct.Password)

	case inbox.ForcedReset:
		a.Phase = PhaseForcedPath
		random, err := o.genPassword(8)
		if err != nil {
			return err
		}
		if err := o.resetTo(ctx, drv, acct, a, random); err != nil {
			return err
		}

		o.log.Info("Changing the temporary password back to the original", zap.String("account", acct.Username))
		a.Phase = PhaseResetting
		if err := drv.ChangePasswordInAccount(ctx, random, acct.Password); err != nil {
			return err
		}
		a.Phase = PhaseVerifying
		return drv.VerifyPasswordChanged(ctx)
	}
	return fmt.Errorf("no recovery path for %s", a.Trigger)
}

// resetTo runs forgot-password, waits for the mailed link and sets target
// through it
func (o *Orchestrator) resetTo(ctx context.Context, drv Driver, acct config.Account, a *Attempt, target string) error {
	if err := drv.RequestPasswordReset(ctx, acct.Username); err != nil {
		return err
	}

	a.Phase = PhaseAwaitingResetLink
	link, err := o.awaitResetLink(ctx, acct.Username)
	if err != nil {
		return err
	}

	// Set before completing: the change confirmation can arrive before we
	// return from the browser
	if err := o.State.SetSuppressNext(ctx, acct.Username, true); err != nil {
		return fmt.Errorf("failed to set suppress flag: %w", err)
	}

	a.Phase = PhaseResetting
	err = drv.CompleteReset(ctx, link, target)
	if errors.Is(err, browser.ErrPasswordReused) {
		return o.replaceReusedPassword(ctx, drv, a, target)
	}
	if err != nil {
		return err
	}
	a.submitted = true

	a.Phase = PhaseVerifying
	return drv.VerifyPasswordChanged(ctx)
}

// replaceReusedPassword gets past the provider refusing a password used
// before: set a random one on the reset form, then change it to target from
// the account settings
func (o *Orchestrator) replaceReusedPassword(ctx context.Context, drv Driver, a *Attempt, target string) error {
	o.log.Warn("Password was used before, going through a random password", zap.String("account", a.Account))

	random, err := o.genPassword(13)
	if err != nil {
		return err
	}
	if err := drv.SubmitNewPassword(ctx, random); err != nil {
		return err
	}
	a.submitted = true
	a.Phase = PhaseVerifying
	if err := drv.VerifyPasswordChanged(ctx); err != nil {
		return err
	}

	a.Phase = PhaseResetting
	if err := drv.ChangePasswordInAccount(ctx, random, target); err != nil {
		return err
	}
	a.Phase = PhaseVerifying
	return drv.VerifyPasswordChanged(ctx)
}

// awaitResetLink polls the mailbox for the reset-link delivery
func (o *Orchestrator) awaitResetLink(ctx context.Context, account string) (string, error) {
	o.log.Info("Waiting for the reset link", zap.String("account", account), zap.Duration("timeout", o.opts.ResetLinkWait))

	var link string
	err := Poll(ctx, o.opts.ResetLinkPoll, o.opts.ResetLinkWait, func(ctx context.Context) (bool, error) {
		email, err := o.Mailbox.FetchLatest(ctx, account, false)
		if err != nil {
			var accessErr *inbox.MailAccessError
			if errors.As(err, &accessErr) {
				o.log.Warn("Mailbox unavailable while waiting for reset link", zap.String("account", account), zap.Error(err))
				return false, nil
			}
			return false, err
		}
		if email == nil || o.Classifier.Classify(email) != inbox.ResetLinkDelivered {
			return false, nil
		}

		link, err = o.Classifier.ResetLink(email)
		if err != nil {
			o.log.Error("Reset link mail without a link", zap.String("account", account), zap.Uint32("uid", email.UID))
			return false, err
		}
		return true, nil
	})
	if errors.Is(err, ErrPollTimeout) {
		return "", fmt.Errorf("no reset link within %s: %w", o.opts.ResetLinkWait, err)
	}
	if err != nil {
		return "", err
	}

	o.log.Info("Reset link received", zap.String("account", account))
	return link, nil
}
