package recovery

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/acctguard/acctguard/internal/config"
	"github.com/acctguard/acctguard/internal/inbox"
	"github.com/acctguard/acctguard/internal/state"
)

// Guard repairs profile names and locks for a set of accounts
type Guard interface {
	ProtectAll(ctx context.Context, accounts []config.Account)
}

type SchedulerOptions struct {
	MaxWorkers    int
	PollInterval  time.Duration
	GuardEnabled  bool
	GuardInterval time.Duration
}

// Scheduler polls every account on each tick and runs the guard on its own
// timer. Polls never wait for each other. MaxWorkers bounds how many
// recoveries drive a browser at once.
type Scheduler struct {
	orch     *Orchestrator
	guard    Guard
	locks    *Locks
	slots    *semaphore.Weighted
	state    *state.Repository
	accounts []config.Account
	opts     SchedulerOptions
	log      *zap.Logger
}

func NewScheduler(orch *Orchestrator, guard Guard, locks *Locks, repo *state.Repository,
	accounts []config.Account, opts SchedulerOptions, log *zap.Logger) *Scheduler {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.GuardInterval <= 0 {
		opts.GuardInterval = 124 * time.Second
	}
	return &Scheduler{
		orch:     orch,
		guard:    guard,
		locks:    locks,
		slots:    semaphore.NewWeighted(int64(opts.MaxWorkers)),
		state:    repo,
		accounts: accounts,
		opts:     opts,
		log:      log.Named("scheduler"),
	}
}

// RunCycle handles every account once and waits for all of them
func (s *Scheduler) RunCycle(ctx context.Context) error {
	var g errgroup.Group
	s.dispatch(ctx, &g)
	_ = g.Wait()
	return ctx.Err()
}

// dispatch starts a unit for every account that has none in flight
func (s *Scheduler) dispatch(ctx context.Context, g *errgroup.Group) {
	for _, acct := range s.accounts {
		if ctx.Err() != nil {
			return
		}
		unlock, ok := s.locks.TryLock(acct.Username)
		if !ok {
			s.log.Debug("Account busy, skipped this tick", zap.String("account", acct.Username))
			continue
		}
		acct := acct
		g.Go(func() error {
			defer unlock()
			s.unit(ctx, acct)
			return nil
		})
	}
}

func (s *Scheduler) unit(ctx context.Context, acct config.Account) {
	log := s.log.With(zap.String("account", acct.Username))
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic while handling account", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	a, err := s.orch.Detect(ctx, acct)
	if err == nil && a.Actionable() {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.slots.Release(1)
		err = s.orch.Recover(ctx, acct, a)
	}
	if err == nil || ctx.Err() != nil {
		return
	}

	var (
		accessErr    *inbox.MailAccessError
		exhaustedErr *RetryExhaustedError
	)
	switch {
	case errors.As(err, &accessErr):
		log.Error("Mailbox unavailable, will retry next tick", zap.Error(err))
	case errors.As(err, &exhaustedErr):
		log.Error("Incident not recovered", zap.Int("attempts", exhaustedErr.Attempts), zap.Error(exhaustedErr.Err))
	default:
		log.Error("Failed to handle account", zap.Error(err))
	}
}

func (s *Scheduler) guardLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.GuardInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.guard.ProtectAll(ctx, s.accounts)
		}
	}
}

// Run loops until ctx ends and waits for units in flight. The first poll of
// each account after startup treats old notices as history.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, acct := range s.accounts {
		if err := s.state.ForgetSeen(ctx, acct.Username); err != nil {
			return err
		}
	}
	s.log.Info("Watching mailbox for password change notices",
		zap.Int("accounts", len(s.accounts)), zap.Int("max_workers", s.opts.MaxWorkers))

	var g errgroup.Group
	if s.opts.GuardEnabled && s.guard != nil {
		g.Go(func() error {
			s.guardLoop(ctx)
			return nil
		})
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		s.dispatch(ctx, &g)
		select {
		case <-ctx.Done():
			s.log.Info("Stopping", zap.Error(ctx.Err()))
			_ = g.Wait()
			return nil
		case <-ticker.C:
		}
	}
}
