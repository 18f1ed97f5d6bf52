// Package guard keeps profile names and PIN locks the way the account owner
// set them up.
package guard

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/acctguard/acctguard/internal/browser"
	"github.com/acctguard/acctguard/internal/config"
	"github.com/acctguard/acctguard/internal/metrics"
)

// ProfileDriver is the browser session a guard pass runs in
type ProfileDriver interface {
	Login(ctx context.Context, username, password string) error
	ProfileLocked(ctx context.Context, index int) (string, bool, error)
	UnlockProfile(ctx context.Context, index int, pin string) error
	ProfileNames(ctx context.Context) ([]string, error)
	RenameProfile(ctx context.Context, index int, name string) error
	FinishProfileEdit(ctx context.Context) error
	Logout(ctx context.Context) error
	Close()
}

// SessionFactory opens a fresh isolated browser session
type SessionFactory func(ctx context.Context) (ProfileDriver, error)

// Locker hands out the per-account lock shared with recovery
type Locker interface {
	TryLock(account string) (func(), bool)
}

// Result counts the repairs made on one account
type Result struct {
	Renamed  int
	Unlocked int
}

type Guard struct {
	sessions SessionFactory
	locks    Locker
	profiles int
	log      *zap.Logger
}

func New(sessions SessionFactory, locks Locker, profiles int, log *zap.Logger) *Guard {
	if profiles <= 0 {
		profiles = 5
	}
	return &Guard{
		sessions: sessions,
		locks:    locks,
		profiles: profiles,
		log:      log.Named("guard"),
	}
}

// ProfileName is the expected name of the n-th profile (1-based)
func ProfileName(prefix string, n int) string {
	return fmt.Sprintf("%s_0%d", prefix, n)
}

// Protect logs in, lifts PIN locks and restores profile names. A login
// refused by risk control skips the account without an error.
func (g *Guard) Protect(ctx context.Context, acct config.Account) (Result, error) {
	var res Result
	log := g.log.With(zap.String("account", acct.Username))

	drv, err := g.sessions(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to open browser session: %w", err)
	}
	defer drv.Close()

	if err := drv.Login(ctx, acct.Username, acct.Password); err != nil {
		if errors.Is(err, browser.ErrRiskControl) {
			log.Debug("Login refused by risk control, skipped", zap.Error(err))
			return res, nil
		}
		return res, err
	}

	for i := 1; i <= g.profiles; i++ {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		name, locked, err := drv.ProfileLocked(ctx, i)
		if err != nil {
			log.Warn("Failed to check profile lock", zap.Int("profile", i), zap.Error(err))
			continue
		}
		if !locked {
			continue
		}
		if err := drv.UnlockProfile(ctx, i, acct.ProfilePIN()); err != nil {
			log.Warn("Failed to unlock profile", zap.Int("profile", i), zap.String("name", name), zap.Error(err))
			continue
		}
		res.Unlocked++
		log.Info("Profile lock removed", zap.Int("profile", i), zap.String("name", name))
	}

	if acct.ProfilePrefix != "" {
		g.restoreNames(ctx, drv, acct, &res, log)
	}

	if err := drv.Logout(ctx); err != nil {
		log.Warn("Failed to log out", zap.Error(err))
	}

	metrics.GuardFix("rename", res.Renamed)
	metrics.GuardFix("unlock", res.Unlocked)
	return res, ctx.Err()
}

func (g *Guard) restoreNames(ctx context.Context, drv ProfileDriver, acct config.Account, res *Result, log *zap.Logger) {
	names, err := drv.ProfileNames(ctx)
	if err != nil {
		log.Warn("Failed to list profiles", zap.Error(err))
		return
	}

	if len(names) > g.profiles {
		names = names[:g.profiles]
	}
	for i, current := range names {
		if ctx.Err() != nil {
			return
		}
		want := ProfileName(acct.ProfilePrefix, i+1)
		if current == want {
			continue
		}
		if err := drv.RenameProfile(ctx, i+1, want); err != nil {
			log.Warn("Failed to rename profile", zap.Int("profile", i+1), zap.String("name", current), zap.Error(err))
			continue
		}
		res.Renamed++
		log.Info("Profile renamed", zap.String("from", current), zap.String("to", want))
	}

	if res.Renamed > 0 {
		if err := drv.FinishProfileEdit(ctx); err != nil {
			log.Warn("Failed to finish profile edit", zap.Error(err))
		}
	}
}

// ProtectAll runs Protect for every account not busy with a recovery
func (g *Guard) ProtectAll(ctx context.Context, accounts []config.Account) {
	g.log.Info("Checking profiles", zap.Int("accounts", len(accounts)))
	for _, acct := range accounts {
		if ctx.Err() != nil {
			return
		}
		g.protectOne(ctx, acct)
	}
}

func (g *Guard) protectOne(ctx context.Context, acct config.Account) {
	log := g.log.With(zap.String("account", acct.Username))
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic while protecting account", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	unlock, ok := g.locks.TryLock(acct.Username)
	if !ok {
		log.Debug("Account busy, guard skipped")
		return
	}
	defer unlock()

	res, err := g.Protect(ctx, acct)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("Guard pass failed", zap.Error(err))
		}
		return
	}
	if res.Renamed > 0 || res.Unlocked > 0 {
		log.Info("Profiles repaired", zap.Int("renamed", res.Renamed), zap.Int("unlocked", res.Unlocked))
	}
}
