package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/acctguard/acctguard/internal/browser"
	"github.com/acctguard/acctguard/internal/config"
	"github.com/acctguard/acctguard/internal/guard"
	"github.com/acctguard/acctguard/internal/history"
	"github.com/acctguard/acctguard/internal/logging"
	"github.com/acctguard/acctguard/internal/recovery"
	"github.com/acctguard/acctguard/internal/state"
)

// app holds the long-lived resources shared by the commands
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	daily    *logging.DailyFile
	kv       state.KV
	repo     *state.Repository
	journal  *history.Store
	launcher *browser.Launcher
	locks    *recovery.Locks
}

func newApp(cfg *config.Config) (*app, error) {
	log, daily, err := logging.New(logging.Options{
		Dir:   cfg.Logging.Dir,
		Level: cfg.Logging.Level,
		Debug: cfg.Logging.Debug,
	})
	if err != nil {
		return nil, err
	}

	kv, err := state.Open(cfg.Store)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	journal, err := history.NewStore(cfg.Store.HistoryPath)
	if err != nil {
		kv.Close()
		log.Sync()
		return nil, fmt.Errorf("failed to open incident history: %w", err)
	}

	return &app{
		cfg:      cfg,
		log:      log,
		daily:    daily,
		kv:       kv,
		repo:     state.NewRepository(kv),
		journal:  journal,
		launcher: browser.NewLauncher(cfg.Browser, cfg.Logging.Dir, log),
		locks:    recovery.NewLocks(),
	}, nil
}

func (a *app) Close() {
	a.launcher.Close()
	if err := a.journal.Close(); err != nil {
		a.log.Warn("Failed to close incident history", zap.Error(err))
	}
	if err := a.kv.Close(); err != nil {
		a.log.Warn("Failed to close state store", zap.Error(err))
	}
	a.log.Sync()
	if a.daily != nil {
		a.daily.Close()
	}
}

// logFile is attached to failure reports
func (a *app) logFile() string {
	if a.daily == nil {
		return ""
	}
	return a.daily.Path()
}

func (a *app) recoverySessions(ctx context.Context) (recovery.Driver, error) {
	s, err := a.launcher.Open(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (a *app) guardSessions(ctx context.Context) (guard.ProfileDriver, error) {
	s, err := a.launcher.Open(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (a *app) newGuard() *guard.Guard {
	return guard.New(a.guardSessions, a.locks, a.cfg.Guard.Profiles, a.log)
}
