package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/acctguard/acctguard/internal/config"
	"github.com/acctguard/acctguard/internal/inbox"
	"github.com/acctguard/acctguard/internal/notify"
	"github.com/acctguard/acctguard/internal/recovery"
	"github.com/acctguard/acctguard/internal/web"
)

func runCmd() *cobra.Command {
	var selfTest bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch the mailbox and restore changed passwords",
		Long: `Poll the mailbox for password change notices of every configured account
and run recovery when one shows up. Notices already in the mailbox when the
watcher starts are treated as history unless --force is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := config.NewViper()
			bindings := map[string]string{
				"recovery.max_workers": "max-workers",
				"logging.debug":        "debug",
				"recovery.force":       "force",
				"browser.headless":     "headless",
				"status.listen":        "status-addr",
			}
			for key, flag := range bindings {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}

			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if selfTest {
				return runSelftest(cfg, "")
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return runWatch(cfg)
		},
	}

	cmd.Flags().IntP("max-workers", "w", 1, "Accounts handled concurrently")
	cmd.Flags().BoolP("debug", "d", false, "Debug logging")
	cmd.Flags().BoolP("force", "f", false, "Act on notices found by the first poll")
	cmd.Flags().Bool("headless", false, "Run the browser headless")
	cmd.Flags().BoolVarP(&selfTest, "test", "t", false, "Run the bot-detection self-test and exit")
	cmd.Flags().String("status-addr", "", "Serve the status endpoint on this address (e.g. 127.0.0.1:9108)")

	return cmd
}

func runWatch(cfg *config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	rules, err := inbox.LoadRules(cfg.RulesFile)
	if err != nil {
		return err
	}
	sender, err := notify.NewSender(cfg.Notify)
	if err != nil {
		return fmt.Errorf("failed to create %s sender: %w", cfg.Notify.Provider, err)
	}
	dispatcher, err := notify.NewDispatcher(cfg.Notify, sender, a.log)
	if err != nil {
		return err
	}

	orch := recovery.NewOrchestrator(recovery.Deps{
		Mailbox:    inbox.NewReader(cfg.Inbox, a.repo, a.log),
		Classifier: inbox.NewClassifier(rules),
		State:      a.repo,
		Sessions:   a.recoverySessions,
		Notifier:   dispatcher,
		Journal:    a.journal,
		LogFile:    a.logFile,
		Log:        a.log,
	}, recovery.OptionsFromConfig(cfg.Recovery))

	sched := recovery.NewScheduler(orch, a.newGuard(), a.locks, a.repo, cfg.Accounts, recovery.SchedulerOptions{
		MaxWorkers:    cfg.Recovery.MaxWorkers,
		PollInterval:  cfg.Recovery.PollInterval,
		GuardEnabled:  cfg.Guard.Enabled,
		GuardInterval: cfg.Guard.Interval,
	}, a.log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Status.Listen != "" {
		server := web.NewServer(cfg.Status.Listen, a.repo, a.journal, cfg.Accounts, a.log)
		go func() {
			if err := server.Start(); err != nil {
				a.log.Error("Status endpoint stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	a.log.Info("Starting",
		zap.Int("accounts", len(cfg.Accounts)),
		zap.String("mailbox", cfg.Inbox.Email),
		zap.Bool("force", cfg.Recovery.Force),
		zap.Bool("guard", cfg.Guard.Enabled))
	return sched.Run(ctx)
}

func selftestCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Screenshot a bot-detection page with the configured browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			return runSelftest(cfg, out)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "bot_test.png", "Screenshot path")
	return cmd
}

func runSelftest(cfg *config.Config, out string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.launcher.BotCheck(ctx, out); err != nil {
		return err
	}
	if out == "" {
		out = "bot_test.png"
	}
	fmt.Printf("✅ Self-test screenshot saved to: %s\n", out)
	return nil
}

func protectCmd() *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "protect [account...]",
		Short: "Run one profile guard pass",
		Long:  "Log in to each account, remove PIN locks and restore profile names.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("headless") {
				cfg.Browser.Headless = headless
			}

			accounts, err := selectAccounts(cfg.Accounts, args)
			if err != nil {
				return err
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g := a.newGuard()
			for _, acct := range accounts {
				res, err := g.Protect(ctx, acct)
				if err != nil {
					fmt.Printf("❌ %s: %v\n", acct.Username, err)
					continue
				}
				fmt.Printf("✅ %s: %d renamed, %d unlocked\n", acct.Username, res.Renamed, res.Unlocked)
			}
			return ctx.Err()
		},
	}

	cmd.Flags().BoolVar(&headless, "headless", false, "Run the browser headless")
	return cmd
}
