package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/acctguard/acctguard/internal/config"
	"github.com/acctguard/acctguard/internal/history"
	"github.com/acctguard/acctguard/internal/notify"
	"github.com/acctguard/acctguard/internal/state"
)

// selectAccounts returns the configured accounts named in names, or all of
// them when names is empty
func selectAccounts(accounts []config.Account, names []string) ([]config.Account, error) {
	if len(names) == 0 {
		if len(accounts) == 0 {
			return nil, fmt.Errorf("no accounts configured")
		}
		return accounts, nil
	}

	var out []config.Account
	for _, name := range names {
		found := false
		for _, a := range accounts {
			if strings.EqualFold(a.Username, name) {
				out = append(out, a)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("account %s is not configured", name)
		}
	}
	return out, nil
}

func openRepository(cfg *config.Config) (*state.Repository, func(), error) {
	kv, err := state.Open(cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return state.NewRepository(kv), func() { kv.Close() }, nil
}

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset per-account watch state",
	}
	cmd.AddCommand(stateShowCmd())
	cmd.AddCommand(stateResetCmd())
	return cmd
}

func stateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [account...]",
		Short: "Show the stored state of accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				for _, a := range cfg.Accounts {
					names = append(names, a.Username)
				}
			}
			if len(names) == 0 {
				return fmt.Errorf("no accounts configured")
			}

			repo, closeFn, err := openRepository(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			fmt.Println("📋 Account State")
			fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			for _, name := range names {
				rec, err := repo.Snapshot(cmd.Context(), name)
				if err != nil {
					return err
				}
				fmt.Printf("%s\n", rec.Account)
				fmt.Printf("  Last message UID:  %d\n", rec.LastID)
				fmt.Printf("  Suppress next:     %t\n", rec.SuppressNext)
				fmt.Printf("  Seen this run:     %t\n", rec.SeenBefore)
			}
			return nil
		},
	}
}

func stateResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <account>",
		Short: "Forget the stored state of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			repo, closeFn, err := openRepository(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := repo.Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("✅ State of %s reset\n", args[0])
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var (
		limit   int
		account string
		prune   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent incidents and their outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			return runHistory(cmd.Context(), cfg, account, limit, prune)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of incidents to show")
	cmd.Flags().StringVar(&account, "account", "", "Only show this account")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Delete incidents older than this first (e.g. 2160h)")
	return cmd
}

func runHistory(ctx context.Context, cfg *config.Config, account string, limit int, prune time.Duration) error {
	store, err := history.NewStore(cfg.Store.HistoryPath)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	if prune > 0 {
		n, err := store.Prune(ctx, time.Now().Add(-prune))
		if err != nil {
			return err
		}
		fmt.Printf("🧹 Pruned %d incidents older than %s\n", n, prune)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	entries, err := store.Recent(ctx, account, limit)
	if err != nil {
		return err
	}

	fmt.Println("📊 Incidents")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Recovered: %d\n", stats["recovered"])
	fmt.Printf("  Exhausted: %d\n", stats["exhausted"])

	if len(entries) == 0 {
		return nil
	}
	fmt.Println()
	for _, e := range entries {
		status := "✅"
		if e.Outcome != "recovered" {
			status = "❌"
		}
		fmt.Printf("%s %s - %s (%s, %d attempts, %s)\n",
			status,
			e.FinishedAt.Format("2006-01-02 15:04"),
			e.Account,
			e.Trigger,
			e.Attempts,
			notify.HumanizeDuration(e.FinishedAt.Sub(e.DetectedAt)),
		)
		if e.Error != "" {
			fmt.Printf("   Error: %s\n", e.Error)
		}
	}
	return nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long:  "Create a starter configuration file with the mailbox and the first account.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	configPath := resolveConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		answer := prompt(reader, fmt.Sprintf("%s exists, overwrite? [y/N]: ", configPath))
		if !strings.EqualFold(answer, "y") {
			return nil
		}
	}

	// Start from the defaults so the file documents every setting
	cfg, err := config.LoadWith(config.NewViper(), "")
	if err != nil {
		return err
	}

	fmt.Println("🔐 acctguard Configuration Setup")
	fmt.Println("================================")
	fmt.Println()

	fmt.Println("📬 Mailbox receiving the provider's notices")
	cfg.Inbox.Email = prompt(reader, "  Email address: ")
	cfg.Inbox.Password = prompt(reader, "  App password: ")
	if server := prompt(reader, fmt.Sprintf("  IMAP server [%s]: ", cfg.Inbox.Server)); server != "" {
		cfg.Inbox.Server = server
	}

	fmt.Println()
	fmt.Println("🎬 First account to watch")
	acct := config.Account{
		Username:      prompt(reader, "  Login email: "),
		Password:      prompt(reader, "  Password: "),
		ProfilePrefix: prompt(reader, "  Profile name prefix (optional): "),
	}
	cfg.Accounts = []config.Account{acct}

	fmt.Println()
	fmt.Println("📧 Notifications")
	cfg.Notify.From = prompt(reader, "  Sender address (SMTP login): ")
	cfg.Notify.SMTP.Username = cfg.Notify.From
	cfg.Notify.SMTP.Password = prompt(reader, "  Sender app password: ")
	cfg.Notify.To = prompt(reader, fmt.Sprintf("  Recipient [%s]: ", cfg.Inbox.Email))
	if cfg.Notify.To == "" {
		cfg.Notify.To = cfg.Inbox.Email
	}
	if cfg.Notify.From != "" {
		if err := notify.ValidateEmail(cfg.Notify.From); err != nil {
			return err
		}
	}

	if err := config.Save(configPath, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Printf("✅ Configuration saved to: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit the config file if needed")
	fmt.Println("  2. Run 'acctguard selftest' to check the browser")
	fmt.Println("  3. Run 'acctguard run' to start watching")
	return nil
}

func prompt(reader *bufio.Reader, message string) string {
	fmt.Print(message)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}
