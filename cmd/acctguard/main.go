package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/acctguard/acctguard/internal/config"
)

var cfgFile string

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config with any flags already bound onto v
func loadConfig(v *viper.Viper) (*config.Config, error) {
	if v == nil {
		v = config.NewViper()
	}
	return config.LoadWith(v, resolveConfigPath())
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "acctguard",
		Short: "acctguard - Restore streaming account passwords changed behind your back",
		Long: `acctguard watches the mailbox that receives your streaming accounts'
notices. When someone changes an account password, or the provider forces a
reset, it runs the forgot-password flow in a browser and sets the original
password again. It can also keep profile names and PIN locks as you set them.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.acctguard/config.yaml)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(selftestCmd())
	rootCmd.AddCommand(protectCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(initCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
