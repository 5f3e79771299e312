package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile  string
	adminKey string
)

var rootCmd = &cobra.Command{
	Use:   "payrelay",
	Short: "PayRelay - payment proxy server registry",
	Long: `PayRelay manages the pool of upstream payment proxy servers used by the
storefront to delegate PayPal capture. It tracks monetary capacity per
server, keeps a sticky selection pointer for new checkouts, and fails over
automatically when the selected server exhausts its capacity.

Administrator commands (servers add/update/remove/select/reset-usage)
require a configured admin key via --admin-key.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "payrelay.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&adminKey, "admin-key", "k", "", "administrator key for mutating commands")
}
