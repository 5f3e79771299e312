package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"storefront-hq/payrelay/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("configuration invalid: %w", err)
		}

		fmt.Printf("configuration valid: storage=%s audit=%v snapshot=%q admin_keys=%d\n",
			cfg.Storage.Backend, cfg.Audit.Enabled, cfg.Snapshot.Schedule,
			len(cfg.Auth.AdminKeys),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
