package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validate a runbook YAML file, or the built-in runbook settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfgRunbook != "" {
			if _, err := loadRunbook(cfgRunbook); err != nil {
				return fmt.Errorf("invalid runbook: %w", err)
			}
		} else if _, err := patchRunbook(settingsFromConfig()); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Runbook OK")
		return nil
	},
}
