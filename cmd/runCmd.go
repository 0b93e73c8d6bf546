package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// runCmd patches the site file. With --runbook the steps come from YAML
// instead of the built-in sequence.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Back up, patch, test and reload the nginx site",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfgRunbook != "" {
			rb, err := loadRunbook(cfgRunbook)
			if err != nil {
				return fmt.Errorf("failed to read runbook: %w", err)
			}
			// A custom runbook may never touch the built-in file paths.
			if cfgPullDir != "" {
				logrus.WithField("runbook", cfgRunbook).Warn("--pull-dir ignored with --runbook")
			}
			return executeRunbook(cmd.Context(), rb, nil, cmd.OutOrStdout(), cmd.ErrOrStderr())
		}

		rb, err := patchRunbook(settingsFromConfig())
		if err != nil {
			return err
		}
		s := settingsFromConfig().withDefaults()
		arts := []artifactSpec{
			{Role: roleBackup, Remote: s.Backup},
			{Role: roleSnapshot, Remote: s.Snapshot},
			{Role: roleSite, Remote: s.Site},
		}
		return executeRunbook(cmd.Context(), rb, arts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}
