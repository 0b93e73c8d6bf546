package cmd

import "github.com/spf13/cobra"

// rollbackCmd copies the backup over the site file, then tests and reloads.
var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore the site file from its backup and reload nginx",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := settingsFromConfig().withDefaults()
		rb, err := rollbackRunbook(s)
		if err != nil {
			return err
		}
		arts := []artifactSpec{
			{Role: roleSite, Remote: s.Site},
			{Role: roleBackup, Remote: s.Backup},
		}
		return executeRunbook(cmd.Context(), rb, arts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}
