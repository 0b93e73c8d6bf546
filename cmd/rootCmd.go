package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ngxpatch",
	Short: "Patch an nginx site over an interactive SSH shell",
	Long: "Logs in to one host over SSH, drives its interactive shell line by line and inserts a directive " +
		"into an nginx site file: backup, snapshot, edit, config test, reload, show.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgInitErr != nil {
			return cfgInitErr
		}
		return configureLogging(cfgLogLevel, cfgLogFormat, os.Stderr)
	},
}
