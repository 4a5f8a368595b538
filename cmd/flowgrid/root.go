package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "flowgrid",
		Short:         "Flowgrid executes workflow job graphs locally",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	persistent := cmd.PersistentFlags()
	persistent.String("log-format", "text", "log output format (text|json)")
	persistent.String("log-level", "info", "logging level (debug|info|warn|error)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newValidateCmd())

	return cmd
}
