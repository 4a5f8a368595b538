package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vk/flowgrid/internal/run"
	"github.com/vk/flowgrid/internal/workflow"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate WORKFLOW",
		Short: "Check a workflow file without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := workflow.Load(args[0])
			if err != nil {
				return err
			}
			// Controller construction performs full validation including
			// cycle detection; the controller is then discarded.
			if _, err := run.New(run.Options{Workflow: w}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d jobs)\n", args[0], len(w.Jobs))
			return nil
		},
	}
}
