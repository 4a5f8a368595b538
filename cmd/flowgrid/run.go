package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vk/flowgrid/internal/app"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run WORKFLOW",
		Short: "Execute a workflow file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExecute,
	}

	flags := cmd.Flags()
	flags.String("event", "workflow_dispatch", "triggering event name")
	flags.String("ref", "refs/heads/main", "git ref the run executes against")
	flags.String("actor", "", "identity that triggered the run")
	flags.StringArray("input", nil, "run input as key=value (repeatable)")
	flags.String("secrets-file", "", "YAML file with repository and environment secrets")
	flags.Int("max-parallel", 0, "maximum concurrently running jobs, 0 for unlimited")
	flags.Bool("auto-approve", false, "automatically approve environment gates")

	return cmd
}

func runExecute(cmd *cobra.Command, args []string) error {
	cfg, err := configFromFlags(cmd, args[0])
	if err != nil {
		return err
	}

	a, err := app.NewApp(cmd.OutOrStdout(), cfg)
	if err != nil {
		return err
	}
	return a.Run(cmd.Context())
}

func configFromFlags(cmd *cobra.Command, workflowPath string) (*app.Config, error) {
	flags := cmd.Flags()
	event, _ := flags.GetString("event")
	ref, _ := flags.GetString("ref")
	actor, _ := flags.GetString("actor")
	rawInputs, _ := flags.GetStringArray("input")
	secretsFile, _ := flags.GetString("secrets-file")
	maxParallel, _ := flags.GetInt("max-parallel")
	autoApprove, _ := flags.GetBool("auto-approve")
	logFormat, _ := flags.GetString("log-format")
	logLevel, _ := flags.GetString("log-level")

	inputs, err := parseInputs(rawInputs)
	if err != nil {
		return nil, err
	}

	return app.NewConfig(app.Config{
		WorkflowPath: workflowPath,
		Event:        event,
		Ref:          ref,
		Actor:        actor,
		Inputs:       inputs,
		SecretsFile:  secretsFile,
		MaxParallel:  maxParallel,
		AutoApprove:  autoApprove,
		LogFormat:    logFormat,
		LogLevel:     logLevel,
	})
}

func parseInputs(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	inputs := make(map[string]string, len(raw))
	for _, pair := range raw {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --input %q, expected key=value", pair)
		}
		inputs[key] = value
	}
	return inputs, nil
}
