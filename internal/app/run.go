package app

import (
	"context"
	"fmt"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/events"
	"github.com/vk/flowgrid/internal/gate"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/run"
	"github.com/vk/flowgrid/internal/sandbox"
)

// Run executes the configured workflow run and blocks until it concludes.
// A failing run surfaces as an ExitError with code 1 so the CLI can exit
// accordingly; validation problems surface before anything executes.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	bus := events.NewBus()
	defer bus.Close()
	go events.LogSink(ctx, bus.Subscribe())

	sb := a.sandbox
	if sb == nil {
		sb = sandbox.NewLocal()
	}

	var approvals gate.Collaborator
	var auto *gate.AutoApprover
	if a.config.AutoApprove {
		auto = &gate.AutoApprover{Reviewer: a.config.Actor}
		approvals = auto
	}

	ctrl, err := run.New(run.Options{
		Workflow: a.workflow,
		Trigger: model.Trigger{
			Event:  a.config.Event,
			Ref:    a.config.Ref,
			Actor:  a.config.Actor,
			Inputs: a.config.Inputs,
		},
		Secrets:     a.secrets,
		Sandbox:     sb,
		Approvals:   approvals,
		Events:      bus,
		MaxParallel: a.config.MaxParallel,
	})
	if err != nil {
		return fmt.Errorf("workflow rejected: %w", err)
	}
	if auto != nil {
		auto.Coordinator = ctrl.Gates()
	}

	result := ctrl.Run(ctx)
	a.logger.Info("Run concluded.", "run", result.ID, "conclusion", result.Conclusion)
	a.printSummary(result)

	switch result.Conclusion {
	case model.ResultSuccess:
		return nil
	case model.ResultCancelled:
		return &ExitError{Code: 130, Message: "run cancelled"}
	default:
		return &ExitError{Code: 1, Message: "run concluded " + string(result.Conclusion)}
	}
}

// printSummary renders a one-line-per-job verdict table to the output
// writer, in stable job order.
func (a *App) printSummary(result *model.RunResult) {
	for _, name := range a.workflow.JobNames() {
		j := result.Jobs[name]
		fmt.Fprintf(a.outW, "%-12s %s\n", j.Conclusion, name)
		for _, s := range j.Steps {
			fmt.Fprintf(a.outW, "  %-10s %s\n", s.Conclusion, s.Name)
		}
	}
}
