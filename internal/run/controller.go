// Package run owns the lifecycle of one workflow run: validation, graph
// construction, scheduling, and the aggregated run verdict.
package run

import (
	"context"

	"github.com/google/uuid"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/dag"
	"github.com/vk/flowgrid/internal/events"
	"github.com/vk/flowgrid/internal/expr"
	"github.com/vk/flowgrid/internal/gate"
	"github.com/vk/flowgrid/internal/job"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/outputs"
	"github.com/vk/flowgrid/internal/sandbox"
	"github.com/vk/flowgrid/internal/scheduler"
	"github.com/vk/flowgrid/internal/secrets"
	"github.com/vk/flowgrid/internal/step"
	"github.com/vk/flowgrid/internal/workflow"
)

// Options configures a run. Workflow and Trigger are required; the rest
// have working defaults (local sandbox, no secrets, no approval service,
// no event bus, unlimited parallelism).
type Options struct {
	Workflow    *workflow.Workflow
	Trigger     model.Trigger
	Secrets     secrets.Resolver
	Sandbox     sandbox.Sandbox
	Approvals   gate.Collaborator
	Events      *events.Bus
	MaxParallel int
}

// Controller drives one workflow run from validated definition to final
// verdict. Construction performs every check that can fail before any
// command executes; Run then only reports how things went.
type Controller struct {
	opts  Options
	graph *dag.Graph
	gates *gate.Coordinator
	runID string
}

// New validates the workflow against the trigger and builds the dependency
// graph. It returns a *model.ValidationError for structural problems and a
// *model.CyclicDependencyError when the needs graph has a cycle.
func New(opts Options) (*Controller, error) {
	w := opts.Workflow
	if err := workflow.Validate(w); err != nil {
		return nil, err
	}
	if event := opts.Trigger.Event; event != "" && len(w.On) > 0 && !w.On.Declares(event) {
		return nil, &model.ValidationError{
			Msg: "event " + event + " is not declared by the workflow's on: triggers",
		}
	}

	g := dag.New()
	for name := range w.Jobs {
		g.AddNode(name)
	}
	for name, j := range w.Jobs {
		for _, dep := range j.Needs {
			if err := g.AddEdge(dep, name); err != nil {
				return nil, err
			}
		}
	}
	if err := g.DetectCycles(); err != nil {
		return nil, err
	}

	return &Controller{
		opts:  opts,
		graph: g,
		gates: gate.New(opts.Approvals),
		runID: uuid.NewString(),
	}, nil
}

// ID returns the run identifier, assigned at construction so callers can
// correlate events before Run is invoked.
func (c *Controller) ID() string {
	return c.runID
}

// Gates exposes the approval surface for this run's environment gates.
func (c *Controller) Gates() *gate.Coordinator {
	return c.gates
}

// Run executes the workflow to completion and returns the full result tree.
// A failing or rejected job never yields an error here; the verdict lives
// in RunResult.Conclusion. Only jobs cancelled through ctx make the run
// conclude cancelled.
func (c *Controller) Run(ctx context.Context) *model.RunResult {
	w := c.opts.Workflow
	logger := ctxlog.FromContext(ctx).With("run", c.runID, "workflow", w.Name)
	result := &model.RunResult{
		ID:      c.runID,
		Trigger: c.opts.Trigger,
		Status:  model.StatusCompleted,
	}

	github := map[string]string{
		"event_name": c.opts.Trigger.Event,
		"ref":        c.opts.Trigger.Ref,
		"actor":      c.opts.Trigger.Actor,
		"run_id":     c.runID,
		"workflow":   w.Name,
	}

	// Workflow-level env may interpolate trigger data but nothing run-scoped.
	seed := &expr.Context{GitHub: github, Inputs: c.opts.Trigger.Inputs}
	env, err := expr.InterpolateMap(w.Env, seed)
	if err != nil {
		logger.Error("Workflow env interpolation failed.", "error", err)
		result.Conclusion = model.ResultFailure
		return result
	}

	sb := c.opts.Sandbox
	if sb == nil {
		sb = sandbox.NewLocal()
	}
	store := outputs.New()
	sched := &scheduler.Scheduler{
		Workflow: w,
		Graph:    c.graph,
		Runner: &job.Runner{
			Steps:   &step.Executor{Sandbox: sb},
			Outputs: store,
			Events:  c.opts.Events,
			RunID:   c.runID,
		},
		Gates:       c.gates,
		Outputs:     store,
		Events:      c.opts.Events,
		Secrets:     c.opts.Secrets,
		RunID:       c.runID,
		Trigger:     c.opts.Trigger,
		GitHub:      github,
		Env:         env,
		MaxParallel: c.opts.MaxParallel,
	}

	c.publish(string(model.StatusQueued), string(model.StatusInProgress))
	logger.Info("Run started.", "jobs", len(w.Jobs))
	result.Jobs = sched.Run(ctx)
	result.Conclusion = conclusion(result.Jobs)
	c.publish(string(model.StatusInProgress), string(result.Conclusion))
	logger.Info("Run finished.", "conclusion", result.Conclusion)
	return result
}

// conclusion folds per-job verdicts into the run verdict. Skipped and
// tolerated jobs do not fail a run; any failed conclusion does, and a run
// counts as cancelled only when some job actually was. A cancel signal that
// lands after every job finished cleanly leaves the run successful.
func conclusion(jobs map[string]model.JobResult) model.Result {
	verdict := model.ResultSuccess
	for _, j := range jobs {
		switch j.Conclusion {
		case model.ResultFailure:
			return model.ResultFailure
		case model.ResultCancelled:
			verdict = model.ResultCancelled
		}
	}
	return verdict
}

func (c *Controller) publish(from, to string) {
	if c.opts.Events == nil {
		return
	}
	c.opts.Events.Publish(events.Event{RunID: c.runID, From: from, To: to})
}
