// Package step runs a single workflow step to completion inside the
// sandbox, producing its outcome, conclusion, and captured outputs.
package step

import (
	"context"
	"errors"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/expr"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/sandbox"
	"github.com/vk/flowgrid/internal/secrets"
	"github.com/vk/flowgrid/internal/workflow"
)

// DefaultRetries is how many times a SandboxError is retried before it
// surfaces as a step failure. Command failures are never retried.
const DefaultRetries = 2

// Executor runs steps. The zero Retries means DefaultRetries; set a
// negative value to disable retrying.
type Executor struct {
	Sandbox sandbox.Sandbox
	Retries int
}

// Run executes one step against the given evaluation context. Steps whose
// `if` evaluates false are skipped without touching the sandbox but still
// produce a terminal result for later steps.<id>.* references. The masker
// scrubs every secret value that was resolved for this job from captured
// lines and produced outputs.
//
// Cancellation does not bypass the condition: the snapshot the condition
// sees has success() false and cancelled() true, so default-condition steps
// collapse to a cancelled result while cancelled() and always() cleanup
// steps still execute, detached from the cancelled context.
func (e *Executor) Run(ctx context.Context, def workflow.Step, ec *expr.Context, masker *secrets.Masker) model.StepResult {
	logger := ctxlog.FromContext(ctx).With("step", displayName(def))
	res := model.StepResult{
		ID:     def.ID,
		Name:   displayName(def),
		Status: model.StatusCompleted,
	}

	cancelled := ctx.Err() != nil || ec.Status.Cancelled
	if cancelled {
		adjusted := *ec
		adjusted.Status = expr.Statuses{Failure: ec.Status.Failure, Cancelled: true}
		ec = &adjusted
	}

	ok, err := expr.EvalBool(def.If, ec)
	if err != nil {
		return e.fail(res, def, err)
	}
	if !ok {
		if cancelled {
			res.Outcome = model.ResultCancelled
			res.Conclusion = model.ResultCancelled
			return res
		}
		logger.Debug("Condition false, skipping step.")
		res.Outcome = model.ResultSkipped
		res.Conclusion = model.ResultSkipped
		return res
	}

	spec, err := e.buildSpec(def, ec)
	if err != nil {
		return e.fail(res, def, err)
	}

	// A cleanup step admitted during cancellation must outlive the
	// cancelled context; its own timeout still applies.
	runCtx := ctx
	if ctx.Err() != nil {
		runCtx = context.WithoutCancel(ctx)
	}

	logger.Info("Starting step")
	sres, err := e.execute(runCtx, spec)
	if err != nil {
		if runCtx.Err() != nil {
			res.Outcome = model.ResultCancelled
			res.Conclusion = model.ResultCancelled
			return res
		}
		return e.fail(res, def, &model.SandboxError{Err: err})
	}

	res.ExitCode = sres.ExitCode
	res.Stdout = masker.MaskLines(sres.Stdout)
	res.Stderr = masker.MaskLines(sres.Stderr)
	res.Outputs = masker.MaskMap(sres.Outputs)

	switch {
	case sres.TimedOut:
		res.Outcome = model.ResultFailure
		res.Cause = &model.TimeoutError{Limit: spec.Timeout}
	case runCtx.Err() != nil:
		res.Outcome = model.ResultCancelled
		res.Conclusion = model.ResultCancelled
		return res
	case sres.ExitCode != 0:
		res.Outcome = model.ResultFailure
	default:
		res.Outcome = model.ResultSuccess
	}

	res.Conclusion = conclude(res.Outcome, def.ContinueOnError)
	logger.Info("Finished step", "outcome", res.Outcome, "conclusion", res.Conclusion)
	return res
}

// execute calls the sandbox, retrying only infrastructure errors.
func (e *Executor) execute(ctx context.Context, spec sandbox.RunSpec) (sandbox.Result, error) {
	retries := e.Retries
	if retries == 0 {
		retries = DefaultRetries
	} else if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		res, err := e.Sandbox.Execute(ctx, spec)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			break
		}
		ctxlog.FromContext(ctx).Warn("Sandbox unreachable, retrying.", "attempt", attempt+1, "error", err)
	}
	return sandbox.Result{}, lastErr
}

func (e *Executor) buildSpec(def workflow.Step, ec *expr.Context) (sandbox.RunSpec, error) {
	command, err := expr.Interpolate(def.Run, ec)
	if err != nil {
		return sandbox.RunSpec{}, err
	}
	workDir, err := expr.Interpolate(def.WorkingDirectory, ec)
	if err != nil {
		return sandbox.RunSpec{}, err
	}
	stepEnv, err := expr.InterpolateMap(def.Env, ec)
	if err != nil {
		return sandbox.RunSpec{}, err
	}

	env := make(map[string]string, len(ec.Env)+len(stepEnv))
	for k, v := range ec.Env {
		env[k] = v
	}
	for k, v := range stepEnv {
		env[k] = v
	}

	return sandbox.RunSpec{
		Command:    command,
		Shell:      def.Shell,
		Env:        env,
		WorkingDir: workDir,
		Timeout:    def.Timeout(),
	}, nil
}

func (e *Executor) fail(res model.StepResult, def workflow.Step, cause error) model.StepResult {
	res.Outcome = model.ResultFailure
	res.Conclusion = conclude(model.ResultFailure, def.ContinueOnError)
	res.Cause = cause
	return res
}

// conclude applies continue-on-error: a failure outcome becomes a success
// conclusion, everything else passes through.
func conclude(outcome model.Result, continueOnError bool) model.Result {
	if outcome == model.ResultFailure && continueOnError {
		return model.ResultSuccess
	}
	return outcome
}

func displayName(def workflow.Step) string {
	if def.Name != "" {
		return def.Name
	}
	if def.ID != "" {
		return def.ID
	}
	return def.Run
}
