// Package job sequences one job's steps and aggregates them into a job
// conclusion and declared outputs.
package job

import (
	"context"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/events"
	"github.com/vk/flowgrid/internal/expr"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/outputs"
	"github.com/vk/flowgrid/internal/secrets"
	"github.com/vk/flowgrid/internal/step"
	"github.com/vk/flowgrid/internal/workflow"
)

// Runner executes jobs. It owns a job's record exclusively for the duration
// of Run; only the Output Store is shared outward.
type Runner struct {
	Steps   *step.Executor
	Outputs *outputs.Store
	Events  *events.Bus
	RunID   string
}

// Run drives a job's steps in declaration order, threading the growing
// steps.* context forward. A step concluding failure flips the job-level
// failure flag, which makes every later step's default success() condition
// false; only steps that tolerate the failure through failure() or always()
// still execute.
func (r *Runner) Run(ctx context.Context, jobID string, def workflow.Job, base expr.Context, masker *secrets.Masker) model.JobResult {
	logger := ctxlog.FromContext(ctx).With("job", jobID)
	res := model.JobResult{
		Name:   displayName(jobID, def),
		Status: model.StatusCompleted,
	}

	jobEnv, err := expr.InterpolateMap(def.Env, &base)
	if err != nil {
		logger.Error("Job env interpolation failed.", "error", err)
		res.Outcome = model.ResultFailure
		res.Conclusion = model.ResultFailure
		res.Cause = err
		return res
	}
	env := mergeEnv(base.Env, jobEnv)

	// Every declared step id is present from the start so expressions can
	// reference a step that has not produced anything yet and read empty
	// values instead of failing.
	stepCtxs := make(map[string]expr.StepContext, len(def.Steps))
	for _, s := range def.Steps {
		if s.ID != "" {
			stepCtxs[s.ID] = expr.StepContext{Outputs: map[string]string{}}
		}
	}

	var failed, cancelled bool
	for _, sdef := range def.Steps {
		ec := base
		ec.Env = env
		ec.Steps = stepCtxs
		ec.Status = expr.Statuses{
			Success:   !failed && !cancelled,
			Failure:   failed,
			Cancelled: base.Status.Cancelled || ctx.Err() != nil,
		}

		r.publish(jobID, sdef, model.StatusQueued, model.StatusInProgress)
		sres := r.Steps.Run(ctx, sdef, &ec, masker)
		r.publish(jobID, sdef, model.StatusInProgress, model.Status(sres.Conclusion))

		if sres.ID != "" {
			for k, v := range sres.Outputs {
				r.Outputs.SetStepOutput(jobID, sres.ID, k, v)
			}
			sc := expr.StepContext{
				Outcome:    string(sres.Outcome),
				Conclusion: string(sres.Conclusion),
				Outputs:    sres.Outputs,
			}
			if sc.Outputs == nil {
				sc.Outputs = map[string]string{}
			}
			stepCtxs[sres.ID] = sc
		}

		if sres.Conclusion == model.ResultFailure {
			failed = true
			if res.Cause == nil {
				res.Cause = sres.Cause
			}
		}
		if sres.Outcome == model.ResultCancelled {
			cancelled = true
		}
		res.Steps = append(res.Steps, sres)
	}

	switch {
	case cancelled:
		res.Outcome = model.ResultCancelled
	case failed:
		res.Outcome = model.ResultFailure
	default:
		res.Outcome = model.ResultSuccess
	}
	res.Conclusion = res.Outcome

	r.collectOutputs(jobID, def, &res, base, env, stepCtxs, masker, failed, cancelled)
	return res
}

// collectOutputs evaluates the job's declared outputs against the final
// step context and records them in the store. Output evaluation runs even
// for failed jobs so tolerant dependents can still read what was produced.
// Values pass through the masker before they reach the store or the result
// tree: an output expression may resolve a secret directly.
func (r *Runner) collectOutputs(jobID string, def workflow.Job, res *model.JobResult, base expr.Context, env map[string]string, stepCtxs map[string]expr.StepContext, masker *secrets.Masker, failed, cancelled bool) {
	if len(def.Outputs) == 0 {
		return
	}
	ec := base
	ec.Env = env
	ec.Steps = stepCtxs
	ec.Status = expr.Statuses{
		Success:   !failed && !cancelled,
		Failure:   failed,
		Cancelled: cancelled || base.Status.Cancelled,
	}

	outs := make(map[string]string, len(def.Outputs))
	for key, tmpl := range def.Outputs {
		v, err := expr.Interpolate(tmpl, &ec)
		if err != nil {
			if res.Outcome == model.ResultSuccess {
				res.Outcome = model.ResultFailure
				res.Conclusion = model.ResultFailure
				res.Cause = err
			}
			continue
		}
		masked := masker.Mask(v)
		outs[key] = masked
		r.Outputs.SetJobOutput(jobID, key, masked)
	}
	res.Outputs = outs
}

func (r *Runner) publish(jobID string, sdef workflow.Step, from, to model.Status) {
	if r.Events == nil {
		return
	}
	stepID := sdef.ID
	if stepID == "" {
		stepID = displayStepName(sdef)
	}
	r.Events.Publish(events.Event{
		RunID:  r.RunID,
		JobID:  jobID,
		StepID: stepID,
		From:   string(from),
		To:     string(to),
	})
}

func mergeEnv(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func displayName(jobID string, def workflow.Job) string {
	if def.Name != "" {
		return def.Name
	}
	return jobID
}

func displayStepName(sdef workflow.Step) string {
	if sdef.Name != "" {
		return sdef.Name
	}
	return sdef.Run
}
