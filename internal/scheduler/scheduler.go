package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/dag"
	"github.com/vk/flowgrid/internal/events"
	"github.com/vk/flowgrid/internal/expr"
	"github.com/vk/flowgrid/internal/gate"
	"github.com/vk/flowgrid/internal/job"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/outputs"
	"github.com/vk/flowgrid/internal/secrets"
	"github.com/vk/flowgrid/internal/workflow"
)

// Scheduler walks one run's job graph. Jobs with no unresolved dependencies
// are dispatched onto their own goroutines; a finishing job decrements its
// dependents' counters and dispatches any that hit zero. Readiness means all
// dependencies are terminal, whatever their verdict; the dependent's own
// condition decides whether it actually runs.
type Scheduler struct {
	Workflow *workflow.Workflow
	Graph    *dag.Graph
	Runner   *job.Runner
	Gates    *gate.Coordinator
	Outputs  *outputs.Store
	Events   *events.Bus
	Secrets  secrets.Resolver
	RunID    string
	Trigger  model.Trigger

	// GitHub is the github.* context shared by every job, assembled by the
	// run controller.
	GitHub map[string]string
	// Env is the workflow-level environment, already interpolated.
	Env map[string]string
	// MaxParallel caps concurrently running jobs; zero means unlimited.
	MaxParallel int

	nodes map[string]*jobNode
	sem   chan struct{}
	wg    sync.WaitGroup
}

type jobNode struct {
	name     string
	def      workflow.Job
	depCount atomic.Int32
	state    atomic.Int32
	finished sync.Once
	result   model.JobResult
}

// Run executes every job in the graph and returns the per-job results once
// all of them reach a terminal state. Cancellation does not abandon jobs:
// pending and gated jobs conclude cancelled, so the result map is always
// complete.
func (s *Scheduler) Run(ctx context.Context) map[string]model.JobResult {
	s.nodes = make(map[string]*jobNode, len(s.Workflow.Jobs))
	for name, def := range s.Workflow.Jobs {
		n := &jobNode{name: name, def: def}
		n.depCount.Store(int32(len(def.Needs)))
		s.nodes[name] = n
	}
	if s.MaxParallel > 0 {
		s.sem = make(chan struct{}, s.MaxParallel)
	}

	s.wg.Add(len(s.nodes))
	for _, name := range s.Workflow.JobNames() {
		n := s.nodes[name]
		if n.depCount.Load() == 0 {
			go s.execute(ctx, n)
		}
	}
	s.wg.Wait()

	results := make(map[string]model.JobResult, len(s.nodes))
	for name, n := range s.nodes {
		results[name] = n.result
	}
	return results
}

// execute drives one job from Evaluating to a terminal state. It is entered
// exactly once per job, only after every dependency has finished, so reading
// dependency results here needs no locking.
func (s *Scheduler) execute(ctx context.Context, n *jobNode) {
	logger := ctxlog.FromContext(ctx).With("job", n.name)
	s.transition(n, Evaluating)

	if ctx.Err() != nil {
		s.finish(ctx, n, Cancelled, s.verdictResult(n, model.ResultCancelled, ctx.Err()))
		return
	}

	ec, masker := s.jobContext(ctx, n)

	ok, err := expr.EvalBool(n.def.If, ec)
	if err != nil {
		logger.Error("Job condition failed to evaluate.", "error", err)
		s.finish(ctx, n, Failed, s.verdictResult(n, model.ResultFailure, err))
		return
	}
	if !ok {
		logger.Info("Job skipped by condition.")
		s.finish(ctx, n, Skipped, s.verdictResult(n, model.ResultSkipped, nil))
		return
	}

	if envName := n.def.Environment.Name; envName != "" {
		env := s.Workflow.Environments[envName]
		if env.Protected() {
			s.transition(n, Gated)
			if err := s.Gates.Wait(ctx, n.name, envName, env, s.Trigger.Ref); err != nil {
				if ctx.Err() != nil {
					s.finish(ctx, n, Cancelled, s.verdictResult(n, model.ResultCancelled, err))
					return
				}
				logger.Warn("Deployment gate refused the job.", "error", err)
				s.finish(ctx, n, Failed, s.verdictResult(n, model.ResultFailure, err))
				return
			}
		}
	}

	if s.sem != nil {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			s.finish(ctx, n, Cancelled, s.verdictResult(n, model.ResultCancelled, ctx.Err()))
			return
		}
	}

	s.transition(n, Running)
	res := s.Runner.Run(ctx, n.name, n.def, *ec, masker)
	switch res.Conclusion {
	case model.ResultSuccess:
		s.finish(ctx, n, Succeeded, res)
	case model.ResultCancelled:
		s.finish(ctx, n, Cancelled, res)
	default:
		s.finish(ctx, n, Failed, res)
	}
}

// finish records the terminal result, publishes the job's outputs so
// dependents can read them, and dispatches any dependent whose last
// dependency this was. Publication strictly precedes the terminal state
// change and dependent dispatch.
func (s *Scheduler) finish(ctx context.Context, n *jobNode, st State, res model.JobResult) {
	n.finished.Do(func() {
		n.result = res
		s.Outputs.PublishJob(n.name)
		s.transition(n, st)

		dependents, err := s.Graph.Dependents(n.name)
		if err == nil {
			for _, name := range dependents {
				d := s.nodes[name]
				if d.depCount.Add(-1) == 0 {
					go s.execute(ctx, d)
				}
			}
		}
		s.wg.Done()
	})
}

// jobContext assembles the expression context a job evaluates against: the
// needs.* view of its dependencies, the shared trigger data, and a lazy,
// scope-aware secret source whose resolutions arm the returned masker.
func (s *Scheduler) jobContext(ctx context.Context, n *jobNode) (*expr.Context, *secrets.Masker) {
	needs := make(map[string]expr.NeedContext, len(n.def.Needs))
	allSucceeded := true
	anyFailed := false
	for _, dep := range n.def.Needs {
		d := s.nodes[dep]
		outs, _ := s.Outputs.JobOutputs(dep)
		needs[dep] = expr.NeedContext{
			Result:  string(d.result.Conclusion),
			Outputs: outs,
		}
		if d.result.Conclusion != model.ResultSuccess {
			allSucceeded = false
		}
		if d.result.Conclusion == model.ResultFailure {
			anyFailed = true
		}
	}

	masker := &secrets.Masker{}
	resolver := s.Secrets
	if resolver == nil {
		resolver = &secrets.Static{}
	}
	scoped := secrets.Scoped{Resolver: resolver, Scopes: secretScopes(n.def)}

	cancelled := ctx.Err() != nil
	return &expr.Context{
		GitHub:  s.GitHub,
		Inputs:  s.Trigger.Inputs,
		Env:     s.Env,
		Needs:   needs,
		Secrets: masker.Tracking(scoped.Lookup),
		Status: expr.Statuses{
			Success:   allSucceeded && !cancelled,
			Failure:   anyFailed,
			Cancelled: cancelled,
		},
	}, masker
}

// verdictResult builds the result shell for a job that never ran its steps.
func (s *Scheduler) verdictResult(n *jobNode, verdict model.Result, cause error) model.JobResult {
	name := n.def.Name
	if name == "" {
		name = n.name
	}
	return model.JobResult{
		Name:       name,
		Status:     model.StatusCompleted,
		Outcome:    verdict,
		Conclusion: verdict,
		Cause:      cause,
	}
}

func (s *Scheduler) transition(n *jobNode, to State) {
	from := State(n.state.Swap(int32(to)))
	if s.Events == nil {
		return
	}
	s.Events.Publish(events.Event{
		RunID: s.RunID,
		JobID: n.name,
		From:  from.String(),
		To:    to.String(),
	})
}

// secretScopes orders lookup so an environment-scoped secret shadows the
// repository-scoped one of the same name.
func secretScopes(def workflow.Job) []string {
	if def.Environment.Name != "" {
		return []string{def.Environment.Name, secrets.RepositoryScope}
	}
	return []string{secrets.RepositoryScope}
}
