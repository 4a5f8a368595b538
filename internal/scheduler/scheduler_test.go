package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/flowgrid/internal/dag"
	"github.com/vk/flowgrid/internal/events"
	"github.com/vk/flowgrid/internal/gate"
	"github.com/vk/flowgrid/internal/job"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/outputs"
	"github.com/vk/flowgrid/internal/sandbox"
	"github.com/vk/flowgrid/internal/secrets"
	"github.com/vk/flowgrid/internal/step"
	"github.com/vk/flowgrid/internal/workflow"
)

func graphFor(t *testing.T, w *workflow.Workflow) *dag.Graph {
	t.Helper()
	g := dag.New()
	for name := range w.Jobs {
		g.AddNode(name)
	}
	for name, j := range w.Jobs {
		for _, dep := range j.Needs {
			require.NoError(t, g.AddEdge(dep, name))
		}
	}
	require.NoError(t, g.DetectCycles())
	return g
}

func newScheduler(t *testing.T, w *workflow.Workflow, sb sandbox.Sandbox) *Scheduler {
	t.Helper()
	store := outputs.New()
	return &Scheduler{
		Workflow: w,
		Graph:    graphFor(t, w),
		Runner:   &job.Runner{Steps: &step.Executor{Sandbox: sb}, Outputs: store},
		Gates:    gate.New(nil),
		Outputs:  store,
		RunID:    "run-1",
	}
}

func commands(f *sandbox.Fake) []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Spec.Command
	}
	return out
}

func TestSequentialChainPropagatesOutputs(t *testing.T) {
	f := sandbox.NewFake()
	f.Script("make-version", sandbox.FakeResponse{
		Result: sandbox.Result{Outputs: map[string]string{"v": "1.2.3"}},
	})

	w := &workflow.Workflow{Jobs: map[string]workflow.Job{
		"build": {
			Outputs: map[string]string{"version": "${{ steps.ver.outputs.v }}"},
			Steps:   []workflow.Step{{ID: "ver", Run: "make-version"}},
		},
		"deploy": {
			Needs: workflow.StringList{"build"},
			Steps: []workflow.Step{{Run: "deploy ${{ needs.build.outputs.version }}"}},
		},
	}}

	s := newScheduler(t, w, f)
	results := s.Run(context.Background())

	require.Len(t, results, 2)
	assert.Equal(t, model.ResultSuccess, results["build"].Conclusion)
	assert.Equal(t, model.ResultSuccess, results["deploy"].Conclusion)
	assert.Equal(t, []string{"make-version", "deploy 1.2.3"}, commands(f))
}

func TestFanOutFanIn(t *testing.T) {
	f := sandbox.NewFake()
	w := &workflow.Workflow{Jobs: map[string]workflow.Job{
		"prepare": {Steps: []workflow.Step{{Run: "prepare"}}},
		"p1":      {Needs: workflow.StringList{"prepare"}, Steps: []workflow.Step{{Run: "part one"}}},
		"p2":      {Needs: workflow.StringList{"prepare"}, Steps: []workflow.Step{{Run: "part two"}}},
		"p3":      {Needs: workflow.StringList{"prepare"}, Steps: []workflow.Step{{Run: "part three"}}},
		"aggregate": {
			Needs: workflow.StringList{"p1", "p2", "p3"},
			Steps: []workflow.Step{{Run: "aggregate"}},
		},
	}}

	s := newScheduler(t, w, f)
	results := s.Run(context.Background())

	for name, r := range results {
		assert.Equalf(t, model.ResultSuccess, r.Conclusion, "job %s", name)
	}
	cmds := commands(f)
	require.Len(t, cmds, 5)
	assert.Equal(t, "prepare", cmds[0])
	assert.Equal(t, "aggregate", cmds[4])
}

func TestFailureSkipsDependentsTransitively(t *testing.T) {
	f := sandbox.NewFake()
	f.Script("flaky", sandbox.FakeResponse{Result: sandbox.Result{ExitCode: 1}})

	w := &workflow.Workflow{Jobs: map[string]workflow.Job{
		"build": {Steps: []workflow.Step{{Run: "flaky build"}}},
		"test":  {Needs: workflow.StringList{"build"}, Steps: []workflow.Step{{Run: "run tests"}}},
		"publish": {
			Needs: workflow.StringList{"test"},
			Steps: []workflow.Step{{Run: "publish"}},
		},
	}}

	s := newScheduler(t, w, f)
	results := s.Run(context.Background())

	assert.Equal(t, model.ResultFailure, results["build"].Conclusion)
	assert.Equal(t, model.ResultSkipped, results["test"].Conclusion)
	assert.Equal(t, model.ResultSkipped, results["publish"].Conclusion)
	assert.Equal(t, []string{"flaky build"}, commands(f))
}

func TestAlwaysAndFailureJobsRunAfterFailure(t *testing.T) {
	f := sandbox.NewFake()
	f.Script("flaky", sandbox.FakeResponse{Result: sandbox.Result{ExitCode: 1}})

	w := &workflow.Workflow{Jobs: map[string]workflow.Job{
		"build": {Steps: []workflow.Step{{Run: "flaky build"}}},
		"cleanup": {
			Needs: workflow.StringList{"build"},
			If:    "always()",
			Steps: []workflow.Step{{Run: "cleanup"}},
		},
		"report": {
			Needs: workflow.StringList{"build"},
			If:    "failure()",
			Steps: []workflow.Step{{Run: "report failure"}},
		},
		"celebrate": {
			Needs: workflow.StringList{"build"},
			Steps: []workflow.Step{{Run: "celebrate"}},
		},
	}}

	s := newScheduler(t, w, f)
	results := s.Run(context.Background())

	assert.Equal(t, model.ResultFailure, results["build"].Conclusion)
	assert.Equal(t, model.ResultSuccess, results["cleanup"].Conclusion)
	assert.Equal(t, model.ResultSuccess, results["report"].Conclusion)
	assert.Equal(t, model.ResultSkipped, results["celebrate"].Conclusion)
}

func TestSkippedDependencyIsNotSuccess(t *testing.T) {
	f := sandbox.NewFake()
	w := &workflow.Workflow{Jobs: map[string]workflow.Job{
		"a": {If: "false", Steps: []workflow.Step{{Run: "never"}}},
		"b": {Needs: workflow.StringList{"a"}, Steps: []workflow.Step{{Run: "after a"}}},
		"c": {
			Needs: workflow.StringList{"a"},
			If:    `needs.a.result == "skipped"`,
			Steps: []workflow.Step{{Run: "handle skip"}},
		},
	}}

	s := newScheduler(t, w, f)
	results := s.Run(context.Background())

	assert.Equal(t, model.ResultSkipped, results["a"].Conclusion)
	assert.Equal(t, model.ResultSkipped, results["b"].Conclusion)
	assert.Equal(t, model.ResultSuccess, results["c"].Conclusion)
	assert.Equal(t, []string{"handle skip"}, commands(f))
}

func TestUndeclaredNeedsReferenceFailsJob(t *testing.T) {
	f := sandbox.NewFake()
	w := &workflow.Workflow{Jobs: map[string]workflow.Job{
		"a": {Steps: []workflow.Step{{Run: "ok"}}},
		"b": {
			Needs: workflow.StringList{"a"},
			If:    `needs.ghost.result == "success"`,
			Steps: []workflow.Step{{Run: "never"}},
		},
	}}

	s := newScheduler(t, w, f)
	results := s.Run(context.Background())

	assert.Equal(t, model.ResultFailure, results["b"].Conclusion)
	var evalErr *model.EvalError
	require.ErrorAs(t, results["b"].Cause, &evalErr)
}

func TestGatedJobAutoApproved(t *testing.T) {
	f := sandbox.NewFake()
	w := &workflow.Workflow{
		Environments: map[string]workflow.Environment{
			"production": {RequiredReviewers: 1},
		},
		Jobs: map[string]workflow.Job{
			"deploy": {
				Environment: workflow.EnvironmentRef{Name: "production"},
				Steps:       []workflow.Step{{Run: "deploy prod"}},
			},
		},
	}

	s := newScheduler(t, w, f)
	auto := &gate.AutoApprover{}
	coord := gate.New(auto)
	auto.Coordinator = coord
	s.Gates = coord

	results := s.Run(context.Background())
	assert.Equal(t, model.ResultSuccess, results["deploy"].Conclusion)
	assert.Equal(t, []string{"deploy prod"}, commands(f))
}

func TestRejectedGateFailsJobAndSkipsDependents(t *testing.T) {
	f := sandbox.NewFake()
	w := &workflow.Workflow{
		Environments: map[string]workflow.Environment{
			"production": {RequiredReviewers: 1},
		},
		Jobs: map[string]workflow.Job{
			"deploy": {
				Environment: workflow.EnvironmentRef{Name: "production"},
				Steps:       []workflow.Step{{Run: "deploy prod"}},
			},
			"announce": {
				Needs: workflow.StringList{"deploy"},
				Steps: []workflow.Step{{Run: "announce"}},
			},
		},
	}

	s := newScheduler(t, w, f)
	rejecting := &rejectAll{reviewer: "alice"}
	coord := gate.New(rejecting)
	rejecting.coordinator = coord
	s.Gates = coord

	results := s.Run(context.Background())

	assert.Equal(t, model.ResultFailure, results["deploy"].Conclusion)
	var rejected *model.DeploymentRejectedError
	require.ErrorAs(t, results["deploy"].Cause, &rejected)
	assert.Equal(t, "alice", rejected.Reviewer)
	assert.Equal(t, model.ResultSkipped, results["announce"].Conclusion)
	assert.Empty(t, commands(f))
}

type rejectAll struct {
	coordinator *gate.Coordinator
	reviewer    string
}

func (r *rejectAll) RequestApproval(jobID, environment string, requiredCount int) {
	go func() { _ = r.coordinator.Reject(jobID, r.reviewer) }()
}

func TestBranchRestrictedEnvironmentFailsJob(t *testing.T) {
	f := sandbox.NewFake()
	w := &workflow.Workflow{
		Environments: map[string]workflow.Environment{
			"production": {Branches: []string{"main"}},
		},
		Jobs: map[string]workflow.Job{
			"deploy": {
				Environment: workflow.EnvironmentRef{Name: "production"},
				Steps:       []workflow.Step{{Run: "deploy prod"}},
			},
		},
	}

	s := newScheduler(t, w, f)
	s.Trigger = model.Trigger{Ref: "refs/heads/feature/x"}

	results := s.Run(context.Background())

	assert.Equal(t, model.ResultFailure, results["deploy"].Conclusion)
	var restricted *model.EnvironmentRestrictedError
	require.ErrorAs(t, results["deploy"].Cause, &restricted)
	assert.Empty(t, commands(f))
}

func TestEnvironmentScopedSecretShadowsRepository(t *testing.T) {
	f := sandbox.NewFake()
	w := &workflow.Workflow{
		Environments: map[string]workflow.Environment{
			// Bound but unprotected: scoping applies without a gate.
			"staging": {},
		},
		Jobs: map[string]workflow.Job{
			"deploy": {
				Environment: workflow.EnvironmentRef{Name: "staging"},
				Steps:       []workflow.Step{{Run: "use ${{ secrets.TOKEN }}"}},
			},
			"plain": {Steps: []workflow.Step{{Run: "plain ${{ secrets.TOKEN }}"}}},
		},
	}

	s := newScheduler(t, w, f)
	s.Secrets = &secrets.Static{
		Repository:   map[string]string{"TOKEN": "repo-token"},
		Environments: map[string]map[string]string{"staging": {"TOKEN": "staging-token"}},
	}

	results := s.Run(context.Background())
	require.Equal(t, model.ResultSuccess, results["deploy"].Conclusion)
	require.Equal(t, model.ResultSuccess, results["plain"].Conclusion)

	cmds := commands(f)
	assert.Contains(t, cmds, "use staging-token")
	assert.Contains(t, cmds, "plain repo-token")
}

// blockingSandbox parks every execution until its context is cancelled,
// signalling on started when the first command comes in.
type blockingSandbox struct {
	started   chan struct{}
	startOnce sync.Once
}

func (b *blockingSandbox) Execute(ctx context.Context, spec sandbox.RunSpec) (sandbox.Result, error) {
	b.startOnce.Do(func() { close(b.started) })
	<-ctx.Done()
	return sandbox.Result{}, ctx.Err()
}

func TestCancellationDrainsTheGraph(t *testing.T) {
	sb := &blockingSandbox{started: make(chan struct{})}
	w := &workflow.Workflow{Jobs: map[string]workflow.Job{
		"long":  {Steps: []workflow.Step{{Run: "long haul"}}},
		"after": {Needs: workflow.StringList{"long"}, Steps: []workflow.Step{{Run: "later"}}},
	}}

	s := newScheduler(t, w, sb)
	// No retries: the sandbox error here is cancellation, not flakiness.
	s.Runner.Steps.Retries = -1

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-sb.started:
		case <-time.After(5 * time.Second):
		}
		cancel()
	}()

	results := s.Run(ctx)
	require.Len(t, results, 2)
	assert.Equal(t, model.ResultCancelled, results["after"].Conclusion)
	assert.NotEqual(t, model.ResultSuccess, results["long"].Conclusion)
}

// gaugeSandbox tracks the highest number of concurrently running commands.
type gaugeSandbox struct {
	current atomic.Int32
	peak    atomic.Int32
}

func (g *gaugeSandbox) Execute(ctx context.Context, spec sandbox.RunSpec) (sandbox.Result, error) {
	cur := g.current.Add(1)
	for {
		p := g.peak.Load()
		if cur <= p || g.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	g.current.Add(-1)
	return sandbox.Result{}, nil
}

func TestMaxParallelLimitsConcurrency(t *testing.T) {
	sb := &gaugeSandbox{}
	w := &workflow.Workflow{Jobs: map[string]workflow.Job{
		"a": {Steps: []workflow.Step{{Run: "a"}}},
		"b": {Steps: []workflow.Step{{Run: "b"}}},
		"c": {Steps: []workflow.Step{{Run: "c"}}},
		"d": {Steps: []workflow.Step{{Run: "d"}}},
	}}

	s := newScheduler(t, w, sb)
	s.MaxParallel = 2

	results := s.Run(context.Background())
	require.Len(t, results, 4)
	assert.LessOrEqual(t, sb.peak.Load(), int32(2))
}

func TestJobEventStream(t *testing.T) {
	f := sandbox.NewFake()
	w := &workflow.Workflow{Jobs: map[string]workflow.Job{
		"only": {Steps: []workflow.Step{{Run: "one"}}},
	}}

	s := newScheduler(t, w, f)
	bus := events.NewBus()
	ch := bus.Subscribe()
	s.Events = bus

	s.Run(context.Background())
	bus.Close()

	var transitions []string
	for e := range ch {
		if e.JobID == "only" && e.StepID == "" {
			transitions = append(transitions, e.To)
		}
	}
	assert.Equal(t, []string{"evaluating", "running", "succeeded"}, transitions)
}

func TestSandboxErrorSurfacesAsFailure(t *testing.T) {
	f := sandbox.NewFake()
	f.Script("wedged", sandbox.FakeResponse{Err: errors.New("runner wedged")})

	w := &workflow.Workflow{Jobs: map[string]workflow.Job{
		"build": {Steps: []workflow.Step{{Run: "wedged build"}}},
	}}

	s := newScheduler(t, w, f)
	s.Runner.Steps.Retries = -1

	results := s.Run(context.Background())
	assert.Equal(t, model.ResultFailure, results["build"].Conclusion)
	var sbErr *model.SandboxError
	require.ErrorAs(t, results["build"].Cause, &sbErr)
}
