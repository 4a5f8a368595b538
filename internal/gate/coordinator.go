// Package gate coordinates protected-environment deployments: branch
// restrictions, reviewer approval collection, and post-approval wait
// timers. A gated job suspends in the coordinator until an external
// collaborator resolves it or the run is cancelled.
package gate

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/workflow"
)

// Collaborator is the external approval service. The coordinator notifies
// it when a job needs reviewing; decisions come back asynchronously through
// Approve and Reject.
type Collaborator interface {
	RequestApproval(jobID, environment string, requiredCount int)
}

// Coordinator tracks pending gates and blocks gated jobs until resolution.
type Coordinator struct {
	collab Collaborator

	mu      sync.Mutex
	pending map[string]*pendingGate

	// after is swappable for tests; defaults to time.After.
	after func(time.Duration) <-chan time.Time
}

type pendingGate struct {
	environment string
	required    int
	reviewers   map[string]bool
	decided     bool
	done        chan error
}

// New creates a Coordinator. collab may be nil when no external approval
// service is attached; gated jobs then wait until cancelled.
func New(collab Collaborator) *Coordinator {
	return &Coordinator{
		collab:  collab,
		pending: make(map[string]*pendingGate),
		after:   time.After,
	}
}

// Wait blocks the calling job until its environment gate resolves. The
// order is: branch restriction first, then reviewer approvals, then the
// wait timer. The wait timer counts from the final approval, not from
// gate entry.
func (c *Coordinator) Wait(ctx context.Context, jobID, envName string, env workflow.Environment, ref string) error {
	logger := ctxlog.FromContext(ctx).With("job", jobID, "environment", envName)

	if len(env.Branches) > 0 && !refAllowed(env.Branches, ref) {
		return &model.EnvironmentRestrictedError{Environment: envName, Ref: ref}
	}

	if env.RequiredReviewers > 0 {
		g := &pendingGate{
			environment: envName,
			required:    env.RequiredReviewers,
			reviewers:   make(map[string]bool),
			done:        make(chan error, 1),
		}
		c.mu.Lock()
		c.pending[jobID] = g
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			delete(c.pending, jobID)
			c.mu.Unlock()
		}()

		if c.collab != nil {
			c.collab.RequestApproval(jobID, envName, env.RequiredReviewers)
		}
		logger.Info("Awaiting deployment approval.", "required", env.RequiredReviewers)

		select {
		case err := <-g.done:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if wt := env.WaitTimer(); wt > 0 {
		logger.Info("Wait timer started.", "duration", wt)
		select {
		case <-c.after(wt):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Approve records one reviewer approval. Duplicate approvals from the same
// reviewer do not count twice. The gate opens when the required count
// is reached.
func (c *Coordinator) Approve(jobID, reviewer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.pending[jobID]
	if !ok {
		return fmt.Errorf("no pending approval for job %q", jobID)
	}
	if g.decided {
		return nil
	}
	g.reviewers[reviewer] = true
	if len(g.reviewers) >= g.required {
		g.decided = true
		g.done <- nil
	}
	return nil
}

// Reject fails the gate immediately; a single rejection outweighs any
// number of approvals.
func (c *Coordinator) Reject(jobID, reviewer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.pending[jobID]
	if !ok {
		return fmt.Errorf("no pending approval for job %q", jobID)
	}
	if g.decided {
		return nil
	}
	g.decided = true
	g.done <- &model.DeploymentRejectedError{Environment: g.environment, Reviewer: reviewer}
	return nil
}

// Pending returns the job IDs currently suspended awaiting approval.
func (c *Coordinator) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	return ids
}

// refAllowed matches a git ref against branch patterns. Patterns apply to
// the short branch name, so both "main" and "release/*" work against
// "refs/heads/main" style refs.
func refAllowed(patterns []string, ref string) bool {
	short := strings.TrimPrefix(ref, "refs/heads/")
	for _, p := range patterns {
		if ok, err := path.Match(p, short); err == nil && ok {
			return true
		}
		if ok, err := path.Match(p, ref); err == nil && ok {
			return true
		}
	}
	return false
}

// AutoApprover is a Collaborator that immediately grants every request,
// used by the CLI where no interactive reviewer exists.
type AutoApprover struct {
	Coordinator *Coordinator
	Reviewer    string
}

// RequestApproval implements Collaborator.
func (a *AutoApprover) RequestApproval(jobID, environment string, requiredCount int) {
	reviewer := a.Reviewer
	if reviewer == "" {
		reviewer = "auto-approver"
	}
	go func() {
		for i := 0; i < requiredCount; i++ {
			// Distinct reviewer names so each approval counts.
			_ = a.Coordinator.Approve(jobID, fmt.Sprintf("%s-%d", reviewer, i+1))
		}
	}()
}
