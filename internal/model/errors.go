// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the engine's error taxonomy.
//
// # Propagation policy
//
// Structural errors (ValidationError, CyclicDependencyError) fail the run
// before any job starts. Everything else is job- or step-local: an EvalError
// fails the owning job, a TimeoutError or SandboxError fails the owning step,
// and gate errors (EnvironmentRestrictedError, DeploymentRejectedError) fail
// the gated job without aborting independent subtrees.
package model

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError reports a malformed workflow definition: an undefined job
// reference, a duplicate step id, a malformed expression.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "workflow validation: " + e.Msg
}

// CyclicDependencyError reports a cycle in the job dependency relation. The
// Cycle slice names the jobs along the cycle in order, first repeated last.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic dependency: " + strings.Join(e.Cycle, " -> ")
}

// EvalError reports a failed expression evaluation, typically a reference to
// a job or step that was never declared.
type EvalError struct {
	Expr string
	Msg  string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluating %q: %s", e.Expr, e.Msg)
}

// TimeoutError reports a step exceeding its execution budget.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step exceeded its %s timeout", e.Limit)
}

// SandboxError reports that the execution environment itself was unreachable
// or broke, as opposed to the step's command exiting non-zero.
type SandboxError struct {
	Err error
}

func (e *SandboxError) Error() string {
	return "sandbox: " + e.Err.Error()
}

func (e *SandboxError) Unwrap() error { return e.Err }

// EnvironmentRestrictedError reports a deployment ref that the environment's
// branch restriction does not allow.
type EnvironmentRestrictedError struct {
	Environment string
	Ref         string
}

func (e *EnvironmentRestrictedError) Error() string {
	return fmt.Sprintf("environment %q does not allow deployments from %q", e.Environment, e.Ref)
}

// DeploymentRejectedError reports a reviewer rejecting a gated deployment.
type DeploymentRejectedError struct {
	Environment string
	Reviewer    string
}

func (e *DeploymentRejectedError) Error() string {
	return fmt.Sprintf("deployment to %q rejected by %q", e.Environment, e.Reviewer)
}
