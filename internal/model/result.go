// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package model

// Trigger is the event context that started a run.
type Trigger struct {
	// Event is the name of the triggering event, e.g. "push" or
	// "workflow_dispatch".
	Event string
	// Ref is the git reference the run executes against.
	Ref string
	// Actor is the identity that caused the trigger.
	Actor string
	// Inputs are caller-supplied key/value inputs, exposed to expressions
	// as inputs.*.
	Inputs map[string]string
}

// StepResult records the full observable outcome of one step.
type StepResult struct {
	ID     string
	Name   string
	Status Status
	// Outcome is the raw execution result before continue-on-error.
	Outcome Result
	// Conclusion is the effective result after continue-on-error.
	Conclusion Result
	ExitCode   int
	Stdout     []string
	Stderr     []string
	Outputs    map[string]string
	// Cause carries the error behind a failure outcome, when there is one
	// beyond a plain non-zero exit (timeout, sandbox failure, eval error).
	Cause error
}

// JobResult aggregates a job's step results and its declared outputs.
type JobResult struct {
	Name       string
	Status     Status
	Outcome    Result
	Conclusion Result
	Steps      []StepResult
	Outputs    map[string]string
	Cause      error
}

// RunResult is the aggregated verdict of a whole run, with the per-job
// result tree attached.
type RunResult struct {
	ID         string
	Trigger    Trigger
	Status     Status
	Conclusion Result
	Jobs       map[string]JobResult
}
