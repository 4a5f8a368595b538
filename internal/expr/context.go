// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the immutable evaluation context for expressions.
//
// # Why an explicit context?
//
// Every expression is evaluated against a snapshot of run state assembled by
// the caller: trigger metadata, environment variables, the outputs of
// declared dependencies, and the results of earlier steps. Nothing is read
// from live engine structures during evaluation, so an evaluation can never
// observe a half-updated job or race with the scheduler.
package expr

// Statuses feeds the zero-argument status functions. The caller computes
// these from the accumulated step or dependency results visible at the point
// of evaluation: success() and failure() answer for the enclosing scope,
// cancelled() for the run.
type Statuses struct {
	Success   bool
	Failure   bool
	Cancelled bool
}

// StepContext is what steps.<id>.* resolves to for one earlier step.
type StepContext struct {
	Outcome    string
	Conclusion string
	Outputs    map[string]string
}

// NeedContext is what needs.<job>.* resolves to for one declared dependency.
type NeedContext struct {
	Result  string
	Outputs map[string]string
}

// SecretSource resolves a secret by name. Secrets are looked up lazily: only
// names an expression actually references are resolved.
type SecretSource func(key string) (string, bool)

// Context is the read-only world an expression sees. Only the maps present
// here are addressable; referencing a job absent from Needs or a step id
// absent from Steps is a hard evaluation error, while a declared entry whose
// output key was never produced renders as the empty string.
type Context struct {
	GitHub  map[string]string
	Inputs  map[string]string
	Env     map[string]string
	Needs   map[string]NeedContext
	Steps   map[string]StepContext
	Secrets SecretSource
	Status  Statuses
}
