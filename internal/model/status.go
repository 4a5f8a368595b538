// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the shared status vocabulary of the engine.
//
// # Status vs. Result
//
// A `Status` tracks where an entity is in its lifecycle (queued, in progress,
// completed) while a `Result` says how it ended. Steps carry two results: the
// raw `outcome` of execution, and the effective `conclusion` after
// `continue-on-error` has been applied. Both draw from the same value set, so
// they share the `Result` type.
package model

// Status is the lifecycle phase of a run, job, or step.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Result is a terminal verdict for a run, job, or step.
type Result string

const (
	ResultSuccess   Result = "success"
	ResultFailure   Result = "failure"
	ResultCancelled Result = "cancelled"
	ResultSkipped   Result = "skipped"
)

// Terminal reports whether r is a real verdict rather than the zero value.
func (r Result) Terminal() bool {
	switch r {
	case ResultSuccess, ResultFailure, ResultCancelled, ResultSkipped:
		return true
	}
	return false
}
