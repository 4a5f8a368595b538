// Package scheduler dispatches jobs for execution as their dependencies
// reach terminal states, honoring job-level conditions, environment gates,
// and an optional concurrency limit.
package scheduler

// State is a job's position in the scheduling state machine:
//
//	Pending -> Evaluating -> {Skipped | Gated | Running -> {Succeeded | Failed | Cancelled}}
//
// Skipped, Succeeded, Failed, and Cancelled are terminal; a dependent may
// start once all of its dependencies are terminal, whatever the verdict.
type State int32

const (
	Pending State = iota
	Evaluating
	Skipped
	Gated
	Running
	Succeeded
	Failed
	Cancelled
)

// Terminal reports whether a job in this state is finished for
// dependency-ordering purposes.
func (s State) Terminal() bool {
	switch s {
	case Skipped, Succeeded, Failed, Cancelled:
		return true
	}
	return false
}

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Evaluating:
		return "evaluating"
	case Skipped:
		return "skipped"
	case Gated:
		return "gated"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}
