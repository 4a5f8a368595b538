// Package sandbox defines the execution boundary for steps. The engine
// treats a sandbox as a black box that runs a command and reports exit
// status, captured output lines, and any outputs the step explicitly
// emitted.
package sandbox

import (
	"context"
	"time"
)

// OutputFileEnv names the environment variable pointing at the designated
// output channel: a file the step writes key=value lines into to publish
// step outputs.
const OutputFileEnv = "FLOWGRID_OUTPUT"

// RunSpec describes one command execution.
type RunSpec struct {
	// Command is the script to run, already interpolated.
	Command string
	// Shell overrides the default shell when non-empty.
	Shell string
	// Env is the fully merged environment for the command.
	Env map[string]string
	// WorkingDir is the directory to execute in; empty means the
	// process default.
	WorkingDir string
	// Timeout bounds the execution; zero means no limit.
	Timeout time.Duration
}

// Result is what a sandbox reports back for one execution.
type Result struct {
	ExitCode int
	Stdout   []string
	Stderr   []string
	// Outputs holds the key=value pairs the step emitted to its output
	// channel.
	Outputs map[string]string
	// TimedOut is set when the command was killed for exceeding
	// RunSpec.Timeout.
	TimedOut bool
}

// Sandbox runs one step command to completion. A returned error means the
// execution environment itself failed; a command exiting non-zero is
// reported through Result.ExitCode, not as an error.
type Sandbox interface {
	Execute(ctx context.Context, spec RunSpec) (Result, error)
}
