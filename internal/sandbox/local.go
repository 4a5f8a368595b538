package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
)

// Local executes commands on the host through os/exec.
type Local struct{}

// NewLocal creates a host-process sandbox.
func NewLocal() *Local {
	return &Local{}
}

// Execute implements Sandbox. The command gets a fresh output file whose
// path is exported as FLOWGRID_OUTPUT; key=value lines written there become
// the result's Outputs.
func (l *Local) Execute(ctx context.Context, spec RunSpec) (Result, error) {
	outFile, err := os.CreateTemp("", "flowgrid-output-*")
	if err != nil {
		return Result{}, fmt.Errorf("create output file: %w", err)
	}
	outPath := outFile.Name()
	outFile.Close()
	defer os.Remove(outPath)

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	args := commandArgs(spec.Shell, spec.Command)
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = spec.WorkingDir
	cmd.Env = mergedEnv(spec.Env, outPath)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	res := Result{
		Stdout:   splitLines(stdout.String()),
		Stderr:   splitLines(stderr.String()),
		TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		case res.TimedOut:
			res.ExitCode = -1
		default:
			// The process could not be started at all.
			return Result{}, runErr
		}
	}

	res.Outputs, err = parseOutputFile(outPath)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func commandArgs(shellSpec, script string) []string {
	if shellSpec == "" {
		if runtime.GOOS == "windows" {
			return []string{"cmd", "/C", script}
		}
		return []string{"sh", "-c", script}
	}
	fields := strings.Fields(shellSpec)
	shell := fields[0]
	args := append([]string{}, fields[1:]...)
	switch strings.ToLower(shell) {
	case "cmd", "cmd.exe":
		args = append(args, "/C", script)
	case "pwsh", "powershell":
		args = append(args, "-Command", script)
	case "python", "python3":
		args = append(args, "-c", script)
	default:
		args = append(args, "-c", script)
	}
	return append([]string{shell}, args...)
}

func mergedEnv(overlay map[string]string, outPath string) []string {
	envMap := make(map[string]string, len(overlay)+8)
	for _, kv := range os.Environ() {
		if idx := strings.Index(kv, "="); idx != -1 {
			envMap[kv[:idx]] = kv[idx+1:]
		}
	}
	for k, v := range overlay {
		envMap[k] = v
	}
	envMap[OutputFileEnv] = outPath

	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+envMap[k])
	}
	return out
}

func parseOutputFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read output file: %w", err)
	}
	outs := make(map[string]string)
	for _, line := range splitLines(string(data)) {
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		outs[strings.TrimSpace(key)] = value
	}
	if len(outs) == 0 {
		return nil, nil
	}
	return outs, nil
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
