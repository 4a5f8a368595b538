package sandbox

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("sh-based test")
	}
}

func TestLocalExecute(t *testing.T) {
	skipOnWindows(t)
	l := NewLocal()

	res, err := l.Execute(context.Background(), RunSpec{
		Command: `echo hello && echo world 1>&2`,
		Env:     map[string]string{"GREETING": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, []string{"hello"}, res.Stdout)
	assert.Equal(t, []string{"world"}, res.Stderr)
	assert.False(t, res.TimedOut)
}

func TestLocalExitCode(t *testing.T) {
	skipOnWindows(t)
	l := NewLocal()

	res, err := l.Execute(context.Background(), RunSpec{Command: "exit 3"})
	require.NoError(t, err, "a non-zero exit is a result, not a sandbox error")
	assert.Equal(t, 3, res.ExitCode)
}

func TestLocalProducedOutputs(t *testing.T) {
	skipOnWindows(t)
	l := NewLocal()

	res, err := l.Execute(context.Background(), RunSpec{
		Command: `echo "version=1.2.3" >> "$FLOWGRID_OUTPUT"; echo "channel=stable" >> "$FLOWGRID_OUTPUT"`,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"version": "1.2.3", "channel": "stable"}, res.Outputs)
}

func TestLocalEnvOverlay(t *testing.T) {
	skipOnWindows(t)
	l := NewLocal()

	res, err := l.Execute(context.Background(), RunSpec{
		Command: `echo "$STAGE"`,
		Env:     map[string]string{"STAGE": "production"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"production"}, res.Stdout)
}

func TestLocalTimeout(t *testing.T) {
	skipOnWindows(t)
	l := NewLocal()

	start := time.Now()
	res, err := l.Execute(context.Background(), RunSpec{
		Command: "sleep 5",
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestLocalUnstartableCommand(t *testing.T) {
	skipOnWindows(t)
	l := NewLocal()

	_, err := l.Execute(context.Background(), RunSpec{
		Command: "echo hi",
		Shell:   "/definitely/not/a/shell",
	})
	assert.Error(t, err)
}

func TestFakeScripting(t *testing.T) {
	f := NewFake()
	f.Script("fail", FakeResponse{Result: Result{ExitCode: 1}})
	f.Script("flaky", FakeResponse{Err: context.DeadlineExceeded, ErrTimes: 2, Result: Result{ExitCode: 0}})

	res, err := f.Execute(context.Background(), RunSpec{Command: "echo ok"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	res, err = f.Execute(context.Background(), RunSpec{Command: "fail now"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)

	_, err = f.Execute(context.Background(), RunSpec{Command: "flaky"})
	assert.Error(t, err)
	_, err = f.Execute(context.Background(), RunSpec{Command: "flaky"})
	assert.Error(t, err)
	res, err = f.Execute(context.Background(), RunSpec{Command: "flaky"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	assert.Len(t, f.Calls(), 5)
}
