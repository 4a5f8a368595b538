package sandbox

import (
	"context"
	"strings"
	"sync"
)

// FakeCall records one Execute invocation against a Fake.
type FakeCall struct {
	Spec RunSpec
}

// FakeResponse scripts how a Fake answers a command. A non-nil Err with
// ErrTimes == 0 fails every invocation; with ErrTimes > 0 only the first N
// invocations fail and later ones serve Result. The latter exercises
// retry paths.
type FakeResponse struct {
	Result   Result
	Err      error
	ErrTimes int
}

// Fake is a scriptable in-memory Sandbox for engine tests. Responses are
// matched by substring of the command; unmatched commands succeed with
// exit 0.
type Fake struct {
	mu        sync.Mutex
	responses map[string]*FakeResponse
	calls     []FakeCall
}

// NewFake creates an empty fake sandbox.
func NewFake() *Fake {
	return &Fake{responses: make(map[string]*FakeResponse)}
}

// Script registers a response for commands containing match.
func (f *Fake) Script(match string, resp FakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if resp.Err != nil && resp.ErrTimes == 0 {
		resp.ErrTimes = -1 // permanent
	}
	f.responses[match] = &resp
}

// Calls returns the recorded invocations in order.
func (f *Fake) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}

// Execute implements Sandbox.
func (f *Fake) Execute(ctx context.Context, spec RunSpec) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, FakeCall{Spec: spec})

	var resp *FakeResponse
	for match, r := range f.responses {
		if strings.Contains(spec.Command, match) {
			resp = r
			break
		}
	}
	if resp == nil {
		return Result{}, nil
	}
	if resp.Err != nil {
		if resp.ErrTimes < 0 {
			return Result{}, resp.Err
		}
		if resp.ErrTimes > 0 {
			resp.ErrTimes--
			return Result{}, resp.Err
		}
	}
	return resp.Result, nil
}
