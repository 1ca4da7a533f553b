// Package testing provides fakes for the remote collaborators so the
// directory, collector and scheduler can be tested without a cluster CLI.
package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rileyhilliard/fleetwatch/internal/model"
	"github.com/rileyhilliard/fleetwatch/internal/remote"
)

// FakeEnumerator returns canned tables, one per call. After the list is
// exhausted the last entry repeats.
type FakeEnumerator struct {
	mu      sync.Mutex
	outputs []Response
	calls   int
}

// Response is a canned output or failure.
type Response struct {
	Output string
	Err    error
}

// NewFakeEnumerator creates an enumerator returning outputs in order.
func NewFakeEnumerator(outputs ...Response) *FakeEnumerator {
	return &FakeEnumerator{outputs: outputs}
}

// Enumerate implements remote.Enumerator.
func (f *FakeEnumerator) Enumerate(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.outputs) == 0 {
		return "", nil
	}
	idx := f.calls - 1
	if idx >= len(f.outputs) {
		idx = len(f.outputs) - 1
	}
	return f.outputs[idx].Output, f.outputs[idx].Err
}

// Calls returns how many times Enumerate ran.
func (f *FakeEnumerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Call records one Query invocation.
type Call struct {
	URI  string
	Kind remote.QueryKind
}

// FakeRunner answers queries from a table keyed by URI and kind.
// Unknown keys fail.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]Response
	calls     []Call

	// Block, when set, makes Query wait for ctx to be done.
	Block bool
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: make(map[string]Response)}
}

func key(uri string, kind remote.QueryKind) string {
	return uri + "#" + string(kind)
}

// Set registers the response for uri and kind.
func (f *FakeRunner) Set(uri string, kind remote.QueryKind, output string, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[key(uri, kind)] = Response{Output: output, Err: err}
	return f
}

// Query implements remote.Runner.
func (f *FakeRunner) Query(ctx context.Context, ep model.ClusterEndpoint, kind remote.QueryKind) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{URI: ep.URI, Kind: kind})
	resp, ok := f.responses[key(ep.URI, kind)]
	block := f.Block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if !ok {
		return "", fmt.Errorf("no response for %s %s", ep.URI, kind)
	}
	return resp.Output, resp.Err
}

// Calls returns the queries made so far, in order.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// FakeExecutor satisfies sshutil.Executor with canned command output.
type FakeExecutor struct {
	mu       sync.Mutex
	host     string
	alive    bool
	closed   bool
	commands map[string]ExecResult
	ran      []string

	aliveDelay time.Duration
	onAlive    func()
}

// ExecResult is the canned result of one command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// NewFakeExecutor creates a live executor for host.
func NewFakeExecutor(host string) *FakeExecutor {
	return &FakeExecutor{host: host, alive: true, commands: make(map[string]ExecResult)}
}

// On registers the result for an exact command string.
func (f *FakeExecutor) On(cmd string, result ExecResult) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands[cmd] = result
	return f
}

// Run implements sshutil.Executor.
func (f *FakeExecutor) Run(ctx context.Context, cmd string) ([]byte, []byte, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, cmd)
	if err := ctx.Err(); err != nil {
		return nil, nil, -1, err
	}
	res, ok := f.commands[cmd]
	if !ok {
		return nil, []byte("command not found"), 127, nil
	}
	return []byte(res.Stdout), []byte(res.Stderr), res.ExitCode, res.Err
}

// Alive implements sshutil.Executor. It waits out the delay set with
// SetAliveDelay and runs the OnAlive hook before answering.
func (f *FakeExecutor) Alive(ctx context.Context) bool {
	f.mu.Lock()
	delay, hook := f.aliveDelay, f.onAlive
	f.onAlive = nil
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}
	}
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive && !f.closed
}

// SetAliveDelay makes Alive take d to answer, like a login node that has
// stopped responding.
func (f *FakeExecutor) SetAliveDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliveDelay = d
}

// OnAlive registers fn to run once during the next Alive call, before
// the answer is read.
func (f *FakeExecutor) OnAlive(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onAlive = fn
}

// SetAlive flips the liveness answer.
func (f *FakeExecutor) SetAlive(alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = alive
}

// Host implements sshutil.Executor.
func (f *FakeExecutor) Host() string { return f.host }

// Close implements sshutil.Executor.
func (f *FakeExecutor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeExecutor) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Ran returns the commands executed so far.
func (f *FakeExecutor) Ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ran))
	copy(out, f.ran)
	return out
}
