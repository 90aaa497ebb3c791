package fallback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/unitai-dev/unitai-core/internal/breaker"
	"github.com/unitai-dev/unitai-core/internal/clock"
	"github.com/unitai-dev/unitai-core/internal/corereq"
	"github.com/unitai-dev/unitai-core/internal/corerrors"
	"github.com/unitai-dev/unitai-core/internal/registry"
	"github.com/unitai-dev/unitai-core/internal/subprocess"
	"github.com/unitai-dev/unitai-core/internal/transform"
)

const (
	gemini corereq.BackendID = "ask-gemini"
	droid  corereq.BackendID = "ask-droid"
	qwen   corereq.BackendID = "ask-qwen"
)

func newTestRegistry() *registry.Registry {
	r := registry.New()
	r.Register(registry.Descriptor{ID: gemini, CommandName: "gemini", FileMode: corereq.FileModeNone, SupportsOutputFormat: corereq.OutputFormatText, DefaultTimeoutMs: 1000})
	r.Register(registry.Descriptor{ID: droid, CommandName: "droid", FileMode: corereq.FileModeEmbedInPrompt, SupportsOutputFormat: corereq.OutputFormatText, DefaultTimeoutMs: 1000})
	r.Register(registry.Descriptor{ID: qwen, CommandName: "qwen", FileMode: corereq.FileModeCLIFlag, SupportsOutputFormat: corereq.OutputFormatJSON, DefaultTimeoutMs: 1000})
	return r
}

// fakePriority returns a fixed fallback order.
type fakePriority struct{ order []corereq.BackendID }

func (f fakePriority) FallbackPriority() []corereq.BackendID { return f.order }

// fakeExecutor scripts outcomes per backend command name and records every
// call so tests can assert on exactly which backends were invoked, and in
// what order, without spawning real subprocesses.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []string // commandName per call, in order
	scripts map[string]func(req []string) (*subprocess.Result, error)
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{scripts: make(map[string]func([]string) (*subprocess.Result, error))}
}

func (f *fakeExecutor) succeedWith(commandName, output string) {
	f.scripts[commandName] = func([]string) (*subprocess.Result, error) {
		return &subprocess.Result{Output: output, ExitCode: 0}, nil
	}
}

func (f *fakeExecutor) failWith(commandName string, err error) {
	f.scripts[commandName] = func([]string) (*subprocess.Result, error) { return nil, err }
}

func (f *fakeExecutor) Run(ctx context.Context, commandName string, argv []string, opts subprocess.Options) (*subprocess.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, commandName)
	f.mu.Unlock()
	script, ok := f.scripts[commandName]
	if !ok {
		return &subprocess.Result{Output: "default", ExitCode: 0}, nil
	}
	return script(argv)
}

func newTestOrchestrator(t *testing.T, reg *registry.Registry, exec Executor, order []corereq.BackendID) (*Orchestrator, *breaker.Breaker) {
	t.Helper()
	clk := clock.NewFake(time.Unix(0, 0))
	cb, err := breaker.New(breaker.DefaultConfig(), clk, nil, nil)
	if err != nil {
		t.Fatalf("breaker.New: %v", err)
	}
	tr := transform.New(reg, nil)
	orch := New(reg, tr, cb, exec, nil, fakePriority{order: order}, Config{MaxRetries: 2}, nil)
	return orch, cb
}

// Scenario 1: Happy path — the first resolved backend succeeds, no fallback.
func TestHappyPath(t *testing.T) {
	reg := newTestRegistry()
	exec := newFakeExecutor()
	exec.succeedWith("gemini", "all good")
	orch, _ := newTestOrchestrator(t, reg, exec, []corereq.BackendID{gemini, droid, qwen})

	out, err := orch.Execute(context.Background(), corereq.Request{BackendID: gemini, Prompt: "hello"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.FinalBackend != gemini {
		t.Fatalf("FinalBackend = %q, want %q", out.FinalBackend, gemini)
	}
	if out.Output != "all good" {
		t.Fatalf("Output = %q", out.Output)
	}
	if len(out.TriedBackends) != 0 {
		t.Fatalf("TriedBackends = %v, want empty on a first-try success", out.TriedBackends)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("calls = %v, want exactly one invocation", exec.calls)
	}
}

// Scenario 2: Transform on fallback — gemini fails, falls back to droid, and
// the request is re-transformed for droid's embed-in-prompt file mode before
// the retry.
func TestTransformOnFallback(t *testing.T) {
	reg := newTestRegistry()
	exec := newFakeExecutor()
	exec.failWith("gemini", corerrors.New(corerrors.ErrorTypeAPIError, "subprocess.run", "boom"))
	exec.succeedWith("droid", "recovered")
	orch, _ := newTestOrchestrator(t, reg, exec, []corereq.BackendID{gemini, droid, qwen})

	req := corereq.Request{BackendID: gemini, Prompt: "review", Attachments: []string{"a.go"}}
	out, err := orch.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.FinalBackend != droid {
		t.Fatalf("FinalBackend = %q, want %q", out.FinalBackend, droid)
	}
	if len(out.TriedBackends) != 1 || out.TriedBackends[0] != gemini {
		t.Fatalf("TriedBackends = %v, want [%q]", out.TriedBackends, gemini)
	}
	if exec.calls[0] != "gemini" || exec.calls[1] != "droid" {
		t.Fatalf("calls = %v, want [gemini droid]", exec.calls)
	}
}

// Scenario 3: Double fallback without resurrection — gemini and droid both
// fail, qwen succeeds; a previously-failed backend is never retried within
// the same call even though the breaker has not yet opened it.
func TestDoubleFallbackWithoutResurrection(t *testing.T) {
	reg := newTestRegistry()
	exec := newFakeExecutor()
	exec.failWith("gemini", corerrors.New(corerrors.ErrorTypeAPIError, "subprocess.run", "boom"))
	exec.failWith("droid", corerrors.New(corerrors.ErrorTypeAPIError, "subprocess.run", "boom"))
	exec.succeedWith("qwen", "third time lucky")
	orch, _ := newTestOrchestrator(t, reg, exec, []corereq.BackendID{gemini, droid, qwen})

	out, err := orch.Execute(context.Background(), corereq.Request{BackendID: gemini, Prompt: "p"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.FinalBackend != qwen {
		t.Fatalf("FinalBackend = %q, want %q", out.FinalBackend, qwen)
	}
	if len(out.TriedBackends) != 2 {
		t.Fatalf("TriedBackends = %v, want 2 entries", out.TriedBackends)
	}

	seen := make(map[corereq.BackendID]int)
	for _, id := range append(out.TriedBackends, out.FinalBackend) {
		seen[id]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("backend %q invoked %d times, want exactly once (no resurrection)", id, n)
		}
	}
}

func TestExhaustedRetriesWhenEveryBackendFails(t *testing.T) {
	reg := newTestRegistry()
	exec := newFakeExecutor()
	failErr := corerrors.New(corerrors.ErrorTypeAPIError, "subprocess.run", "boom")
	exec.failWith("gemini", failErr)
	exec.failWith("droid", failErr)
	exec.failWith("qwen", failErr)
	orch, _ := newTestOrchestrator(t, reg, exec, []corereq.BackendID{gemini, droid, qwen})

	_, err := orch.Execute(context.Background(), corereq.Request{BackendID: gemini, Prompt: "p"})
	if err == nil {
		t.Fatal("expected an error when every backend fails")
	}
	typ, ok := corerrors.TypeOf(err)
	if !ok || typ != corerrors.ErrorTypeExhaustedRetries {
		t.Fatalf("err type = %v, want ErrorTypeExhaustedRetries", typ)
	}
}

func TestExecuteReturnsUnknownBackend(t *testing.T) {
	reg := newTestRegistry()
	exec := newFakeExecutor()
	orch, _ := newTestOrchestrator(t, reg, exec, []corereq.BackendID{gemini})

	_, err := orch.Execute(context.Background(), corereq.Request{BackendID: "not-registered", Prompt: "p"})
	if typ, ok := corerrors.TypeOf(err); !ok || typ != corerrors.ErrorTypeUnknownBackend {
		t.Fatalf("err = %v, want ErrorTypeUnknownBackend", err)
	}
}

func TestExecuteRespectsCancellation(t *testing.T) {
	reg := newTestRegistry()
	exec := newFakeExecutor()
	orch, _ := newTestOrchestrator(t, reg, exec, []corereq.BackendID{gemini})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.Execute(ctx, corereq.Request{BackendID: gemini, Prompt: "p"})
	if typ, ok := corerrors.TypeOf(err); !ok || typ != corerrors.ErrorTypeCancelled {
		t.Fatalf("err = %v, want ErrorTypeCancelled", err)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("calls = %v, want zero invocations on a pre-cancelled context", exec.calls)
	}
}

// ExhaustedRetries carries the full tried-backend list so callers can report
// the fallback trail (seed scenario 3's error-path counterpart).
func TestExhaustedRetriesCarriesTriedBackends(t *testing.T) {
	reg := newTestRegistry()
	exec := newFakeExecutor()
	failErr := corerrors.New(corerrors.ErrorTypeAPIError, "subprocess.run", "boom")
	exec.failWith("gemini", failErr)
	exec.failWith("droid", failErr)
	exec.failWith("qwen", failErr)
	orch, _ := newTestOrchestrator(t, reg, exec, []corereq.BackendID{gemini, droid, qwen})

	_, err := orch.Execute(context.Background(), corereq.Request{BackendID: gemini, Prompt: "p"})
	ce, ok := err.(*corerrors.Error)
	if !ok {
		t.Fatalf("err = %T, want *corerrors.Error", err)
	}
	want := []string{"ask-gemini", "ask-droid", "ask-qwen"}
	if len(ce.Tried) != len(want) {
		t.Fatalf("Tried = %v, want %v", ce.Tried, want)
	}
	for i, id := range want {
		if ce.Tried[i] != id {
			t.Fatalf("Tried = %v, want %v", ce.Tried, want)
		}
	}
}

// A SafeguardViolation (e.g. the whitelist gate) is surfaced immediately,
// with no fallback hop to a sibling backend and no retry consumed.
func TestSafeguardViolationIsNotRetried(t *testing.T) {
	reg := newTestRegistry()
	exec := newFakeExecutor()
	exec.failWith("gemini", corerrors.New(corerrors.ErrorTypeSafeguardViolation, "subprocess.run", "command not whitelisted"))
	exec.succeedWith("droid", "should never be reached")
	orch, _ := newTestOrchestrator(t, reg, exec, []corereq.BackendID{gemini, droid, qwen})

	_, err := orch.Execute(context.Background(), corereq.Request{BackendID: gemini, Prompt: "p"})
	typ, ok := corerrors.TypeOf(err)
	if !ok || typ != corerrors.ErrorTypeSafeguardViolation {
		t.Fatalf("err type = %v, want ErrorTypeSafeguardViolation", typ)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("calls = %v, want exactly one invocation (no fallback hop)", exec.calls)
	}
}

// A PermissionDenied error surfaced from the executor (e.g. stderr pattern
// matched to a permission failure) is likewise never retried.
func TestPermissionDeniedIsNotRetried(t *testing.T) {
	reg := newTestRegistry()
	exec := newFakeExecutor()
	exec.failWith("gemini", corerrors.New(corerrors.ErrorTypePermissionDenied, "subprocess.run", "exit 1: permission denied"))
	exec.succeedWith("droid", "should never be reached")
	orch, _ := newTestOrchestrator(t, reg, exec, []corereq.BackendID{gemini, droid, qwen})

	_, err := orch.Execute(context.Background(), corereq.Request{BackendID: gemini, Prompt: "p"})
	typ, ok := corerrors.TypeOf(err)
	if !ok || typ != corerrors.ErrorTypePermissionDenied {
		t.Fatalf("err type = %v, want ErrorTypePermissionDenied", typ)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("calls = %v, want exactly one invocation (no fallback hop)", exec.calls)
	}
}

// EmptyResponse is retryable: a zero-exit, empty-stdout reply falls back to
// the next backend just like any other transient failure.
func TestEmptyResponseFallsBackToNextBackend(t *testing.T) {
	reg := newTestRegistry()
	exec := newFakeExecutor()
	exec.failWith("gemini", corerrors.New(corerrors.ErrorTypeEmptyResponse, "subprocess.run", "zero exit with empty stdout"))
	exec.succeedWith("droid", "recovered")
	orch, _ := newTestOrchestrator(t, reg, exec, []corereq.BackendID{gemini, droid, qwen})

	out, err := orch.Execute(context.Background(), corereq.Request{BackendID: gemini, Prompt: "p"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.FinalBackend != droid {
		t.Fatalf("FinalBackend = %q, want %q", out.FinalBackend, droid)
	}
}

// A relative attachment path is rejected before the executor is invoked.
func TestExecuteRejectsRelativeAttachmentPath(t *testing.T) {
	reg := newTestRegistry()
	exec := newFakeExecutor()
	orch, _ := newTestOrchestrator(t, reg, exec, []corereq.BackendID{qwen})

	req := corereq.Request{BackendID: qwen, Prompt: "p", Attachments: []string{"relative/path.go"}}
	_, err := orch.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("expected an error for a relative attachment path")
	}
	if len(exec.calls) != 0 {
		t.Fatalf("calls = %v, want zero invocations when argv construction fails", exec.calls)
	}
}

// A circuit-open backend is skipped in favor of the next priority entry
// without ever invoking the executor for the open backend.
func TestExecuteSkipsOpenCircuit(t *testing.T) {
	reg := newTestRegistry()
	exec := newFakeExecutor()
	exec.succeedWith("droid", "ok")
	orch, cb := newTestOrchestrator(t, reg, exec, []corereq.BackendID{gemini, droid, qwen})

	for i := 0; i < 3; i++ {
		cb.IsAvailable(gemini)
		cb.OnFailure(gemini)
	}

	out, err := orch.Execute(context.Background(), corereq.Request{BackendID: gemini, Prompt: "p"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.FinalBackend != droid {
		t.Fatalf("FinalBackend = %q, want %q", out.FinalBackend, droid)
	}
	for _, c := range exec.calls {
		if c == "gemini" {
			t.Fatal("executor should never be invoked for a backend whose circuit is open")
		}
	}
}
