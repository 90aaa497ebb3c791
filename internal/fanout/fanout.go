// Package fanout implements the parallel fan-out and synthesizer: running
// an arbitrary set of backends concurrently through the fallback
// orchestrator, collecting partial results, and reassembling them in input
// order regardless of completion order. Uses bounded-concurrency channel
// fan-out with a sync.WaitGroup and one shared child context for
// cancellation; results are index-tagged so reassembly preserves input
// order even though goroutines complete out of order.
package fanout

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/unitai-dev/unitai-core/internal/corereq"
	"github.com/unitai-dev/unitai-core/internal/corerrors"
	"github.com/unitai-dev/unitai-core/internal/fallback"
)

// Runner is the subset of fallback.Orchestrator the fan-out needs.
type Runner interface {
	Execute(ctx context.Context, request corereq.Request) (fallback.Outcome, error)
}

// PromptBuilder builds the per-backend prompt.
type PromptBuilder func(id corereq.BackendID) string

// OptionsBuilder applies per-backend overrides to a base request before
// dispatch (e.g. attachments, output format).
type OptionsBuilder func(id corereq.BackendID, base corereq.Request) corereq.Request

// BackendResult tags one backend's verdict within a composite fan-out.
type BackendResult struct {
	BackendID corereq.BackendID
	Output    string
	Err       error
}

// Composite is the synthesizer's reassembled, order-preserving result.
type Composite struct {
	Results []BackendResult // same order as the input backends slice
}

// Fanout coordinates concurrent backend invocations.
type Fanout struct {
	runner Runner
}

// New binds a Runner (typically a *fallback.Orchestrator).
func New(runner Runner) *Fanout {
	return &Fanout{runner: runner}
}

// Config bounds concurrency for one Run call.
type Config struct {
	MaxParallel int // defaults to min(len(backends), 3)
}

// Run dispatches request variants built from promptBuilder/optionsBuilder
// across backends, up to Config.MaxParallel concurrently. Progress events
// are tagged with a "[id] " prefix before being forwarded to the caller's
// progress sink on base. Individual backend failures do not abort
// siblings; the composite succeeds if at least one backend succeeds, and
// raises AllBackendsFailed only if every backend failed. Cancelling ctx
// cancels every child invocation.
func (f *Fanout) Run(ctx context.Context, backends []corereq.BackendID, base corereq.Request, promptBuilder PromptBuilder, optionsBuilder OptionsBuilder, cfg Config) (Composite, error) {
	n := len(backends)
	if n == 0 {
		return Composite{}, nil
	}

	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 3
	}
	if maxParallel > n {
		maxParallel = n
	}

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, maxParallel)
	results := make([]BackendResult, n)
	var wg sync.WaitGroup

	for i, id := range backends {
		wg.Add(1)
		go func(i int, id corereq.BackendID) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			req := base.Clone()
			req.BackendID = id
			if promptBuilder != nil {
				req.Prompt = promptBuilder(id)
			}
			if optionsBuilder != nil {
				req = optionsBuilder(id, req)
			}
			if base.ProgressSink != nil {
				sink := base.ProgressSink
				req.ProgressSink = func(chunk string) {
					sink(fmt.Sprintf("[%s] %s", id, chunk))
				}
			}

			outcome, err := f.runner.Execute(childCtx, req)
			if err != nil {
				results[i] = BackendResult{BackendID: id, Err: err}
				return
			}
			results[i] = BackendResult{BackendID: id, Output: outcome.Output}
		}(i, id)
	}

	wg.Wait()

	succeeded := 0
	errs := make(map[corereq.BackendID]error)
	for _, r := range results {
		if r.Err == nil {
			succeeded++
		} else {
			errs[r.BackendID] = r.Err
		}
	}

	if succeeded == 0 {
		return Composite{}, allBackendsFailed(errs)
	}

	return Composite{Results: results}, nil
}

func allBackendsFailed(errs map[corereq.BackendID]error) error {
	ids := make([]string, 0, len(errs))
	for id := range errs {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, errs[corereq.BackendID(id)]))
	}
	e := corerrors.New(corerrors.ErrorTypeAllBackendsFailed, "fanout.run", fmt.Sprintf("%d backends all failed: %s", len(errs), strings.Join(parts, "; ")))
	return e.WithTried(ids)
}
