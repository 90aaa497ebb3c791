// Package fallback implements the fallback/retry orchestrator: the public
// entry point that resolves a backend, executes it, and on failure or
// unavailability selects a substitute while preserving the *transformed*
// request across hops.
package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/unitai-dev/unitai-core/internal/corereq"
	"github.com/unitai-dev/unitai-core/internal/corerrors"
	"github.com/unitai-dev/unitai-core/internal/metrics"
	"github.com/unitai-dev/unitai-core/internal/registry"
	"github.com/unitai-dev/unitai-core/internal/subprocess"
)

// Transformer is the subset of transform.Transformer the orchestrator needs.
type Transformer interface {
	Transform(req corereq.Request, targetID corereq.BackendID) (corereq.Request, error)
}

// CircuitBreaker is the subset of breaker.Breaker the orchestrator needs.
type CircuitBreaker interface {
	IsAvailable(id corereq.BackendID) bool
	OnSuccess(id corereq.BackendID)
	OnFailure(id corereq.BackendID)
}

// PriorityProvider supplies the fallback order, snapshotted once per call:
// config changes mid-call never alter a fallback chain already in flight.
type PriorityProvider interface {
	FallbackPriority() []corereq.BackendID
}

// Executor is the subset of subprocess.Executor the orchestrator needs;
// defined locally so tests can substitute a fake process runner instead of
// spawning real backends.
type Executor interface {
	Run(ctx context.Context, commandName string, argv []string, opts subprocess.Options) (*subprocess.Result, error)
}

// Orchestrator is the public entry point: execute(request) -> string.
type Orchestrator struct {
	reg        *registry.Registry
	transform  Transformer
	breaker    CircuitBreaker
	executor   Executor
	metrics    *metrics.Recorder
	priority   PriorityProvider
	maxRetries int
	log        *slog.Logger
}

// Config configures an Orchestrator.
type Config struct {
	MaxRetries int // N, default 2
}

// New constructs an Orchestrator.
func New(reg *registry.Registry, tr Transformer, cb CircuitBreaker, exec Executor, rec *metrics.Recorder, priority PriorityProvider, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	n := cfg.MaxRetries
	if n <= 0 {
		n = 2
	}
	return &Orchestrator{
		reg: reg, transform: tr, breaker: cb, executor: exec, metrics: rec,
		priority: priority, maxRetries: n, log: log,
	}
}

// Outcome is the successful result of Execute.
type Outcome struct {
	Output        string
	FinalBackend  corereq.BackendID
	TriedBackends []corereq.BackendID
}

// Execute runs the resolve-execute-fallback loop: try the request's target
// backend, and on unavailability or failure select and transform a
// substitute, until one succeeds or retries are exhausted.
func (o *Orchestrator) Execute(ctx context.Context, request corereq.Request) (Outcome, error) {
	currentRequest := request
	var tried []corereq.BackendID
	retriesLeft := o.maxRetries
	priority := o.priority.FallbackPriority()

	for {
		if err := ctx.Err(); err != nil {
			return Outcome{}, corerrors.New(corerrors.ErrorTypeCancelled, "fallback.execute", "cancelled")
		}

		targetID := currentRequest.BackendID

		if !o.breaker.IsAvailable(targetID) {
			if retriesLeft == 0 {
				return Outcome{}, corerrors.New(corerrors.ErrorTypeAllBackendsUnavailable, "fallback.execute", "no retries remaining").
					WithBackend(string(targetID)).WithTried(backendIDsToStrings(tried))
			}
			next, err := o.selectFallback(targetID, tried, priority)
			if err != nil {
				return Outcome{}, err
			}
			currentRequest, err = o.transform.Transform(currentRequest, next)
			if err != nil {
				return Outcome{}, err
			}
			tried = append(tried, targetID)
			retriesLeft--
			continue
		}

		desc, ok := o.reg.Get(targetID)
		if !ok {
			o.recordOutcome("fallback", targetID, currentRequest.CorrelationID, 0, "failure")
			return Outcome{}, corerrors.New(corerrors.ErrorTypeUnknownBackend, "fallback.execute", string(targetID)).
				WithBackend(string(targetID)).WithTried(backendIDsToStrings(tried))
		}

		argv, argvErr := subprocess.BuildArgv(desc, currentRequest)
		if argvErr != nil {
			o.recordOutcome("fallback", targetID, currentRequest.CorrelationID, 0, "failure")
			return Outcome{}, argvErr
		}
		opts := subprocess.BuildOptions(desc, currentRequest, 0, o.heartbeatSink(currentRequest, targetID))

		start := time.Now()
		result, err := o.executor.Run(ctx, desc.CommandName, argv, opts)
		elapsed := time.Since(start)

		if err == nil {
			o.breaker.OnSuccess(targetID)
			o.recordOutcome("fallback", targetID, currentRequest.CorrelationID, elapsed, "success")
			return Outcome{Output: result.Output, FinalBackend: targetID, TriedBackends: tried}, nil
		}

		if t, ok := corerrors.TypeOf(err); ok && t == corerrors.ErrorTypeCancelled {
			return Outcome{}, err
		}

		o.breaker.OnFailure(targetID)
		o.recordOutcome("fallback", targetID, currentRequest.CorrelationID, elapsed, "failure")

		if errType, ok := corerrors.TypeOf(err); ok && !corerrors.Retryable(errType) {
			tried = append(tried, targetID)
			if ce, ok := err.(*corerrors.Error); ok {
				return Outcome{}, ce.WithTried(backendIDsToStrings(tried))
			}
			return Outcome{}, err
		}

		if retriesLeft == 0 {
			tried = append(tried, targetID)
			return Outcome{}, corerrors.New(corerrors.ErrorTypeExhaustedRetries, "fallback.execute", "no backends left to try").
				WithBackend(string(targetID)).WithTried(backendIDsToStrings(tried))
		}

		next, selErr := o.selectFallback(targetID, tried, priority)
		if selErr != nil {
			return Outcome{}, selErr
		}
		currentRequest, err = o.transform.Transform(currentRequest, next)
		if err != nil {
			return Outcome{}, err
		}
		tried = append(tried, targetID)
		retriesLeft--
	}
}

func (o *Orchestrator) recordOutcome(component string, backend corereq.BackendID, correlationID string, elapsed time.Duration, outcome string) {
	if o.metrics == nil {
		return
	}
	o.metrics.Record(component, backend, "execute", elapsed, outcome, correlationID)
}

// heartbeatSink builds the subprocess heartbeat callback for one hop,
// forwarding a synthetic progress line so a caller watching req.ProgressSink
// sees silence being reported rather than nothing at all during a long-
// running, chunk-less invocation.
func (o *Orchestrator) heartbeatSink(req corereq.Request, backend corereq.BackendID) func(subprocess.Heartbeat) {
	if req.ProgressSink == nil {
		return nil
	}
	return func(hb subprocess.Heartbeat) {
		req.ProgressSink(fmt.Sprintf("[%s] heartbeat: %d bytes stdout, %d bytes stderr, idle %s", backend, hb.BytesStdout, hb.BytesStderr, hb.SinceLast))
	}
}

func backendIDsToStrings(ids []corereq.BackendID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// selectFallback walks priority in order, skipping failed and any id
// already tried, returning the first whose circuit is available; if none
// is available it returns the first not-yet-tried id (best-effort); if
// every id has been tried it raises a no-fallback-remaining error.
func (o *Orchestrator) selectFallback(failed corereq.BackendID, tried []corereq.BackendID, priority []corereq.BackendID) (corereq.BackendID, error) {
	isTried := make(map[corereq.BackendID]bool, len(tried)+1)
	isTried[failed] = true
	for _, id := range tried {
		isTried[id] = true
	}

	var candidates []corereq.BackendID
	for _, id := range priority {
		if !isTried[id] {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return "", corerrors.New(corerrors.ErrorTypeExhaustedRetries, "fallback.selectFallback", "every backend has been tried").
			WithBackend(string(failed)).WithTried(append(backendIDsToStrings(tried), string(failed)))
	}

	for _, id := range candidates {
		if o.breaker.IsAvailable(id) {
			return id, nil
		}
	}
	return candidates[0], nil
}
