// Package subprocess implements the backend-agnostic process executor:
// launch a whitelisted command, stream stdout chunks to a progress sink,
// enforce a timeout with a grace-period kill sequence, and detect hung
// processes via a heartbeat. Uses stdout/stderr pipes, a heartbeat
// goroutine, a context-cancellation grace-kill goroutine, and scanner-based
// line streaming, against plain line output rather than any one backend's
// structured wire format.
package subprocess

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/unitai-dev/unitai-core/internal/corereq"
	"github.com/unitai-dev/unitai-core/internal/corerrors"
)

// GracePeriod is the wait after a cancellation signal before SIGKILL.
const GracePeriod = 2 * time.Second

// HeartbeatTimeout is the max silence before a process is considered hung.
const HeartbeatTimeout = 5 * time.Second

// HeartbeatCheckInterval is how often the heartbeat monitor polls.
const HeartbeatCheckInterval = 5 * time.Second

// Heartbeat carries byte counts observed so far when emitted on silence.
type Heartbeat struct {
	BytesStdout int64
	BytesStderr int64
	SinceLast   time.Duration
}

// Options configures a single invocation.
type Options struct {
	TimeoutMs    int
	WorkingDir   string
	ProgressSink corereq.ProgressSink
	OnHeartbeat  func(Heartbeat)
}

// Result is a completed invocation's outcome.
type Result struct {
	Output   string
	ExitCode int
}

// Executor launches whitelisted commands as subprocesses.
type Executor struct {
	whitelist map[string]bool
	log       *slog.Logger
}

// New returns an Executor that refuses to spawn any command not present in
// whitelist. The whitelist is the only defense against command injection
// from configuration or caller input.
func New(whitelist map[string]bool, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	wl := make(map[string]bool, len(whitelist))
	for k, v := range whitelist {
		if v {
			wl[k] = true
		}
	}
	return &Executor{whitelist: wl, log: log}
}

// Run spawns commandName with argv and waits for completion, streaming
// stdout chunks to opts.ProgressSink as they arrive. Arguments are passed
// as a list; there is no shell interpretation.
func (e *Executor) Run(ctx context.Context, commandName string, argv []string, opts Options) (*Result, error) {
	if !e.whitelist[commandName] {
		return nil, corerrors.New(corerrors.ErrorTypeSafeguardViolation, "subprocess.run", fmt.Sprintf("command %q is not whitelisted", commandName))
	}

	timeout := time.Duration(opts.TimeoutMs) * time.Millisecond
	runCtx := ctx
	var cancelTimeout context.CancelFunc
	if timeout > 0 {
		runCtx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}

	cmd := exec.CommandContext(runCtx, commandName, argv...)
	cmd.Dir = opts.WorkingDir
	// On timeout or cancellation send SIGTERM first; watchCancellation
	// follows up with SIGKILL once GracePeriod has elapsed.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, corerrors.Wrap(corerrors.ErrorTypeAPIError, "subprocess.run", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, corerrors.Wrap(corerrors.ErrorTypeAPIError, "subprocess.run", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, corerrors.Wrap(corerrors.ErrorTypeAPIError, "subprocess.run", err)
	}
	e.log.Debug("subprocess started", slog.String("command", commandName), slog.Int("pid", cmd.Process.Pid))

	var (
		wg           sync.WaitGroup
		outBuilder   strings.Builder
		errBuilder   strings.Builder
		outMu        sync.Mutex
		bytesStdout  atomic.Int64
		bytesStderr  atomic.Int64
		lastEventAt  atomic.Int64
	)
	lastEventAt.Store(time.Now().UnixNano())
	cmdDone := make(chan struct{})

	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	defer cancelHeartbeat()
	go e.monitorHeartbeat(heartbeatCtx, cmdDone, &lastEventAt, &bytesStdout, &bytesStderr, opts.OnHeartbeat)

	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			lastEventAt.Store(time.Now().UnixNano())
			bytesStdout.Add(int64(len(line)) + 1)
			outMu.Lock()
			outBuilder.WriteString(line)
			outBuilder.WriteByte('\n')
			outMu.Unlock()
			if opts.ProgressSink != nil {
				opts.ProgressSink(line)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			bytesStderr.Add(int64(len(line)) + 1)
			errBuilder.WriteString(line)
			errBuilder.WriteByte('\n')
		}
	}()

	go e.watchCancellation(runCtx, cmdDone, cmd)

	wg.Wait()
	waitErr := cmd.Wait()
	close(cmdDone)

	stderrTail := tail(errBuilder.String(), 4096)

	if runCtx.Err() != nil {
		if ctx.Err() != nil {
			return nil, corerrors.New(corerrors.ErrorTypeCancelled, "subprocess.run", "cancelled")
		}
		return nil, corerrors.New(corerrors.ErrorTypeTimeout, "subprocess.run", "timed out")
	}

	if waitErr != nil {
		exitCode := -1
		if ee, ok := waitErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return nil, classifyExitFailure(exitCode, stderrTail)
	}

	outMu.Lock()
	output := outBuilder.String()
	outMu.Unlock()

	if output == "" {
		return nil, corerrors.New(corerrors.ErrorTypeEmptyResponse, "subprocess.run", "zero exit with empty stdout")
	}

	return &Result{Output: output, ExitCode: 0}, nil
}

// quotaStderrPatterns and permissionStderrPatterns are the stderr
// substrings (lowercased) that reclassify a non-zero exit from the generic
// BackendFailure bucket into a more specific, differently-retried kind.
var (
	quotaStderrPatterns      = []string{"rate limit", "rate_limit", "quota", "too many requests", "429"}
	permissionStderrPatterns = []string{"permission denied", "forbidden", "unauthorized", "403", "401"}
)

// classifyExitFailure turns a non-zero exit code and its stderr tail into a
// categorized error: a quota/rate-limit stderr pattern becomes
// QuotaExceeded (retried, but only with a different backend), a
// permission-shaped stderr pattern becomes PermissionDenied (surfaced,
// never retried), and anything else is the generic BackendFailure shape
// carried as ApiError with the exit code and stderr tail attached.
func classifyExitFailure(exitCode int, stderrTail string) *corerrors.Error {
	lower := strings.ToLower(stderrTail)
	for _, p := range quotaStderrPatterns {
		if strings.Contains(lower, p) {
			return corerrors.New(corerrors.ErrorTypeQuotaExceeded, "subprocess.run", fmt.Sprintf("exit %d: %s", exitCode, stderrTail))
		}
	}
	for _, p := range permissionStderrPatterns {
		if strings.Contains(lower, p) {
			return corerrors.New(corerrors.ErrorTypePermissionDenied, "subprocess.run", fmt.Sprintf("exit %d: %s", exitCode, stderrTail))
		}
	}
	err := corerrors.New(corerrors.ErrorTypeAPIError, "subprocess.run", fmt.Sprintf("exit %d: %s", exitCode, stderrTail))
	err.ExitCode = exitCode
	return err
}

func (e *Executor) monitorHeartbeat(ctx context.Context, done <-chan struct{}, lastEventAt, bytesStdout, bytesStderr *atomic.Int64, onHeartbeat func(Heartbeat)) {
	ticker := time.NewTicker(HeartbeatCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			lastTime := time.Unix(0, lastEventAt.Load())
			age := time.Since(lastTime)
			if age >= HeartbeatTimeout && onHeartbeat != nil {
				onHeartbeat(Heartbeat{
					BytesStdout: bytesStdout.Load(),
					BytesStderr: bytesStderr.Load(),
					SinceLast:   age,
				})
			}
		}
	}
}

func (e *Executor) watchCancellation(ctx context.Context, done <-chan struct{}, cmd *exec.Cmd) {
	select {
	case <-done:
		return
	case <-ctx.Done():
		if cmd.Process == nil {
			return
		}
		select {
		case <-done:
			return
		case <-time.After(GracePeriod):
			e.log.Warn("grace period expired, sending kill signal", slog.Int("pid", cmd.Process.Pid))
			_ = cmd.Process.Kill()
		}
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
