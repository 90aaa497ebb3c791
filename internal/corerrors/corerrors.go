// Package corerrors defines the closed error taxonomy shared across the
// orchestration core. Every error that crosses a component boundary is one
// of these types, so callers can switch on Type instead of string-matching
// messages.
package corerrors

import (
	"fmt"
	"strings"
)

// Type classifies an orchestration error.
type Type string

const (
	// ErrorTypeRateLimit indicates the backend rejected the request due to rate limiting.
	ErrorTypeRateLimit Type = "rate_limit"
	// ErrorTypeAPIError indicates a generic backend/API failure.
	ErrorTypeAPIError Type = "api_error"
	// ErrorTypeTimeout indicates the backend did not respond within its deadline.
	ErrorTypeTimeout Type = "timeout"
	// ErrorTypeInvalidConfig indicates malformed or missing configuration. Never retryable.
	ErrorTypeInvalidConfig Type = "invalid_config"
	// ErrorTypeUnknownBackend indicates a request named a backend with no registry entry.
	ErrorTypeUnknownBackend Type = "unknown_backend"
	// ErrorTypePermissionDenied indicates the requested operation exceeds the caller's autonomy level.
	ErrorTypePermissionDenied Type = "permission_denied"
	// ErrorTypeSafeguardViolation indicates a request tripped a hard safeguard (e.g. disallowed command).
	ErrorTypeSafeguardViolation Type = "safeguard_violation"
	// ErrorTypeAuditWriteFailure indicates the audit log could not be written; the guarded operation must abort.
	ErrorTypeAuditWriteFailure Type = "audit_write_failure"
	// ErrorTypeAllBackendsUnavailable indicates every candidate backend is circuit-open or undetected.
	ErrorTypeAllBackendsUnavailable Type = "all_backends_unavailable"
	// ErrorTypeExhaustedRetries indicates the fallback chain ran out of backends to try.
	ErrorTypeExhaustedRetries Type = "exhausted_retries"
	// ErrorTypeAllBackendsFailed indicates every backend in a fan-out attempt returned an error.
	ErrorTypeAllBackendsFailed Type = "all_backends_failed"
	// ErrorTypeCancelled indicates the operation was cancelled via context.
	ErrorTypeCancelled Type = "cancelled"
	// ErrorTypeEmptyResponse indicates a zero-exit process that produced no stdout.
	ErrorTypeEmptyResponse Type = "empty_response"
	// ErrorTypeQuotaExceeded indicates the backend's stderr matched a quota/rate-limit pattern; retryable only with a different backend.
	ErrorTypeQuotaExceeded Type = "quota_exceeded"
)

// Error is the concrete error type returned by orchestration components.
type Error struct {
	Type     Type
	Backend  string // backend ID involved, if any
	Op       string // operation that failed, e.g. "transform", "execute"
	Err      error  // wrapped cause, if any
	Message  string
	Tried    []string // backends already attempted, for AllBackendsUnavailable/ExhaustedRetries/AllBackendsFailed
	ExitCode int      // process exit code, for BackendFailure-shaped api_error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if len(e.Tried) > 0 {
		msg = fmt.Sprintf("%s (tried: %s)", msg, strings.Join(e.Tried, ", "))
	}
	if e.Backend != "" {
		return fmt.Sprintf("%s[%s]: %s: %s", e.Op, e.Backend, e.Type, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Type, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target carries the same Type, satisfying errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// New constructs an Error of the given type.
func New(t Type, op, message string) *Error {
	return &Error{Type: t, Op: op, Message: message}
}

// Wrap constructs an Error of the given type around an underlying cause.
func Wrap(t Type, op string, err error) *Error {
	return &Error{Type: t, Op: op, Err: err}
}

// WithBackend returns a copy of e annotated with the backend ID.
func (e *Error) WithBackend(backend string) *Error {
	cp := *e
	cp.Backend = backend
	return &cp
}

// WithTried returns a copy of e annotated with the list of backends already
// attempted before this error was raised.
func (e *Error) WithTried(tried []string) *Error {
	cp := *e
	cp.Tried = append([]string(nil), tried...)
	return &cp
}

// Retryable reports whether an error of this type is ever eligible for
// automatic retry via the fallback chain. InvalidConfig, PermissionDenied,
// SafeguardViolation, AuditWriteFailure, UnknownBackend and Cancelled are
// never retried: retrying them cannot change the outcome, and for
// UnknownBackend there is no such backend to retry against in the first
// place. QuotaExceeded is retryable only with a different backend, which
// selectFallback already guarantees by excluding tried backends.
func Retryable(t Type) bool {
	switch t {
	case ErrorTypeRateLimit, ErrorTypeAPIError, ErrorTypeTimeout, ErrorTypeEmptyResponse, ErrorTypeQuotaExceeded:
		return true
	default:
		return false
	}
}

// TypeOf extracts the Type from err if it is (or wraps) a *Error.
func TypeOf(err error) (Type, bool) {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return "", false
	}
	return e.Type, true
}
