package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the bounded classification every upstream failure maps into
type ErrorKind string

const (
	KindTransientUpstream  ErrorKind = "transient_upstream"
	KindDataUnavailable    ErrorKind = "data_unavailable"
	KindToolBudgetExceeded ErrorKind = "tool_budget_exceeded"
	KindArtifactParse      ErrorKind = "artifact_parse_failed"
	KindCancelled          ErrorKind = "cancelled_by_deadline"
	KindInvariantViolation ErrorKind = "invariant_violation"
)

// Error is the structured failure type the facade and runtime return.
// It carries the bounded kind, the operation, and the wrapped cause.
type Error struct {
	Kind      ErrorKind
	Operation string
	Source    string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Operation != "" {
		fmt.Fprintf(&b, " in %s", e.Operation)
	}
	if e.Source != "" {
		fmt.Fprintf(&b, " (source %s)", e.Source)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by kind so callers can use errors.Is with sentinel kinds
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// NewError builds a structured error
func NewError(kind ErrorKind, operation, source string, err error) *Error {
	return &Error{Kind: kind, Operation: operation, Source: source, Err: err}
}

// Sentinel values for errors.Is matching by kind
var (
	ErrTransientUpstream  = &Error{Kind: KindTransientUpstream}
	ErrDataUnavailable    = &Error{Kind: KindDataUnavailable}
	ErrToolBudgetExceeded = &Error{Kind: KindToolBudgetExceeded}
	ErrArtifactParse      = &Error{Kind: KindArtifactParse}
	ErrCancelled          = &Error{Kind: KindCancelled}
	ErrInvariant          = &Error{Kind: KindInvariantViolation}
)

// KindOfError extracts the bounded kind from any error
func KindOfError(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindTransientUpstream
}

// Classify maps a raw provider error into the bounded failure categories
// used by metrics and failover logging: timeout, empty, protocol, quota.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "empty") || strings.Contains(msg, "no data") || strings.Contains(msg, "no rows"):
		return "empty"
	case strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") ||
		strings.Contains(msg, "积分"):
		return "quota"
	default:
		return "protocol"
	}
}
