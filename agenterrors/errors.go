// Package agenterrors defines the error taxonomy described in SPEC_FULL.md
// §7: ProviderError, ParseError, ToolError, GateViolation, Busy, and
// Cancelled. Each type carries enough structured data for a caller to branch
// via errors.As, grounded on the teacher's runtime/agent/model.ProviderError
// shape.
package agenterrors

import (
	"errors"
	"fmt"
)

// ProviderErrorKind classifies provider failures into a small set of
// categories suitable for retry and UX decisions.
type ProviderErrorKind string

const (
	ProviderErrorKindAuth           ProviderErrorKind = "auth"
	ProviderErrorKindInvalidRequest ProviderErrorKind = "invalid_request"
	ProviderErrorKindRateLimited    ProviderErrorKind = "rate_limited"
	ProviderErrorKindUnavailable    ProviderErrorKind = "unavailable"
	ProviderErrorKindTimeout        ProviderErrorKind = "timeout"
	ProviderErrorKindUnknown        ProviderErrorKind = "unknown"
)

// ProviderError describes a transport failure or non-2xx response from the
// LLM provider. It is fatal to the run: the driver emits an eventbus.Error
// event whose Kind is "provider", and then Done follows.
type ProviderError struct {
	Provider   string
	Operation  string
	HTTPStatus int
	Kind       ProviderErrorKind
	Code       string
	Retryable  bool
	cause      error
}

// NewProviderError constructs a ProviderError. provider and kind are
// required; cause may be nil but should be supplied when available to
// preserve the original error chain.
func NewProviderError(provider, operation string, httpStatus int, kind ProviderErrorKind, code string, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Operation:  operation,
		HTTPStatus: httpStatus,
		Kind:       kind,
		Code:       code,
		Retryable:  retryable,
		cause:      cause,
	}
}

func (e *ProviderError) Error() string {
	op := e.Operation
	if op == "" {
		op = "request"
	}
	msg := ""
	if e.cause != nil {
		msg = e.cause.Error()
	}
	return fmt.Sprintf("%s provider error (%s, kind=%s, status=%d): %s", e.Provider, op, e.Kind, e.HTTPStatus, msg)
}

// Unwrap exposes the original transport/SDK error, if any.
func (e *ProviderError) Unwrap() error { return e.cause }

// ParseError reports malformed JSON in a tool call's arguments after the
// stream ends. It is fatal only to that tool call: the executor loop
// synthesizes a Tool error message so the model can recover on its next
// turn.
type ParseError struct {
	ToolCallID string
	ToolName   string
	Raw        string
	cause      error
}

// NewParseError constructs a ParseError for the given tool call.
func NewParseError(toolCallID, toolName, raw string, cause error) *ParseError {
	return &ParseError{ToolCallID: toolCallID, ToolName: toolName, Raw: raw, cause: cause}
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in tool call %s (%s): %v", e.ToolCallID, e.ToolName, e.cause)
}

func (e *ParseError) Unwrap() error { return e.cause }

// ToolError reports that a tool's Execute returned an error. Handled
// identically to ParseError: a Tool error message feeds the failure back to
// the model.
type ToolError struct {
	ToolCallID string
	ToolName   string
	cause      error
}

// NewToolError constructs a ToolError for the given tool call.
func NewToolError(toolCallID, toolName string, cause error) *ToolError {
	return &ToolError{ToolCallID: toolCallID, ToolName: toolName, cause: cause}
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s (call %s) failed: %v", e.ToolName, e.ToolCallID, e.cause)
}

func (e *ToolError) Unwrap() error { return e.cause }

// GateViolation reports that the model invoked a tool not present in the
// current registry (either never registered for this mode, or gated off by
// the active AgentState).
type GateViolation struct {
	ToolCallID string
	ToolName   string
}

// NewGateViolation constructs a GateViolation for the given tool call.
func NewGateViolation(toolCallID, toolName string) *GateViolation {
	return &GateViolation{ToolCallID: toolCallID, ToolName: toolName}
}

func (e *GateViolation) Error() string {
	return fmt.Sprintf("tool %q is not available in the current mode (call %s)", e.ToolName, e.ToolCallID)
}

// ErrBusy is returned by Agent.Run when a run is already active on the same
// Agent. No events are emitted for this error.
var ErrBusy = errors.New("agentrt: agent is busy with another run")

// ErrCancelled is returned internally when a run ends via cooperative
// cancellation; callers generally observe this as a Done event with
// Cancelled set rather than as a returned error, but Run still returns it so
// synchronous callers can distinguish cancellation from success.
var ErrCancelled = errors.New("agentrt: run was cancelled")

// AsProviderError returns the first *ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	ok := errors.As(err, &pe)
	return pe, ok
}

// AsToolError returns the first *ToolError in err's chain, if any.
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	ok := errors.As(err, &te)
	return te, ok
}
