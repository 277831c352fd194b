package edit

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/fpang/grok-image-edit/internal/grok"
)

// Kind classifies failures.
type Kind string

const (
	KindInput      Kind = "InputError"
	KindPermission Kind = "PermissionError"
	KindNetwork    Kind = "NetworkError"
	KindRemote     Kind = "RemoteError"
	KindParse      Kind = "ParseError"
	KindStorage    Kind = "StorageError"
	KindRelay      Kind = "RelayError"
	KindConfig     Kind = "ConfigError"
	KindDelivery   Kind = "DeliveryError"
	KindCanceled   Kind = "Canceled"
	KindUnknown    Kind = "UnknownError"
)

// Reasons carried by Error.Reason.
const (
	ReasonMissingImage  = "missing-image"
	ReasonMissingPrompt = "missing-prompt"
	ReasonDisabled      = "disabled"
	ReasonMissingAPIKey = "missing-api-key"
	ReasonTimeout       = "timeout"
	ReasonNoImages      = "no-images"
	ReasonInvalidJSON   = "invalid-json"
)

// Error is the error type returned by the edit pipeline.
type Error struct {
	Kind Kind
	// Reason is a stable machine-readable cause, e.g. "rate-limited".
	Reason string
	// Message is safe to show to end users.
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += "(" + e.Reason + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, reason, message string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message, Err: err}
}

// KindOf returns the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindUnknown
}

// ReasonOf returns the Reason of err, if any.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Retryable reports whether an attempt that failed with kind may be retried.
func Retryable(kind Kind) bool {
	return kind == KindNetwork || kind == KindRemote
}

// classifyAttemptError maps a Send error to an Error. parent is the request
// context: its cancellation is terminal, while an expired per-attempt
// deadline is a network timeout.
func classifyAttemptError(parent context.Context, err error) *Error {
	if parent.Err() != nil {
		return newError(KindCanceled, "", "request canceled", parent.Err())
	}

	var statusErr *grok.StatusError
	if errors.As(err, &statusErr) {
		return newError(KindRemote, fmt.Sprintf("status-%d", statusErr.StatusCode),
			fmt.Sprintf("remote service returned status %d", statusErr.StatusCode), err)
	}
	var apiErr *grok.APIError
	if errors.As(err, &apiErr) {
		return newError(KindRemote, "api-error", "remote service reported an error: "+apiErr.Message, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindNetwork, ReasonTimeout, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(KindNetwork, ReasonTimeout, "request timed out", err)
	}
	return newError(KindNetwork, "", "could not reach the remote service", err)
}
