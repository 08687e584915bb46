package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure for retry policy and caller handling.
type ErrorKind string

const (
	// Provider call failures.
	KindBadRequest    ErrorKind = "bad_request"     // 400, not retryable
	KindOversize      ErrorKind = "oversize"        // 413, not retryable
	KindRateLimit     ErrorKind = "rate_limit"      // 429, retryable with reset-aware sleep
	KindServer        ErrorKind = "server"          // 5xx, retryable with backoff
	KindQuotaExceeded ErrorKind = "quota_exceeded"  // surfaced by adapters, not retryable
	KindProtocol      ErrorKind = "protocol"        // malformed vendor response
	KindProvider      ErrorKind = "provider"        // other 4xx and vendor failures

	// Validation failures from the outer speak loop.
	KindToolSchema   ErrorKind = "tool_schema"
	KindToolMissing  ErrorKind = "tool_missing"
	KindToolTooLarge ErrorKind = "tool_too_large"
	KindEmptyAnswer  ErrorKind = "empty_answer"

	// Auth preconditions.
	KindAuthNotInitialized ErrorKind = "auth_not_initialized"
	KindAuthNoSession      ErrorKind = "auth_no_session"
)

// Error is the structured failure produced by the transport and adapters.
// Non-LLM errors crossing the transport boundary are wrapped into one,
// preserving provider, model, and interaction context.
type Error struct {
	Kind          ErrorKind
	Provider      string
	Model         string
	InteractionID string
	Status        int
	Message       string
	Cause         error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Provider != "" {
		return fmt.Sprintf("llm %s error (provider=%s model=%s interaction=%s): %s",
			e.Kind, e.Provider, e.Model, e.InteractionID, msg)
	}
	return fmt.Sprintf("llm %s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError ensures err is an *Error carrying call context. Existing *Error
// values keep their kind and message; missing context fields are filled in.
func WrapError(err error, provider, model, interactionID string) *Error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		if llmErr.Provider == "" {
			llmErr.Provider = provider
		}
		if llmErr.Model == "" {
			llmErr.Model = model
		}
		if llmErr.InteractionID == "" {
			llmErr.InteractionID = interactionID
		}
		return llmErr
	}
	// No vendor status at all: a transport-level failure (connection reset,
	// timeout, DNS). Classified as server so the inner loop retries it, the
	// same mapping the raw-HTTP adapters apply.
	return &Error{
		Kind:          KindServer,
		Provider:      provider,
		Model:         model,
		InteractionID: interactionID,
		Message:       err.Error(),
		Cause:         err,
	}
}

// KindForStatus maps an HTTP status to an error kind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusBadRequest:
		return KindBadRequest
	case status == http.StatusRequestEntityTooLarge:
		return KindOversize
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status >= 500:
		return KindServer
	default:
		return KindProvider
	}
}

// StatusError builds an error from a vendor HTTP status.
func StatusError(status int, message string) *Error {
	return &Error{Kind: KindForStatus(status), Status: status, Message: message}
}

// Retryable reports whether the transport's inner loop may retry err.
func Retryable(err error) bool {
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		// Unclassified errors have not crossed WrapError yet; treat them
		// like the status-less transport failures it maps to KindServer.
		return true
	}
	switch llmErr.Kind {
	case KindRateLimit, KindServer:
		return true
	default:
		return false
	}
}

// AsError extracts the structured error from a chain, if present.
func AsError(err error) (*Error, bool) {
	var llmErr *Error
	ok := errors.As(err, &llmErr)
	return llmErr, ok
}
