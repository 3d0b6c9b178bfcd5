// Package apierror implements the error taxonomy of the design: a small
// set of error kinds, each mapped to an HTTP status and to a
// client-format-specific JSON error body, plus the terminal-SSE-event
// rendering a half-open stream needs on failure.
//
// Grounded on the teacher's ad-hoc `map[string]string{"error": ...}`
// error bodies in internal/server/handler.go, generalized into a typed
// taxonomy because the design requires distinguishing auth, validation,
// upstream, policy, timeout, and cancellation failures by client-visible
// "type" string, not just a status code.
package apierror

import (
	"encoding/json"
	"net/http"
)

// Kind discriminates the error taxonomy of the design
type Kind string

const (
	KindAuth         Kind = "auth_error"
	KindValidation   Kind = "validation_error"
	KindUpstream     Kind = "upstream_error"
	KindPolicy       Kind = "policy_error"
	KindTimeout      Kind = "timeout_error"
	KindCancellation Kind = "cancellation_error"
)

// Error is the core error type every package in this module that can fail
// a transaction returns or wraps. Message is safe to show a client;
// Cause (if set) is logged but never serialized to the client.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind with its conventional status
// code (see statusFor), wrapping cause for logging.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Status: statusFor(kind), Message: message, Cause: cause}
}

// Auth, Validation, Upstream, Policy, Timeout, and Cancellation are
// convenience constructors for the taxonomy's six kinds.
func Auth(message string, cause error) *Error         { return New(KindAuth, message, cause) }
func Validation(message string, cause error) *Error   { return New(KindValidation, message, cause) }
func Upstream(message string, cause error) *Error     { return New(KindUpstream, message, cause) }
func Policy(message string, cause error) *Error       { return New(KindPolicy, message, cause) }
func Timeout(message string, cause error) *Error      { return New(KindTimeout, message, cause) }
func Cancellation(message string, cause error) *Error { return New(KindCancellation, message, cause) }

func statusFor(kind Kind) int {
	switch kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusBadGateway
	case KindPolicy:
		return http.StatusInternalServerError
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCancellation:
		return 499 // nginx's "client closed request", the closest convention for an aborted transaction
	default:
		return http.StatusInternalServerError
	}
}

// As coerces any error into *Error, wrapping unrecognized errors as a
// generic PolicyError — the taxonomy requires every failure surfaced to
// a client to be one of the six kinds, never a raw error.
func As(err error) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	return Policy("internal error", err)
}

// openAIType and anthropicType map a Kind to each client format's
// conventional error_type string.
func (e *Error) openAIType() string {
	switch e.Kind {
	case KindAuth:
		return "invalid_request_error"
	case KindValidation:
		return "invalid_request_error"
	case KindUpstream:
		return "api_error"
	case KindPolicy:
		return "api_error"
	case KindTimeout:
		return "api_error"
	case KindCancellation:
		return "api_error"
	default:
		return "api_error"
	}
}

func (e *Error) anthropicType() string {
	switch e.Kind {
	case KindAuth:
		return "authentication_error"
	case KindValidation:
		return "invalid_request_error"
	case KindUpstream:
		return "api_error"
	case KindPolicy:
		return "api_error"
	case KindTimeout:
		return "overloaded_error"
	case KindCancellation:
		return "api_error"
	default:
		return "api_error"
	}
}

// OpenAIBody renders the non-streaming OpenAI-format JSON error body.
func (e *Error) OpenAIBody() []byte {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": e.Message,
			"type":    e.openAIType(),
		},
	})
	return body
}

// AnthropicBody renders the non-streaming Anthropic-format JSON error body.
func (e *Error) AnthropicBody() []byte {
	body, _ := json.Marshal(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    e.anthropicType(),
			"message": e.Message,
		},
	})
	return body
}

// OpenAISSE renders the terminal SSE bytes the design requires when at
// least one chunk has already reached the client: a JSON chunk carrying
// an "error" field, followed by the format's [DONE] sentinel.
func (e *Error) OpenAISSE() string {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": e.Message,
			"type":    e.openAIType(),
		},
	})
	return "data: " + string(body) + "\n\ndata: [DONE]\n\n"
}

// AnthropicSSE renders the terminal `event: error` block only; the
// message_stop sentinel that follows it is written by the caller
// (internal/orchestrator's writePreStreamError and writeStreamError).
func (e *Error) AnthropicSSE() string {
	body, _ := json.Marshal(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    e.anthropicType(),
			"message": e.Message,
		},
	})
	return "event: error\ndata: " + string(body) + "\n\n"
}
