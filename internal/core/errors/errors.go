package errors

import (
	"errors"
	"fmt"
)

// Connection errors - these end or interrupt a realtime session
var (
	// Credential
	ErrNoCredential      = errors.New("no credential available")
	ErrCredentialMissing = errors.New("credential is empty")
	ErrCredentialFormat  = errors.New("credential is not a three-part token")
	ErrCredentialPayload = errors.New("credential payload is not decodable")
	ErrCredentialSubject = errors.New("credential payload has no subject")
	ErrCredentialExpired = errors.New("credential has expired")

	// Transport
	ErrTransportClosed  = errors.New("transport closed")
	ErrDialFailed       = errors.New("dial failed")
	ErrHandshakeTimeout = errors.New("handshake not confirmed in time")
	ErrNotConnected     = errors.New("not connected")

	// Protocol
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownFrame   = errors.New("unknown frame type")
	ErrServerError    = errors.New("server reported an error")

	// Authentication rejection
	ErrAuthRejected = errors.New("authentication rejected by server")

	// Subscriptions
	ErrUnknownCategory = errors.New("unknown event category")
	ErrHandlerPanic    = errors.New("event handler panicked")

	// Session lifecycle
	ErrSessionDisposed = errors.New("session disposed")

	// Generic
	ErrNotFound     = errors.New("resource not found")
	ErrInternal     = errors.New("internal server error")
	ErrBadRequest   = errors.New("bad request")
	ErrConflict     = errors.New("resource conflict")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrUnauthorized = errors.New("unauthorized")
)

// Kind classifies a connection failure.
type Kind string

const (
	KindCredential   Kind = "credential"
	KindTransport    Kind = "transport"
	KindProtocol     Kind = "protocol"
	KindAuthRejected Kind = "auth_rejected"
	KindHandler      Kind = "handler"
)

// ConnectionError carries the kind of a lifecycle failure alongside its cause
type ConnectionError struct {
	Kind Kind
	Err  error
}

// NewConnectionError wraps err with kind
func NewConnectionError(kind Kind, err error) *ConnectionError {
	return &ConnectionError{Kind: kind, Err: err}
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the reconnection policy may act on this failure.
// Credential problems need re-authentication and auth rejections are final.
func (e *ConnectionError) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindProtocol:
		return true
	default:
		return false
	}
}

// KindOf returns the kind of err, or "" if it is not a ConnectionError.
func KindOf(err error) Kind {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// AppError wraps errors with additional context for HTTP responses
type AppError struct {
	Err        error  // The underlying error
	Message    string // User-friendly message
	Code       string // Machine-readable error code
	StatusCode int    // HTTP status code
	Details    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error constructors for common cases
func NewBadRequestError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "BAD_REQUEST",
		StatusCode: 400,
	}
}

func NewUnauthorizedError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "UNAUTHORIZED",
		StatusCode: 401,
	}
}

func NewNotFoundError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "NOT_FOUND",
		StatusCode: 404,
	}
}

func NewConflictError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "CONFLICT",
		StatusCode: 409,
	}
}

func NewValidationError(err error, message string, details map[string]interface{}) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		StatusCode: 422,
		Details:    details,
	}
}

func NewUpstreamError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "UPSTREAM_ERROR",
		StatusCode: 502,
	}
}

// ValidationErrors holds multiple field validation errors
type ValidationErrors struct {
	Errors map[string][]string `json:"errors"`
}

func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors: make(map[string][]string),
	}
}

func (v *ValidationErrors) Add(field, message string) {
	v.Errors[field] = append(v.Errors[field], message)
}

func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationErrors) Error() string {
	return fmt.Sprintf("validation failed: %d field(s) have errors", len(v.Errors))
}
