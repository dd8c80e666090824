package http

import (
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

// ErrorResponse is the standard JSON error response format
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ValidationErrorResponse includes field-level validation errors
type ValidationErrorResponse struct {
	Error  string              `json:"error"`
	Code   string              `json:"code"`
	Fields map[string][]string `json:"fields,omitempty"`
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	logger *slog.Logger
}

// NewErrorHandler creates a new error handler with the given logger
func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// errorMapping ties sentinel errors to a response. An empty message means
// the error text itself is safe to return.
type errorMapping struct {
	targets []error
	status  int
	code    string
	message string
}

// domainErrors is checked in order; the first match wins.
var domainErrors = []errorMapping{
	{[]error{apperrors.ErrNoCredential}, http.StatusUnauthorized, "NO_CREDENTIAL", "No credential stored. Log in first."},
	{[]error{
		apperrors.ErrCredentialMissing,
		apperrors.ErrCredentialFormat,
		apperrors.ErrCredentialPayload,
		apperrors.ErrCredentialSubject,
	}, http.StatusUnprocessableEntity, "INVALID_CREDENTIAL", ""},
	{[]error{apperrors.ErrCredentialExpired}, http.StatusUnauthorized, "CREDENTIAL_EXPIRED", "Credential has expired"},
	{[]error{apperrors.ErrUnauthorized, apperrors.ErrAuthRejected}, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required"},
	{[]error{apperrors.ErrNotConnected, apperrors.ErrTransportClosed}, http.StatusConflict, "NOT_CONNECTED", "Realtime connection is not open"},
	{[]error{apperrors.ErrSessionDisposed}, http.StatusServiceUnavailable, "SESSION_DISPOSED", "Session is shutting down"},
	{[]error{apperrors.ErrNotFound}, http.StatusNotFound, "NOT_FOUND", "Resource not found"},
	{[]error{apperrors.ErrUnknownCategory}, http.StatusBadRequest, "VALIDATION_ERROR", ""},
	{[]error{apperrors.ErrRateLimited}, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests"},
}

// Handle writes the response for err and logs it.
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	var validationErrs *apperrors.ValidationErrors
	if errors.As(err, &validationErrs) {
		h.logError(r, http.StatusUnprocessableEntity, err)
		WriteJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
			Error:  "Validation failed",
			Code:   "VALIDATION_ERROR",
			Fields: validationErrs.Errors,
		})
		return
	}

	status, response := h.resolve(err)
	h.logError(r, status, err)
	WriteJSON(w, status, response)
}

func (h *ErrorHandler) resolve(err error) (int, ErrorResponse) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode, ErrorResponse{Error: appErr.Message, Code: appErr.Code, Details: appErr.Details}
	}

	for _, m := range domainErrors {
		for _, target := range m.targets {
			if !errors.Is(err, target) {
				continue
			}
			message := m.message
			if message == "" {
				message = err.Error()
			}
			return m.status, ErrorResponse{Error: message, Code: m.code}
		}
	}

	return http.StatusInternalServerError, ErrorResponse{
		Error: "An unexpected error occurred",
		Code:  "INTERNAL_ERROR",
	}
}

func (h *ErrorHandler) logError(r *http.Request, status int, err error) {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logging.LoggerFromContext(r.Context(), h.logger).Log(r.Context(), level, "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status_code", status,
		"error", err.Error(),
	)
}

// HandleError handles err inline and reports whether there was one.
// Usage: if HandleError(w, r, err, h.errorHandler) { return }
func HandleError(w http.ResponseWriter, r *http.Request, err error, handler *ErrorHandler) bool {
	if err != nil {
		handler.Handle(w, r, err)
		return true
	}
	return false
}
