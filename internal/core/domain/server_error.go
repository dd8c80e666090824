package domain

import (
	"encoding/json"
	"strconv"
)

// AuthFailureKind tags an error frame as an authentication failure.
const AuthFailureKind = "auth"

// ServerError is the payload of an error frame.
type ServerError struct {
	Message string `json:"message"`
	Code    ID     `json:"code,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// ParseServerError decodes an error payload. A missing or odd payload
// still yields a usable error.
func ParseServerError(raw json.RawMessage) ServerError {
	var e ServerError
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e); err != nil {
			e = ServerError{}
		}
	}
	if e.Message == "" {
		e.Message = "unknown server error"
	}
	return e
}

// IsAuthFailure reports whether the error ends the session for good. The
// explicit kind tag wins; a numeric code in authCodes also counts.
func (e ServerError) IsAuthFailure(authCodes []int) bool {
	if e.Kind == AuthFailureKind {
		return true
	}
	for _, code := range authCodes {
		if e.Code.String() == strconv.Itoa(code) {
			return true
		}
	}
	return false
}

// Error implements error
func (e ServerError) Error() string {
	if e.Code.IsZero() {
		return "server error: " + e.Message
	}
	return "server error " + e.Code.String() + ": " + e.Message
}
