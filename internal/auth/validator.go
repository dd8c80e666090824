package auth

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/clock"
)

// Validation is the outcome of checking a credential before it is used.
type Validation struct {
	Valid     bool
	Reason    string
	Err       error
	Subject   string
	ExpiresAt time.Time
}

// TokenValidator checks the shape and expiry of a bearer token without
// verifying its signature; only the server can do that.
type TokenValidator struct {
	clock  clock.Clock
	parser *jwt.Parser
}

func NewTokenValidator(c clock.Clock) *TokenValidator {
	if c == nil {
		c = clock.Real()
	}
	return &TokenValidator{clock: c, parser: jwt.NewParser()}
}

// Validate reports whether token may be used to open a connection.
func (v *TokenValidator) Validate(token string) Validation {
	if token == "" {
		return invalid(apperrors.ErrCredentialMissing, "No token provided")
	}

	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return invalid(apperrors.ErrCredentialFormat,
			fmt.Sprintf("Invalid token format: expected 3 segments, got %d", len(segments)))
	}

	raw, err := v.parser.DecodeSegment(segments[1])
	if err != nil {
		return invalid(apperrors.ErrCredentialPayload, "Token decode error")
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return invalid(apperrors.ErrCredentialPayload, "Token decode error")
	}

	subject := subjectOf(claims)
	if subject == "" {
		return invalid(apperrors.ErrCredentialSubject, "No user ID in token")
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return invalid(apperrors.ErrCredentialPayload, "Token expiry is not a number")
	}

	result := Validation{Valid: true, Subject: subject}
	if exp != nil {
		if !exp.After(v.clock.Now()) {
			return invalid(apperrors.ErrCredentialExpired, "Token expired")
		}
		result.ExpiresAt = exp.Time
	}
	return result
}

func subjectOf(claims jwt.MapClaims) string {
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub
	}
	// Relational backends sometimes put a numeric user id in sub.
	if n, ok := claims["sub"].(float64); ok {
		return fmt.Sprintf("%.0f", n)
	}
	return ""
}

func invalid(err error, reason string) Validation {
	return Validation{Valid: false, Reason: reason, Err: err}
}
