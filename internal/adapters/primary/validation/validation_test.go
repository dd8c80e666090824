package validation_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lorrc/service-desk-realtime/internal/adapters/primary/validation"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Token(t *testing.T) {
	tests := []struct {
		name  string
		token string
		valid bool
	}{
		{"three segments", "aaa.bbb.ccc", true},
		{"empty signature", "aaa.bbb.", true},
		{"empty", "", false},
		{"blank", "   ", false},
		{"two segments", "aaa.bbb", false},
		{"four segments", "a.b.c.d", false},
		{"illegal characters", "a$a.bbb.ccc", false},
		{"too long", strings.Repeat("a", validation.MaxTokenLength) + ".b.c", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := validation.NewValidator().Token("token", tt.token)
			assert.Equal(t, !tt.valid, v.HasErrors())
		})
	}
}

func TestValidator_EmailAndOneOf(t *testing.T) {
	v := validation.NewValidator().
		Email("email", "agent@desk.example").
		OneOf("format", "json", []string{"json", "text"})
	assert.False(t, v.HasErrors())

	v = validation.NewValidator().
		Email("email", "not-an-email").
		OneOf("format", "yaml", []string{"json", "text"})
	require.True(t, v.HasErrors())
	assert.Len(t, v.Errors().Errors, 2)
}

func TestDecodeAndValidate(t *testing.T) {
	type body struct {
		Token string `json:"token"`
	}

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"token":"a.b.c"}`))
	got, err := validation.DecodeAndValidate[body](req)
	require.NoError(t, err)
	assert.Equal(t, "a.b.c", got.Token)

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{`))
	_, err = validation.DecodeAndValidate[body](req)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 400, appErr.StatusCode)
}

func TestParseQueryParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=5&unread=true&bad=-3", nil)

	assert.Equal(t, 5, validation.ParseIntQueryParam(req, "limit", 50))
	assert.Equal(t, 50, validation.ParseIntQueryParam(req, "bad", 50))
	assert.Equal(t, 50, validation.ParseIntQueryParam(req, "missing", 50))
	assert.True(t, validation.ParseBoolQueryParam(req, "unread", false))
	assert.False(t, validation.ParseBoolQueryParam(req, "missing", false))
}

func TestParseCategories(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	all, err := validation.ParseCategories(req, "categories")
	require.NoError(t, err)
	assert.Equal(t, domain.Categories, all)

	req = httptest.NewRequest(http.MethodGet, "/events?categories=notification,%20new-ticket,notification", nil)
	some, err := validation.ParseCategories(req, "categories")
	require.NoError(t, err)
	assert.Equal(t, []domain.Category{domain.CategoryNotification, domain.CategoryNewTicket}, some)

	req = httptest.NewRequest(http.MethodGet, "/events?categories=notification,gossip", nil)
	_, err = validation.ParseCategories(req, "categories")
	var verrs *apperrors.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Contains(t, verrs.Errors, "categories")
}
