package restapi_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/lorrc/service-desk-realtime/internal/adapters/secondary/restapi"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "header.payload.signature"

func newClient(t *testing.T, routes func(r chi.Router)) *restapi.Client {
	t.Helper()
	r := chi.NewRouter()
	routes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return restapi.NewClient(restapi.Config{BaseURL: server.URL + "/api/v1/"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func requireBearer(t *testing.T, r *http.Request) {
	t.Helper()
	assert.Equal(t, "Bearer "+token, r.Header.Get("Authorization"))
}

func TestClient_Login(t *testing.T) {
	client := newClient(t, func(r chi.Router) {
		r.Post("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["email"] != "agent@example.com" || body["password"] != "hunter2" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"detail":"Incorrect email or password"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"a.b.c","token_type":"bearer"}`))
		})
	})

	got, err := client.Login(context.Background(), "agent@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "a.b.c", got)

	_, err = client.Login(context.Background(), "agent@example.com", "wrong")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusUnauthorized, appErr.StatusCode)
	assert.Equal(t, "Incorrect email or password", appErr.Message)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestClient_ListNotificationsShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bare array", `[{"id":"n1","title":"One"},{"_id":"n2","title":"Two"},{"title":"no id"}]`},
		{"data wrapper", `{"data":[{"id":"n1","title":"One"},{"_id":"n2","title":"Two"}]}`},
		{"named wrapper", `{"notifications":[{"id":"n1","title":"One"},{"id":"n2","title":"Two"}],"total":2}`},
		{"paginated", `{"data":{"items":[{"id":"n1","title":"One"},{"id":"n2","title":"Two"}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(t, func(r chi.Router) {
				r.Get("/api/v1/notifications/", func(w http.ResponseWriter, r *http.Request) {
					requireBearer(t, r)
					_, _ = w.Write([]byte(tt.body))
				})
			})

			got, err := client.ListNotifications(context.Background(), token)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, domain.ID("n1"), got[0].ID)
			assert.Equal(t, domain.ID("n2"), got[1].ID)
		})
	}
}

func TestClient_ListTickets(t *testing.T) {
	client := newClient(t, func(r chi.Router) {
		r.Get("/api/v1/tickets/", func(w http.ResponseWriter, r *http.Request) {
			requireBearer(t, r)
			_, _ = w.Write([]byte(`{"items":[{"id":7,"subject":"Printer on fire","status":"open"}]}`))
		})
	})

	got, err := client.ListTickets(context.Background(), token)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.ID("7"), got[0].ID)
	assert.Equal(t, "Printer on fire", got[0].Title)
}

func TestClient_MarkAllNotificationsRead(t *testing.T) {
	called := false
	client := newClient(t, func(r chi.Router) {
		r.Post("/api/v1/notifications/mark-all-read", func(w http.ResponseWriter, r *http.Request) {
			requireBearer(t, r)
			called = true
			w.WriteHeader(http.StatusNoContent)
		})
	})

	require.NoError(t, client.MarkAllNotificationsRead(context.Background(), token))
	assert.True(t, called)
}

func TestClient_ErrorStatuses(t *testing.T) {
	client := newClient(t, func(r chi.Router) {
		r.Get("/api/v1/notifications/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"message":"maintenance"}`))
		})
		r.Get("/api/v1/tickets/", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"unexpected":true}`))
		})
	})

	_, err := client.ListNotifications(context.Background(), token)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusBadGateway, appErr.StatusCode)
	assert.Equal(t, "maintenance", appErr.Message)

	_, err = client.ListTickets(context.Background(), token)
	assert.Error(t, err)

	err = client.MarkAllNotificationsRead(context.Background(), token)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusNotFound, appErr.StatusCode)
}
