package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
)

// DefaultTimeout applies when Config.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 512

// Config holds REST collaborator settings
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the help desk REST API for login and snapshots.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ ports.SnapshotClient = (*Client)(nil)

// NewClient creates a client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "rest_client"),
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
}

// Login exchanges email and password for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/auth/login", "", loginRequest{Email: email, Password: password})
	if err != nil {
		return "", err
	}

	var resp loginResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	token := resp.AccessToken
	if token == "" {
		token = resp.Token
	}
	if token == "" {
		return "", apperrors.NewUpstreamError(apperrors.ErrNoCredential, "login response carried no token")
	}
	return token, nil
}

// ListNotifications fetches the user's notifications. Entries without an
// id are skipped.
func (c *Client) ListNotifications(ctx context.Context, token string) ([]domain.Notification, error) {
	items, err := c.list(ctx, "/notifications/", token, "notifications")
	if err != nil {
		return nil, err
	}

	out := make([]domain.Notification, 0, len(items))
	for _, raw := range items {
		n, err := domain.ParseNotification(raw)
		if err != nil {
			c.logger.Debug("skipping notification", "error", err)
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// ListTickets fetches the ticket list.
func (c *Client) ListTickets(ctx context.Context, token string) ([]domain.TicketSummary, error) {
	items, err := c.list(ctx, "/tickets/", token, "tickets")
	if err != nil {
		return nil, err
	}

	out := make([]domain.TicketSummary, 0, len(items))
	for _, raw := range items {
		t, err := domain.ParseTicketSummary(raw)
		if err != nil {
			c.logger.Debug("skipping ticket", "error", err)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// MarkAllNotificationsRead calls the bulk read endpoint.
func (c *Client) MarkAllNotificationsRead(ctx context.Context, token string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/notifications/mark-all-read", token, nil)
	return err
}

// list fetches a collection that may come back as a bare array or wrapped
// in an object under data, items or the collection's own name.
func (c *Client) list(ctx context.Context, path, token, name string) ([]json.RawMessage, error) {
	data, err := c.doRequest(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}
	items, err := unwrapList(data, name)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return items, nil
}

func unwrapList(data []byte, name string) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var items []json.RawMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
		return items, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	for _, key := range []string{"data", "items", name} {
		inner, ok := wrapper[key]
		if !ok {
			continue
		}
		inner = bytes.TrimSpace(inner)
		if len(inner) > 0 && inner[0] == '{' {
			// paginated payloads nest the list one level deeper
			return unwrapList(inner, name)
		}
		if err := json.Unmarshal(inner, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	return nil, errors.New("no list in response")
}

func (c *Client) doRequest(ctx context.Context, method, path, token string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewUpstreamError(err, "help desk API unreachable")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.NewUnauthorizedError(apperrors.ErrUnauthorized, errorMessage(data, "credential rejected by help desk API"))
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.NewNotFoundError(apperrors.ErrNotFound, errorMessage(data, path+" not found"))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, apperrors.NewUpstreamError(
			fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode),
			errorMessage(data, fmt.Sprintf("help desk API returned %d", resp.StatusCode)),
		)
	}
	return data, nil
}

// errorMessage pulls a human readable message out of an error body.
func errorMessage(body []byte, fallback string) string {
	var probe struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	if err := json.Unmarshal(body, &probe); err == nil {
		for _, msg := range []string{probe.Detail, probe.Message, probe.Error} {
			if msg != "" {
				return msg
			}
		}
	}
	return fallback
}
