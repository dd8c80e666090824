package http

import (
	"net/http"
	"runtime"
	"time"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
)

// ConnectionReporter exposes the realtime connection state to health checks
type ConnectionReporter interface {
	State() domain.ConnectionState
	LastError() string
}

// HealthHandler handles health check requests
type HealthHandler struct {
	conn      ConnectionReporter
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(conn ConnectionReporter, version string) *HealthHandler {
	return &HealthHandler{
		conn:      conn,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Version   string           `json:"version,omitempty"`
	Uptime    string           `json:"uptime,omitempty"`
	Checks    map[string]Check `json:"checks,omitempty"`
}

// Check represents an individual health check result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// RuntimeStats is the process section of the detailed health report.
type RuntimeStats struct {
	Goroutines int    `json:"goroutines"`
	HeapBytes  uint64 `json:"heap_bytes"`
	NumGC      uint32 `json:"num_gc"`
}

// DetailedHealth is the body of GET /health.
type DetailedHealth struct {
	HealthResponse
	RuntimeStats
}

func (h *HealthHandler) report(status string, check Check) HealthResponse {
	return HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    map[string]Check{"realtime": check},
	}
}

// HandleLiveness reports that the process is running.
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness reports healthy only while the realtime connection is open.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	check := h.checkRealtime()
	code := http.StatusOK
	if check.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, h.report(check.Status, check))
}

// HandleHealth always answers 200; a lost connection shows up as "degraded"
// because the local surfaces keep serving cached state.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	check := h.checkRealtime()
	status := "healthy"
	if check.Status != "healthy" {
		status = "degraded"
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	WriteJSON(w, http.StatusOK, DetailedHealth{
		HealthResponse: h.report(status, check),
		RuntimeStats: RuntimeStats{
			Goroutines: runtime.NumGoroutine(),
			HeapBytes:  mem.HeapAlloc,
			NumGC:      mem.NumGC,
		},
	})
}

func (h *HealthHandler) checkRealtime() Check {
	if h.conn == nil {
		return Check{Status: "unhealthy", Message: "Session not configured"}
	}

	state := h.conn.State()
	if state == domain.StateConnected {
		return Check{Status: "healthy", Message: string(state)}
	}

	message := string(state)
	if lastErr := h.conn.LastError(); lastErr != "" {
		message += ": " + lastErr
	}
	return Check{Status: "unhealthy", Message: message}
}
