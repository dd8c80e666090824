package http

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	wsAdapter "github.com/lorrc/service-desk-realtime/internal/adapters/primary/websocket"
	"github.com/lorrc/service-desk-realtime/internal/adapters/primary/validation"
)

// WebSocketConfig holds configuration for the events handler
type WebSocketConfig struct {
	AllowedOrigins  []string
	ReadBufferSize  int
	WriteBufferSize int
	IsDevelopment   bool
	Client          wsAdapter.ClientConfig
}

// WebSocketHandler upgrades local viewers onto the event hub.
type WebSocketHandler struct {
	hub          *wsAdapter.Hub
	upgrader     websocket.Upgrader
	clientCfg    wsAdapter.ClientConfig
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewWebSocketHandler creates a new events handler
func NewWebSocketHandler(hub *wsAdapter.Hub, cfg WebSocketConfig, errorHandler *ErrorHandler, logger *slog.Logger) *WebSocketHandler {
	handler := &WebSocketHandler{
		hub:          hub,
		clientCfg:    cfg.Client,
		errorHandler: errorHandler,
		logger:       logger.With("handler", "events"),
	}

	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     handler.makeOriginChecker(cfg),
	}

	return handler
}

// makeOriginChecker creates an origin checking function based on configuration
func (h *WebSocketHandler) makeOriginChecker(cfg WebSocketConfig) func(r *http.Request) bool {
	allowedOrigins := cfg.AllowedOrigins

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// No origin header (same-origin request or non-browser client)
		if origin == "" {
			return true
		}

		if cfg.IsDevelopment {
			h.logger.Warn("allowing websocket connection in development mode",
				"origin", origin,
				"remote_addr", r.RemoteAddr,
			)
			return true
		}

		parsedOrigin, err := url.Parse(origin)
		if err != nil {
			h.logger.Warn("failed to parse websocket origin",
				"origin", origin,
				"error", err,
			)
			return false
		}

		originHost := parsedOrigin.Host

		for _, allowed := range allowedOrigins {
			// Entries may be full origins or bare hosts
			if _, host, ok := strings.Cut(allowed, "://"); ok {
				allowed = host
			}
			// Support wildcard subdomains like "*.example.com"
			if strings.HasPrefix(allowed, "*.") {
				suffix := allowed[1:]
				if strings.HasSuffix(originHost, suffix) || originHost == allowed[2:] {
					return true
				}
			} else if originHost == allowed {
				return true
			}
		}

		h.logger.Warn("websocket connection rejected due to origin",
			"origin", origin,
			"remote_addr", r.RemoteAddr,
			"allowed_origins", allowedOrigins,
		)
		return false
	}
}

// ServeHTTP handles GET /events?categories=a,b
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	categories, err := validation.ParseCategories(r, "categories")
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the response.
		h.logger.Warn("failed to upgrade websocket connection", "error", err)
		return
	}

	client := wsAdapter.NewClient(h.hub, conn, categories, h.clientCfg, h.logger)
	if !client.Start() {
		h.logger.Warn("hub stopped, viewer dropped")
		return
	}

	h.logger.Info("viewer connected",
		"viewer_id", client.ViewerID,
		"remote_addr", r.RemoteAddr,
		"categories", categories,
	)
}
