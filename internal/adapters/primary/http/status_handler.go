package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/lorrc/service-desk-realtime/internal/adapters/primary/validation"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// StatusHandler exposes the realtime session to local tools.
type StatusHandler struct {
	session      ports.RealtimeSession
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(session ports.RealtimeSession, errorHandler *ErrorHandler, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		session:      session,
		errorHandler: errorHandler,
		logger:       logger.With("handler", "status"),
	}
}

// Router sets up a new chi Router for the session routes.
func (h *StatusHandler) Router() http.Handler {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes sets up the routing for all session endpoints.
func (h *StatusHandler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.HandleStatus)
	r.Get("/debug", h.HandleDebug)

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.HandleListNotifications)
		r.Post("/read-all", h.HandleMarkAllRead)
		r.Post("/{notificationID}/read", h.HandleMarkRead)
	})
	r.Get("/ticket-updates", h.HandleListTicketUpdates)
	r.Post("/snapshot", h.HandleSnapshot)

	r.Route("/connection", func(r chi.Router) {
		r.Post("/connect", h.HandleConnect)
		r.Post("/disconnect", h.HandleDisconnect)
		r.Post("/reconnect", h.HandleReconnect)
	})

	r.Put("/credential", h.HandleStoreCredential)
	r.Delete("/credential", h.HandleClearCredential)
}

// --- Request/Response DTOs ---

// StoreCredentialRequest defines the expected JSON body for PUT /credential
type StoreCredentialRequest struct {
	Token string `json:"token"`
}

// Validate validates the credential request
func (r *StoreCredentialRequest) Validate() error {
	token := strings.TrimSpace(r.Token)
	v := validation.NewValidator().
		Token("token", r.Token).
		Custom("token", !strings.HasPrefix(strings.ToLower(token), "bearer "), `Send the token without the "Bearer" prefix`)
	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// StatusDTO is the compact connection summary.
type StatusDTO struct {
	State       domain.ConnectionState `json:"state"`
	Connected   bool                   `json:"connected"`
	LastError   string                 `json:"lastError,omitempty"`
	UnreadCount int                    `json:"unreadCount"`
}

func (h *StatusHandler) status() StatusDTO {
	state := h.session.State()
	return StatusDTO{
		State:       state,
		Connected:   state == domain.StateConnected,
		LastError:   h.session.LastError(),
		UnreadCount: h.session.UnreadCount(),
	}
}

// --- Handlers ---

// HandleStatus handles GET /status
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.status())
}

// HandleDebug handles GET /debug
func (h *StatusHandler) HandleDebug(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.session.DebugInfo())
}

// HandleListNotifications handles GET /notifications?unread=&limit=
func (h *StatusHandler) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	unreadOnly := validation.ParseBoolQueryParam(r, "unread", false)
	limit := listLimit(r)

	all := h.session.Notifications()
	out := make([]domain.Notification, 0, min(len(all), limit))
	for _, n := range all {
		if len(out) == limit {
			break
		}
		if unreadOnly && n.IsRead {
			continue
		}
		out = append(out, n)
	}

	WriteList(w, out)
}

// HandleListTicketUpdates handles GET /ticket-updates?limit=
func (h *StatusHandler) HandleListTicketUpdates(w http.ResponseWriter, r *http.Request) {
	updates := h.session.TicketUpdates()
	if limit := listLimit(r); len(updates) > limit {
		updates = updates[:limit]
	}
	WriteList(w, updates)
}

// HandleMarkRead handles POST /notifications/{notificationID}/read. The
// notification is only marked once the server confirms, hence 202.
func (h *StatusHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "notificationID"))

	if err := h.session.MarkNotificationAsRead(r.Context(), domain.ID(id)); HandleError(w, r, err, h.errorHandler) {
		return
	}

	WriteAccepted(w, "Read request sent")
}

// HandleMarkAllRead handles POST /notifications/read-all
func (h *StatusHandler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := h.session.MarkAllNotificationsRead(r.Context()); HandleError(w, r, err, h.errorHandler) {
		return
	}

	WriteSuccess(w, h.status())
}

// HandleSnapshot handles POST /snapshot. It seeds the feed over REST and
// returns the ticket list.
func (h *StatusHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.session.LoadSnapshot(r.Context())
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	WriteList(w, tickets)
}

// HandleConnect handles POST /connection/connect
func (h *StatusHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	h.session.Connect(r.Context())
	WriteJSON(w, http.StatusAccepted, SuccessResponse{Data: h.status()})
}

// HandleDisconnect handles POST /connection/disconnect
func (h *StatusHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	h.session.Disconnect()
	WriteSuccess(w, h.status())
}

// HandleReconnect handles POST /connection/reconnect
func (h *StatusHandler) HandleReconnect(w http.ResponseWriter, r *http.Request) {
	h.session.ForceReconnect(r.Context())
	WriteJSON(w, http.StatusAccepted, SuccessResponse{Data: h.status()})
}

// HandleStoreCredential handles PUT /credential
func (h *StatusHandler) HandleStoreCredential(w http.ResponseWriter, r *http.Request) {
	req, err := validation.DecodeAndValidate[StoreCredentialRequest](r)
	if HandleError(w, r, err, h.errorHandler) {
		return
	}
	if HandleError(w, r, req.Validate(), h.errorHandler) {
		return
	}

	if err := h.session.StoreCredential(r.Context(), strings.TrimSpace(req.Token)); HandleError(w, r, err, h.errorHandler) {
		return
	}

	h.logger.Info("credential replaced")
	WriteJSON(w, http.StatusAccepted, SuccessResponse{Data: h.status()})
}

// HandleClearCredential handles DELETE /credential
func (h *StatusHandler) HandleClearCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.session.ClearCredential(r.Context()); HandleError(w, r, err, h.errorHandler) {
		return
	}

	h.logger.Info("credential cleared")
	WriteNoContent(w)
}

func listLimit(r *http.Request) int {
	limit := validation.ParseIntQueryParam(r, "limit", defaultListLimit)
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}
