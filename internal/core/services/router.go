package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

// connectionSink receives the frames that drive the connection lifecycle.
// The connection manager hands the router one sink per transport.
type connectionSink interface {
	handshakeConfirmed(info domain.SessionInfo)
	serverError(e domain.ServerError, authFailure bool)
}

// Router decodes inbound frames, updates the store and fans out to
// subscribers. Frames are routed one at a time in arrival order.
type Router struct {
	store     *EventStore
	registry  *Registry
	authCodes []int
	logger    *slog.Logger
}

// NewRouter creates a router. authCodes lists error frame codes that count
// as authentication failures.
func NewRouter(store *EventStore, registry *Registry, authCodes []int, logger *slog.Logger) *Router {
	return &Router{
		store:     store,
		registry:  registry,
		authCodes: append([]int(nil), authCodes...),
		logger:    logger.With("component", "router"),
	}
}

// Route handles one raw frame. Bad frames are logged and dropped.
func (r *Router) Route(ctx context.Context, sink connectionSink, raw []byte) {
	logger := logging.LoggerFromContext(ctx, r.logger)

	frame, err := domain.DecodeFrame(raw)
	if err != nil {
		logger.Warn("dropping undecodable frame", "error", err, "size", len(raw))
		return
	}

	logger.Debug("frame received", "type", frame.Type)

	switch frame.Type {
	case domain.FrameConnectionEstablished:
		var info domain.SessionInfo
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &info); err != nil {
				logger.Debug("handshake payload not understood", "error", err)
			}
		}
		sink.handshakeConfirmed(info)

	case domain.FrameError:
		serverErr := domain.ParseServerError(frame.Data)
		authFailure := serverErr.IsAuthFailure(r.authCodes)
		logger.Warn("server error frame",
			"message", serverErr.Message,
			"code", serverErr.Code.String(),
			"auth_failure", authFailure,
		)
		sink.serverError(serverErr, authFailure)

	case domain.FrameNotification:
		n, err := domain.ParseNotification(frame.Data)
		if err != nil {
			logger.Warn("dropping notification", "error", err)
			return
		}
		if !r.store.AddNotification(n) {
			logger.Debug("duplicate notification", "notification_id", n.ID.String())
		}
		r.registry.Emit(domain.CategoryNotification, n)

	case domain.FrameTicketUpdate:
		u, err := domain.ParseTicketUpdate(frame.Data, frame.TicketID, frame.Timestamp)
		if err != nil {
			logger.Warn("dropping ticket update", "error", err)
			return
		}
		if !r.store.AddTicketUpdate(u) {
			logger.Debug("ticket update already stored", "ticket_id", u.TicketID.String())
		}
		r.registry.Emit(domain.CategoryTicketUpdate, u)

	case domain.FrameNewTicket:
		alert, err := domain.ParseNewTicket(frame.Data)
		if err != nil {
			logger.Warn("dropping new ticket alert", "error", err)
			return
		}
		r.registry.Emit(domain.CategoryNewTicket, alert)

	case domain.FrameNotificationReadConfirmed:
		var confirmation domain.ReadConfirmation
		if err := json.Unmarshal(frame.Data, &confirmation); err != nil || confirmation.NotificationID.IsZero() {
			logger.Warn("dropping read confirmation without notification id")
			return
		}
		if !r.store.MarkNotificationRead(confirmation.NotificationID) {
			logger.Debug("read confirmation for unknown notification",
				"notification_id", confirmation.NotificationID.String())
		}

	case domain.FramePong:
		logger.Debug("pong received", "timestamp", frame.Timestamp.Time)

	default:
		logger.Info("ignoring unknown frame type", "type", frame.Type)
	}
}
