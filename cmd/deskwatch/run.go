package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	httpAdapter "github.com/lorrc/service-desk-realtime/internal/adapters/primary/http"
	mw "github.com/lorrc/service-desk-realtime/internal/adapters/primary/http/middleware"
	viewer "github.com/lorrc/service-desk-realtime/internal/adapters/primary/websocket"
	"github.com/lorrc/service-desk-realtime/internal/adapters/secondary/restapi"
	wsAdapter "github.com/lorrc/service-desk-realtime/internal/adapters/secondary/websocket"
	"github.com/lorrc/service-desk-realtime/internal/config"
	"github.com/lorrc/service-desk-realtime/internal/core/services"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/clock"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var noStatus bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect and stream events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if noStatus {
				cfg.Status.Enabled = false
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, opts, cfg)
		},
	}

	cmd.Flags().BoolVar(&noStatus, "no-status", false, "do not start the local status server")
	return cmd
}

// sessionConfig maps the file configuration onto the session.
func sessionConfig(cfg *config.Config) services.SessionConfig {
	return services.SessionConfig{
		Manager: services.ManagerConfig{
			Endpoint: cfg.Endpoint(),
			Policy: services.ReconnectPolicy{
				Base:        cfg.Realtime.ReconnectBase,
				MaxAttempts: cfg.Realtime.MaxReconnects,
			},
			HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
			HandshakeTimeout:  cfg.Realtime.HandshakeTimeout,
			AuthCloseCode:     cfg.Realtime.AuthCloseCode,
		},
		MaxNotifications: cfg.Store.MaxNotifications,
		MaxTicketUpdates: cfg.Store.MaxTicketUpdates,
		AuthErrorCodes:   cfg.Realtime.AuthErrorCodes,
		MarkReadRPS:      cfg.Realtime.MarkReadRPS,
		MarkReadBurst:    cfg.Realtime.MarkReadBurst,
	}
}

func run(ctx context.Context, opts *rootOptions, cfg *config.Config) error {
	logger := opts.logger(cfg)
	logger.Info("starting deskwatch",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"config", cfg.String(),
	)

	credentials, err := opts.credentials()
	if err != nil {
		return err
	}

	dialer := wsAdapter.NewDialer(wsAdapter.Config{
		HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
		WriteTimeout:     cfg.Realtime.WriteTimeout,
	}, logger)
	snapshot := restapi.NewClient(restapi.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
	}, logger)

	session, err := services.NewSession(sessionConfig(cfg), dialer, credentials, snapshot, clock.Real(), logger)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Dispose()

	hub := viewer.NewHub(logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)
	for _, sub := range hub.Attach(session) {
		defer sub.Unsubscribe()
	}

	session.Init(ctx)

	if !cfg.Status.Enabled {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		return nil
	}

	var rateLimiter *mw.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = mw.NewRateLimiter(mw.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.BurstSize,
		})
	}

	errorHandler := httpAdapter.NewErrorHandler(logger)
	router := httpAdapter.NewRouter(httpAdapter.RouterConfig{
		Status: httpAdapter.NewStatusHandler(session, errorHandler, logger),
		Health: httpAdapter.NewHealthHandler(session, cfg.App.Version),
		Events: httpAdapter.NewWebSocketHandler(hub, httpAdapter.WebSocketConfig{
			AllowedOrigins: cfg.Status.AllowedOrigins,
			IsDevelopment:  cfg.IsDevelopment(),
			Client: viewer.ClientConfig{
				PongWait:   cfg.Status.PongWait,
				PingPeriod: cfg.Status.PingInterval,
			},
		}, errorHandler, logger),
		RateLimiter:    rateLimiter,
		AllowedOrigins: cfg.Status.AllowedOrigins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         cfg.Status.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Status.ReadTimeout,
		WriteTimeout: cfg.Status.WriteTimeout,
		IdleTimeout:  cfg.Status.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("status server starting", "addr", cfg.Status.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("status server error", "error", err)
			return fmt.Errorf("status server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Status.ShutdownTimeout)
	defer cancel()

	// Viewer connections are hijacked, so Shutdown does not wait for them.
	stopHub()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("status server shutdown error", "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
