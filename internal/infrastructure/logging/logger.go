package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"
)

type contextKey string

const (
	// RequestIDKey is the context key for local status API request IDs
	RequestIDKey contextKey = "request_id"
	// SessionIDKey is the context key for the realtime session ID
	SessionIDKey contextKey = "session_id"
	// ConnectionIDKey is the context key for a single transport's ID
	ConnectionIDKey contextKey = "connection_id"
)

// contextFields are copied onto every record whose context carries them.
var contextFields = []contextKey{RequestIDKey, SessionIDKey, ConnectionIDKey}

// Config holds logger configuration
type Config struct {
	Level       string // debug, info, warn, error
	Format      string // json, text
	Output      io.Writer
	AddSource   bool
	ServiceName string
	Environment string
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// NewLogger builds the process logger. Service metadata is attached once;
// request, session and connection IDs are read from each record's context.
func NewLogger(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:       ParseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: utcTimestamps,
	}

	var base slog.Handler = slog.NewJSONHandler(out, opts)
	if cfg.Format == "text" {
		base = slog.NewTextHandler(out, opts)
	}

	var meta []slog.Attr
	if cfg.ServiceName != "" {
		meta = append(meta, slog.String("service", cfg.ServiceName))
	}
	if cfg.Environment != "" {
		meta = append(meta, slog.String("environment", cfg.Environment))
	}
	if len(meta) > 0 {
		base = base.WithAttrs(meta)
	}

	return slog.New(contextHandler{next: base})
}

func utcTimestamps(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		return slog.String(a.Key, a.Value.Time().UTC().Format(time.RFC3339Nano))
	}
	return a
}

// contextHandler copies correlation IDs from the context onto each record.
type contextHandler struct {
	next slog.Handler
}

func (h contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, key := range contextFields {
		if v := stringValue(ctx, key); v != "" {
			r.AddAttrs(slog.String(string(key), v))
		}
	}
	return h.next.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{next: h.next.WithGroup(name)}
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithSessionID adds a realtime session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithConnectionID adds a transport ID to the context
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, ConnectionIDKey, connectionID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// LoggerFromContext binds the context's correlation IDs to logger, for code
// that logs without passing the context along.
func LoggerFromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	var attrs []any
	for _, key := range contextFields {
		if v := stringValue(ctx, key); v != "" {
			attrs = append(attrs, string(key), v)
		}
	}
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}

// LogPanic logs a recovered value with the current goroutine's stack.
func LogPanic(logger *slog.Logger, panicValue any, attrs ...any) {
	stack := make([]byte, 8<<10)
	stack = stack[:runtime.Stack(stack, false)]

	attrs = append(attrs,
		"panic", panicValue,
		"stack_trace", string(stack),
	)
	logger.Error("panic recovered", attrs...)
}
