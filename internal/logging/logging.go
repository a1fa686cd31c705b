// Package logging provides the three structured log streams used across the
// streaming server: access (authenticated request activity), error (failures
// surfaced to the error taxonomy), and system (everything else — startup,
// capture, signaling, recording lifecycle).
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent = "component"
	KeyUser      = "user"
	KeyAction    = "action"
	KeyRemoteIP  = "remoteIp"
	KeyRequestID = "requestId"
	KeyError     = "error"
)

type contextKey struct{}

// switchableHandler lets package-level loggers created before Init() pick up
// the configured handler once Init runs.
type switchableHandler struct {
	state  *switchableState
	attrs  []slog.Attr
	groups []string
}

type switchableState struct {
	current atomic.Value // stores slog.Handler
}

func newSwitchableHandler(h slog.Handler) *switchableHandler {
	state := &switchableState{}
	state.current.Store(h)
	return &switchableHandler{state: state}
}

func (h *switchableHandler) set(handler slog.Handler) {
	h.state.current.Store(handler)
}

func (h *switchableHandler) base() slog.Handler {
	return h.state.current.Load().(slog.Handler)
}

func (h *switchableHandler) materialize() slog.Handler {
	handler := h.base()
	for _, group := range h.groups {
		handler = handler.WithGroup(group)
	}
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	return handler
}

func (h *switchableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.materialize().Enabled(ctx, level)
}

func (h *switchableHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.materialize().Handle(ctx, record)
}

func (h *switchableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)

	groups := make([]string, len(h.groups))
	copy(groups, h.groups)

	return &switchableHandler{state: h.state, attrs: merged, groups: groups}
}

func (h *switchableHandler) WithGroup(name string) slog.Handler {
	attrs := make([]slog.Attr, len(h.attrs))
	copy(attrs, h.attrs)

	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)

	return &switchableHandler{state: h.state, attrs: attrs, groups: groups}
}

var (
	systemHandler = newSwitchableHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	systemLogger  = slog.New(systemHandler)

	accessHandler = newSwitchableHandler(slog.NewJSONHandler(io.Discard, nil))
	accessLogger  = slog.New(accessHandler)

	errorHandler = newSwitchableHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	errorLogger  = slog.New(errorHandler)

	streamsMu sync.Mutex
	writers   []*RotatingWriter
)

func init() {
	slog.SetDefault(systemLogger)
}

// Streams bundles the three rotating writers backing the logger, so callers
// can flush or close them together at shutdown.
type Streams struct {
	Access *RotatingWriter
	Error  *RotatingWriter
	System *RotatingWriter
}

// Init wires the access/error/system streams to size-rotated files under dir,
// with a console sink attached to the system stream. format is "json" or
// "text" (default "text"); level gates the system stream, while the error
// stream always records warn and above.
func Init(dir, format, level string, maxSizeMB, maxBackups int) (*Streams, error) {
	accessFile, err := NewRotatingWriter(filepath.Join(dir, "access.log"), maxSizeMB, maxBackups)
	if err != nil {
		return nil, fmt.Errorf("open access log: %w", err)
	}
	errorFile, err := NewRotatingWriter(filepath.Join(dir, "error.log"), maxSizeMB, maxBackups)
	if err != nil {
		return nil, fmt.Errorf("open error log: %w", err)
	}
	systemFile, err := NewRotatingWriter(filepath.Join(dir, "system.log"), maxSizeMB, maxBackups)
	if err != nil {
		return nil, fmt.Errorf("open system log: %w", err)
	}

	lvl := parseLevel(level)
	newHandler := func(w io.Writer, lvl slog.Level) slog.Handler {
		opts := &slog.HandlerOptions{Level: lvl}
		if strings.EqualFold(format, "json") {
			return slog.NewJSONHandler(w, opts)
		}
		return slog.NewTextHandler(w, opts)
	}

	accessHandler.set(newHandler(accessFile, slog.LevelInfo))
	errorHandler.set(newHandler(TeeWriter(errorFile, os.Stderr), slog.LevelWarn))
	systemHandler.set(newHandler(TeeWriter(systemFile, os.Stdout), lvl))

	streamsMu.Lock()
	writers = []*RotatingWriter{accessFile, errorFile, systemFile}
	streamsMu.Unlock()

	return &Streams{Access: accessFile, Error: errorFile, System: systemFile}, nil
}

// Close flushes and closes the rotating log files registered by Init.
func Close() error {
	streamsMu.Lock()
	defer streamsMu.Unlock()
	var firstErr error
	for _, w := range writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// L returns a system-stream logger tagged with the given component name.
func L(component string) *slog.Logger {
	return systemLogger.With(slog.String(KeyComponent, component))
}

// Access returns the access-stream logger, used for one line per
// authenticated request: {timestamp, user, action, remoteIp, details}.
func Access() *slog.Logger {
	return accessLogger
}

// AccessEvent writes a single access-log record.
func AccessEvent(user, action, remoteIP string, details map[string]any) {
	attrs := []any{
		slog.String(KeyUser, user),
		slog.String(KeyAction, action),
		slog.String(KeyRemoteIP, remoteIP),
	}
	if len(details) > 0 {
		attrs = append(attrs, slog.Any("details", details))
	}
	accessLogger.Info("request", attrs...)
}

// Error returns the error-stream logger.
func Error() *slog.Logger {
	return errorLogger
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the system logger.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return systemLogger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
