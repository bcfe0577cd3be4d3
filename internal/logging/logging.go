package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"
)

// Setup initializes structured JSON logging at the given level.
// Returns the logger instance.
func Setup(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps debug, info, warn and error to a slog level. Anything
// else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// ProcessingEvent is the audit entry for one anonymization run. It carries
// counts only; detected values and their replacements are never logged.
type ProcessingEvent struct {
	ProcessingID string         `json:"processing_id"`
	SessionID    string         `json:"session_id"`
	Source       string         `json:"source"` // "api", "upload", "cli", "batch"
	FileType     string         `json:"file_type"`
	Status       string         `json:"status"` // "completed", "failed"
	Patterns     int            `json:"patterns"`
	ByType       map[string]int `json:"by_type"`
	Fallbacks    int            `json:"fallbacks"`
	Duration     time.Duration  `json:"duration"`
	Error        string         `json:"error"`
}

// Log writes a processing event to the structured logger
func (e ProcessingEvent) Log(logger *slog.Logger) {
	attrs := []slog.Attr{
		slog.String("processing_id", e.ProcessingID),
		slog.String("status", e.Status),
		slog.Int("patterns", e.Patterns),
		slog.Int64("duration_ms", e.Duration.Milliseconds()),
	}

	if e.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", e.SessionID))
	}
	if e.Source != "" {
		attrs = append(attrs, slog.String("source", e.Source))
	}
	if e.FileType != "" {
		attrs = append(attrs, slog.String("file_type", e.FileType))
	}
	if len(e.ByType) > 0 {
		keys := make([]string, 0, len(e.ByType))
		for k := range e.ByType {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		counts := make([]any, 0, len(keys))
		for _, k := range keys {
			counts = append(counts, slog.Int(k, e.ByType[k]))
		}
		attrs = append(attrs, slog.Group("by_type", counts...))
	}
	if e.Fallbacks > 0 {
		attrs = append(attrs, slog.Int("fallbacks", e.Fallbacks))
	}

	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
		logger.LogAttrs(context.Background(), slog.LevelError, "processing", attrs...)
		return
	}

	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	logger.Info("processing", args...)
}

// RequestEvent is the access-log entry written by the HTTP server.
type RequestEvent struct {
	RequestID  string
	Method     string
	Path       string
	RemoteAddr string
	StatusCode int
	Duration   time.Duration
}

// Log writes a request event to the structured logger
func (e RequestEvent) Log(logger *slog.Logger) {
	logger.Info("request",
		slog.String("request_id", e.RequestID),
		slog.String("method", e.Method),
		slog.String("path", e.Path),
		slog.String("remote_addr", e.RemoteAddr),
		slog.Int("status_code", e.StatusCode),
		slog.Int64("duration_ms", e.Duration.Milliseconds()),
	)
}
