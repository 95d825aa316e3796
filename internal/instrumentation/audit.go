package instrumentation

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Audit actions.
const (
	ActionAuthorize = "authorize"
	ActionUpload    = "upload"
)

// RelayEvent captures one user-visible relay action for audit logging:
// an authorization code exchange or a file upload.
type RelayEvent struct {
	Action string

	// Upload details (empty for authorize events)
	FileID   string
	FileName string
	MimeType string
	Size     int64

	// Execution details
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	// Tracing context
	TraceID string
	SpanID  string
}

// NewRelayEvent creates a new RelayEvent with timing started.
// Call Complete() when the action finishes.
func NewRelayEvent(action string) *RelayEvent {
	return &RelayEvent{
		Action:    action,
		StartTime: time.Now(),
	}
}

// WithFile sets the uploaded file details.
func (e *RelayEvent) WithFile(name, mimeType string, size int64) *RelayEvent {
	e.FileName = filepath.Base(name)
	e.MimeType = mimeType
	e.Size = size
	return e
}

// WithFileID sets the remote object identifier.
func (e *RelayEvent) WithFileID(id string) *RelayEvent {
	e.FileID = id
	return e
}

// WithSpanContext extracts trace context from the current span.
func (e *RelayEvent) WithSpanContext(ctx context.Context) *RelayEvent {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		e.TraceID = span.SpanContext().TraceID().String()
		e.SpanID = span.SpanContext().SpanID().String()
	}
	return e
}

// Complete marks the event as completed and calculates duration.
func (e *RelayEvent) Complete(success bool, err error) *RelayEvent {
	e.Duration = time.Since(e.StartTime)
	e.Success = success
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// CompleteWithError marks the event as failed with the given error.
func (e *RelayEvent) CompleteWithError(err error) *RelayEvent {
	return e.Complete(false, err)
}

// CompleteSuccess marks the event as successful.
func (e *RelayEvent) CompleteSuccess() *RelayEvent {
	return e.Complete(true, nil)
}

// Status returns "success" or "error" based on the Success field.
func (e *RelayEvent) Status() string {
	if e.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns slog attributes for structured logging. File names are
// client supplied and only included when includeFileNames is set.
func (e *RelayEvent) LogAttrs(includeFileNames bool) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("action", e.Action),
		slog.Duration("duration", e.Duration),
		slog.Bool("success", e.Success),
	}

	if e.FileID != "" {
		attrs = append(attrs, slog.String("file_id", e.FileID))
	}
	if includeFileNames && e.FileName != "" {
		attrs = append(attrs, slog.String("file_name", e.FileName))
	}
	if e.MimeType != "" {
		attrs = append(attrs, slog.String("mime_type", e.MimeType))
	}
	if e.Size > 0 {
		attrs = append(attrs, slog.Int64("size_bytes", e.Size))
	}
	if e.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", e.TraceID))
	}
	if e.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", e.SpanID))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}

	return attrs
}

// AuditLogger provides structured audit logging for relay actions.
// A nil *AuditLogger discards events.
type AuditLogger struct {
	logger           *slog.Logger
	includeFileNames bool
	enabled          bool
}

// NewAuditLogger creates a new AuditLogger with the given slog.Logger.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:           logger.With(slog.String("component", "audit")),
		includeFileNames: config.IncludeFileNames,
		enabled:          config.Enabled,
	}
}

// LogEvent writes the event at info level on success and warn level on failure.
func (al *AuditLogger) LogEvent(e *RelayEvent) {
	if al == nil || !al.enabled || e == nil {
		return
	}

	attrs := e.LogAttrs(al.includeFileNames)
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if e.Success {
		al.logger.Info("relay_"+e.Action+"_succeeded", args...)
	} else {
		al.logger.Warn("relay_"+e.Action+"_failed", args...)
	}
}
