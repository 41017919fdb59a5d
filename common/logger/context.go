package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so every log line emitted while a record is
// processed carries the event it belongs to without threading it through each call.
type LogFields struct {
	EventID    *string // Platform event ID (dedup key)
	Platform   *string // Source platform name
	StorageKey *string // Queue record storage key
	Attempt    *int    // Processing attempt (1-based)
	AuditID    *int64  // Audit entry ID for this attempt
	Component  string  // Component name (OTel semantic convention style, e.g., "courier.pipeline.driver")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.EventID != nil {
		result.EventID = new.EventID
	}
	if new.Platform != nil {
		result.Platform = new.Platform
	}
	if new.StorageKey != nil {
		result.StorageKey = new.StorageKey
	}
	if new.Attempt != nil {
		result.Attempt = new.Attempt
	}
	if new.AuditID != nil {
		result.AuditID = new.AuditID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{EventID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
