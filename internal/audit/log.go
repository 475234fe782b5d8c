package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"practicedesk.io/internal/auth"
	"practicedesk.io/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log line enriched with request and principal context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry["user_id"] = userID
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// LogRecord emits rec as a "document.<action>" audit line.
func LogRecord(ctx context.Context, rec Record) error {
	return LogEvent(ctx, "document."+string(rec.Action), map[string]any{
		"audit_id":    rec.ID,
		"entity_id":   rec.EntityID,
		"entity_type": rec.EntityType,
		"from_status": rec.FromStatus,
		"to_status":   rec.ToStatus,
		"actor_id":    rec.ActorID,
		"note":        rec.Note,
		"version":     rec.Version,
		"revision":    rec.Revision,
	})
}
