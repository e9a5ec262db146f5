package logger

import "context"

type contextKey int

const (
	requestIDKey contextKey = iota
	senderKey
)

// WithRequestID stores the request ID in ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the stored request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithSender stores the caller principal in ctx.
func WithSender(ctx context.Context, sender string) context.Context {
	return context.WithValue(ctx, senderKey, sender)
}

// SenderFromContext returns the stored caller principal, or "".
func SenderFromContext(ctx context.Context) string {
	s, _ := ctx.Value(senderKey).(string)
	return s
}

// Fields returns the request-scoped key/value pairs stored in ctx, in a
// fixed order.
func Fields(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	var out []any
	if id := RequestIDFromContext(ctx); id != "" {
		out = append(out, "request_id", id)
	}
	if s := SenderFromContext(ctx); s != "" {
		out = append(out, "sender", s)
	}
	return out
}
