package logger

import (
	"context"
	"reflect"
	"testing"
)

func TestFields(t *testing.T) {
	bg := context.Background()

	tests := []struct {
		name string
		ctx  context.Context
		want []any
	}{
		{"empty", bg, nil},
		{"nil context", nil, nil},
		{"request id", WithRequestID(bg, "r1"), []any{"request_id", "r1"}},
		{"sender", WithSender(bg, "alice"), []any{"sender", "alice"}},
		{"both in fixed order", WithRequestID(WithSender(bg, "alice"), "r1"),
			[]any{"request_id", "r1", "sender", "alice"}},
		{"empty values skipped", WithSender(WithRequestID(bg, ""), ""), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fields(tt.ctx); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Fields() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	if RequestIDFromContext(ctx) != "" || SenderFromContext(ctx) != "" {
		t.Error("empty context should yield empty values")
	}

	ctx = WithRequestID(ctx, "r1")
	ctx = WithSender(ctx, "alice")
	if got := RequestIDFromContext(ctx); got != "r1" {
		t.Errorf("RequestIDFromContext() = %q", got)
	}
	if got := SenderFromContext(ctx); got != "alice" {
		t.Errorf("SenderFromContext() = %q", got)
	}

	// A plain string key with the same text does not collide.
	ctx = context.WithValue(ctx, "request_id", "other") //nolint:staticcheck
	if got := RequestIDFromContext(ctx); got != "r1" {
		t.Errorf("RequestIDFromContext() = %q after string key", got)
	}
}
