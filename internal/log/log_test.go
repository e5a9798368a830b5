package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoggerStampsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Component: ComponentWorker, Output: &buf})

	logger.Info("handled", FieldEventID, "evt-1")
	logger.WithComponent(ComponentAMQP).Debug("acked")

	out := buf.String()
	if !strings.Contains(out, "component=worker") || !strings.Contains(out, "event_id=evt-1") {
		t.Errorf("missing worker fields in %q", out)
	}
	if !strings.Contains(out, "component=amqp") {
		t.Errorf("missing amqp component in %q", out)
	}
}

func TestFromContext(t *testing.T) {
	logger := New(DefaultConfig()).WithComponent(ComponentCompactor)
	ctx := WithLogger(context.Background(), logger)
	if got := FromContext(ctx).Component(); got != ComponentCompactor {
		t.Errorf("component = %q", got)
	}
	if got := FromContext(context.Background()).Component(); got != "unknown" {
		t.Errorf("fallback component = %q", got)
	}
}

func TestLogFields(t *testing.T) {
	f := NewFields().
		WithOperation(OpApplyExpense).
		WithTarget("households/h1/categories/food", map[string]string{"uid": "u1"}).
		WithError(errors.New("boom")).
		WithError(nil)

	if f[FieldOperation] != OpApplyExpense || f[FieldPath] != "households/h1/categories/food" {
		t.Errorf("fields = %v", f)
	}
	if f[FieldError] != "boom" {
		t.Errorf("error field = %v", f[FieldError])
	}
	if len(f.ToSlice()) != 2*len(f) {
		t.Errorf("ToSlice length mismatch")
	}
}
