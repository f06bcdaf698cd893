package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// captured is the part of an exported record the tests look at.
type captured struct {
	body     string
	severity otellog.Severity
	attrs    map[string]string
}

type memExporter struct {
	mu      sync.Mutex
	records []captured
}

func (e *memExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		c := captured{body: r.Body().AsString(), severity: r.Severity(), attrs: map[string]string{}}
		r.WalkAttributes(func(kv otellog.KeyValue) bool {
			c.attrs[kv.Key] = kv.Value.String()
			return true
		})
		e.records = append(e.records, c)
	}
	return nil
}

func (e *memExporter) Shutdown(context.Context) error   { return nil }
func (e *memExporter) ForceFlush(context.Context) error { return nil }

func newTestLogger(t *testing.T, level slog.Level) (*slog.Logger, *bytes.Buffer, *memExporter) {
	t.Helper()
	exp := &memExporter{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })

	var buf bytes.Buffer
	text := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})
	return slog.New(NewLogHandler(text, lp, "todosync/test")), &buf, exp
}

func TestLogHandler_WritesBoth(t *testing.T) {
	logger, buf, exp := newTestLogger(t, slog.LevelInfo)

	logger.With("kind", "todos").WithGroup("round").Warn("sync failed", "generation", 3, "retry", true)

	if !strings.Contains(buf.String(), "sync failed") {
		t.Errorf("text output = %q, want message", buf.String())
	}
	if len(exp.records) != 1 {
		t.Fatalf("exported %d records, want 1", len(exp.records))
	}
	got := exp.records[0]
	if got.body != "sync failed" {
		t.Errorf("body = %q, want %q", got.body, "sync failed")
	}
	if got.severity != otellog.SeverityWarn {
		t.Errorf("severity = %v, want warn", got.severity)
	}
	if got.attrs["kind"] != "todos" {
		t.Errorf("kind = %q, want todos", got.attrs["kind"])
	}
	if got.attrs["round.generation"] != "3" || got.attrs["round.retry"] != "true" {
		t.Errorf("grouped attrs = %v", got.attrs)
	}
}

func TestLogHandler_RespectsLevel(t *testing.T) {
	logger, buf, exp := newTestLogger(t, slog.LevelInfo)

	logger.Debug("noise")

	if buf.Len() != 0 {
		t.Errorf("text output = %q, want empty", buf.String())
	}
	if len(exp.records) != 0 {
		t.Errorf("exported %d records, want 0", len(exp.records))
	}
}

func TestLogHandler_NoopProvider(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLogHandler(slog.NewTextHandler(&buf, nil), noop.NewLoggerProvider(), "todosync/test"))
	logger.Info("still written")
	if !strings.Contains(buf.String(), "still written") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  otellog.Severity
	}{
		{slog.LevelDebug, otellog.SeverityDebug},
		{slog.LevelInfo, otellog.SeverityInfo},
		{slog.LevelWarn, otellog.SeverityWarn},
		{slog.LevelError, otellog.SeverityError},
		{slog.LevelError + 4, otellog.SeverityError},
	}
	for _, tt := range tests {
		if got := severity(tt.level); got != tt.want {
			t.Errorf("severity(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestShutdownAll_ReverseOrder(t *testing.T) {
	var order []string
	step := func(name string) closer {
		return closer{name, func(context.Context) error {
			order = append(order, name)
			return nil
		}}
	}
	if err := shutdownAll(context.Background(), []closer{step("conn"), step("traces"), step("logs")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(order, ",") != "logs,traces,conn" {
		t.Errorf("order = %v, want logs,traces,conn", order)
	}
}

func TestNoopShutdown(t *testing.T) {
	if err := noopShutdown(context.Background()); err != nil {
		t.Errorf("noopShutdown = %v, want nil", err)
	}
}
