package telemetry

import (
	"context"
	"log/slog"

	otellog "go.opentelemetry.io/otel/log"
)

// LogHandler writes every record to next and emits a copy through an OTel
// logger. With the global no-op provider the second write is free, so the
// handler can be installed whether or not telemetry is configured.
type LogHandler struct {
	next   slog.Handler
	logger otellog.Logger
	attrs  []otellog.KeyValue
	group  string
}

// NewLogHandler wraps next. Records are emitted under the instrumentation
// scope name on provider.
func NewLogHandler(next slog.Handler, provider otellog.LoggerProvider, scope string) *LogHandler {
	return &LogHandler{next: next, logger: provider.Logger(scope)}
}

// Enabled reports the wrapped handler's level decision.
func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle forwards r to the wrapped handler, then to OTel.
func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.next.Handle(ctx, r)

	var rec otellog.Record
	rec.SetTimestamp(r.Time)
	rec.SetBody(otellog.StringValue(r.Message))
	rec.SetSeverity(severity(r.Level))
	rec.SetSeverityText(r.Level.String())
	rec.AddAttributes(h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		rec.AddAttributes(h.convert(a))
		return true
	})
	h.logger.Emit(ctx, rec)

	return err
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = append([]otellog.KeyValue(nil), h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, h.convert(a))
	}
	return &clone
}

// WithGroup returns a handler that qualifies later keys with name.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.next = h.next.WithGroup(name)
	clone.group = h.key(name)
	return &clone
}

func (h *LogHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func (h *LogHandler) convert(a slog.Attr) otellog.KeyValue {
	k := h.key(a.Key)
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return otellog.String(k, v.String())
	case slog.KindInt64:
		return otellog.Int64(k, v.Int64())
	case slog.KindUint64:
		return otellog.Int64(k, int64(v.Uint64()))
	case slog.KindFloat64:
		return otellog.Float64(k, v.Float64())
	case slog.KindBool:
		return otellog.Bool(k, v.Bool())
	default:
		return otellog.String(k, v.String())
	}
}

func severity(l slog.Level) otellog.Severity {
	switch {
	case l >= slog.LevelError:
		return otellog.SeverityError
	case l >= slog.LevelWarn:
		return otellog.SeverityWarn
	case l >= slog.LevelInfo:
		return otellog.SeverityInfo
	default:
		return otellog.SeverityDebug
	}
}
