package sync

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope     = "todosync/sync"
	spanRound     = "sync.round"
	metricRounds  = "todosync.sync.rounds"
	metricPushed  = "todosync.sync.records.pushed"
	metricMerged  = "todosync.sync.records.merged"
	metricBatches = "todosync.sync.batches"
	metricErrors  = "todosync.sync.errors"
)

// instruments are the coordinator's OTel handles. They are always non-nil and
// become no-ops when telemetry is disabled.
type instruments struct {
	tracer     trace.Tracer
	cntRounds  metric.Int64Counter
	cntPushed  metric.Int64Counter
	cntMerged  metric.Int64Counter
	cntBatches metric.Int64Counter
	cntErrors  metric.Int64Counter
}

func newInstruments(logger *slog.Logger) instruments {
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return instruments{
		tracer:     otel.Tracer(otelScope),
		cntRounds:  mustCounter(metricRounds, "Number of sync rounds by result"),
		cntPushed:  mustCounter(metricPushed, "Number of records sent to the server"),
		cntMerged:  mustCounter(metricMerged, "Number of fetched records inserted or overwritten locally"),
		cntBatches: mustCounter(metricBatches, "Number of push batches acknowledged"),
		cntErrors:  mustCounter(metricErrors, "Number of failed sync attempts"),
	}
}

func (in instruments) startRound(ctx context.Context, kind string, dir Direction, gen uint64) (context.Context, trace.Span) {
	return in.tracer.Start(ctx, spanRound, trace.WithAttributes(
		attribute.String("sync.kind", kind),
		attribute.String("sync.direction", dir.String()),
		attribute.Int64("sync.generation", int64(gen)),
	))
}

// recordRound sets span attributes and counters for a finished round. The
// context may already be cancelled; counters are still recorded.
func (in instruments) recordRound(ctx context.Context, span trace.Span, out Outcome) {
	ctx = context.WithoutCancel(ctx)
	kind := attribute.String("kind", out.Kind)
	in.cntRounds.Add(ctx, 1, metric.WithAttributes(kind, attribute.String("result", out.Result.String())))

	merged := out.Stats.Merge.Inserted + out.Stats.Merge.Overwritten
	if merged > 0 {
		in.cntMerged.Add(ctx, int64(merged), metric.WithAttributes(kind))
	}
	if out.Stats.Pushed > 0 {
		in.cntPushed.Add(ctx, int64(out.Stats.Pushed), metric.WithAttributes(kind))
	}
	if out.Stats.Batches > 0 {
		in.cntBatches.Add(ctx, int64(out.Stats.Batches), metric.WithAttributes(kind))
	}

	span.SetAttributes(
		attribute.String("sync.result", out.Result.String()),
		attribute.Int("sync.fetched", out.Stats.Fetched),
		attribute.Int("sync.merged", merged),
		attribute.Int("sync.pushed", out.Stats.Pushed),
		attribute.Int("sync.rejected", out.Stats.Ack.Rejected),
	)
	if out.Result != Success {
		in.countError(ctx, out.Kind, out.Result)
		span.SetStatus(codes.Error, out.Message)
	}
}

func (in instruments) countError(ctx context.Context, kind string, res Result) {
	in.cntErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", res.String()),
	))
}

// clampInterval applies the default for non-positive intervals and caps the
// rest at MaxInterval.
func clampInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultInterval
	}
	return min(d, MaxInterval)
}

// SetAutoSync enables or disables the timer and changes its interval. A
// running [Coordinator.Run] loop picks the change up immediately.
func (c *Coordinator) SetAutoSync(enabled bool, interval time.Duration) {
	c.mu.Lock()
	c.auto = autoSync{enabled: enabled, interval: clampInterval(interval)}
	c.mu.Unlock()

	select {
	case c.reconfigure <- struct{}{}:
	default:
	}
}

func (c *Coordinator) autoSyncConfig() autoSync {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auto
}

// Run drives auto-sync: whenever the interval elapses while auto-sync is
// enabled it requests a Bidirectional round. A tick that arrives while a
// round is running is absorbed silently. Run blocks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		auto := c.autoSyncConfig()

		var (
			timer *time.Timer
			tick  <-chan time.Time
		)
		if auto.enabled {
			timer = time.NewTimer(auto.interval)
			tick = timer.C
			c.log.Debug("auto-sync armed", "interval", auto.interval)
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			c.log.Info("auto-sync shutting down")
			return ctx.Err()
		case <-c.reconfigure:
			stopTimer(timer)
		case <-tick:
			if ctx.Err() != nil {
				continue
			}
			c.start(ctx, Bidirectional, false)
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
