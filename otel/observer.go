// Package otel records toolversions update runs as OpenTelemetry metrics and
// spans.
package otel

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/toolversions/index"
	"github.com/petal-labs/toolversions/updater"
)

// InstrumentationName is the meter and tracer name used by the CLI.
const InstrumentationName = "github.com/petal-labs/toolversions"

// UpdateObserver translates update results into OpenTelemetry signals. It
// keeps one open run span per run ID; tool.fetch spans are its children.
type UpdateObserver struct {
	tracer trace.Tracer
	now    func() time.Time

	requests    metric.Int64Counter
	updates     metric.Int64Counter
	latency     metric.Float64Histogram
	runDuration metric.Float64Histogram

	mu      sync.Mutex
	runs    map[string]trace.Span
	runCtxs map[string]context.Context
}

// NewUpdateObserver creates an observer bound to the provided meter and tracer.
// A nil tracer disables spans.
func NewUpdateObserver(meter metric.Meter, tracer trace.Tracer) (*UpdateObserver, error) {
	requests, err := meter.Int64Counter(
		"toolversions.fetch.requests",
		metric.WithDescription("Number of package index lookups"),
	)
	if err != nil {
		return nil, err
	}
	updates, err := meter.Int64Counter(
		"toolversions.manifest.updates",
		metric.WithDescription("Number of tool versions changed in a written manifest"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"toolversions.fetch.latency",
		metric.WithDescription("Package index lookup latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	runDuration, err := meter.Float64Histogram(
		"toolversions.run.duration",
		metric.WithDescription("Update run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &UpdateObserver{
		tracer:      tracer,
		now:         time.Now,
		requests:    requests,
		updates:     updates,
		latency:     latency,
		runDuration: runDuration,
		runs:        make(map[string]trace.Span),
		runCtxs:     make(map[string]context.Context),
	}, nil
}

// ObserveResult records one lookup.
func (o *UpdateObserver) ObserveResult(ctx context.Context, runID string, result updater.Result) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool", result.Tool),
		attribute.String("status", string(result.Status)),
	}
	if code := index.ErrorCode(result.Err); code != "" {
		attrs = append(attrs, attribute.String("error_code", code))
	}
	options := metric.WithAttributes(attrs...)
	o.requests.Add(ctx, 1, options)
	o.latency.Record(ctx, result.Duration.Seconds(), options)

	if o.tracer == nil {
		return
	}
	end := o.now()
	start := end.Add(-result.Duration)
	parent := o.runContext(runID, start)

	_, span := o.tracer.Start(parent, "tool.fetch",
		trace.WithAttributes(append(attrs,
			attribute.String("toolversions.run_id", runID),
			attribute.String("previous_version", result.Previous),
			attribute.String("version", result.Version),
		)...),
		trace.WithTimestamp(start),
	)
	var fetchErr *index.FetchError
	if errors.As(result.Err, &fetchErr) && fetchErr.StatusCode != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", fetchErr.StatusCode))
	}
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(end))
}

// ObserveRun records the run duration, the number of written updates and
// closes the run span.
func (o *UpdateObserver) ObserveRun(ctx context.Context, report updater.Report) {
	if o == nil {
		return
	}

	o.runDuration.Record(ctx, report.Duration().Seconds(),
		metric.WithAttributes(attribute.String("run_id", report.RunID)))
	if report.Written {
		if n := report.Count(updater.StatusUpdated); n > 0 {
			o.updates.Add(ctx, int64(n))
		}
	}

	if o.tracer == nil {
		return
	}
	o.runContext(report.RunID, report.StartedAt)

	o.mu.Lock()
	span := o.runs[report.RunID]
	delete(o.runs, report.RunID)
	delete(o.runCtxs, report.RunID)
	o.mu.Unlock()

	span.SetAttributes(
		attribute.String("toolversions.manifest", report.Path),
		attribute.Int("toolversions.tools", len(report.Results)),
		attribute.Int("toolversions.updated", report.Count(updater.StatusUpdated)),
		attribute.Int("toolversions.failed", report.Count(updater.StatusFailed)),
		attribute.Bool("toolversions.written", report.Written),
		attribute.Bool("toolversions.dry_run", report.DryRun),
	)
	if report.Err != nil {
		span.RecordError(report.Err)
		span.SetStatus(codes.Error, report.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(report.FinishedAt))
}

// runContext returns the context carrying the run span, starting the span at
// start if this is the first event for runID.
func (o *UpdateObserver) runContext(runID string, start time.Time) context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ctx, ok := o.runCtxs[runID]; ok {
		return ctx
	}
	ctx, span := o.tracer.Start(context.Background(), "toolversions.run",
		trace.WithAttributes(attribute.String("toolversions.run_id", runID)),
		trace.WithTimestamp(start),
	)
	o.runs[runID] = span
	o.runCtxs[runID] = ctx
	return ctx
}

// OpenRuns reports how many run spans are still open.
func (o *UpdateObserver) OpenRuns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs)
}

var _ updater.Observer = (*UpdateObserver)(nil)
