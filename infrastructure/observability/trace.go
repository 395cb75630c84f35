package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/search"
)

// TracerName is the instrumentation scope of every span the module starts.
const TracerName = "github.com/felixgeelhaar/approxcount"

// Span names.
const (
	SpanEstimate = "approxcount.estimate"
	SpanPass     = "approxcount.pass"
	SpanTrials   = "approxcount.trials"
)

// StartSpan starts an internal span with attrs.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TaskAttributes describes a sampling task.
func TaskAttributes(task counting.SamplingTask) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("task.oracle", task.Oracle),
		attribute.String("task.method", string(task.Method)),
		attribute.String("task.level", task.Level),
		attribute.Int("task.amplification", task.Amplification),
		attribute.Int("task.replication", task.Replication),
	}
}

// IntervalAttributes describes an edge interval.
func IntervalAttributes(iv counting.EdgeInterval) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("interval.lower", iv.Lower.FloatString(4)),
		attribute.String("interval.upper", iv.Upper.FloatString(4)),
		attribute.String("interval.confidence", iv.Confidence.FloatString(6)),
		attribute.Bool("interval.bounded", iv.Bounded),
	}
}

// SpanObserver returns a search observer that adds an event to span for
// every phase change and decision.
func SpanObserver(span trace.Span) search.Observer {
	return spanObserver{span: span}
}

type spanObserver struct {
	span trace.Span
}

func (o spanObserver) PhaseChanged(from, to search.Phase) {
	o.span.AddEvent("phase_changed", trace.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func (o spanObserver) Decided(d search.Decision) {
	o.span.AddEvent("decided", trace.WithAttributes(
		attribute.String("level", d.Level.String()),
		attribute.Bool("verdict", d.Verdict),
		attribute.String("source", string(d.Source)),
		attribute.String("range_size", d.RangeSize.String()),
	))
}
