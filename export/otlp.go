package export

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tetherai/tether-go/trace"
)

// OTLPExporter replays a finished trace as OpenTelemetry spans to an
// OTLP gRPC collector.
type OTLPExporter struct {
	provider *sdktrace.TracerProvider
	logger   *zap.Logger
}

// NewOTLPExporter connects to the collector at endpoint ("host:port";
// empty uses the otlptracegrpc default, localhost:4317).
func NewOTLPExporter(endpoint string, logger *zap.Logger) (*OTLPExporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithInsecure()}
	if endpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	return &OTLPExporter{
		provider: sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp)),
		logger:   logger,
	}, nil
}

// Export implements Exporter. Original wall-clock times are preserved
// on the emitted spans.
func (e *OTLPExporter) Export(tr *trace.Trace) error {
	tracer := e.provider.Tracer("tether-go")

	end := time.Now()
	if tr.EndTime != nil {
		end = *tr.EndTime
	}

	ctx, root := tracer.Start(context.Background(), "run",
		oteltrace.WithTimestamp(tr.StartTime),
		oteltrace.WithAttributes(
			attribute.String("tether.run_id", tr.RunID),
			attribute.Float64("tether.budget_usd", tr.BudgetSummary.BudgetUSD),
			attribute.Float64("tether.total_cost", tr.TotalCost()),
			attribute.Int("tether.total_input_tokens", tr.TotalInputTokens()),
			attribute.Int("tether.total_output_tokens", tr.TotalOutputTokens()),
		))

	for _, s := range tr.Spans {
		_, child := tracer.Start(ctx, s.SpanType,
			oteltrace.WithTimestamp(s.Timestamp),
			oteltrace.WithAttributes(
				attribute.String("tether.span_id", s.SpanID),
				attribute.String("tether.model", s.Model),
				attribute.Int("tether.input_tokens", s.InputTokens),
				attribute.Int("tether.output_tokens", s.OutputTokens),
				attribute.Float64("tether.cost_usd", s.CostUSD),
			))
		if s.Status == trace.StatusError {
			child.SetStatus(codes.Error, "call failed")
		}
		child.End(oteltrace.WithTimestamp(s.Timestamp.Add(time.Duration(s.DurationMs * float64(time.Millisecond)))))
	}

	root.End(oteltrace.WithTimestamp(end))

	ctxFlush, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.provider.ForceFlush(ctxFlush); err != nil {
		return fmt.Errorf("flush otlp spans: %w", err)
	}
	return nil
}

// Shutdown releases the collector connection.
func (e *OTLPExporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
