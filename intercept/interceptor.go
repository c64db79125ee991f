package intercept

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tetherai/tether-go/budget"
	"github.com/tetherai/tether-go/internal/metrics"
	"github.com/tetherai/tether-go/pricing"
	"github.com/tetherai/tether-go/tokenizer"
	"github.com/tetherai/tether-go/trace"
	"github.com/tetherai/tether-go/types"
)

// Call describes one outbound metered call about to be made.
type Call struct {
	Model    string
	Messages []types.Message
	// ParentSpanID links the produced span into an enclosing span.
	ParentSpanID string
}

// Invoker is the opaque wrapped operation. The interceptor does not
// care whether the work behind it runs inline, on a goroutine, or is
// awaited elsewhere, only that it returns a result or an error.
type Invoker func(ctx context.Context) (any, error)

// TextResponse is optionally implemented by responses that can expose
// their output text for span previews.
type TextResponse interface {
	OutputText() string
}

// Process-wide activation guard. Interception wraps a shared call
// boundary, so at most one interceptor may be active per process; a
// second activation fails fast instead of double-wrapping.
var (
	activeMu    sync.Mutex
	activeOwner *Interceptor
)

// Interceptor orchestrates one metered call: estimate, admission check,
// invoke, classify the outcome, commit, emit a span.
type Interceptor struct {
	tracker   *budget.Tracker
	counter   *tokenizer.Counter
	pricing   *pricing.Registry
	collector *trace.Collector

	outputRatio float64
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithOutputEstimateRatio sets the projected output tokens per input
// token used for admission estimates. True output size is unknown
// pre-call; this heuristic is a tunable, not a calibrated constant.
// The default 0 charges admission on input cost alone.
func WithOutputEstimateRatio(ratio float64) Option {
	return func(i *Interceptor) { i.outputRatio = ratio }
}

// WithMetrics attaches a prometheus collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(i *Interceptor) { i.metrics = m }
}

// WithLogger sets the interceptor logger.
func WithLogger(logger *zap.Logger) Option {
	return func(i *Interceptor) { i.logger = logger }
}

// New creates an interceptor bound to one run's components.
func New(tracker *budget.Tracker, counter *tokenizer.Counter, registry *pricing.Registry, collector *trace.Collector, opts ...Option) *Interceptor {
	i := &Interceptor{
		tracker:   tracker,
		counter:   counter,
		pricing:   registry,
		collector: collector,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Activate claims the process-wide interception slot.
func (i *Interceptor) Activate() error {
	activeMu.Lock()
	defer activeMu.Unlock()
	if activeOwner != nil {
		return types.NewError(types.ErrInterceptorActive, "interceptor is already active")
	}
	activeOwner = i
	return nil
}

// Deactivate releases the slot. It is idempotent and a no-op when a
// different interceptor owns the slot.
func (i *Interceptor) Deactivate() {
	activeMu.Lock()
	defer activeMu.Unlock()
	if activeOwner == i {
		activeOwner = nil
	}
}

// Active reports whether this interceptor holds the slot.
func (i *Interceptor) Active() bool {
	activeMu.Lock()
	defer activeMu.Unlock()
	return activeOwner == i
}

// Intercept runs one metered call through the pipeline. On an admission
// failure the error propagates immediately: no span is recorded and the
// invocation never happens. A failure from the wrapped operation itself
// propagates unchanged, is recorded as an error span, and is not
// charged to the ledger. No lock is held while the invocation runs.
func (i *Interceptor) Intercept(ctx context.Context, call Call, invoke Invoker) (any, error) {
	start := time.Now()

	inputTokens := i.estimateInputTokens(call)
	estimatedCost := i.estimateAdmissionCost(call.Model, inputTokens)

	if err := i.tracker.PreCheck(estimatedCost, call.Model); err != nil {
		if i.metrics != nil {
			i.metrics.RecordRejection("budget")
		}
		return nil, err
	}

	span := trace.NewSpan(i.tracker.RunID())
	span.ParentSpanID = call.ParentSpanID
	span.Model = call.Model
	span.InputTokens = inputTokens
	if len(call.Messages) > 0 {
		span.SetInputPreview(call.Messages[0].Content)
	}
	i.collector.AddSpan(span)

	response, err := invoke(ctx)
	durationMs := float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		span.Status = trace.StatusError
		span.DurationMs = durationMs
		if i.metrics != nil {
			i.metrics.RecordCall(call.Model, "error", 0, 0, 0, durationMs/1000)
		}
		return nil, err
	}

	actualInput, outputTokens := i.resolveUsage(response, inputTokens)
	costUSD := i.actualCost(call.Model, actualInput, outputTokens)

	span.InputTokens = actualInput
	span.OutputTokens = outputTokens
	span.CostUSD = costUSD
	span.DurationMs = durationMs
	span.Status = trace.StatusOK
	if text, ok := response.(TextResponse); ok {
		span.SetOutputPreview(text.OutputText())
	}

	if err := i.tracker.RecordCall(actualInput, outputTokens, call.Model, costUSD, durationMs); err != nil {
		// The call happened; the span stays in the trace. Only the
		// ledger remains untouched by the failed commit.
		return response, err
	}
	i.publishCommit(call.Model, actualInput, outputTokens, costUSD, durationMs)

	return response, nil
}

// TrackCall commits already-known usage through the same
// pre-check/commit/span sequence, without an invocation step.
func (i *Interceptor) TrackCall(model string, inputTokens, outputTokens int) error {
	costUSD, err := i.pricing.EstimateCallCost(model, inputTokens, outputTokens)
	if err != nil {
		return err
	}
	inputCost, err := i.pricing.GetInputCost(model)
	if err != nil {
		return err
	}

	if err := i.tracker.PreCheck(inputCost*float64(inputTokens)/1000, model); err != nil {
		if i.metrics != nil {
			i.metrics.RecordRejection("budget")
		}
		return err
	}
	if err := i.tracker.RecordCall(inputTokens, outputTokens, model, costUSD, 0); err != nil {
		return err
	}

	span := trace.NewSpan(i.tracker.RunID())
	span.Model = model
	span.InputTokens = inputTokens
	span.OutputTokens = outputTokens
	span.CostUSD = costUSD
	i.collector.AddSpan(span)

	i.publishCommit(model, inputTokens, outputTokens, costUSD, 0)
	return nil
}

// estimateInputTokens never fails: counting is advisory, so a backend
// failure degrades to zero with a log line.
func (i *Interceptor) estimateInputTokens(call Call) int {
	n, err := i.counter.CountMessages(call.Messages, call.Model)
	if err != nil {
		i.logger.Warn("token estimation failed, using 0",
			zap.String("model", call.Model), zap.Error(err))
		return 0
	}
	return n
}

// estimateAdmissionCost projects the call's cost for the admission
// gate: input cost plus the output-ratio heuristic. Pricing failures
// degrade to zero; admission still runs against accumulated spend.
func (i *Interceptor) estimateAdmissionCost(model string, inputTokens int) float64 {
	projectedOutput := int(i.outputRatio * float64(inputTokens))
	cost, err := i.pricing.EstimateCallCost(model, inputTokens, projectedOutput)
	if err != nil {
		i.logger.Warn("cost estimation failed, using 0",
			zap.String("model", model), zap.Error(err))
		return 0
	}
	return cost
}

// resolveUsage prefers the response's own usage report over estimates.
func (i *Interceptor) resolveUsage(response any, estimatedInput int) (inputTokens, outputTokens int) {
	if reporter, ok := response.(types.UsageReporter); ok {
		u := reporter.Usage()
		return u.PromptTokens, u.CompletionTokens
	}
	return estimatedInput, 0
}

// actualCost prices the committed usage; unknown models commit at zero
// cost rather than failing the call.
func (i *Interceptor) actualCost(model string, inputTokens, outputTokens int) float64 {
	cost, err := i.pricing.EstimateCallCost(model, inputTokens, outputTokens)
	if err != nil {
		i.logger.Warn("cost lookup failed at commit, recording 0",
			zap.String("model", model), zap.Error(err))
		return 0
	}
	return cost
}

func (i *Interceptor) publishCommit(model string, inputTokens, outputTokens int, costUSD, durationMs float64) {
	if i.metrics == nil {
		return
	}
	i.metrics.RecordCall(model, "ok", inputTokens, outputTokens, costUSD, durationMs/1000)
	i.metrics.UpdateBudget(i.tracker.RunID(), i.tracker.SpentUSD(), i.tracker.RemainingUSD())
}
