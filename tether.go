// Package tether enforces a spending ceiling over a sequence of
// metered model calls executed during one bounded run, and records a
// structured trace of what happened.
//
// Usage:
//
//	result, err := tether.Run(ctx, func(ctx context.Context, ic *intercept.Interceptor) (string, error) {
//	    resp, err := ic.Intercept(ctx, intercept.Call{Model: "gpt-4o", Messages: msgs}, callModel)
//	    if err != nil {
//	        return "", err
//	    }
//	    return resp.(MyResponse).Text, nil
//	}, tether.WithMaxUSD(2.0), tether.WithMaxTurns(10))
//
// Each run owns its own ledger and trace; on every exit path the guard
// tears down interception, closes the trace, and hands it to the
// configured export sink.
package tether

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tetherai/tether-go/budget"
	"github.com/tetherai/tether-go/config"
	"github.com/tetherai/tether-go/export"
	"github.com/tetherai/tether-go/intercept"
	"github.com/tetherai/tether-go/internal/metrics"
	"github.com/tetherai/tether-go/pricing"
	"github.com/tetherai/tether-go/tokenizer"
	"github.com/tetherai/tether-go/trace"
	"github.com/tetherai/tether-go/types"
)

// OnExceed selects what a guard does when the wrapped work fails with a
// budget condition.
type OnExceed string

const (
	// OnExceedRaise propagates the budget error (default).
	OnExceedRaise OnExceed = "raise"
	// OnExceedReturnZero swallows the budget error and returns the
	// zero value.
	OnExceedReturnZero OnExceed = "return_zero"
)

// Work is the wrapped unit of work. Whether it runs inline, spawns
// goroutines, or awaits something elsewhere is its own business; the
// guard only needs it to eventually return a result or an error.
type Work[T any] func(ctx context.Context, ic *intercept.Interceptor) (T, error)

type options struct {
	cfg             *config.Config
	maxUSD          *float64
	maxTurns        *int
	onExceed        OnExceed
	traceExport     string
	traceExportPath string
	exporter        export.Exporter
	externalPricing pricing.Source
	externalCounter tokenizer.ExternalCounter
	outputRatio     float64
	metricsNS       string
	metricsReg      prometheus.Registerer
	logger          *zap.Logger
}

// Option configures a run.
type Option func(*options)

// WithConfig supplies a loaded configuration; without it the
// environment is consulted.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithMaxUSD sets the run's dollar ceiling.
func WithMaxUSD(maxUSD float64) Option {
	return func(o *options) { o.maxUSD = &maxUSD }
}

// WithMaxTurns caps the run's call count; 0 disables the cap.
func WithMaxTurns(maxTurns int) Option {
	return func(o *options) { o.maxTurns = &maxTurns }
}

// WithOnExceed sets the budget-exceeded policy.
func WithOnExceed(policy OnExceed) Option {
	return func(o *options) { o.onExceed = policy }
}

// WithTraceExport selects the export sink kind.
func WithTraceExport(kind string) Option {
	return func(o *options) { o.traceExport = kind }
}

// WithTraceExportPath sets the sink output directory.
func WithTraceExportPath(path string) Option {
	return func(o *options) { o.traceExportPath = path }
}

// WithExporter injects a pre-built export sink, bypassing kind
// resolution.
func WithExporter(exp export.Exporter) Option {
	return func(o *options) { o.exporter = exp }
}

// WithExternalPricing enables the permissive pricing fallback.
func WithExternalPricing(src pricing.Source) Option {
	return func(o *options) { o.externalPricing = src }
}

// WithExternalCounter supplies the external token-counting backend.
func WithExternalCounter(ec tokenizer.ExternalCounter) Option {
	return func(o *options) { o.externalCounter = ec }
}

// WithOutputEstimateRatio tunes the admission-time output projection.
func WithOutputEstimateRatio(ratio float64) Option {
	return func(o *options) { o.outputRatio = ratio }
}

// WithMetricsRegistry publishes call and ledger metrics for this run on
// the given registerer under the namespace. Each run registers its own
// collectors; reusing one registry across runs makes NewGuard fail with
// a duplicate-registration error.
func WithMetricsRegistry(namespace string, reg prometheus.Registerer) Option {
	return func(o *options) {
		o.metricsNS = namespace
		o.metricsReg = reg
	}
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Guard states.
type State string

const (
	StateIdle      State = "idle"
	StateArmed     State = "armed"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateTornDown  State = "torn_down"
)

// NewRunID generates a run identifier of the form run-<8 hex chars>.
func NewRunID() string {
	return "run-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// newLogger builds the default logger at the configured level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// Guard is the circuit breaker around one protected invocation. It is
// single-use: construct, Run once, discard.
type Guard struct {
	runID       string
	state       State
	tracker     *budget.Tracker
	interceptor *intercept.Interceptor
	collector   *trace.Collector
	exporter    export.Exporter
	exportKind  string
	logger      *zap.Logger
}

// NewGuard resolves configuration and constructs one run's worth of
// components. Call-site options override environment-sourced values,
// which override hard defaults.
func NewGuard(opts ...Option) (*Guard, error) {
	var o options
	o.onExceed = OnExceedRaise
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.cfg
	if cfg == nil {
		var err error
		cfg, err = config.FromEnv()
		if err != nil {
			return nil, err
		}
	}

	maxUSD := cfg.DefaultBudgetUSD
	if o.maxUSD != nil {
		maxUSD = *o.maxUSD
	}
	maxTurns := cfg.DefaultMaxTurns
	if o.maxTurns != nil {
		maxTurns = *o.maxTurns
	}
	exportKind := cfg.TraceExport
	if o.traceExport != "" {
		exportKind = o.traceExport
	}
	exportPath := cfg.TraceExportPath
	if o.traceExportPath != "" {
		exportPath = o.traceExportPath
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = newLogger(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
	}

	runID := NewRunID()

	if cfg.PricingSource == "external" && o.externalPricing == nil {
		return nil, types.NewError(types.ErrInvalidArgument,
			"pricing_source is external but no pricing source was provided")
	}
	var pricingOpts []pricing.Option
	if o.externalPricing != nil {
		pricingOpts = append(pricingOpts, pricing.WithExternalSource(o.externalPricing))
	}
	registry := pricing.NewRegistry(pricingOpts...)

	counterOpts := []tokenizer.Option{
		tokenizer.WithBackend(tokenizer.Backend(cfg.TokenCounterBackend)),
		tokenizer.WithLogger(logger),
	}
	if o.externalCounter != nil {
		counterOpts = append(counterOpts, tokenizer.WithExternalCounter(o.externalCounter))
	}
	counter := tokenizer.NewCounter(counterOpts...)

	tracker := budget.NewTracker(runID, maxUSD, maxTurns, logger)
	collector := trace.NewCollector()

	exporter := o.exporter
	if exporter == nil && exportKind != export.KindNone && exportKind != "noop" {
		var err error
		exporter, err = export.ForKind(exportKind, export.Options{
			OutputDir:    exportPath,
			CollectorURL: cfg.CollectorURL,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
	}

	interceptOpts := []intercept.Option{
		intercept.WithLogger(logger),
		intercept.WithOutputEstimateRatio(o.outputRatio),
	}
	if o.metricsReg != nil {
		m, err := metrics.NewCollector(o.metricsNS, o.metricsReg, logger)
		if err != nil {
			return nil, err
		}
		interceptOpts = append(interceptOpts, intercept.WithMetrics(m))
	}

	return &Guard{
		runID:       runID,
		state:       StateIdle,
		tracker:     tracker,
		interceptor: intercept.New(tracker, counter, registry, collector, interceptOpts...),
		collector:   collector,
		exporter:    exporter,
		exportKind:  exportKind,
		logger:      logger.With(zap.String("run_id", runID)),
	}, nil
}

// RunID returns the generated run identifier.
func (g *Guard) RunID() string { return g.runID }

// State returns the guard's lifecycle state.
func (g *Guard) State() State { return g.state }

// Tracker exposes the run's ledger for inspection.
func (g *Guard) Tracker() *budget.Tracker { return g.tracker }

// Run executes the wrapped work under this guard. Teardown always
// runs: interception is deactivated, the trace is closed and exported
// on every exit path, including cancellation and panics propagating
// out of the work.
func (g *Guard) Run(ctx context.Context, work func(ctx context.Context, ic *intercept.Interceptor) (any, error)) (result any, err error) {
	g.collector.StartTrace(g.runID, g.tracker.Summary())

	// Teardown is registered before activation so it runs on every
	// exit path, including an activation failure.
	defer func() {
		g.interceptor.Deactivate()
		g.teardown()
	}()

	if err := g.interceptor.Activate(); err != nil {
		g.state = StateAborted
		return nil, err
	}
	g.state = StateArmed

	g.state = StateExecuting
	result, err = work(ctx, g.interceptor)
	if err != nil {
		g.state = StateAborted
		return result, err
	}
	g.state = StateCompleted
	return result, nil
}

// teardown closes the trace and hands it to the sink. Export failures
// are logged, never propagated: observability must not add its own
// failure mode on top of the run's outcome.
func (g *Guard) teardown() {
	tr := g.collector.EndTrace()
	finalState := g.state
	g.state = StateTornDown

	if tr == nil || g.exporter == nil || g.exportKind == export.KindNone {
		return
	}
	if err := g.exporter.Export(tr); err != nil {
		g.logger.Warn("trace export failed",
			zap.String("state", string(finalState)), zap.Error(err))
	}
}

// Run wraps one unit of work with a fresh guard and applies the
// exceed policy to the outcome.
func Run[T any](ctx context.Context, work Work[T], opts ...Option) (T, error) {
	var zero T

	var o options
	o.onExceed = OnExceedRaise
	for _, opt := range opts {
		opt(&o)
	}

	g, err := NewGuard(opts...)
	if err != nil {
		return zero, err
	}

	result, err := g.Run(ctx, func(ctx context.Context, ic *intercept.Interceptor) (any, error) {
		return work(ctx, ic)
	})
	if err != nil {
		var be *types.BudgetExceededError
		if errors.As(err, &be) && o.onExceed == OnExceedReturnZero {
			return zero, nil
		}
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	return result.(T), nil
}
