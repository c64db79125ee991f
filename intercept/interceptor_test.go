package intercept

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tetherai/tether-go/budget"
	"github.com/tetherai/tether-go/internal/metrics"
	"github.com/tetherai/tether-go/pricing"
	"github.com/tetherai/tether-go/tokenizer"
	"github.com/tetherai/tether-go/trace"
	"github.com/tetherai/tether-go/types"
)

type fakeResponse struct {
	content string
	usage   types.TokenUsage
}

func (r fakeResponse) Usage() types.TokenUsage { return r.usage }
func (r fakeResponse) OutputText() string      { return r.content }

type plainResponse struct{}

func newTestInterceptor(t *testing.T, maxUSD float64, maxTurns int, opts ...Option) (*Interceptor, *budget.Tracker, *trace.Collector) {
	t.Helper()
	tracker := budget.NewTracker("run-test", maxUSD, maxTurns, zap.NewNop())
	collector := trace.NewCollector()
	collector.StartTrace("run-test", tracker.Summary())

	ic := New(tracker, tokenizer.NewCounter(), pricing.NewRegistry(), collector, opts...)
	return ic, tracker, collector
}

func TestInterceptor_SuccessfulCall(t *testing.T) {
	t.Parallel()

	ic, tracker, collector := newTestInterceptor(t, 10.0, 0)

	call := Call{
		Model:    "gpt-4o",
		Messages: []types.Message{{Role: "user", Content: "What is the capital of France?"}},
	}

	resp, err := ic.Intercept(context.Background(), call, func(context.Context) (any, error) {
		return fakeResponse{
			content: "Paris",
			usage:   types.TokenUsage{PromptTokens: 1000, CompletionTokens: 500},
		}, nil
	})
	require.NoError(t, err)
	require.IsType(t, fakeResponse{}, resp, "the original response is returned unchanged")

	// Ledger committed with authoritative usage at bundled gpt-4o rates.
	wantCost := (0.0025*1000 + 0.01*500) / 1000
	assert.InDelta(t, wantCost, tracker.SpentUSD(), 1e-9)
	assert.Equal(t, 1, tracker.TurnCount())

	tr := collector.EndTrace()
	require.Len(t, tr.Spans, 1)
	span := tr.Spans[0]
	assert.Equal(t, trace.StatusOK, span.Status)
	assert.Equal(t, 1000, span.InputTokens)
	assert.Equal(t, 500, span.OutputTokens)
	assert.InDelta(t, wantCost, span.CostUSD, 1e-9)
	assert.Equal(t, "Paris", span.OutputPreview)
	assert.Contains(t, span.InputPreview, "capital of France")
	assert.Greater(t, span.DurationMs, 0.0)
}

func TestInterceptor_AdmissionRejection(t *testing.T) {
	t.Parallel()

	ic, tracker, collector := newTestInterceptor(t, 0.001, 0)
	require.NoError(t, tracker.RecordCall(1, 1, "gpt-4o", 0.0009, 1))

	invoked := false
	call := Call{
		Model:    "gpt-4o",
		Messages: []types.Message{{Role: "user", Content: strings.Repeat("long prompt ", 200)}},
	}

	_, err := ic.Intercept(context.Background(), call, func(context.Context) (any, error) {
		invoked = true
		return plainResponse{}, nil
	})

	var be *types.BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.False(t, invoked, "a rejected call must never execute")
	assert.Empty(t, collector.Current().Spans, "a rejected call produces no span")
	assert.Equal(t, 1, tracker.TurnCount())
}

func TestInterceptor_InvokeFailureNotCharged(t *testing.T) {
	t.Parallel()

	ic, tracker, collector := newTestInterceptor(t, 10.0, 0)

	boom := errors.New("upstream 500")
	call := Call{Model: "gpt-4o", Messages: []types.Message{{Role: "user", Content: "hi"}}}

	_, err := ic.Intercept(context.Background(), call, func(context.Context) (any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom, "the wrapped operation's failure propagates unchanged")

	assert.Equal(t, 0.0, tracker.SpentUSD(), "failed calls are not charged")
	assert.Equal(t, 0, tracker.TurnCount())

	tr := collector.EndTrace()
	require.Len(t, tr.Spans, 1)
	assert.Equal(t, trace.StatusError, tr.Spans[0].Status)
	assert.Greater(t, tr.Spans[0].DurationMs, 0.0)
}

func TestInterceptor_UsageFallsBackToEstimates(t *testing.T) {
	t.Parallel()

	ic, tracker, collector := newTestInterceptor(t, 10.0, 0)

	call := Call{Model: "gpt-4o", Messages: []types.Message{{Role: "user", Content: "hello world"}}}
	_, err := ic.Intercept(context.Background(), call, func(context.Context) (any, error) {
		return plainResponse{}, nil // no usage report
	})
	require.NoError(t, err)

	tr := collector.EndTrace()
	require.Len(t, tr.Spans, 1)
	assert.Greater(t, tr.Spans[0].InputTokens, 0, "estimated input tokens are kept")
	assert.Equal(t, 0, tr.Spans[0].OutputTokens)
	assert.Equal(t, 1, tracker.TurnCount())
}

func TestInterceptor_UnknownModelCommitsAtZero(t *testing.T) {
	t.Parallel()

	ic, tracker, _ := newTestInterceptor(t, 10.0, 0)

	call := Call{Model: "not-priced-anywhere", Messages: []types.Message{{Role: "user", Content: "hi"}}}
	_, err := ic.Intercept(context.Background(), call, func(context.Context) (any, error) {
		return fakeResponse{usage: types.TokenUsage{PromptTokens: 10, CompletionTokens: 5}}, nil
	})
	require.NoError(t, err, "observability must not add its own failure mode")
	assert.Equal(t, 0.0, tracker.SpentUSD())
	assert.Equal(t, 1, tracker.TurnCount())
}

func TestInterceptor_TurnLimitAtCommitPropagates(t *testing.T) {
	t.Parallel()

	ic, tracker, collector := newTestInterceptor(t, 10.0, 1)
	require.NoError(t, tracker.RecordCall(1, 1, "gpt-4o", 0.001, 1))

	call := Call{Model: "gpt-4o", Messages: []types.Message{{Role: "user", Content: "hi"}}}
	resp, err := ic.Intercept(context.Background(), call, func(context.Context) (any, error) {
		return fakeResponse{usage: types.TokenUsage{PromptTokens: 10, CompletionTokens: 5}}, nil
	})

	var tl *types.TurnLimitError
	require.ErrorAs(t, err, &tl)
	assert.Equal(t, 2, tl.CurrentTurn)
	assert.NotNil(t, resp, "the response is still returned alongside the commit error")

	// The call happened: its span stays for audit, the ledger does not move.
	assert.Len(t, collector.Current().Spans, 1)
	assert.Equal(t, 1, tracker.TurnCount())
}

func TestInterceptor_OutputEstimateRatio(t *testing.T) {
	t.Parallel()

	// With a large ratio, admission projects output spend on top of
	// input spend and rejects a call plain input cost would admit.
	tracker := budget.NewTracker("run-test", 0.01, 0, zap.NewNop())
	collector := trace.NewCollector()
	collector.StartTrace("run-test", tracker.Summary())
	registry := pricing.NewRegistry()
	registry.RegisterCustomModel("expensive-out", 0.001, 10.0)

	ic := New(tracker, tokenizer.NewCounter(), registry, collector, WithOutputEstimateRatio(2.0))

	call := Call{Model: "expensive-out", Messages: []types.Message{{Role: "user", Content: "a reasonably sized prompt"}}}
	_, err := ic.Intercept(context.Background(), call, func(context.Context) (any, error) {
		return plainResponse{}, nil
	})

	var be *types.BudgetExceededError
	require.ErrorAs(t, err, &be)
}

func TestInterceptor_TrackCall(t *testing.T) {
	t.Parallel()

	ic, tracker, collector := newTestInterceptor(t, 10.0, 0)

	require.NoError(t, ic.TrackCall("gpt-4o", 1000, 500))

	wantCost := (0.0025*1000 + 0.01*500) / 1000
	assert.InDelta(t, wantCost, tracker.SpentUSD(), 1e-9)
	assert.Equal(t, 1, tracker.TurnCount())

	tr := collector.EndTrace()
	require.Len(t, tr.Spans, 1)
	assert.Equal(t, 1000, tr.Spans[0].InputTokens)
	assert.Equal(t, 500, tr.Spans[0].OutputTokens)
}

func TestInterceptor_TrackCallUnknownModel(t *testing.T) {
	t.Parallel()

	ic, tracker, _ := newTestInterceptor(t, 10.0, 0)

	err := ic.TrackCall("not-priced", 10, 5)
	var ume *types.UnknownModelError
	require.ErrorAs(t, err, &ume)
	assert.Equal(t, 0, tracker.TurnCount())
}

func TestInterceptor_ActivationGuard(t *testing.T) {
	ic1, _, _ := newTestInterceptor(t, 1, 0)
	ic2, _, _ := newTestInterceptor(t, 1, 0)

	require.NoError(t, ic1.Activate())
	t.Cleanup(ic1.Deactivate)

	err := ic2.Activate()
	require.Error(t, err)
	assert.Equal(t, types.ErrInterceptorActive, types.GetErrorCode(err))

	// Deactivating a non-owner changes nothing.
	ic2.Deactivate()
	assert.True(t, ic1.Active())

	ic1.Deactivate()
	assert.False(t, ic1.Active())
	require.NoError(t, ic2.Activate())
	ic2.Deactivate()
}

func TestInterceptor_ConcurrentCallsOneRun(t *testing.T) {
	t.Parallel()

	ic, tracker, collector := newTestInterceptor(t, 1000.0, 0)

	const workers = 12
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			call := Call{Model: "gpt-4o", Messages: []types.Message{{Role: "user", Content: "hi"}}}
			_, err := ic.Intercept(context.Background(), call, func(context.Context) (any, error) {
				return fakeResponse{usage: types.TokenUsage{PromptTokens: 100, CompletionTokens: 100}}, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	perCall := (0.0025*100 + 0.01*100) / 1000
	assert.InDelta(t, float64(workers)*perCall, tracker.SpentUSD(), 1e-6)
	assert.Equal(t, workers, tracker.TurnCount())
	assert.Len(t, collector.Current().Spans, workers)
}

func TestInterceptor_MetricsPublished(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewCollector("tether_test", reg, zap.NewNop())
	require.NoError(t, err)

	ic, _, _ := newTestInterceptor(t, 10.0, 0, WithMetrics(m))

	call := Call{Model: "gpt-4o", Messages: []types.Message{{Role: "user", Content: "hi"}}}
	_, err = ic.Intercept(context.Background(), call, func(context.Context) (any, error) {
		return fakeResponse{usage: types.TokenUsage{PromptTokens: 10, CompletionTokens: 5}}, nil
	})
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["tether_test_calls_total"])
	assert.True(t, names["tether_test_cost_usd_total"])
	assert.True(t, names["tether_test_run_spent_usd"])
}
