package budget

import (
	"sync"

	"go.uber.org/zap"

	"github.com/tetherai/tether-go/types"
)

// CallRecord is an immutable record of one committed call.
type CallRecord struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Model        string  `json:"model"`
	CostUSD      float64 `json:"cost_usd"`
	DurationMs   float64 `json:"duration_ms"`
}

// Summary is a point-in-time snapshot of a tracker's ledger.
type Summary struct {
	RunID        string       `json:"run_id"`
	BudgetUSD    float64      `json:"budget_usd"`
	SpentUSD     float64      `json:"spent_usd"`
	RemainingUSD float64      `json:"remaining_usd"`
	TurnCount    int          `json:"turn_count"`
	Calls        []CallRecord `json:"calls"`
}

// Tracker is the per-run spend ledger. It gates calls against a dollar
// ceiling and an optional call-count limit, and accumulates committed
// call records. All readers and mutators serialize through one mutex,
// so concurrent PreCheck/RecordCall pairs never observe torn state.
// The mutex is never held across the metered call itself.
type Tracker struct {
	runID    string
	maxUSD   float64
	maxTurns int // 0 = unlimited
	logger   *zap.Logger

	mu        sync.Mutex
	spentUSD  float64
	turnCount int
	calls     []CallRecord
}

// NewTracker creates a ledger for one run. maxUSD is the dollar ceiling;
// maxTurns caps the number of committed calls, 0 disables the cap.
func NewTracker(runID string, maxUSD float64, maxTurns int, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		runID:    runID,
		maxUSD:   maxUSD,
		maxTurns: maxTurns,
		logger:   logger.With(zap.String("run_id", runID)),
	}
}

// RunID returns the run this ledger belongs to.
func (t *Tracker) RunID() string { return t.runID }

// MaxUSD returns the dollar ceiling.
func (t *Tracker) MaxUSD() float64 { return t.maxUSD }

// MaxTurns returns the call-count limit, 0 if unlimited.
func (t *Tracker) MaxTurns() int { return t.maxTurns }

// SpentUSD returns the accumulated spend.
func (t *Tracker) SpentUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spentUSD
}

// RemainingUSD returns the budget left, never negative.
func (t *Tracker) RemainingUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return max(0, t.maxUSD-t.spentUSD)
}

// TurnCount returns the number of committed calls.
func (t *Tracker) TurnCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.turnCount
}

// IsExceeded reports whether spend has reached the ceiling.
func (t *Tracker) IsExceeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spentUSD >= t.maxUSD
}

// PreCheck is the admission gate, run before the metered call executes.
// It fails when projected spend would reach the ceiling (strict >=, so
// an estimate equal to the remaining budget is rejected) and never
// mutates the ledger.
func (t *Tracker) PreCheck(estimatedCost float64, model string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	projected := t.spentUSD + estimatedCost
	if projected >= t.maxUSD {
		t.logger.Warn("budget pre-check rejected call",
			zap.Float64("projected_usd", projected),
			zap.Float64("budget_usd", t.maxUSD),
			zap.String("model", model))
		return &types.BudgetExceededError{
			RunID:     t.runID,
			BudgetUSD: t.maxUSD,
			SpentUSD:  projected,
			LastModel: model,
		}
	}
	return nil
}

// RecordCall commits one completed call to the ledger. Once a call has
// been admitted, commit never rejects on cost grounds: spend that
// overshoots the ceiling is clamped to exactly the ceiling. It fails
// only on a negative cost or when the turn limit is already reached,
// and a failed commit leaves the ledger untouched.
func (t *Tracker) RecordCall(inputTokens, outputTokens int, model string, costUSD, durationMs float64) error {
	if costUSD < 0 {
		return types.NewError(types.ErrInvalidArgument, "cost_usd must be non-negative")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxTurns > 0 && t.turnCount >= t.maxTurns {
		return &types.TurnLimitError{
			RunID:       t.runID,
			MaxTurns:    t.maxTurns,
			CurrentTurn: t.turnCount + 1,
		}
	}

	t.spentUSD += costUSD
	t.turnCount++

	if t.spentUSD > t.maxUSD {
		t.spentUSD = t.maxUSD
	}

	t.calls = append(t.calls, CallRecord{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Model:        model,
		CostUSD:      costUSD,
		DurationMs:   durationMs,
	})

	t.logger.Debug("call recorded",
		zap.Int("input_tokens", inputTokens),
		zap.Int("output_tokens", outputTokens),
		zap.Float64("cost_usd", costUSD),
		zap.String("model", model))
	return nil
}

// Summary returns a lock-consistent snapshot of the ledger, including a
// copy of the ordered call records.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	calls := make([]CallRecord, len(t.calls))
	copy(calls, t.calls)

	return Summary{
		RunID:        t.runID,
		BudgetUSD:    t.maxUSD,
		SpentUSD:     t.spentUSD,
		RemainingUSD: max(0, t.maxUSD-t.spentUSD),
		TurnCount:    t.turnCount,
		Calls:        calls,
	}
}
