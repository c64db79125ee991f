package trace

import (
	"time"

	"github.com/tetherai/tether-go/budget"
)

// Document is the wire shape of a finished trace: all Trace fields plus
// the derived totals materialized, with RFC 3339 timestamps.
type Document struct {
	RunID             string         `json:"run_id"`
	Spans             []*Span        `json:"spans"`
	BudgetSummary     budget.Summary `json:"budget_summary"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           *time.Time     `json:"end_time"`
	TotalCost         float64        `json:"total_cost"`
	TotalInputTokens  int            `json:"total_input_tokens"`
	TotalOutputTokens int            `json:"total_output_tokens"`
}

// Document materializes the trace for export.
func (t *Trace) Document() Document {
	return Document{
		RunID:             t.RunID,
		Spans:             t.Spans,
		BudgetSummary:     t.BudgetSummary,
		StartTime:         t.StartTime,
		EndTime:           t.EndTime,
		TotalCost:         t.TotalCost(),
		TotalInputTokens:  t.TotalInputTokens(),
		TotalOutputTokens: t.TotalOutputTokens(),
	}
}
