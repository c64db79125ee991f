package export

import (
	"fmt"
	"io"
	"os"

	"github.com/tetherai/tether-go/trace"
)

// ConsoleExporter prints a human-readable run summary: totals first,
// then one block per span.
type ConsoleExporter struct {
	w io.Writer
}

// NewConsoleExporter writes to stderr.
func NewConsoleExporter() *ConsoleExporter {
	return &ConsoleExporter{w: os.Stderr}
}

// NewConsoleExporterTo writes to the given writer.
func NewConsoleExporterTo(w io.Writer) *ConsoleExporter {
	return &ConsoleExporter{w: w}
}

// Export implements Exporter.
func (e *ConsoleExporter) Export(tr *trace.Trace) error {
	fmt.Fprintf(e.w, "=== Trace: %s ===\n", tr.RunID)
	fmt.Fprintf(e.w, "Total Cost: $%.4f\n", tr.TotalCost())
	fmt.Fprintf(e.w, "Input Tokens: %d\n", tr.TotalInputTokens())
	fmt.Fprintf(e.w, "Output Tokens: %d\n", tr.TotalOutputTokens())
	fmt.Fprintf(e.w, "Spans: %d\n\n", len(tr.Spans))

	for i, span := range tr.Spans {
		model := span.Model
		if model == "" {
			model = "N/A"
		}
		fmt.Fprintf(e.w, "  [%d] %s: %s\n", i+1, span.SpanType, model)
		if span.CostUSD > 0 {
			fmt.Fprintf(e.w, "      Cost: $%.6f\n", span.CostUSD)
		}
		if span.InputTokens > 0 {
			fmt.Fprintf(e.w, "      Input: %d tokens\n", span.InputTokens)
		}
		if span.OutputTokens > 0 {
			fmt.Fprintf(e.w, "      Output: %d tokens\n", span.OutputTokens)
		}
		if span.Status != trace.StatusOK {
			fmt.Fprintf(e.w, "      Status: %s\n", span.Status)
		}
		fmt.Fprintln(e.w)
	}
	return nil
}
