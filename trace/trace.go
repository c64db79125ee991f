package trace

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tetherai/tether-go/budget"
)

// MaxPreviewLength caps input/output previews on spans. Longer previews
// are truncated and suffixed with "...": 203 characters total.
const MaxPreviewLength = 200

// Span statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// DefaultSpanType tags spans produced by the metered call path.
const DefaultSpanType = "llm_call"

// GenerateID returns a 16-hex-character identifier.
func GenerateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Span records one observed call attempt. Fields on an in-flight span
// may be updated until the call completes; once closed it is treated as
// immutable.
type Span struct {
	SpanID        string         `json:"span_id"`
	ParentSpanID  string         `json:"parent_span_id"`
	RunID         string         `json:"run_id"`
	Timestamp     time.Time      `json:"timestamp"`
	DurationMs    float64        `json:"duration_ms"`
	SpanType      string         `json:"span_type"`
	Model         string         `json:"model"`
	InputTokens   int            `json:"input_tokens"`
	OutputTokens  int            `json:"output_tokens"`
	CostUSD       float64        `json:"cost_usd"`
	Status        string         `json:"status"`
	Metadata      map[string]any `json:"metadata"`
	InputPreview  string         `json:"input_preview"`
	OutputPreview string         `json:"output_preview"`
}

// NewSpan creates a span with a generated id, the default type tag, and
// an ok status.
func NewSpan(runID string) *Span {
	return &Span{
		SpanID:    GenerateID(),
		RunID:     runID,
		Timestamp: time.Now(),
		SpanType:  DefaultSpanType,
		Status:    StatusOK,
	}
}

// SetInputPreview stores a truncated preview of the call input.
func (s *Span) SetInputPreview(text string) {
	s.InputPreview = TruncatePreview(text)
}

// SetOutputPreview stores a truncated preview of the call output.
func (s *Span) SetOutputPreview(text string) {
	s.OutputPreview = TruncatePreview(text)
}

// TruncatePreview enforces the preview cap: text longer than
// MaxPreviewLength keeps its first MaxPreviewLength characters plus an
// ellipsis marker.
func TruncatePreview(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxPreviewLength {
		return text
	}
	return string(runes[:MaxPreviewLength]) + "..."
}

// Trace is one run's ordered sequence of spans plus aggregate derived
// metrics. Insertion order is chronological order.
type Trace struct {
	RunID         string         `json:"run_id"`
	Spans         []*Span        `json:"spans"`
	BudgetSummary budget.Summary `json:"budget_summary"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       *time.Time     `json:"end_time"`
}

// AddSpan appends a span in insertion order.
func (t *Trace) AddSpan(span *Span) {
	t.Spans = append(t.Spans, span)
}

// TotalCost sums cost over all spans.
func (t *Trace) TotalCost() float64 {
	total := 0.0
	for _, s := range t.Spans {
		total += s.CostUSD
	}
	return total
}

// TotalInputTokens sums input tokens over all spans.
func (t *Trace) TotalInputTokens() int {
	total := 0
	for _, s := range t.Spans {
		total += s.InputTokens
	}
	return total
}

// TotalOutputTokens sums output tokens over all spans.
func (t *Trace) TotalOutputTokens() int {
	total := 0
	for _, s := range t.Spans {
		total += s.OutputTokens
	}
	return total
}

// Collector owns at most one active trace. Spans added while no trace
// is active are dropped silently: there is nothing to attach them to.
type Collector struct {
	mu      sync.Mutex
	current *Trace
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// StartTrace opens the active trace for a run, replacing any previous
// one, and snapshots the budget summary at start.
func (c *Collector) StartTrace(runID string, summary budget.Summary) *Trace {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &Trace{
		RunID:         runID,
		BudgetSummary: summary,
		StartTime:     time.Now(),
	}
	return c.current
}

// AddSpan appends to the active trace; a no-op when none is active.
func (c *Collector) AddSpan(span *Span) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.AddSpan(span)
	}
}

// EndTrace stamps the end time, detaches the trace and clears the
// active slot. With no active trace it returns nil.
func (c *Collector) EndTrace() *Trace {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	now := time.Now()
	c.current.EndTime = &now
	t := c.current
	c.current = nil
	return t
}

// Current returns the active trace, or nil.
func (c *Collector) Current() *Trace {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
