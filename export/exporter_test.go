package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tetherai/tether-go/budget"
	"github.com/tetherai/tether-go/trace"
)

func sampleTrace() *trace.Trace {
	tr := &trace.Trace{
		RunID: "run-test1234",
		BudgetSummary: budget.Summary{
			RunID:     "run-test1234",
			BudgetUSD: 5.0,
			SpentUSD:  0.0075,
		},
		StartTime: time.Now().Add(-2 * time.Second),
	}

	s := trace.NewSpan("run-test1234")
	s.Model = "gpt-4o"
	s.InputTokens = 1000
	s.OutputTokens = 500
	s.CostUSD = 0.0075
	s.DurationMs = 950
	tr.AddSpan(s)

	errSpan := trace.NewSpan("run-test1234")
	errSpan.Model = "gpt-4o"
	errSpan.Status = trace.StatusError
	tr.AddSpan(errSpan)

	now := time.Now()
	tr.EndTime = &now
	return tr
}

func TestForKind(t *testing.T) {
	t.Parallel()

	exp, err := ForKind(KindConsole, Options{})
	require.NoError(t, err)
	assert.IsType(t, &ConsoleExporter{}, exp)

	exp, err = ForKind(KindJSON, Options{OutputDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &JSONFileExporter{}, exp)

	exp, err = ForKind(KindNone, Options{})
	require.NoError(t, err)
	assert.IsType(t, NoopExporter{}, exp)

	exp, err = ForKind("noop", Options{})
	require.NoError(t, err)
	assert.IsType(t, NoopExporter{}, exp)

	_, err = ForKind("carrier-pigeon", Options{})
	require.Error(t, err)
}

func TestConsoleExporter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	exp := NewConsoleExporterTo(&buf)
	require.NoError(t, exp.Export(sampleTrace()))

	out := buf.String()
	assert.Contains(t, out, "=== Trace: run-test1234 ===")
	assert.Contains(t, out, "Total Cost: $0.0075")
	assert.Contains(t, out, "Input Tokens: 1000")
	assert.Contains(t, out, "Output Tokens: 500")
	assert.Contains(t, out, "Spans: 2")
	assert.Contains(t, out, "[1] llm_call: gpt-4o")
	assert.Contains(t, out, "Status: error")
}

func TestJSONFileExporter(t *testing.T) {
	t.Parallel()

	// The directory does not exist yet; the exporter must create it.
	dir := filepath.Join(t.TempDir(), "nested", "traces")
	exp := NewJSONFileExporter(dir)
	tr := sampleTrace()
	require.NoError(t, exp.Export(tr))

	raw, err := os.ReadFile(filepath.Join(dir, "run-test1234.json"))
	require.NoError(t, err)

	var doc trace.Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "run-test1234", doc.RunID)
	assert.InDelta(t, tr.TotalCost(), doc.TotalCost, 1e-9)
	assert.Equal(t, 1000, doc.TotalInputTokens)
	assert.Equal(t, 500, doc.TotalOutputTokens)
	assert.Len(t, doc.Spans, 2)
	assert.Equal(t, 5.0, doc.BudgetSummary.BudgetUSD)
}

func TestNoopExporter(t *testing.T) {
	t.Parallel()

	assert.NoError(t, NoopExporter{}.Export(sampleTrace()))
}

func TestSQLiteExporter(t *testing.T) {
	t.Parallel()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	exp, err := NewSQLiteExporterWithDB(db, zap.NewNop())
	require.NoError(t, err)

	tr := sampleTrace()
	require.NoError(t, exp.Export(tr))

	var traceRow TraceRow
	require.NoError(t, db.Where("run_id = ?", "run-test1234").First(&traceRow).Error)
	assert.Equal(t, 5.0, traceRow.BudgetUSD)
	assert.InDelta(t, tr.TotalCost(), traceRow.TotalCost, 1e-9)
	assert.Equal(t, 2, traceRow.SpanCount)

	var spanRows []SpanRow
	require.NoError(t, db.Where("run_id = ?", "run-test1234").Find(&spanRows).Error)
	require.Len(t, spanRows, 2)
	assert.Equal(t, "gpt-4o", spanRows[0].Model)
	assert.Equal(t, trace.StatusError, spanRows[1].Status)

	// Duplicate run ids are rejected by the unique index.
	require.Error(t, exp.Export(tr))
}
