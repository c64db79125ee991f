package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tetherai/tether-go/trace"
)

// TraceRow is the persisted form of one run's trace.
type TraceRow struct {
	ID                uint   `gorm:"primaryKey"`
	RunID             string `gorm:"uniqueIndex;size:64"`
	BudgetUSD         float64
	SpentUSD          float64
	TotalCost         float64
	TotalInputTokens  int
	TotalOutputTokens int
	SpanCount         int
	StartTime         time.Time
	EndTime           *time.Time
	CreatedAt         time.Time
}

// SpanRow is the persisted form of one span.
type SpanRow struct {
	ID            uint   `gorm:"primaryKey"`
	SpanID        string `gorm:"uniqueIndex;size:32"`
	ParentSpanID  string `gorm:"size:32"`
	RunID         string `gorm:"index;size:64"`
	Timestamp     time.Time
	DurationMs    float64
	SpanType      string `gorm:"size:32"`
	Model         string `gorm:"size:128"`
	InputTokens   int
	OutputTokens  int
	CostUSD       float64
	Status        string `gorm:"size:16"`
	InputPreview  string
	OutputPreview string
	CreatedAt     time.Time
}

// SQLiteExporter persists traces and spans to a sqlite database so
// runs can be inspected after the fact.
type SQLiteExporter struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLiteExporter opens (or creates) traces.db inside dir and
// migrates the schema. Empty dir means DefaultOutputDir.
func NewSQLiteExporter(dir string, logger *zap.Logger) (*SQLiteExporter, error) {
	if dir == "" {
		dir = DefaultOutputDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "traces.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open trace db: %w", err)
	}
	return NewSQLiteExporterWithDB(db, logger)
}

// NewSQLiteExporterWithDB wraps an existing gorm handle (used by tests
// with an in-memory database).
func NewSQLiteExporterWithDB(db *gorm.DB, logger *zap.Logger) (*SQLiteExporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&TraceRow{}, &SpanRow{}); err != nil {
		return nil, fmt.Errorf("migrate trace schema: %w", err)
	}
	return &SQLiteExporter{db: db, logger: logger}, nil
}

// Export implements Exporter.
func (e *SQLiteExporter) Export(tr *trace.Trace) error {
	row := TraceRow{
		RunID:             tr.RunID,
		BudgetUSD:         tr.BudgetSummary.BudgetUSD,
		SpentUSD:          tr.BudgetSummary.SpentUSD,
		TotalCost:         tr.TotalCost(),
		TotalInputTokens:  tr.TotalInputTokens(),
		TotalOutputTokens: tr.TotalOutputTokens(),
		SpanCount:         len(tr.Spans),
		StartTime:         tr.StartTime,
		EndTime:           tr.EndTime,
	}

	return e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("persist trace %s: %w", tr.RunID, err)
		}
		for _, s := range tr.Spans {
			spanRow := SpanRow{
				SpanID:        s.SpanID,
				ParentSpanID:  s.ParentSpanID,
				RunID:         s.RunID,
				Timestamp:     s.Timestamp,
				DurationMs:    s.DurationMs,
				SpanType:      s.SpanType,
				Model:         s.Model,
				InputTokens:   s.InputTokens,
				OutputTokens:  s.OutputTokens,
				CostUSD:       s.CostUSD,
				Status:        s.Status,
				InputPreview:  s.InputPreview,
				OutputPreview: s.OutputPreview,
			}
			if err := tx.Create(&spanRow).Error; err != nil {
				return fmt.Errorf("persist span %s: %w", s.SpanID, err)
			}
		}
		e.logger.Debug("trace persisted",
			zap.String("run_id", tr.RunID),
			zap.Int("spans", len(tr.Spans)))
		return nil
	})
}
