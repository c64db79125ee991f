package export

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tetherai/tether-go/trace"
)

// Exporter hands one finished trace to a sink. Implementations must not
// mutate the trace.
type Exporter interface {
	Export(tr *trace.Trace) error
}

// Export kinds accepted by ForKind.
const (
	KindConsole = "console"
	KindJSON    = "json"
	KindSQLite  = "sqlite"
	KindOTLP    = "otlp"
	KindNone    = "none"
)

// Options configures exporter construction.
type Options struct {
	// OutputDir receives one <run_id>.json per run (json kind) or the
	// traces.db file (sqlite kind).
	OutputDir string
	// CollectorURL is the OTLP gRPC endpoint (otlp kind).
	CollectorURL string
	Logger       *zap.Logger
}

// ForKind builds the exporter for a configured sink kind. "noop" is an
// alias for "none".
func ForKind(kind string, opts Options) (Exporter, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	switch kind {
	case KindConsole:
		return NewConsoleExporter(), nil
	case KindJSON:
		return NewJSONFileExporter(opts.OutputDir), nil
	case KindSQLite:
		return NewSQLiteExporter(opts.OutputDir, opts.Logger)
	case KindOTLP:
		return NewOTLPExporter(opts.CollectorURL, opts.Logger)
	case KindNone, "noop":
		return NoopExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown exporter kind: %s", kind)
	}
}

// NoopExporter discards traces.
type NoopExporter struct{}

// Export implements Exporter.
func (NoopExporter) Export(*trace.Trace) error { return nil }
