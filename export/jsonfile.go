package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tetherai/tether-go/trace"
)

// DefaultOutputDir is where trace documents land unless configured.
const DefaultOutputDir = "./traces/"

// JSONFileExporter writes one <run_id>.json document per run,
// creating the output directory if absent.
type JSONFileExporter struct {
	outputDir string
}

// NewJSONFileExporter creates a file exporter for the given directory;
// empty means DefaultOutputDir.
func NewJSONFileExporter(outputDir string) *JSONFileExporter {
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}
	return &JSONFileExporter{outputDir: outputDir}
}

// Export implements Exporter.
func (e *JSONFileExporter) Export(tr *trace.Trace) error {
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return fmt.Errorf("create trace dir: %w", err)
	}

	raw, err := json.MarshalIndent(tr.Document(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}

	path := filepath.Join(e.outputDir, tr.RunID+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write trace file: %w", err)
	}
	return nil
}
