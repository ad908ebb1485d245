// internal/api/export.go
package api

import (
	"github.com/rovshanmuradov/solana-sniper/internal/export"
	"github.com/rovshanmuradov/solana-sniper/internal/position"
)

// ClosedExporter writes closed positions into a fixed directory.
type ClosedExporter struct {
	Exporter *export.PositionExporter
	Dir      string
	Format   export.ExportFormat
}

func (e *ClosedExporter) Export(closed []position.Position, format export.ExportFormat) (string, error) {
	if format == "" {
		format = e.Format
	}
	return e.Exporter.Export(closed, export.ExportOptions{Format: format, OutputDir: e.Dir})
}
