// internal/export/export.go
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/position"
)

// ExportFormat represents the export file format
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ErrNothingToExport is returned when no position matches the options.
var ErrNothingToExport = errors.New("no closed positions match the export criteria")

// ExportOptions configures the export behavior
type ExportOptions struct {
	Format      ExportFormat
	StartTime   time.Time // by exit time
	EndTime     time.Time
	AssetFilter string
	OutputDir   string
}

// PositionExporter writes closed positions to CSV or JSON files.
type PositionExporter struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewPositionExporter(logger *zap.Logger) *PositionExporter {
	return &PositionExporter{
		logger: logger.Named("export"),
		now:    time.Now,
	}
}

// Export writes the closed positions matching options and returns the
// file path.
func (pe *PositionExporter) Export(positions []position.Position, options ExportOptions) (string, error) {
	filtered := filterPositions(positions, options)
	if len(filtered) == 0 {
		return "", ErrNothingToExport
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].ExitTime.Before(filtered[j].ExitTime)
	})

	if err := os.MkdirAll(options.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(options.OutputDir, pe.filename(options))

	var err error
	switch options.Format {
	case FormatCSV:
		err = exportToCSV(filtered, outputPath)
	case FormatJSON:
		err = exportToJSON(filtered, outputPath, pe.now())
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}
	if err != nil {
		return "", err
	}

	pe.logger.Info("Positions exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))
	return outputPath, nil
}

func filterPositions(positions []position.Position, options ExportOptions) []position.Position {
	var filtered []position.Position
	for _, p := range positions {
		if !p.State.Terminal() {
			continue
		}
		if !options.StartTime.IsZero() && p.ExitTime.Before(options.StartTime) {
			continue
		}
		if !options.EndTime.IsZero() && p.ExitTime.After(options.EndTime) {
			continue
		}
		if options.AssetFilter != "" && p.Asset != options.AssetFilter {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered
}

func (pe *PositionExporter) filename(options ExportOptions) string {
	prefix := "positions"
	if a := options.AssetFilter; a != "" {
		if len(a) > 8 {
			a = a[:8]
		}
		prefix += "_" + a
	}
	return fmt.Sprintf("%s_%s.%s", prefix, pe.now().Format("20060102_150405"), options.Format)
}

// CSVHeaders are the columns written by the CSV export.
func CSVHeaders() []string {
	return []string{
		"id", "asset", "symbol", "state", "exit_reason",
		"entry_time", "exit_time", "held_sec",
		"entry_price", "exit_price", "peak_price", "size",
		"cost_basis_sol", "proceeds_sol", "realized_pnl_sol", "pnl_pct",
		"entry_tx", "exit_tx",
	}
}

func csvRow(p position.Position) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		p.ID, p.Asset, p.Symbol, string(p.State), string(p.ExitReason),
		p.EntryTime.UTC().Format(time.RFC3339), p.ExitTime.UTC().Format(time.RFC3339),
		strconv.FormatInt(int64(p.Held(p.ExitTime).Seconds()), 10),
		f(p.EntryPrice), f(p.ExitPrice), f(p.PeakPrice), f(p.Size),
		f(p.CostBasis), f(p.Proceeds), f(p.RealizedPnL), strconv.FormatFloat(p.PnLPercent(), 'f', 2, 64),
		p.EntryTx, p.ExitTx,
	}
}

func exportToCSV(positions []position.Position, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(CSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, p := range positions {
		if err := writer.Write(csvRow(p)); err != nil {
			return fmt.Errorf("failed to write position %s: %w", p.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func exportToJSON(positions []position.Position, outputPath string, now time.Time) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	exportData := struct {
		ExportTime    time.Time           `json:"export_time"`
		PositionCount int                 `json:"position_count"`
		Positions     []position.Position `json:"positions"`
		Summary       Summary             `json:"summary"`
	}{
		ExportTime:    now,
		PositionCount: len(positions),
		Positions:     positions,
		Summary:       Summarize(positions),
	}

	encoder := sonic.ConfigStd.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(exportData); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// Summary aggregates realized results.
type Summary struct {
	Closed        int                         `json:"closed"`
	UniqueAssets  int                         `json:"unique_assets"`
	TotalCost     float64                     `json:"total_cost_sol"`
	TotalProceeds float64                     `json:"total_proceeds_sol"`
	TotalPnL      float64                     `json:"total_pnl_sol"`
	WinCount      int                         `json:"win_count"`
	LossCount     int                         `json:"loss_count"`
	WinRate       float64                     `json:"win_rate"`
	AvgPnL        float64                     `json:"avg_pnl_sol"`
	ByReason      map[position.ExitReason]int `json:"by_reason"`
	StartDate     time.Time                   `json:"start_date"`
	EndDate       time.Time                   `json:"end_date"`
}

// Summarize computes statistics over the closed positions in ps.
func Summarize(ps []position.Position) Summary {
	s := Summary{ByReason: make(map[position.ExitReason]int)}
	assets := make(map[string]struct{})
	for _, p := range ps {
		if !p.State.Terminal() {
			continue
		}
		s.Closed++
		assets[p.Asset] = struct{}{}
		s.TotalCost += p.CostBasis
		s.TotalProceeds += p.Proceeds
		s.TotalPnL += p.RealizedPnL
		s.ByReason[p.ExitReason]++
		switch {
		case p.RealizedPnL > 0:
			s.WinCount++
		case p.RealizedPnL < 0:
			s.LossCount++
		}
		if s.StartDate.IsZero() || p.ExitTime.Before(s.StartDate) {
			s.StartDate = p.ExitTime
		}
		if p.ExitTime.After(s.EndDate) {
			s.EndDate = p.ExitTime
		}
	}
	s.UniqueAssets = len(assets)
	if s.Closed > 0 {
		s.WinRate = float64(s.WinCount) / float64(s.Closed) * 100
		s.AvgPnL = s.TotalPnL / float64(s.Closed)
	}
	return s
}
