// Package export renders the full version history of an entity as a
// spreadsheet or CSV file.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/verstore/internal/domain"
	"github.com/rpattn/verstore/internal/engine"
)

// Format selects the export file format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat maps a query-string value onto a Format.
func ParseFormat(value string) (Format, error) {
	switch value {
	case "", string(FormatXLSX):
		return FormatXLSX, nil
	case string(FormatCSV):
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", value)
	}
}

// Service exports entity histories through the engine's all-versions reads.
type Service struct {
	engine    *engine.Engine
	exportDir string
}

// NewService creates an export service writing files under exportDir.
func NewService(eng *engine.Engine, exportDir string) *Service {
	return &Service{engine: eng, exportDir: filepath.Clean(exportDir)}
}

// ExportFile writes the history of an entity to a freshly named file in the
// export directory and returns its path.
func (s *Service) ExportFile(ctx context.Context, entityID int64, format Format) (string, error) {
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	name := fmt.Sprintf("history-%d-%s.%s", entityID, uuid.New(), format)
	path := filepath.Join(s.exportDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	if err := s.Export(ctx, f, entityID, format); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// Export writes the history of an entity to w in the requested format.
func (s *Service) Export(ctx context.Context, w io.Writer, entityID int64, format Format) error {
	history, err := s.engine.History(ctx, entityID)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return fmt.Errorf("entity %d: %w", entityID, engine.ErrNotFound)
	}

	header, rows := tabulate(history)

	switch format {
	case FormatCSV:
		return writeCSV(w, header, rows)
	case FormatXLSX:
		return writeXLSX(w, header, rows)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// tabulate flattens the chain into a header plus one row per version,
// oldest first. Payload columns are the union of every version's fields so
// dropped fields still show in the versions that had them.
func tabulate(history []*domain.Record) ([]string, [][]string) {
	fieldSet := map[string]struct{}{}
	for _, rec := range history {
		for name := range rec.Fields() {
			fieldSet[name] = struct{}{}
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for name := range fieldSet {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	header := append([]string{domain.ColEntityID, domain.ColVersion, domain.ColCurrent}, fields...)

	rows := make([][]string, len(history))
	for i, rec := range history {
		row := make([]string, 0, len(header))
		row = append(row,
			strconv.FormatInt(rec.EntityID, 10),
			strconv.FormatInt(rec.Version, 10),
			strconv.FormatBool(rec.Current),
		)
		payload := rec.Fields()
		for _, name := range fields {
			row = append(row, cellValue(payload[name]))
		}
		rows[i] = row
	}
	return header, rows
}

func cellValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprintf("%v", typed)
		}
		return string(encoded)
	}
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

func writeXLSX(w io.Writer, header []string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "History"
	f.SetSheetName("Sheet1", sheet)

	write := func(rowIdx int, values []string) error {
		cell, err := excelize.CoordinatesToCellName(1, rowIdx)
		if err != nil {
			return err
		}
		return f.SetSheetRow(sheet, cell, &values)
	}

	if err := write(1, header); err != nil {
		return fmt.Errorf("failed to write sheet header: %w", err)
	}
	for i, row := range rows {
		if err := write(i+2, row); err != nil {
			return fmt.Errorf("failed to write sheet row: %w", err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
