package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/opendatasus/natality-warehouse/catalog"
	"github.com/opendatasus/natality-warehouse/warehouse"
)

// Loader creates raw yearly batch tables and bulk-loads source CSV exports
// into them. Download mechanics live outside the pipeline; the loader reads
// files already on disk.
type Loader struct {
	client *warehouse.Client
	logger *zap.Logger
}

// NewLoader creates a Loader against the working database.
func NewLoader(client *warehouse.Client, logger *zap.Logger) *Loader {
	return &Loader{client: client, logger: logger}
}

// Load replaces raw_<year> with the contents of the CSV export at path and
// returns the number of rows loaded. All columns are stored as text; typing
// happens later in the optimizer.
func (l *Loader) Load(ctx context.Context, year int, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("source unavailable for year %d: %w", year, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	// Map each catalog column to its position in this export. Exports carry
	// many more columns than the catalog maps; the extras are ignored here
	// and dropped for good during optimization.
	positions := make([]int, len(catalog.Columns))
	for i, rule := range catalog.Columns {
		positions[i] = -1
		for j, name := range header {
			if strings.EqualFold(strings.TrimSpace(name), rule.Raw) {
				positions[i] = j
				break
			}
		}
		if positions[i] < 0 {
			return 0, fmt.Errorf("year %d export missing column %s", year, rule.Raw)
		}
	}

	table := warehouse.RawTable(year)
	if err := l.createRawTable(ctx, table); err != nil {
		return 0, err
	}

	columns := make([]string, len(catalog.Columns))
	for i, rule := range catalog.Columns {
		columns[i] = strings.ToLower(rule.Raw)
	}

	source := &csvCopySource{reader: reader, positions: positions}
	loaded, err := l.client.Pool.CopyFrom(ctx, pgx.Identifier{table}, columns, source)
	if err != nil {
		return 0, fmt.Errorf("failed to load %s: %w", table, err)
	}

	l.logger.Info("raw batch loaded",
		zap.Int("year", year),
		zap.String("table", table),
		zap.Int64("rows", loaded))
	return loaded, nil
}

// createRawTable drops and recreates the raw table with one text column per
// catalog entry plus an arrival timestamp.
func (l *Loader) createRawTable(ctx context.Context, table string) error {
	if err := l.client.DropTable(ctx, table); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", table)
	for _, rule := range catalog.Columns {
		fmt.Fprintf(&b, "\t%s text,\n", strings.ToLower(rule.Raw))
	}
	b.WriteString("\tingested_at timestamptz NOT NULL DEFAULT now()\n)")

	if _, err := l.client.Pool.Exec(ctx, b.String()); err != nil {
		return fmt.Errorf("failed to create %s: %w", table, err)
	}
	return nil
}

// csvCopySource streams CSV records into CopyFrom without materializing the
// whole file, keeping memory bounded for multi-million-row years.
type csvCopySource struct {
	reader    *csv.Reader
	positions []int

	current []any
	err     error
}

func (s *csvCopySource) Next() bool {
	record, err := s.reader.Read()
	if err == io.EOF {
		return false
	}
	if err != nil {
		s.err = err
		return false
	}

	row := make([]any, len(s.positions))
	for i, pos := range s.positions {
		if pos >= len(record) {
			row[i] = nil
			continue
		}
		value := strings.TrimSpace(record[pos])
		if value == "" {
			row[i] = nil
		} else {
			row[i] = value
		}
	}
	s.current = row
	return true
}

func (s *csvCopySource) Values() ([]any, error) {
	return s.current, nil
}

func (s *csvCopySource) Err() error {
	return s.err
}
