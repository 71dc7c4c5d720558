package transformations

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/opendatasus/natality-warehouse/catalog"
	"github.com/opendatasus/natality-warehouse/warehouse"
)

// chunkedBatchSize bounds memory on the row-wise path. One batch of typed
// rows is held at a time regardless of year size.
const chunkedBatchSize = 5000

// ChunkedOptimization is the portable fallback: rows are streamed out of
// the raw table, typed in Go with the same catalog rules the bulk path
// compiles to SQL, and copied back in bounded batches.
type ChunkedOptimization struct {
	client *warehouse.Client
	logger *zap.Logger
}

// NewChunkedOptimization creates the row-wise strategy.
func NewChunkedOptimization(client *warehouse.Client, logger *zap.Logger) *ChunkedOptimization {
	return &ChunkedOptimization{client: client, logger: logger}
}

func (s *ChunkedOptimization) Name() string { return "chunked" }

// Optimize types one year row by row and returns the number of rows
// written. Rows whose date cannot be parsed are dropped, matching the bulk
// path's WHERE clause.
func (s *ChunkedOptimization) Optimize(ctx context.Context, year int) (int64, error) {
	raw := warehouse.RawTable(year)
	optimized := warehouse.OptimizedTable(year)

	rawCols := make([]string, len(catalog.Columns))
	for i, rule := range catalog.Columns {
		rawCols[i] = strings.ToLower(rule.Raw)
	}

	rows, err := s.client.Pool.Query(ctx,
		fmt.Sprintf("SELECT %s FROM %s", strings.Join(rawCols, ", "), raw))
	if err != nil {
		return 0, fmt.Errorf("failed to stream %s: %w", raw, err)
	}
	defer rows.Close()

	targetCols := append(catalog.TargetColumns(), "state_id", "region_id")

	var written, dropped int64
	batch := make([][]any, 0, chunkedBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.client.Pool.CopyFrom(ctx, pgx.Identifier{optimized}, targetCols, pgx.CopyFromRows(batch))
		if err != nil {
			return fmt.Errorf("failed to copy batch into %s: %w", optimized, err)
		}
		written += n
		batch = batch[:0]
		return nil
	}

	values := make([]*string, len(catalog.Columns))
	dest := make([]any, len(catalog.Columns))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return 0, fmt.Errorf("failed to scan raw row: %w", err)
		}

		typed, ok := convertRow(values)
		if !ok {
			dropped++
			continue
		}
		batch = append(batch, typed)

		if len(batch) == chunkedBatchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("raw stream failed: %w", err)
	}
	if err := flush(); err != nil {
		return 0, err
	}

	if dropped > 0 {
		s.logger.Warn("rows dropped for unparseable date",
			zap.Int("year", year),
			zap.Int64("rows", dropped))
	}
	return written, nil
}

// convertRow applies every catalog rule to one raw row. ok is false when a
// mandatory field failed and the row must be dropped.
func convertRow(values []*string) ([]any, bool) {
	typed := make([]any, 0, len(catalog.Columns)+2)
	var municipality string

	for i, rule := range catalog.Columns {
		raw := ""
		if values[i] != nil {
			raw = *values[i]
		}

		// Conversion only fails as a row drop (unparseable birth date).
		v, err := rule.Convert(raw)
		if err != nil {
			return nil, false
		}

		// The municipality code additionally validates as a 6-digit id
		// with a known state prefix, mirroring the set-based expression.
		if rule.Raw == "CODMUNRES" {
			code, _ := v.(string)
			if catalog.StateID(code) == "" {
				v = nil
				code = ""
			}
			municipality = code
		}
		typed = append(typed, v)
	}

	if municipality == "" {
		typed = append(typed, nil, nil)
	} else {
		typed = append(typed, catalog.StateID(municipality), catalog.RegionID(municipality))
	}
	return typed, true
}
