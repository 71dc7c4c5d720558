package transformations

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/opendatasus/natality-warehouse/catalog"
	"github.com/opendatasus/natality-warehouse/warehouse"
)

// OptimizationStrategy transforms one raw yearly batch into its typed form.
// Both implementations must produce identical typed output for the same
// input; the chunked path exists purely for portability.
type OptimizationStrategy interface {
	Name() string
	Optimize(ctx context.Context, year int) (int64, error)
}

// SchemaMismatchError reports that a raw batch is missing a cataloged
// column. Fatal for that year's optimization only; the run continues.
type SchemaMismatchError struct {
	Table  string
	Column string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: table %s missing column %s", e.Table, e.Column)
}

// Optimizer rebuilds optimized_<year> tables from raw_<year> tables using
// the type catalog.
type Optimizer struct {
	client   *warehouse.Client
	logger   *zap.Logger
	strategy OptimizationStrategy
}

// NewOptimizer creates an Optimizer with the given strategy. Use
// SelectOptimizationStrategy to pick one from a capability check.
func NewOptimizer(client *warehouse.Client, strategy OptimizationStrategy, logger *zap.Logger) *Optimizer {
	return &Optimizer{client: client, logger: logger, strategy: strategy}
}

// SelectOptimizationStrategy probes whether the working database allows
// session-local function creation (needed by the set-based path for safe
// date parsing) and returns the bulk strategy when it does, the chunked
// strategy otherwise. mode forces the choice: "bulk", "chunked" or "auto".
func SelectOptimizationStrategy(ctx context.Context, client *warehouse.Client, mode string, logger *zap.Logger) (OptimizationStrategy, error) {
	bulk := &BulkOptimization{client: client, logger: logger}
	chunked := &ChunkedOptimization{client: client, logger: logger}

	switch mode {
	case "bulk":
		return bulk, nil
	case "chunked":
		return chunked, nil
	case "", "auto":
	default:
		return nil, fmt.Errorf("unknown optimization mode %q", mode)
	}

	conn, err := client.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to probe optimization capability: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, safeBirthDateFunction); err != nil {
		logger.Warn("set-based optimization unavailable, falling back to chunked",
			zap.Error(err))
		return chunked, nil
	}
	return bulk, nil
}

// Run rebuilds the optimized batch for one year. When the optimized table
// already exists and overwrite is not set, the call is a safe no-op and
// rebuilt is false.
func (o *Optimizer) Run(ctx context.Context, year int, overwrite bool) (rebuilt bool, err error) {
	optimized := warehouse.OptimizedTable(year)

	if !overwrite {
		exists, err := o.client.TableExists(ctx, optimized)
		if err != nil {
			return false, err
		}
		if exists {
			o.logger.Info("optimized batch already present, skipping",
				zap.Int("year", year),
				zap.String("table", optimized))
			return false, nil
		}
	}

	raw := warehouse.RawTable(year)
	if err := o.checkRawSchema(ctx, raw); err != nil {
		return false, err
	}

	rawCount, err := o.client.RowCount(ctx, raw)
	if err != nil {
		return false, err
	}

	if err := o.createOptimizedTable(ctx, optimized); err != nil {
		return false, err
	}

	rows, err := o.strategy.Optimize(ctx, year)
	if err != nil {
		return false, fmt.Errorf("optimization of year %d failed: %w", year, err)
	}

	if err := o.createIndexes(ctx, optimized); err != nil {
		return false, err
	}

	o.reportCoercions(ctx, raw)

	o.logger.Info("optimized batch rebuilt",
		zap.Int("year", year),
		zap.String("strategy", o.strategy.Name()),
		zap.Int64("raw_rows", rawCount),
		zap.Int64("optimized_rows", rows),
		zap.Int64("rows_dropped", rawCount-rows))
	return true, nil
}

// checkRawSchema verifies that every cataloged raw column exists on the raw
// table before any SQL is built from catalog identifiers.
func (o *Optimizer) checkRawSchema(ctx context.Context, raw string) error {
	rows, err := o.client.Pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = $1`, raw)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", raw, err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(present) == 0 {
		return fmt.Errorf("raw table %s does not exist", raw)
	}

	for _, rule := range catalog.Columns {
		if !present[strings.ToLower(rule.Raw)] {
			return &SchemaMismatchError{Table: raw, Column: strings.ToLower(rule.Raw)}
		}
	}
	return nil
}

// createOptimizedTable drops and recreates the typed table. Geography key
// columns derived from the municipality code come after the cataloged
// columns.
func (o *Optimizer) createOptimizedTable(ctx context.Context, table string) error {
	if err := o.client.DropTable(ctx, table); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", table)
	for _, rule := range catalog.Columns {
		null := ""
		if rule.Kind == catalog.RuleDate {
			null = " NOT NULL"
		}
		fmt.Fprintf(&b, "\t%s %s%s,\n", rule.Target, rule.SQLType(), null)
	}
	b.WriteString("\tstate_id text,\n")
	b.WriteString("\tregion_id text\n)")

	if _, err := o.client.Pool.Exec(ctx, b.String()); err != nil {
		return fmt.Errorf("failed to create %s: %w", table, err)
	}
	return nil
}

// createIndexes indexes the time- and geography-grain keys used by the
// aggregation engine.
func (o *Optimizer) createIndexes(ctx context.Context, table string) error {
	for _, col := range []string{"birth_date", "municipality_id", "state_id", "region_id"} {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", table, col, table, col)
		if _, err := o.client.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to index %s.%s: %w", table, col, err)
		}
	}
	return nil
}

// reportCoercions counts raw values that were coerced to null because they
// matched neither a sentinel nor the column's domain. Non-fatal; warning
// only.
func (o *Optimizer) reportCoercions(ctx context.Context, raw string) {
	var selects []string
	var cols []catalog.ColumnRule
	for _, rule := range catalog.Columns {
		if rule.Kind != catalog.RuleInteger {
			continue
		}
		expr := fmt.Sprintf(
			"COUNT(*) FILTER (WHERE btrim(%s) <> '' AND btrim(%s) NOT IN (%s) AND btrim(%s) !~ '^[0-9]{1,8}$')",
			strings.ToLower(rule.Raw), strings.ToLower(rule.Raw),
			quoteList(rule.Sentinels), strings.ToLower(rule.Raw))
		selects = append(selects, expr)
		cols = append(cols, rule)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selects, ", "), raw)
	row := o.client.Pool.QueryRow(ctx, query)

	counts := make([]int64, len(cols))
	dest := make([]any, len(cols))
	for i := range counts {
		dest[i] = &counts[i]
	}
	if err := row.Scan(dest...); err != nil {
		o.logger.Warn("failed to count out-of-domain values", zap.Error(err))
		return
	}

	for i, rule := range cols {
		if counts[i] > 0 {
			o.logger.Warn("out-of-domain values coerced to null",
				zap.String("column", rule.Target),
				zap.Int64("values", counts[i]))
		}
	}
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return strings.Join(quoted, ", ")
}
