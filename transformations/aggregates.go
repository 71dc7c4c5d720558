package transformations

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/opendatasus/natality-warehouse/warehouse"
)

// ContinuousMetrics are the typed columns summarized as mean/median/stddev
// at every grain. Nulls are excluded from both numerator and denominator;
// each metric therefore carries its own non-null count so coarser grains
// can be recombined exactly.
var ContinuousMetrics = []string{"mother_age", "birth_weight_grams", "gestation_weeks"}

// GrainPair is one (time grain, geography grain) combination with its own
// aggregate table.
type GrainPair struct {
	Time warehouse.TimeGrain
	Geo  warehouse.GeoGrain
}

// GrainPairs lists every aggregate table the engine maintains. The daily
// grain exists at the national level only.
var GrainPairs = []GrainPair{
	{warehouse.GrainYearly, warehouse.GeoNational},
	{warehouse.GrainYearly, warehouse.GeoRegion},
	{warehouse.GrainYearly, warehouse.GeoState},
	{warehouse.GrainYearly, warehouse.GeoMunicipality},
	{warehouse.GrainMonthly, warehouse.GeoNational},
	{warehouse.GrainMonthly, warehouse.GeoRegion},
	{warehouse.GrainMonthly, warehouse.GeoState},
	{warehouse.GrainMonthly, warehouse.GeoMunicipality},
	{warehouse.GrainDaily, warehouse.GeoNational},
}

// Table returns the aggregate table name of the pair.
func (p GrainPair) Table() string {
	return warehouse.AggTable(p.Time, p.Geo)
}

// timeKeyColumns returns the grain-key columns of a time grain.
func timeKeyColumns(t warehouse.TimeGrain) []string {
	switch t {
	case warehouse.GrainMonthly:
		return []string{"year", "month"}
	case warehouse.GrainDaily:
		return []string{"year", "day"}
	default:
		return []string{"year"}
	}
}

// AggregationEngine rebuilds every aggregate table from the
// feature-augmented optimized batches. Each run fully replaces each table;
// there is no incremental upsert.
type AggregationEngine struct {
	client *warehouse.Client
	logger *zap.Logger
}

// NewAggregationEngine creates an AggregationEngine.
func NewAggregationEngine(client *warehouse.Client, logger *zap.Logger) *AggregationEngine {
	return &AggregationEngine{client: client, logger: logger}
}

// RebuildAll replaces every aggregate table from all optimized years
// present in the working database.
func (e *AggregationEngine) RebuildAll(ctx context.Context) error {
	years, err := e.optimizedYears(ctx)
	if err != nil {
		return err
	}
	if len(years) == 0 {
		return fmt.Errorf("no optimized batches to aggregate")
	}

	for _, pair := range GrainPairs {
		if err := e.rebuild(ctx, pair, years); err != nil {
			return err
		}
	}

	e.logger.Info("aggregate tables rebuilt",
		zap.Int("tables", len(GrainPairs)),
		zap.Ints("years", years))
	return nil
}

// optimizedYears lists the years with an optimized batch, ascending.
func (e *AggregationEngine) optimizedYears(ctx context.Context) ([]int, error) {
	tables, err := e.client.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	var years []int
	for _, table := range tables {
		if !strings.HasPrefix(table, warehouse.OptimizedPrefix) {
			continue
		}
		if year, ok := warehouse.YearFromTable(table); ok {
			years = append(years, year)
		}
	}
	sort.Ints(years)
	return years, nil
}

// rebuild drops, recreates and fills one aggregate table. Each insert is
// restricted to its batch's nominal year, so grain keys never collide
// across inserts and no conflict handling is needed.
func (e *AggregationEngine) rebuild(ctx context.Context, pair GrainPair, years []int) error {
	table := pair.Table()

	if err := e.client.DropTable(ctx, table); err != nil {
		return err
	}
	if _, err := e.client.Pool.Exec(ctx, buildAggTableDDL(pair)); err != nil {
		return fmt.Errorf("failed to create %s: %w", table, err)
	}

	for _, year := range years {
		stmt := buildAggInsert(pair, year)
		if _, err := e.client.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to aggregate year %d into %s: %w", year, table, err)
		}
	}

	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_year ON %s (year)", table, table)
	if _, err := e.client.Pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to index %s: %w", table, err)
	}
	return nil
}

// buildAggTableDDL returns the CREATE TABLE statement for one grain pair.
func buildAggTableDDL(pair GrainPair) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", pair.Table())

	for _, key := range timeKeyColumns(pair.Time) {
		if key == "day" {
			b.WriteString("\tday date NOT NULL,\n")
		} else {
			fmt.Fprintf(&b, "\t%s integer NOT NULL,\n", key)
		}
	}
	if col := pair.Geo.KeyColumn(); col != "" {
		fmt.Fprintf(&b, "\t%s text NOT NULL,\n", col)
	}

	b.WriteString("\trecord_count bigint NOT NULL,\n")
	for _, m := range ContinuousMetrics {
		fmt.Fprintf(&b, "\t%s_count bigint NOT NULL,\n", m)
		fmt.Fprintf(&b, "\t%s_mean double precision,\n", m)
		fmt.Fprintf(&b, "\t%s_median double precision,\n", m)
		fmt.Fprintf(&b, "\t%s_stddev double precision,\n", m)
	}
	for i, f := range FlagColumns() {
		fmt.Fprintf(&b, "\t%s_count bigint NOT NULL,\n", f)
		fmt.Fprintf(&b, "\t%s_rate double precision", f)
		if i < len(Flags)-1 {
			b.WriteString(",\n")
		} else {
			b.WriteString("\n")
		}
	}
	b.WriteString(")")
	return b.String()
}

// buildAggInsert returns the INSERT ... SELECT aggregating one optimized
// year into one grain pair. Grain-key combinations with no underlying rows
// simply never appear: the output is sparse, not zero-filled.
func buildAggInsert(pair GrainPair, year int) string {
	source := warehouse.OptimizedTable(year)

	var keys []string
	var keyExprs []string
	for _, key := range timeKeyColumns(pair.Time) {
		keys = append(keys, key)
		switch key {
		case "year":
			keyExprs = append(keyExprs, "EXTRACT(YEAR FROM birth_date)::integer AS year")
		case "month":
			keyExprs = append(keyExprs, "EXTRACT(MONTH FROM birth_date)::integer AS month")
		case "day":
			keyExprs = append(keyExprs, "birth_date AS day")
		}
	}
	if col := pair.Geo.KeyColumn(); col != "" {
		keys = append(keys, col)
		keyExprs = append(keyExprs, col)
	}

	cols := append([]string{}, keys...)
	exprs := append([]string{}, keyExprs...)

	cols = append(cols, "record_count")
	exprs = append(exprs, "COUNT(*)")

	for _, m := range ContinuousMetrics {
		cols = append(cols,
			m+"_count", m+"_mean", m+"_median", m+"_stddev")
		exprs = append(exprs,
			fmt.Sprintf("COUNT(%s)", m),
			fmt.Sprintf("AVG(%s)::double precision", m),
			fmt.Sprintf("percentile_cont(0.5) WITHIN GROUP (ORDER BY %s)::double precision", m),
			fmt.Sprintf("stddev_samp(%s)::double precision", m))
	}
	for _, f := range FlagColumns() {
		cols = append(cols, f+"_count", f+"_rate")
		exprs = append(exprs,
			fmt.Sprintf("COUNT(%s)", f),
			fmt.Sprintf("AVG(CASE WHEN %s THEN 100.0 WHEN NOT %s THEN 0.0 END)::double precision", f, f))
	}

	// Each insert pins the batch's nominal year so a stray-dated record
	// in one batch cannot produce a second row for a grain key another
	// batch owns.
	conds := []string{fmt.Sprintf("EXTRACT(YEAR FROM birth_date)::integer = %d", year)}
	if col := pair.Geo.KeyColumn(); col != "" {
		conds = append(conds, col+" IS NOT NULL")
	}
	where := "\nWHERE " + strings.Join(conds, " AND ")

	return fmt.Sprintf(
		"INSERT INTO %s (%s)\nSELECT %s\nFROM %s%s\nGROUP BY %s",
		pair.Table(),
		strings.Join(cols, ", "),
		strings.Join(exprs, ",\n\t"),
		source,
		where,
		strings.Join(keys, ", "))
}
