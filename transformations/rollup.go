package transformations

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/opendatasus/natality-warehouse/warehouse"
)

// A coarser aggregate row must be derivable two ways: directly from the
// record-grain data, and by count-weighted combination of the next finer
// grain's rows sharing the same parent. Both must agree; a disagreement is
// a correctness bug that blocks promotion of the affected tables.

// RollupMismatch describes one failed consistency check between adjacent
// geography grains.
type RollupMismatch struct {
	ChildTable  string
	ParentTable string
	Detail      string
}

func (m RollupMismatch) Error() string {
	return fmt.Sprintf("rollup mismatch between %s and %s: %s", m.ChildTable, m.ParentTable, m.Detail)
}

// rollupTolerance bounds the acceptable floating-point drift between a
// directly computed value and its weighted recombination.
const rollupTolerance = 1e-6

// VerifyRollups checks municipality→state and state→region consistency for
// every time grain that has both tables. It returns all mismatches found;
// the caller excludes the named tables from promotion.
func (e *AggregationEngine) VerifyRollups(ctx context.Context) ([]RollupMismatch, error) {
	checks := []struct {
		time      warehouse.TimeGrain
		child     warehouse.GeoGrain
		parent    warehouse.GeoGrain
		prefixLen int
	}{
		{warehouse.GrainYearly, warehouse.GeoMunicipality, warehouse.GeoState, 2},
		{warehouse.GrainYearly, warehouse.GeoState, warehouse.GeoRegion, 1},
		{warehouse.GrainMonthly, warehouse.GeoMunicipality, warehouse.GeoState, 2},
		{warehouse.GrainMonthly, warehouse.GeoState, warehouse.GeoRegion, 1},
	}

	var mismatches []RollupMismatch
	for _, c := range checks {
		found, err := e.verifyPair(ctx, c.time, c.child, c.parent, c.prefixLen)
		if err != nil {
			return nil, err
		}
		mismatches = append(mismatches, found...)
	}

	if len(mismatches) > 0 {
		for _, m := range mismatches {
			e.logger.Error("rollup mismatch", zap.String("detail", m.Error()))
		}
	} else {
		e.logger.Info("rollup consistency verified", zap.Int("grain_pairs", len(checks)))
	}
	return mismatches, nil
}

// rollupRow is one parent-grain row, either read directly or recombined
// from child rows.
type rollupRow struct {
	recordCount int64
	metricCount []int64
	metricMean  []*float64
	flagCount   []int64
	flagRate    []*float64
}

func (e *AggregationEngine) verifyPair(ctx context.Context, t warehouse.TimeGrain, child, parent warehouse.GeoGrain, prefixLen int) ([]RollupMismatch, error) {
	childTable := warehouse.AggTable(t, child)
	parentTable := warehouse.AggTable(t, parent)
	timeKeys := timeKeyColumns(t)

	direct, err := e.readRollupRows(ctx, directRollupQuery(parentTable, parent.KeyColumn(), timeKeys), timeKeys)
	if err != nil {
		return nil, err
	}
	derived, err := e.readRollupRows(ctx, derivedRollupQuery(childTable, child.KeyColumn(), prefixLen, timeKeys), timeKeys)
	if err != nil {
		return nil, err
	}

	mismatch := func(detail string) RollupMismatch {
		return RollupMismatch{ChildTable: childTable, ParentTable: parentTable, Detail: detail}
	}

	var out []RollupMismatch
	for key, d := range direct {
		w, ok := derived[key]
		if !ok {
			out = append(out, mismatch(fmt.Sprintf("grain key %s has no child rows", key)))
			continue
		}
		if d.recordCount != w.recordCount {
			out = append(out, mismatch(fmt.Sprintf(
				"grain key %s: record_count %d direct vs %d weighted", key, d.recordCount, w.recordCount)))
		}
		for i, m := range ContinuousMetrics {
			if d.metricCount[i] != w.metricCount[i] {
				out = append(out, mismatch(fmt.Sprintf(
					"grain key %s: %s_count %d direct vs %d weighted", key, m, d.metricCount[i], w.metricCount[i])))
			}
			if !floatsClose(d.metricMean[i], w.metricMean[i]) {
				out = append(out, mismatch(fmt.Sprintf(
					"grain key %s: %s_mean %v direct vs %v weighted", key, m, floatVal(d.metricMean[i]), floatVal(w.metricMean[i]))))
			}
		}
		for i, f := range FlagColumns() {
			if d.flagCount[i] != w.flagCount[i] {
				out = append(out, mismatch(fmt.Sprintf(
					"grain key %s: %s_count %d direct vs %d weighted", key, f, d.flagCount[i], w.flagCount[i])))
			}
			if !floatsClose(d.flagRate[i], w.flagRate[i]) {
				out = append(out, mismatch(fmt.Sprintf(
					"grain key %s: %s_rate %v direct vs %v weighted", key, f, floatVal(d.flagRate[i]), floatVal(w.flagRate[i]))))
			}
		}
	}
	for key := range derived {
		if _, ok := direct[key]; !ok {
			out = append(out, mismatch(fmt.Sprintf("grain key %s present in children only", key)))
		}
	}
	return out, nil
}

// directRollupQuery reads parent rows as stored.
func directRollupQuery(table, keyColumn string, timeKeys []string) string {
	cols := append(append([]string{}, timeKeys...), keyColumn, "record_count")
	for _, m := range ContinuousMetrics {
		cols = append(cols, m+"_count", m+"_mean")
	}
	for _, f := range FlagColumns() {
		cols = append(cols, f+"_count", f+"_rate")
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), table)
}

// derivedRollupQuery recombines child rows under their parent key. Means
// and rates recombine weighted by their own non-null counts; record counts
// sum exactly.
func derivedRollupQuery(table, keyColumn string, prefixLen int, timeKeys []string) string {
	groupKeys := append(append([]string{}, timeKeys...),
		fmt.Sprintf("left(%s, %d)", keyColumn, prefixLen))

	exprs := append(append([]string{}, timeKeys...),
		fmt.Sprintf("left(%s, %d)", keyColumn, prefixLen),
		"SUM(record_count)::bigint")
	for _, m := range ContinuousMetrics {
		exprs = append(exprs,
			fmt.Sprintf("SUM(%s_count)::bigint", m),
			fmt.Sprintf("CASE WHEN SUM(%s_count) > 0 THEN SUM(%s_mean * %s_count) / SUM(%s_count) END", m, m, m, m))
	}
	for _, f := range FlagColumns() {
		exprs = append(exprs,
			fmt.Sprintf("SUM(%s_count)::bigint", f),
			fmt.Sprintf("CASE WHEN SUM(%s_count) > 0 THEN SUM(%s_rate * %s_count) / SUM(%s_count) END", f, f, f, f))
	}

	return fmt.Sprintf("SELECT %s FROM %s GROUP BY %s",
		strings.Join(exprs, ", "), table, strings.Join(groupKeys, ", "))
}

// readRollupRows executes a rollup query and indexes the rows by their
// composite grain key.
func (e *AggregationEngine) readRollupRows(ctx context.Context, query string, timeKeys []string) (map[string]rollupRow, error) {
	rows, err := e.client.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rollup query failed: %w", err)
	}
	defer rows.Close()

	out := make(map[string]rollupRow)
	for rows.Next() {
		timeVals := make([]int32, len(timeKeys))
		var geoKey string
		row := rollupRow{
			metricCount: make([]int64, len(ContinuousMetrics)),
			metricMean:  make([]*float64, len(ContinuousMetrics)),
			flagCount:   make([]int64, len(Flags)),
			flagRate:    make([]*float64, len(Flags)),
		}

		dest := make([]any, 0, len(timeKeys)+2+2*len(ContinuousMetrics)+2*len(Flags))
		for i := range timeVals {
			dest = append(dest, &timeVals[i])
		}
		dest = append(dest, &geoKey, &row.recordCount)
		for i := range ContinuousMetrics {
			dest = append(dest, &row.metricCount[i], &row.metricMean[i])
		}
		for i := range Flags {
			dest = append(dest, &row.flagCount[i], &row.flagRate[i])
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan rollup row: %w", err)
		}

		key := geoKey
		for i := len(timeVals) - 1; i >= 0; i-- {
			key = fmt.Sprintf("%d/%s", timeVals[i], key)
		}
		out[key] = row
	}
	return out, rows.Err()
}

// floatsClose compares two optional floats within the rollup tolerance.
func floatsClose(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	scale := math.Max(1, math.Max(math.Abs(*a), math.Abs(*b)))
	return math.Abs(*a-*b) <= rollupTolerance*scale
}

func floatVal(v *float64) any {
	if v == nil {
		return "null"
	}
	return *v
}
