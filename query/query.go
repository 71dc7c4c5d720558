// Package query is the read surface over the aggregate tables. The
// presentation layer talks to this package only, never to the warehouse
// schema directly.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opendatasus/natality-warehouse/transformations"
	"github.com/opendatasus/natality-warehouse/warehouse"
)

// MetricSummary holds the statistics published for one continuous metric.
type MetricSummary struct {
	Count  int64
	Mean   *float64
	Median *float64
	StdDev *float64
}

// FlagSummary holds the statistics published for one boolean flag. Rate
// is a percentage over the rows where the flag is not null.
type FlagSummary struct {
	Count int64
	Rate  *float64
}

// AggregateRow is one row of an aggregate table in API form.
type AggregateRow struct {
	Year        int
	Month       *int       // set for monthly grain
	Day         *time.Time // set for daily grain
	GeoKey      *string    // nil at national grain
	RecordCount int64
	Metrics     map[string]MetricSummary
	Flags       map[string]FlagSummary
}

// Request selects one aggregate grain and optionally narrows it.
type Request struct {
	Time   warehouse.TimeGrain
	Geo    warehouse.GeoGrain
	Year   int    // 0 selects all years
	GeoKey string // empty selects all keys; ignored at national grain
}

// Service answers aggregate queries against the working warehouse.
type Service struct {
	client *warehouse.Client
	logger *zap.Logger
}

// NewService creates a Service.
func NewService(client *warehouse.Client, logger *zap.Logger) *Service {
	return &Service{client: client, logger: logger}
}

// Aggregates returns the rows of the requested grain, optionally filtered
// by year and geography key, ordered by time then geography.
func (s *Service) Aggregates(ctx context.Context, req Request) ([]AggregateRow, error) {
	pair := transformations.GrainPair{Time: req.Time, Geo: req.Geo}
	supported := false
	for _, p := range transformations.GrainPairs {
		if p == pair {
			supported = true
			break
		}
	}
	if !supported {
		return nil, fmt.Errorf("unsupported grain %s/%s", req.Time, req.Geo)
	}

	table := pair.Table()
	exists, err := s.client.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("aggregate table %s does not exist, run aggregation first", table)
	}

	sql, args := buildSelect(pair, req)
	s.logger.Debug("aggregate query", zap.String("table", table), zap.Int("args", len(args)))

	rows, err := s.client.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	var out []AggregateRow
	for rows.Next() {
		row, err := scanRow(rows.Scan, pair)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", table, err)
	}
	return out, nil
}

// buildSelect assembles the SELECT for one grain. Every identifier comes
// from the closed grain and catalog definitions, never from the request.
func buildSelect(pair transformations.GrainPair, req Request) (string, []interface{}) {
	cols := []string{"year"}
	switch pair.Time {
	case warehouse.GrainMonthly:
		cols = append(cols, "month")
	case warehouse.GrainDaily:
		cols = append(cols, "day")
	}
	geoKey := pair.Geo.KeyColumn()
	if geoKey != "" {
		cols = append(cols, geoKey)
	}
	cols = append(cols, "record_count")
	for _, m := range transformations.ContinuousMetrics {
		cols = append(cols, m+"_count", m+"_mean", m+"_median", m+"_stddev")
	}
	for _, f := range transformations.Flags {
		cols = append(cols, f.Name+"_count", f.Name+"_rate")
	}

	var (
		where []string
		args  []interface{}
	)
	if req.Year != 0 {
		args = append(args, req.Year)
		where = append(where, fmt.Sprintf("year = $%d", len(args)))
	}
	if req.GeoKey != "" && geoKey != "" {
		args = append(args, req.GeoKey)
		where = append(where, fmt.Sprintf("%s = $%d", geoKey, len(args)))
	}

	sql := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), pair.Table())
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	order := cols[0]
	switch pair.Time {
	case warehouse.GrainMonthly:
		order = "year, month"
	case warehouse.GrainDaily:
		order = "year, day"
	}
	if geoKey != "" {
		order += ", " + geoKey
	}
	sql += " ORDER BY " + order
	return sql, args
}

// scanRow scans one result row in the column order buildSelect emits.
func scanRow(scan func(...interface{}) error, pair transformations.GrainPair) (AggregateRow, error) {
	row := AggregateRow{
		Metrics: make(map[string]MetricSummary, len(transformations.ContinuousMetrics)),
		Flags:   make(map[string]FlagSummary, len(transformations.Flags)),
	}

	var (
		year  int32
		month int32
		day   time.Time
		geo   string
	)
	targets := []interface{}{&year}
	switch pair.Time {
	case warehouse.GrainMonthly:
		targets = append(targets, &month)
	case warehouse.GrainDaily:
		targets = append(targets, &day)
	}
	if pair.Geo.KeyColumn() != "" {
		targets = append(targets, &geo)
	}
	targets = append(targets, &row.RecordCount)

	metrics := make([]struct {
		count  int64
		mean   *float64
		median *float64
		stddev *float64
	}, len(transformations.ContinuousMetrics))
	for i := range metrics {
		targets = append(targets, &metrics[i].count, &metrics[i].mean, &metrics[i].median, &metrics[i].stddev)
	}
	flags := make([]struct {
		count int64
		rate  *float64
	}, len(transformations.Flags))
	for i := range flags {
		targets = append(targets, &flags[i].count, &flags[i].rate)
	}

	if err := scan(targets...); err != nil {
		return AggregateRow{}, err
	}

	row.Year = int(year)
	switch pair.Time {
	case warehouse.GrainMonthly:
		m := int(month)
		row.Month = &m
	case warehouse.GrainDaily:
		d := day
		row.Day = &d
	}
	if pair.Geo.KeyColumn() != "" {
		g := geo
		row.GeoKey = &g
	}
	for i, name := range transformations.ContinuousMetrics {
		row.Metrics[name] = MetricSummary{
			Count:  metrics[i].count,
			Mean:   metrics[i].mean,
			Median: metrics[i].median,
			StdDev: metrics[i].stddev,
		}
	}
	for i, f := range transformations.Flags {
		row.Flags[f.Name] = FlagSummary{Count: flags[i].count, Rate: flags[i].rate}
	}
	return row, nil
}
