package promote

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/opendatasus/natality-warehouse/warehouse"
)

var (
	tablesPromoted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warehouse_tables_promoted_total",
		Help: "Tables successfully promoted, per destination",
	}, []string{"destination"})

	tablesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warehouse_tables_promotion_failed_total",
		Help: "Tables that failed promotion, per destination",
	}, []string{"destination"})

	promotionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "warehouse_promotion_duration_seconds",
		Help:    "Duration of full promotion runs",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})
)

// TableResult is the outcome of promoting one table to one destination.
type TableResult struct {
	Destination string
	Table       string
	Strategy    string
	RowsCopied  int64
	Succeeded   bool
	Reason      string // set when Succeeded is false
}

// Report is the output contract of a promotion run. Partial success is
// surfaced explicitly: already-promoted tables are never rolled back when
// a later table fails.
type Report struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Excluded  []Exclusion
	Results   []TableResult
}

// Succeeded counts successful table promotions across destinations.
func (r *Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Succeeded {
			n++
		}
	}
	return n
}

// Failed counts failed table promotions across destinations.
func (r *Report) Failed() int {
	return len(r.Results) - r.Succeeded()
}

// PartialFailure reports whether at least one table failed while another
// succeeded.
func (r *Report) PartialFailure() bool {
	return r.Failed() > 0 && r.Succeeded() > 0
}

// Promoter replicates the manifest-selected tables into one or more
// serving destinations.
type Promoter struct {
	client   *warehouse.Client
	dests    []*Destination
	manifest Manifest
	logger   *zap.Logger
}

// NewPromoter creates a Promoter.
func NewPromoter(client *warehouse.Client, dests []*Destination, manifest Manifest, logger *zap.Logger) *Promoter {
	return &Promoter{client: client, dests: dests, manifest: manifest, logger: logger}
}

// Run evaluates the manifest and copies every selected table to every
// destination. Destinations proceed in parallel; within one destination
// tables are strictly serialized so serving readers never observe a
// half-replaced table alongside an in-flight one. The returned error is
// nil even on partial failure; the report carries the outcome.
func (p *Promoter) Run(ctx context.Context, denied map[string]string) (*Report, error) {
	start := time.Now()
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: start,
	}

	selection, err := p.manifest.Evaluate(ctx, p.client, denied)
	if err != nil {
		return nil, err
	}
	report.Excluded = selection.Excluded

	for _, ex := range selection.Excluded {
		p.logger.Info("table excluded from promotion",
			zap.String("table", ex.Table),
			zap.String("reason", ex.Reason))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []TableResult
	)
	for _, dest := range p.dests {
		wg.Add(1)
		go func(dest *Destination) {
			defer wg.Done()
			destResults := p.promoteTo(ctx, dest, selection.Tables)
			mu.Lock()
			results = append(results, destResults...)
			mu.Unlock()
		}(dest)
	}
	wg.Wait()

	report.Results = results
	report.Duration = time.Since(start)
	promotionDuration.Observe(report.Duration.Seconds())

	p.logger.Info("promotion run finished",
		zap.String("run_id", report.RunID),
		zap.Int("attempted", len(report.Results)),
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", report.Failed()),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// promoteTo copies every table to one destination, serially. A failed
// table is reported and the loop moves on; earlier successes stand.
func (p *Promoter) promoteTo(ctx context.Context, dest *Destination, tables []string) []TableResult {
	strategy := SelectStrategy(p.client, dest)
	results := make([]TableResult, 0, len(tables))

	for _, table := range tables {
		result := p.promoteTable(ctx, dest, strategy, table)
		if result.Succeeded {
			tablesPromoted.WithLabelValues(dest.Name).Inc()
			p.logger.Info("table promoted",
				zap.String("destination", dest.Name),
				zap.String("table", table),
				zap.String("strategy", result.Strategy),
				zap.Int64("rows", result.RowsCopied))
		} else {
			tablesFailed.WithLabelValues(dest.Name).Inc()
			p.logger.Error("table promotion failed",
				zap.String("destination", dest.Name),
				zap.String("table", table),
				zap.String("reason", result.Reason))
		}
		results = append(results, result)
	}
	return results
}

// promoteTable drops, recreates, copies and verifies one table.
func (p *Promoter) promoteTable(ctx context.Context, dest *Destination, strategy PromotionStrategy, table string) TableResult {
	result := TableResult{Destination: dest.Name, Table: table, Strategy: strategy.Name()}

	fail := func(err error) TableResult {
		result.Reason = err.Error()
		return result
	}

	columns, err := p.client.Columns(ctx, table)
	if err != nil {
		return fail(err)
	}
	if err := dest.Recreate(ctx, table, buildCreateDDL(table, columns)); err != nil {
		return fail(err)
	}

	rows, err := strategy.CopyTable(ctx, table, dest)
	if err != nil {
		return fail(err)
	}
	result.RowsCopied = rows

	srcCount, err := p.client.RowCount(ctx, table)
	if err != nil {
		return fail(err)
	}
	destCount, err := dest.RowCount(ctx, table)
	if err != nil {
		return fail(err)
	}
	if srcCount != destCount {
		return fail(fmt.Errorf("verification failed: source has %d rows, destination has %d", srcCount, destCount))
	}

	result.Succeeded = true
	return result
}

// buildCreateDDL reproduces a table's shape at a destination. Catalog
// data_type names are valid type names on both supported engines for
// every type the curated tables use.
func buildCreateDDL(table string, columns []warehouse.Column) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = fmt.Sprintf("%s %s", c.Name, c.DataType)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))
}
