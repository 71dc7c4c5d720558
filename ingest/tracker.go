package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/opendatasus/natality-warehouse/warehouse"
)

// Plan is the outcome of incremental-ingestion planning: which years to
// actually fetch and load, and which were skipped because a raw batch is
// already present. Planning has no side effects; loading is the Loader's job.
type Plan struct {
	Years   []int // years to (re)process, ascending
	Skipped []int // years already present and not overwritten, ascending
}

// PlanYears compares the requested target years against the raw batches
// already present in the working database. With overwrite set, every target
// year is reprocessed unconditionally. A table with a malformed year suffix
// is ignored with a warning; it never fails the batch.
func PlanYears(ctx context.Context, client *warehouse.Client, target []int, overwrite bool, logger *zap.Logger) (Plan, error) {
	if overwrite {
		years := append([]int(nil), target...)
		sort.Ints(years)
		return Plan{Years: years}, nil
	}

	tables, err := client.ListTables(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to enumerate existing batches: %w", err)
	}

	existing := make(map[int]bool)
	for _, table := range tables {
		if !strings.HasPrefix(table, warehouse.RawPrefix) {
			continue
		}
		year, ok := warehouse.YearFromTable(table)
		if !ok {
			logger.Warn("ignoring raw table with malformed year suffix",
				zap.String("table", table))
			continue
		}
		existing[year] = true
	}

	var plan Plan
	for _, year := range target {
		if existing[year] {
			plan.Skipped = append(plan.Skipped, year)
			continue
		}
		plan.Years = append(plan.Years, year)
	}
	sort.Ints(plan.Years)
	sort.Ints(plan.Skipped)
	return plan, nil
}

// YearRange expands an inclusive [from, to] range into an explicit year list.
func YearRange(from, to int) ([]int, error) {
	if from > to {
		return nil, fmt.Errorf("invalid year range: %d > %d", from, to)
	}
	years := make([]int, 0, to-from+1)
	for y := from; y <= to; y++ {
		years = append(years, y)
	}
	return years, nil
}
