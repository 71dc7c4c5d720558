package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opendatasus/natality-warehouse/catalog"
	"github.com/opendatasus/natality-warehouse/ingest"
	"github.com/opendatasus/natality-warehouse/promote"
	"github.com/opendatasus/natality-warehouse/transformations"
	"github.com/opendatasus/natality-warehouse/warehouse"
)

// PipelineStats is a snapshot of the last run, exposed by the health
// endpoint.
type PipelineStats struct {
	RunsTotal       int
	LastRunTime     time.Time
	LastRunDuration time.Duration
	YearsProcessed  int
	YearsSkipped    int
	YearsFailed     int
	RollupFailures  int
	TablesPromoted  int
	TablesFailed    int
	LastError       string
}

// Pipeline runs the warehouse stages in order: ingest, optimize,
// dimensions, features, aggregate, verify, promote. One bad year never
// sinks the batch; it is reported and the remaining years proceed.
type Pipeline struct {
	config *Config
	client *warehouse.Client
	logger *zap.Logger

	mu    sync.Mutex
	stats PipelineStats
}

// NewPipeline creates a Pipeline over an open warehouse client.
func NewPipeline(config *Config, client *warehouse.Client, logger *zap.Logger) *Pipeline {
	return &Pipeline{config: config, client: client, logger: logger}
}

// GetStats returns a snapshot of the pipeline statistics.
func (p *Pipeline) GetStats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Run executes one full pipeline pass.
func (p *Pipeline) Run(ctx context.Context) error {
	start := time.Now()
	var stats PipelineStats

	err := p.run(ctx, &stats)

	stats.LastRunTime = start
	stats.LastRunDuration = time.Since(start)
	if err != nil {
		stats.LastError = err.Error()
	}

	p.mu.Lock()
	stats.RunsTotal = p.stats.RunsTotal + 1
	p.stats = stats
	p.mu.Unlock()

	p.logger.Info("pipeline run finished",
		zap.Int("years_processed", stats.YearsProcessed),
		zap.Int("years_skipped", stats.YearsSkipped),
		zap.Int("years_failed", stats.YearsFailed),
		zap.Duration("duration", stats.LastRunDuration),
		zap.Error(err))
	return err
}

func (p *Pipeline) run(ctx context.Context, stats *PipelineStats) error {
	target, err := p.config.TargetYears()
	if err != nil {
		return err
	}

	plan, err := ingest.PlanYears(ctx, p.client, target, p.config.Ingest.Overwrite, p.logger)
	if err != nil {
		return err
	}
	stats.YearsSkipped = len(plan.Skipped)
	if len(plan.Skipped) > 0 {
		p.logger.Info("years already ingested, skipping",
			zap.Ints("years", plan.Skipped))
	}

	failed := p.ingestYears(ctx, plan.Years)
	stats.YearsFailed += len(failed)

	strategy, err := transformations.SelectOptimizationStrategy(ctx, p.client, p.config.Optimize.Mode, p.logger)
	if err != nil {
		return err
	}
	optimizer := transformations.NewOptimizer(p.client, strategy, p.logger)
	features := transformations.NewFeatureEngine(p.client, p.logger)

	var processed []int
	for _, year := range target {
		if failed[year] {
			continue
		}
		if err := p.processYear(ctx, optimizer, features, year); err != nil {
			var mismatch *transformations.SchemaMismatchError
			if errors.As(err, &mismatch) {
				stats.YearsFailed++
				p.logger.Warn("year skipped, raw schema does not match the catalog",
					zap.Int("year", year),
					zap.String("detail", mismatch.Error()))
				continue
			}
			return fmt.Errorf("processing year %d: %w", year, err)
		}
		processed = append(processed, year)
	}
	stats.YearsProcessed = len(processed)
	if len(processed) == 0 {
		return fmt.Errorf("no year produced an optimized batch")
	}

	municipalities, err := catalog.LoadMunicipalities(p.config.Ingest.MunicipalitiesCSV)
	if err != nil {
		return fmt.Errorf("loading municipalities: %w", err)
	}
	dims := transformations.NewDimensionBuilder(p.client, municipalities, p.logger)
	if err := dims.BuildAll(ctx); err != nil {
		return err
	}

	aggregates := transformations.NewAggregationEngine(p.client, p.logger)
	if err := aggregates.RebuildAll(ctx); err != nil {
		return err
	}

	denied, err := p.verifyRollups(ctx, aggregates, stats)
	if err != nil {
		return err
	}

	return p.promote(ctx, denied, stats)
}

// ingestYears loads every planned year's export. A failed source takes
// down that year only: it is logged, reported in the returned set, and
// the remaining years proceed.
func (p *Pipeline) ingestYears(ctx context.Context, years []int) map[int]bool {
	loader := ingest.NewLoader(p.client, p.logger)
	failed := make(map[int]bool)
	for _, year := range years {
		path := fmt.Sprintf(p.config.Ingest.SourcePattern, year)
		if _, err := loader.Load(ctx, year, path); err != nil {
			failed[year] = true
			p.logger.Warn("year skipped, source unavailable",
				zap.Int("year", year),
				zap.Error(err))
		}
	}
	return failed
}

// processYear runs the per-year stages: type optimization then feature
// flags. When the optimized batch was already present and the flags are
// already in place, the year is left untouched.
func (p *Pipeline) processYear(ctx context.Context, optimizer *transformations.Optimizer, features *transformations.FeatureEngine, year int) error {
	rebuilt, err := optimizer.Run(ctx, year, p.config.Ingest.Overwrite)
	if err != nil {
		return err
	}
	if !rebuilt {
		applied, err := features.Applied(ctx, year)
		if err != nil {
			return err
		}
		if applied {
			return nil
		}
	}
	return features.Apply(ctx, year)
}

// verifyRollups checks aggregation consistency across geography grains.
// Mismatches do not fail the run; they block promotion of the tables
// involved.
func (p *Pipeline) verifyRollups(ctx context.Context, aggregates *transformations.AggregationEngine, stats *PipelineStats) (map[string]string, error) {
	mismatches, err := aggregates.VerifyRollups(ctx)
	if err != nil {
		return nil, err
	}
	stats.RollupFailures = len(mismatches)

	denied := make(map[string]string)
	for _, m := range mismatches {
		p.logger.Error("rollup verification failed",
			zap.String("child", m.ChildTable),
			zap.String("parent", m.ParentTable),
			zap.String("detail", m.Detail))
		denied[m.ChildTable] = "failed rollup verification"
		denied[m.ParentTable] = "failed rollup verification"
	}
	return denied, nil
}

// promote replicates the curated tables to the configured destinations.
func (p *Pipeline) promote(ctx context.Context, denied map[string]string, stats *PipelineStats) error {
	if len(p.config.Promotion.Destinations) == 0 {
		p.logger.Info("no promotion destinations configured, skipping promotion")
		return nil
	}

	dests := make([]*promote.Destination, 0, len(p.config.Promotion.Destinations))
	defer func() {
		for _, d := range dests {
			d.Close(ctx)
		}
	}()
	for _, spec := range p.config.Promotion.Destinations {
		dest, err := promote.OpenDestination(ctx, spec, p.logger)
		if err != nil {
			return fmt.Errorf("opening destination %s: %w", spec.Name, err)
		}
		dests = append(dests, dest)
	}

	manifest := promote.Manifest{
		Tables:     p.config.Promotion.Tables,
		RowCeiling: p.config.Promotion.RowCeiling,
	}
	promoter := promote.NewPromoter(p.client, dests, manifest, p.logger)
	report, err := promoter.Run(ctx, denied)
	if err != nil {
		return err
	}

	stats.TablesPromoted = report.Succeeded()
	stats.TablesFailed = report.Failed()
	if report.Failed() > 0 {
		return fmt.Errorf("promotion run %s: %d of %d table promotions failed",
			report.RunID, report.Failed(), len(report.Results))
	}
	return nil
}
