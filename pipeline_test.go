package main

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/opendatasus/natality-warehouse/warehouse"
)

func TestIngestFailureIsolatedToYear(t *testing.T) {
	// Nothing at this pattern exists, so every load fails before any
	// database work happens.
	config := &Config{}
	config.Ingest.SourcePattern = filepath.Join(t.TempDir(), "sinasc_%d.csv")

	pipeline := NewPipeline(config, &warehouse.Client{}, zap.NewNop())

	failed := pipeline.ingestYears(context.Background(), []int{2020, 2021, 2022})
	if len(failed) != 3 {
		t.Fatalf("failed years = %v, want all three", failed)
	}
	// Every year must be attempted and reported individually; one
	// missing source never aborts the batch.
	for _, year := range []int{2020, 2021, 2022} {
		if !failed[year] {
			t.Errorf("year %d not reported as failed", year)
		}
	}
}
