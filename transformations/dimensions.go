package transformations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/opendatasus/natality-warehouse/catalog"
	"github.com/opendatasus/natality-warehouse/warehouse"
)

// DimensionBuilder materializes the dim_* lookup tables from the static
// catalog definitions and the geography reference. Every build is a full
// drop-and-recreate; there is no incremental merge, which keeps the builder
// stateless and trivially reproducible.
type DimensionBuilder struct {
	client         *warehouse.Client
	municipalities []catalog.Municipality
	logger         *zap.Logger
}

// NewDimensionBuilder creates a builder. municipalities comes from the IBGE
// reference export (catalog.LoadMunicipalities).
func NewDimensionBuilder(client *warehouse.Client, municipalities []catalog.Municipality, logger *zap.Logger) *DimensionBuilder {
	return &DimensionBuilder{client: client, municipalities: municipalities, logger: logger}
}

// BuildAll rebuilds every dimension table.
func (b *DimensionBuilder) BuildAll(ctx context.Context) error {
	for _, dim := range catalog.Dimensions {
		if err := b.buildFlat(ctx, dim); err != nil {
			return err
		}
	}
	if err := b.buildGeography(ctx); err != nil {
		return err
	}
	b.logger.Info("dimension tables rebuilt",
		zap.Int("flat_dimensions", len(catalog.Dimensions)),
		zap.Int("municipalities", len(b.municipalities)))
	return nil
}

// buildFlat rebuilds one flat code→label dictionary.
func (b *DimensionBuilder) buildFlat(ctx context.Context, dim catalog.Dimension) error {
	table := warehouse.DimTable(dim.Name)
	if err := b.client.DropTable(ctx, table); err != nil {
		return err
	}

	stmt := fmt.Sprintf("CREATE TABLE %s (id text PRIMARY KEY, label text NOT NULL)", table)
	if _, err := b.client.Pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create %s: %w", table, err)
	}

	rows := make([][]any, len(dim.Entries))
	for i, e := range dim.Entries {
		rows[i] = []any{e.Code, e.Label}
	}
	if _, err := b.client.Pool.CopyFrom(ctx, pgx.Identifier{table}, []string{"id", "label"}, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("failed to fill %s: %w", table, err)
	}
	return nil
}

// buildGeography rebuilds the three-level hierarchy: dim_region, dim_state
// (parented on region), dim_municipality (parented on state). References
// between levels are by convention; no foreign keys.
func (b *DimensionBuilder) buildGeography(ctx context.Context) error {
	regionRows := make([][]any, len(catalog.Regions))
	for i, r := range catalog.Regions {
		regionRows[i] = []any{r.ID, r.Name}
	}
	if err := b.replace(ctx, warehouse.DimTable("region"),
		"id text PRIMARY KEY, label text NOT NULL",
		[]string{"id", "label"}, regionRows); err != nil {
		return err
	}

	stateRows := make([][]any, len(catalog.States))
	for i, s := range catalog.States {
		stateRows[i] = []any{s.ID, s.Name, s.RegionID}
	}
	if err := b.replace(ctx, warehouse.DimTable("state"),
		"id text PRIMARY KEY, label text NOT NULL, region_id text NOT NULL",
		[]string{"id", "label", "region_id"}, stateRows); err != nil {
		return err
	}

	muniRows := make([][]any, len(b.municipalities))
	for i, m := range b.municipalities {
		muniRows[i] = []any{m.ID, m.Name, m.StateID}
	}
	return b.replace(ctx, warehouse.DimTable("municipality"),
		"id text PRIMARY KEY, label text NOT NULL, state_id text NOT NULL",
		[]string{"id", "label", "state_id"}, muniRows)
}

func (b *DimensionBuilder) replace(ctx context.Context, table, ddl string, columns []string, rows [][]any) error {
	if err := b.client.DropTable(ctx, table); err != nil {
		return err
	}
	if _, err := b.client.Pool.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, ddl)); err != nil {
		return fmt.Errorf("failed to create %s: %w", table, err)
	}
	if _, err := b.client.Pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("failed to fill %s: %w", table, err)
	}
	return nil
}
