package promote

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/jackc/pgx/v5"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Supported destination engines.
const (
	EnginePostgres = "postgres"
	EngineDuckDB   = "duckdb"
)

// DestinationSpec is the configuration of one serving tier.
type DestinationSpec struct {
	Name   string `yaml:"name"`
	Engine string `yaml:"engine"`
	DSN    string `yaml:"dsn"`
}

// Destination is an open serving-tier connection. All destinations expose
// a database/sql handle for DDL and verification; Postgres destinations
// additionally hold a pgx connection so the COPY fast path can reach them.
type Destination struct {
	Name   string
	Engine string

	db *sql.DB
	pg *pgx.Conn
}

// OpenDestination connects and verifies one serving tier.
func OpenDestination(ctx context.Context, spec DestinationSpec, logger *zap.Logger) (*Destination, error) {
	driver := ""
	switch spec.Engine {
	case EnginePostgres:
		driver = "postgres"
	case EngineDuckDB:
		driver = "duckdb"
	default:
		return nil, fmt.Errorf("destination %s: unsupported engine %q", spec.Name, spec.Engine)
	}

	db, err := sql.Open(driver, spec.DSN)
	if err != nil {
		return nil, fmt.Errorf("destination %s: failed to open: %w", spec.Name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("destination %s: failed to ping: %w", spec.Name, err)
	}

	dest := &Destination{Name: spec.Name, Engine: spec.Engine, db: db}

	if spec.Engine == EnginePostgres {
		conn, err := pgx.Connect(ctx, spec.DSN)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("destination %s: failed to open copy connection: %w", spec.Name, err)
		}
		dest.pg = conn
	}

	logger.Info("serving destination ready",
		zap.String("destination", spec.Name),
		zap.String("engine", spec.Engine))
	return dest, nil
}

// RowCount returns the row count of a table at the destination.
func (d *Destination) RowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("destination %s: failed to count %s: %w", d.Name, table, err)
	}
	return count, nil
}

// Recreate drops and recreates a table at the destination from the given
// DDL. Readers at the serving tier see either the old table or the fully
// replaced one, never an intermediate append state.
func (d *Destination) Recreate(ctx context.Context, table, ddl string) error {
	if _, err := d.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
		return fmt.Errorf("destination %s: failed to drop %s: %w", d.Name, table, err)
	}
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("destination %s: failed to create %s: %w", d.Name, table, err)
	}
	return nil
}

// Close releases both handles.
func (d *Destination) Close(ctx context.Context) {
	if d.pg != nil {
		_ = d.pg.Close(ctx)
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}
