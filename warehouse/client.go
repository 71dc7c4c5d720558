package warehouse

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Client wraps the working-database connection pool. Every pipeline stage
// upstream of promotion operates through one Client; nothing is resolved
// from ambient or global connection state.
type Client struct {
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect opens a pool against the working database and verifies it.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*Client, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse working database DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping working database: %w", err)
	}

	logger.Info("connected to working database",
		zap.String("database", cfg.ConnConfig.Database),
		zap.String("host", cfg.ConnConfig.Host))

	return &Client{Pool: pool, logger: logger}, nil
}

// ListTables returns every table name in the public schema.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.Pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		 ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// TableExists reports whether a table exists in the public schema.
func (c *Client) TableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := c.Pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM information_schema.tables
		   WHERE table_schema = 'public' AND table_name = $1
		 )`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return exists, nil
}

// RowCount returns the exact row count of a table.
func (c *Client) RowCount(ctx context.Context, table string) (int64, error) {
	if !ValidIdent(table) {
		return 0, fmt.Errorf("invalid table name %q", table)
	}
	var count int64
	err := c.Pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return count, nil
}

// Column is one column of a table as reported by the catalog.
type Column struct {
	Name     string
	DataType string
}

// Columns returns a table's columns in ordinal order.
func (c *Client) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := c.Pool.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = $1
		 ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.DataType); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s has no columns (does it exist?)", table)
	}
	return cols, nil
}

// DropTable drops a table if it exists.
func (c *Client) DropTable(ctx context.Context, table string) error {
	if !ValidIdent(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	if _, err := c.Pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", table, err)
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}
