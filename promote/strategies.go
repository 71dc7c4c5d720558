package promote

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/opendatasus/natality-warehouse/warehouse"
)

// streamingBatchSize bounds the rows buffered per insert on the portable
// path.
const streamingBatchSize = 1000

// PromotionStrategy copies one fully recreated table into a destination
// and returns the number of rows written. Strategies differ only in
// transport; the row-count verification contract is identical.
type PromotionStrategy interface {
	Name() string
	CopyTable(ctx context.Context, table string, dest *Destination) (int64, error)
}

// SelectStrategy picks the fast path when the destination speaks the COPY
// protocol, the portable row-streaming path otherwise.
func SelectStrategy(client *warehouse.Client, dest *Destination) PromotionStrategy {
	if dest.pg != nil {
		return &BulkCopy{client: client}
	}
	return &StreamingCopy{client: client}
}

// BulkCopy streams COPY output of the source directly into COPY input of
// the destination, never materializing the table in memory.
type BulkCopy struct {
	client *warehouse.Client
}

func (s *BulkCopy) Name() string { return "bulk-copy" }

func (s *BulkCopy) CopyTable(ctx context.Context, table string, dest *Destination) (int64, error) {
	if dest.pg == nil {
		return 0, fmt.Errorf("destination %s does not support bulk copy", dest.Name)
	}

	src, err := s.client.Pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire source connection: %w", err)
	}
	defer src.Release()

	r, w := io.Pipe()
	go func() {
		_, err := src.Conn().PgConn().CopyTo(ctx, w, fmt.Sprintf("COPY %s TO STDOUT", table))
		w.CloseWithError(err)
	}()

	tag, err := dest.pg.PgConn().CopyFrom(ctx, r, fmt.Sprintf("COPY %s FROM STDIN", table))
	if err != nil {
		return 0, fmt.Errorf("bulk copy of %s to %s failed: %w", table, dest.Name, err)
	}
	return tag.RowsAffected(), nil
}

// StreamingCopy reads source rows through the driver and re-inserts them
// in bounded batches. Slower, but it works across engine boundaries.
type StreamingCopy struct {
	client *warehouse.Client
}

func (s *StreamingCopy) Name() string { return "row-streaming" }

func (s *StreamingCopy) CopyTable(ctx context.Context, table string, dest *Destination) (int64, error) {
	columns, err := s.client.Columns(ctx, table)
	if err != nil {
		return 0, err
	}
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}

	rows, err := s.client.Pool.Query(ctx,
		fmt.Sprintf("SELECT %s FROM %s", strings.Join(names, ", "), table))
	if err != nil {
		return 0, fmt.Errorf("failed to stream %s: %w", table, err)
	}
	defer rows.Close()

	var written int64
	batch := make([][]any, 0, streamingBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.insertBatch(ctx, dest, table, names, batch); err != nil {
			return err
		}
		written += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return 0, fmt.Errorf("failed to read row of %s: %w", table, err)
		}
		batch = append(batch, values)
		if len(batch) == streamingBatchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("source stream of %s failed: %w", table, err)
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return written, nil
}

// insertBatch writes one multi-row insert inside a transaction.
func (s *StreamingCopy) insertBatch(ctx context.Context, dest *Destination, table string, columns []string, batch [][]any) error {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))

	args := make([]any, 0, len(batch)*len(columns))
	for i, row := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(dest.placeholder(len(args) + 1))
			args = append(args, row[j])
		}
		b.WriteString(")")
	}

	tx, err := dest.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("destination %s: failed to begin batch: %w", dest.Name, err)
	}
	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("destination %s: batch insert into %s failed: %w", dest.Name, table, err)
	}
	return tx.Commit()
}

// placeholder returns the engine's positional parameter marker.
func (d *Destination) placeholder(n int) string {
	if d.Engine == EnginePostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}
