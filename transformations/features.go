package transformations

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/opendatasus/natality-warehouse/warehouse"
)

// FlagOp is the comparison a threshold flag applies to its input column.
type FlagOp string

const (
	OpLess        FlagOp = "<"
	OpGreaterEq   FlagOp = ">="
	OpPassThrough FlagOp = "" // input column is already boolean
)

// Flag is one derived health-indicator column. Each flag is a closed-form
// expression over exactly one typed column; flags never read other flags,
// so they can be evaluated in any order. A null input yields a null flag,
// never false.
type Flag struct {
	Name      string
	Column    string
	Op        FlagOp
	Threshold int32
}

// Flags is the full indicator set appended to every optimized batch.
var Flags = []Flag{
	{Name: "low_birth_weight", Column: "birth_weight_grams", Op: OpLess, Threshold: 2500},
	{Name: "preterm", Column: "gestation_weeks", Op: OpLess, Threshold: 37},
	{Name: "adolescent_mother", Column: "mother_age", Op: OpLess, Threshold: 20},
	{Name: "advanced_maternal_age", Column: "mother_age", Op: OpGreaterEq, Threshold: 35},
	{Name: "low_apgar5", Column: "apgar5", Op: OpLess, Threshold: 7},
	{Name: "inadequate_prenatal", Column: "prenatal_visits", Op: OpLess, Threshold: 7},
	{Name: "cesarean", Column: "cesarean", Op: OpPassThrough},
}

// Derived reports whether the flag needs its own column (pass-through flags
// reuse an existing boolean column of the optimized table).
func (f Flag) Derived() bool { return f.Op != OpPassThrough }

// SQLExpr returns the flag's boolean expression. SQL comparison against a
// null operand is already null, which is exactly the three-valued behavior
// the flags need.
func (f Flag) SQLExpr() string {
	if !f.Derived() {
		return f.Column
	}
	return fmt.Sprintf("%s %s %d", f.Column, f.Op, f.Threshold)
}

// Eval applies the flag to one value, mirroring SQLExpr for the row-wise
// paths and tests. nil in, nil out.
func (f Flag) Eval(v *int32) *bool {
	if v == nil {
		return nil
	}
	var out bool
	switch f.Op {
	case OpLess:
		out = *v < f.Threshold
	case OpGreaterEq:
		out = *v >= f.Threshold
	default:
		return nil
	}
	return &out
}

// FlagColumns returns every flag column name, pass-through flags included.
func FlagColumns() []string {
	cols := make([]string, len(Flags))
	for i, f := range Flags {
		cols[i] = f.Name
	}
	return cols
}

// FeatureEngine appends the indicator columns to optimized batches. One
// set-based pass per year computes every flag.
type FeatureEngine struct {
	client *warehouse.Client
	logger *zap.Logger
}

// NewFeatureEngine creates a FeatureEngine.
func NewFeatureEngine(client *warehouse.Client, logger *zap.Logger) *FeatureEngine {
	return &FeatureEngine{client: client, logger: logger}
}

// Applied reports whether every derived flag column already exists on the
// year's optimized batch, letting the caller skip recomputation when the
// batch itself was a no-op.
func (e *FeatureEngine) Applied(ctx context.Context, year int) (bool, error) {
	cols, err := e.client.Columns(ctx, warehouse.OptimizedTable(year))
	if err != nil {
		return false, err
	}
	return len(missingFlagColumns(cols)) == 0, nil
}

// missingFlagColumns lists the derived flags absent from a column set.
// Pass-through flags reuse cataloged columns and are always present.
func missingFlagColumns(cols []warehouse.Column) []string {
	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		present[c.Name] = true
	}
	var missing []string
	for _, f := range Flags {
		if f.Derived() && !present[f.Name] {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// Apply (re)computes every flag column on one year's optimized batch. Safe
// to re-run; columns are added idempotently and recomputed in full.
func (e *FeatureEngine) Apply(ctx context.Context, year int) error {
	table := warehouse.OptimizedTable(year)

	for _, f := range Flags {
		if !f.Derived() {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s boolean", table, f.Name)
		if _, err := e.client.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add flag %s to %s: %w", f.Name, table, err)
		}
	}

	var sets []string
	for _, f := range Flags {
		if !f.Derived() {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s", f.Name, f.SQLExpr()))
	}

	tag, err := e.client.Pool.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(sets, ", ")))
	if err != nil {
		return fmt.Errorf("failed to compute flags on %s: %w", table, err)
	}

	e.logger.Info("indicator flags computed",
		zap.Int("year", year),
		zap.Int("flags", len(Flags)),
		zap.Int64("rows", tag.RowsAffected()))
	return nil
}
