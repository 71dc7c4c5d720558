package transformations

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/opendatasus/natality-warehouse/catalog"
	"github.com/opendatasus/natality-warehouse/warehouse"
)

// safeBirthDateFunction parses the fixed-width DDMMYYYY value, returning
// null instead of raising on garbage. Session-local so it needs no schema
// privileges; it must run on the same connection as the insert.
const safeBirthDateFunction = `
CREATE OR REPLACE FUNCTION pg_temp.safe_birth_date(v text) RETURNS date
LANGUAGE plpgsql IMMUTABLE STRICT AS $$
BEGIN
	IF length(v) < 7 OR length(v) > 8 OR v !~ '^[0-9]+$' THEN
		RETURN NULL;
	END IF;
	RETURN to_date(lpad(v, 8, '0'), 'DDMMYYYY');
EXCEPTION WHEN others THEN
	RETURN NULL;
END
$$;
`

// BulkOptimization is the set-based path: the whole year is typed by one
// INSERT ... SELECT compiled from the catalog, with the date rule applied
// in the WHERE clause so unparseable rows never reach the typed table.
type BulkOptimization struct {
	client *warehouse.Client
	logger *zap.Logger
}

// NewBulkOptimization creates the set-based strategy.
func NewBulkOptimization(client *warehouse.Client, logger *zap.Logger) *BulkOptimization {
	return &BulkOptimization{client: client, logger: logger}
}

func (s *BulkOptimization) Name() string { return "bulk" }

// Optimize types one year in a single statement and returns the number of
// rows written.
func (s *BulkOptimization) Optimize(ctx context.Context, year int) (int64, error) {
	conn, err := s.client.Pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	// The temp function lives on this session only, which is why the whole
	// bulk path runs on one acquired connection.
	if _, err := conn.Exec(ctx, safeBirthDateFunction); err != nil {
		return 0, fmt.Errorf("failed to create date parser: %w", err)
	}

	stmt, dateColumn := buildBulkInsert(year)
	tag, err := conn.Exec(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("bulk optimization statement failed: %w", err)
	}

	s.logger.Debug("bulk optimization statement executed",
		zap.Int("year", year),
		zap.String("date_column", dateColumn),
		zap.Int64("rows", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

// buildBulkInsert compiles the catalog into one INSERT ... SELECT. Column
// identifiers come only from the closed catalog, never from external input.
func buildBulkInsert(year int) (stmt string, dateColumn string) {
	raw := warehouse.RawTable(year)
	optimized := warehouse.OptimizedTable(year)

	var targets []string
	var exprs []string
	for _, rule := range catalog.Columns {
		targets = append(targets, rule.Target)
		exprs = append(exprs, columnExpr(rule))
		if rule.Kind == catalog.RuleDate {
			dateColumn = strings.ToLower(rule.Raw)
		}
	}

	// Geography keys derived from the municipality code prefix.
	munExpr := columnExpr(municipalityRule())
	targets = append(targets, "state_id", "region_id")
	exprs = append(exprs,
		fmt.Sprintf("left(%s, 2)", munExpr),
		fmt.Sprintf("left(%s, 1)", munExpr))

	stmt = fmt.Sprintf(
		"INSERT INTO %s (%s)\nSELECT %s\nFROM %s\nWHERE pg_temp.safe_birth_date(btrim(%s)) IS NOT NULL",
		optimized,
		strings.Join(targets, ", "),
		strings.Join(exprs, ",\n\t"),
		raw,
		dateColumn)
	return stmt, dateColumn
}

// columnExpr returns the typing expression for one rule. Each expression
// mirrors catalog.ColumnRule.Convert exactly; the two strategies must agree
// byte for byte on their output.
func columnExpr(rule catalog.ColumnRule) string {
	col := fmt.Sprintf("btrim(%s)", strings.ToLower(rule.Raw))

	switch rule.Kind {
	case catalog.RuleInteger:
		return fmt.Sprintf(
			"CASE WHEN %s IN (%s) THEN NULL WHEN %s ~ '^[0-9]{1,8}$' THEN %s::integer END",
			col, quoteList(rule.Sentinels), col, col)

	case catalog.RuleDate:
		return fmt.Sprintf("pg_temp.safe_birth_date(%s)", col)

	case catalog.RuleBool:
		var b strings.Builder
		b.WriteString("CASE")
		if len(rule.TrueCodes) > 0 {
			fmt.Fprintf(&b, " WHEN %s IN (%s) THEN TRUE", col, quoteList(rule.TrueCodes))
		}
		if len(rule.FalseCodes) > 0 {
			fmt.Fprintf(&b, " WHEN %s IN (%s) THEN FALSE", col, quoteList(rule.FalseCodes))
		}
		b.WriteString(" END")
		return b.String()

	default: // RuleString
		if rule.Raw == municipalityRule().Raw {
			// The municipality code additionally validates as a 6-digit
			// id with a known state prefix; 99* means residence unknown.
			return fmt.Sprintf(
				"CASE WHEN left(%s, 6) ~ '^[0-9]{6}$' AND left(%s, 2) <> '99' THEN left(%s, 6) END",
				col, col, col)
		}
		if rule.MaxLen > 0 {
			return fmt.Sprintf("CASE WHEN %s = '' THEN NULL ELSE left(%s, %d) END", col, col, rule.MaxLen)
		}
		return fmt.Sprintf("NULLIF(%s, '')", col)
	}
}

func municipalityRule() catalog.ColumnRule {
	rule, _ := catalog.RuleFor("CODMUNRES")
	return rule
}
