package promote

import (
	"context"
	"fmt"

	"github.com/opendatasus/natality-warehouse/warehouse"
)

// Manifest describes which working-database tables are eligible for
// promotion. Serving tiers are memory- and storage-constrained, so the
// record-grain tables are categorically excluded: the name filter rejects
// them before the row ceiling is even consulted.
type Manifest struct {
	// Tables optionally restricts promotion to an explicit list. Empty
	// means every curated (dim_*/agg_*) table in the catalog.
	Tables []string

	// RowCeiling is the maximum row count a table may have and still be
	// promoted. Zero disables the ceiling.
	RowCeiling int64
}

// Exclusion records one table the manifest rejected and why.
type Exclusion struct {
	Table  string
	Reason string
}

// Selection is the outcome of evaluating a manifest against the live
// catalog of working-database tables.
type Selection struct {
	Tables   []string
	Excluded []Exclusion
}

// Evaluate resolves the manifest against the working database. denied
// lists tables blocked upstream (failed rollup verification); they are
// excluded with a reason rather than silently skipped.
func (m Manifest) Evaluate(ctx context.Context, client *warehouse.Client, denied map[string]string) (Selection, error) {
	catalogTables, err := client.ListTables(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("failed to read table catalog: %w", err)
	}

	present := make(map[string]bool, len(catalogTables))
	for _, t := range catalogTables {
		present[t] = true
	}

	candidates := catalogTables
	if len(m.Tables) > 0 {
		candidates = m.Tables
	}

	var sel Selection
	for _, table := range candidates {
		if reason, excluded := m.exclusionReason(table, present, denied); excluded {
			sel.Excluded = append(sel.Excluded, Exclusion{table, reason})
			continue
		}
		if m.RowCeiling > 0 {
			count, err := client.RowCount(ctx, table)
			if err != nil {
				return Selection{}, err
			}
			if count > m.RowCeiling {
				sel.Excluded = append(sel.Excluded, Exclusion{table,
					fmt.Sprintf("row count %d exceeds ceiling %d", count, m.RowCeiling)})
				continue
			}
		}
		sel.Tables = append(sel.Tables, table)
	}
	return sel, nil
}

// exclusionReason applies the name-level manifest rules to one candidate:
// presence, the categorical fact-grain rejection, the curated naming
// convention, and upstream denials. The row ceiling is a separate,
// data-dependent check.
func (m Manifest) exclusionReason(table string, present map[string]bool, denied map[string]string) (string, bool) {
	switch {
	case !present[table]:
		return "not present in working database", true
	case warehouse.IsFactGrain(table):
		// Hard exclusion: requested or not, fact-grain tables never
		// cross the tier boundary.
		return "fact-grain table, never promoted", true
	case !warehouse.IsCurated(table):
		return "name matches no curated convention", true
	case denied[table] != "":
		return denied[table], true
	}
	return "", false
}
