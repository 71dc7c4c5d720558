package promote

import (
	"testing"

	"github.com/opendatasus/natality-warehouse/warehouse"
)

func TestManifestExclusionReasons(t *testing.T) {
	present := map[string]bool{
		"raw_2021":       true,
		"optimized_2021": true,
		"dim_sex":        true,
		"agg_yearly":     true,
		"scratch_notes":  true,
	}
	denied := map[string]string{"agg_yearly": "failed rollup verification"}

	tests := []struct {
		table    string
		excluded bool
		reason   string
	}{
		// Fact-grain tables stay excluded even when explicitly listed
		// in the manifest.
		{"raw_2021", true, "fact-grain table, never promoted"},
		{"optimized_2021", true, "fact-grain table, never promoted"},
		{"agg_monthly", true, "not present in working database"},
		{"scratch_notes", true, "name matches no curated convention"},
		{"agg_yearly", true, "failed rollup verification"},
		{"dim_sex", false, ""},
	}
	for _, tt := range tests {
		m := Manifest{Tables: []string{tt.table}}
		reason, excluded := m.exclusionReason(tt.table, present, denied)
		if excluded != tt.excluded || reason != tt.reason {
			t.Errorf("exclusionReason(%s) = (%q, %v), want (%q, %v)",
				tt.table, reason, excluded, tt.reason, tt.excluded)
		}
	}
}

func TestReportAccounting(t *testing.T) {
	report := &Report{
		Results: []TableResult{
			{Destination: "hot", Table: "agg_yearly", Succeeded: true},
			{Destination: "hot", Table: "agg_monthly", Succeeded: true},
			{Destination: "cold", Table: "agg_yearly", Succeeded: false, Reason: "verification failed"},
		},
	}
	if got := report.Succeeded(); got != 2 {
		t.Errorf("Succeeded = %d, want 2", got)
	}
	if got := report.Failed(); got != 1 {
		t.Errorf("Failed = %d, want 1", got)
	}
	if !report.PartialFailure() {
		t.Error("partial failure not detected")
	}

	allGood := &Report{Results: []TableResult{{Succeeded: true}}}
	if allGood.PartialFailure() {
		t.Error("full success reported as partial failure")
	}
	empty := &Report{}
	if empty.PartialFailure() {
		t.Error("empty run reported as partial failure")
	}
}

func TestBuildCreateDDL(t *testing.T) {
	ddl := buildCreateDDL("agg_yearly", []warehouse.Column{
		{Name: "year", DataType: "integer"},
		{Name: "record_count", DataType: "bigint"},
		{Name: "mother_age_mean", DataType: "double precision"},
	})
	want := "CREATE TABLE agg_yearly (year integer, record_count bigint, mother_age_mean double precision)"
	if ddl != want {
		t.Errorf("buildCreateDDL =\n%s\nwant\n%s", ddl, want)
	}
}

func TestPlaceholderPerEngine(t *testing.T) {
	pg := &Destination{Engine: EnginePostgres}
	if got := pg.placeholder(3); got != "$3" {
		t.Errorf("postgres placeholder = %q", got)
	}
	duck := &Destination{Engine: EngineDuckDB}
	if got := duck.placeholder(3); got != "?" {
		t.Errorf("duckdb placeholder = %q", got)
	}
}
