package transformations

import (
	"strings"
	"testing"
)

func TestGrainPairTables(t *testing.T) {
	tables := make(map[string]bool)
	for _, pair := range GrainPairs {
		tables[pair.Table()] = true
	}
	want := []string{
		"agg_yearly", "agg_yearly_region", "agg_yearly_state", "agg_yearly_municipality",
		"agg_monthly", "agg_monthly_region", "agg_monthly_state", "agg_monthly_municipality",
		"agg_daily",
	}
	if len(tables) != len(want) {
		t.Fatalf("expected %d grain pairs, got %d", len(want), len(tables))
	}
	for _, name := range want {
		if !tables[name] {
			t.Errorf("missing grain pair table %s", name)
		}
	}
}

func TestBuildAggTableDDL(t *testing.T) {
	ddl := buildAggTableDDL(GrainPair{Time: "monthly", Geo: "state"})

	for _, fragment := range []string{
		"CREATE TABLE agg_monthly_state",
		"year integer NOT NULL",
		"month integer NOT NULL",
		"state_id text NOT NULL",
		"record_count bigint NOT NULL",
		"birth_weight_grams_count bigint NOT NULL",
		"birth_weight_grams_mean double precision",
		"birth_weight_grams_median double precision",
		"birth_weight_grams_stddev double precision",
		"low_birth_weight_count bigint NOT NULL",
		"low_birth_weight_rate double precision",
		"cesarean_rate double precision",
	} {
		if !strings.Contains(ddl, fragment) {
			t.Errorf("DDL missing %q:\n%s", fragment, ddl)
		}
	}

	national := buildAggTableDDL(GrainPair{Time: "daily", Geo: "national"})
	if strings.Contains(national, "state_id") || strings.Contains(national, "municipality_id") {
		t.Error("national DDL must not carry a geography key")
	}
	if !strings.Contains(national, "day date NOT NULL") {
		t.Error("daily DDL missing day column")
	}
}

func TestBuildAggInsert(t *testing.T) {
	stmt := buildAggInsert(GrainPair{Time: "yearly", Geo: "municipality"}, 2021)

	for _, fragment := range []string{
		"INSERT INTO agg_yearly_municipality",
		"FROM optimized_2021",
		"WHERE EXTRACT(YEAR FROM birth_date)::integer = 2021 AND municipality_id IS NOT NULL",
		"GROUP BY year, municipality_id",
		"EXTRACT(YEAR FROM birth_date)::integer AS year",
		"COUNT(*)",
		"COUNT(mother_age)",
		"percentile_cont(0.5) WITHIN GROUP (ORDER BY mother_age)",
		"stddev_samp(mother_age)",
		"AVG(CASE WHEN low_birth_weight THEN 100.0 WHEN NOT low_birth_weight THEN 0.0 END)",
	} {
		if !strings.Contains(stmt, fragment) {
			t.Errorf("insert missing %q:\n%s", fragment, stmt)
		}
	}

	national := buildAggInsert(GrainPair{Time: "monthly", Geo: "national"}, 2021)
	if strings.Contains(national, "IS NOT NULL") {
		t.Error("national insert must not filter on geography")
	}
	// Stray-dated records must not leak a grain key into another
	// batch's year: every insert pins its nominal year.
	if !strings.Contains(national, "WHERE EXTRACT(YEAR FROM birth_date)::integer = 2021") {
		t.Errorf("national insert missing the batch-year constraint:\n%s", national)
	}
	if !strings.Contains(national, "GROUP BY year, month") {
		t.Errorf("monthly national insert has wrong grouping:\n%s", national)
	}
}
