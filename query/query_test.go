package query

import (
	"strings"
	"testing"

	"github.com/opendatasus/natality-warehouse/transformations"
	"github.com/opendatasus/natality-warehouse/warehouse"
)

func TestBuildSelect(t *testing.T) {
	pair := transformations.GrainPair{Time: warehouse.GrainYearly, Geo: warehouse.GeoState}

	sql, args := buildSelect(pair, Request{
		Time: warehouse.GrainYearly,
		Geo:  warehouse.GeoState,
		Year: 2021, GeoKey: "35",
	})
	if len(args) != 2 || args[0] != 2021 || args[1] != "35" {
		t.Fatalf("args = %v", args)
	}
	for _, fragment := range []string{
		"FROM agg_yearly_state",
		"WHERE year = $1 AND state_id = $2",
		"ORDER BY year, state_id",
		"record_count",
		"mother_age_count, mother_age_mean, mother_age_median, mother_age_stddev",
		"low_birth_weight_count, low_birth_weight_rate",
	} {
		if !strings.Contains(sql, fragment) {
			t.Errorf("query missing %q:\n%s", fragment, sql)
		}
	}
}

func TestBuildSelectUnfiltered(t *testing.T) {
	pair := transformations.GrainPair{Time: warehouse.GrainMonthly, Geo: warehouse.GeoNational}

	sql, args := buildSelect(pair, Request{Time: warehouse.GrainMonthly, Geo: warehouse.GeoNational})
	if len(args) != 0 {
		t.Fatalf("args = %v", args)
	}
	if strings.Contains(sql, "WHERE") {
		t.Errorf("unfiltered query has a WHERE clause:\n%s", sql)
	}
	if !strings.Contains(sql, "ORDER BY year, month") {
		t.Errorf("wrong ordering:\n%s", sql)
	}

	// A geography key on a national request is ignored, not an error.
	sql, args = buildSelect(pair, Request{Time: warehouse.GrainMonthly, Geo: warehouse.GeoNational, GeoKey: "35"})
	if len(args) != 0 || strings.Contains(sql, "WHERE") {
		t.Error("national query must ignore the geography key")
	}
}
