package transformations

import (
	"strings"
	"testing"
	"time"

	"github.com/opendatasus/natality-warehouse/catalog"
)

func ruleFor(t *testing.T, raw string) catalog.ColumnRule {
	t.Helper()
	rule, ok := catalog.RuleFor(raw)
	if !ok {
		t.Fatalf("no rule for %s", raw)
	}
	return rule
}

func TestColumnExpr(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{
			"IDADEMAE",
			"CASE WHEN btrim(idademae) IN ('99') THEN NULL WHEN btrim(idademae) ~ '^[0-9]{1,8}$' THEN btrim(idademae)::integer END",
		},
		{
			"DTNASC",
			"pg_temp.safe_birth_date(btrim(dtnasc))",
		},
		{
			"PARTO",
			"CASE WHEN btrim(parto) IN ('2') THEN TRUE WHEN btrim(parto) IN ('1') THEN FALSE END",
		},
		{
			"SEXO",
			"CASE WHEN btrim(sexo) IN ('1', 'M') THEN TRUE WHEN btrim(sexo) IN ('2', 'F') THEN FALSE END",
		},
		{
			"CODMUNRES",
			"CASE WHEN left(btrim(codmunres), 6) ~ '^[0-9]{6}$' AND left(btrim(codmunres), 2) <> '99' THEN left(btrim(codmunres), 6) END",
		},
		{
			"RACACOR",
			"CASE WHEN btrim(racacor) = '' THEN NULL ELSE left(btrim(racacor), 1) END",
		},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := columnExpr(ruleFor(t, tt.raw))
			if got != tt.want {
				t.Errorf("columnExpr(%s) =\n%s\nwant\n%s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestBuildBulkInsert(t *testing.T) {
	stmt, dateColumn := buildBulkInsert(2021)

	if dateColumn == "" {
		t.Fatal("no date column reported")
	}
	for _, fragment := range []string{
		"INSERT INTO optimized_2021",
		"FROM raw_2021",
		"WHERE pg_temp.safe_birth_date(btrim(dtnasc)) IS NOT NULL",
		"state_id", "region_id",
	} {
		if !strings.Contains(stmt, fragment) {
			t.Errorf("bulk insert missing %q:\n%s", fragment, stmt)
		}
	}
}

func TestConvertRowMirrorsBulkSemantics(t *testing.T) {
	strp := func(s string) *string { return &s }
	row := func(values ...string) []*string {
		out := make([]*string, len(values))
		for i, v := range values {
			if v != "<nil>" {
				out[i] = strp(values[i])
			}
		}
		return out
	}

	// Column order follows the catalog: DTNASC, CODMUNRES, IDADEMAE,
	// PESO, SEMAGESTAC, CONSPRENAT, APGAR5, PARTO, SEXO, GRAVIDEZ,
	// ESCMAE, RACACOR.
	typed, ok := convertRow(row("15032021", "3550308", "23", "3100", "39", "8", "9", "2", "1", "1", "4", "1"))
	if !ok {
		t.Fatal("valid row was dropped")
	}
	if len(typed) != len(catalog.Columns)+2 {
		t.Fatalf("expected %d values, got %d", len(catalog.Columns)+2, len(typed))
	}
	if d := typed[0].(time.Time); d.Year() != 2021 || d.Month() != time.March {
		t.Errorf("birth_date = %v", typed[0])
	}
	if typed[1] != "355030" {
		t.Errorf("municipality_id = %v", typed[1])
	}
	if typed[2] != int32(23) {
		t.Errorf("mother_age = %v", typed[2])
	}
	if typed[7] != true {
		t.Errorf("cesarean = %v", typed[7])
	}
	if typed[len(typed)-2] != "35" || typed[len(typed)-1] != "3" {
		t.Errorf("geo keys = %v, %v", typed[len(typed)-2], typed[len(typed)-1])
	}

	// Unparseable birth date drops the row.
	if _, ok := convertRow(row("99999999", "3550308", "23", "3100", "39", "8", "9", "2", "1", "1", "4", "1")); ok {
		t.Error("row with invalid date survived")
	}

	// Unknown residence nulls the whole geography triple.
	typed, ok = convertRow(row("15032021", "9999999", "23", "3100", "39", "8", "9", "2", "1", "1", "4", "1"))
	if !ok {
		t.Fatal("row with unknown residence was dropped")
	}
	if typed[1] != nil || typed[len(typed)-2] != nil || typed[len(typed)-1] != nil {
		t.Errorf("geography not nulled: %v, %v, %v", typed[1], typed[len(typed)-2], typed[len(typed)-1])
	}

	// A null raw value converts, it never drops, except for the date.
	if _, ok := convertRow(row("<nil>", "3550308", "23", "3100", "39", "8", "9", "2", "1", "1", "4", "1")); ok {
		t.Error("row with null date survived")
	}
}
