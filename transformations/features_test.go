package transformations

import (
	"testing"

	"github.com/opendatasus/natality-warehouse/warehouse"
)

func int32p(v int32) *int32 { return &v }

func TestFlagEval(t *testing.T) {
	flagByName := func(name string) Flag {
		for _, f := range Flags {
			if f.Name == name {
				return f
			}
		}
		t.Fatalf("unknown flag %s", name)
		return Flag{}
	}

	tests := []struct {
		flag  string
		input *int32
		want  *bool
	}{
		{"low_birth_weight", int32p(2499), boolp(true)},
		{"low_birth_weight", int32p(2500), boolp(false)},
		{"preterm", int32p(36), boolp(true)},
		{"preterm", int32p(37), boolp(false)},
		{"adolescent_mother", int32p(19), boolp(true)},
		{"adolescent_mother", int32p(20), boolp(false)},
		{"advanced_maternal_age", int32p(35), boolp(true)},
		{"advanced_maternal_age", int32p(34), boolp(false)},
		{"low_apgar5", int32p(6), boolp(true)},
		{"low_apgar5", int32p(7), boolp(false)},
		{"inadequate_prenatal", int32p(6), boolp(true)},
		{"inadequate_prenatal", int32p(7), boolp(false)},
		{"low_birth_weight", nil, nil},
		{"advanced_maternal_age", nil, nil},
	}
	for _, tt := range tests {
		got := flagByName(tt.flag).Eval(tt.input)
		switch {
		case got == nil && tt.want == nil:
		case got == nil || tt.want == nil:
			t.Errorf("%s.Eval(%v) = %v, want %v", tt.flag, tt.input, got, tt.want)
		case *got != *tt.want:
			t.Errorf("%s.Eval(%v) = %v, want %v", tt.flag, tt.input, *got, *tt.want)
		}
	}
}

func boolp(v bool) *bool { return &v }

func TestFlagSQLExpr(t *testing.T) {
	tests := []struct {
		flag string
		want string
	}{
		{"low_birth_weight", "birth_weight_grams < 2500"},
		{"advanced_maternal_age", "mother_age >= 35"},
		{"cesarean", "cesarean"},
	}
	for _, tt := range tests {
		for _, f := range Flags {
			if f.Name != tt.flag {
				continue
			}
			if got := f.SQLExpr(); got != tt.want {
				t.Errorf("%s.SQLExpr() = %q, want %q", tt.flag, got, tt.want)
			}
		}
	}
}

func TestMissingFlagColumns(t *testing.T) {
	full := []warehouse.Column{
		{Name: "birth_date"}, {Name: "cesarean"},
		{Name: "low_birth_weight"}, {Name: "preterm"},
		{Name: "adolescent_mother"}, {Name: "advanced_maternal_age"},
		{Name: "low_apgar5"}, {Name: "inadequate_prenatal"},
	}
	if missing := missingFlagColumns(full); len(missing) != 0 {
		t.Errorf("complete column set reported missing flags: %v", missing)
	}

	partial := full[:4]
	missing := missingFlagColumns(partial)
	if len(missing) != 4 {
		t.Fatalf("missing = %v, want the four absent derived flags", missing)
	}

	// The pass-through flag reuses a cataloged column; its absence from
	// the derived set is never reported.
	noCesarean := append([]warehouse.Column{}, full[2:]...)
	for _, name := range missingFlagColumns(noCesarean) {
		if name == "cesarean" {
			t.Error("pass-through flag reported as missing")
		}
	}
}

func TestFlagColumns(t *testing.T) {
	cols := FlagColumns()
	if len(cols) != len(Flags) {
		t.Fatalf("FlagColumns has %d entries, want %d", len(cols), len(Flags))
	}
	seen := make(map[string]bool)
	for _, c := range cols {
		if seen[c] {
			t.Errorf("duplicate flag column %s", c)
		}
		seen[c] = true
	}
	if !seen["cesarean"] {
		t.Error("pass-through flag missing from FlagColumns")
	}
}
