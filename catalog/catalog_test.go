package catalog

import (
	"errors"
	"testing"
	"time"
)

func TestRuleForKnownColumns(t *testing.T) {
	for _, raw := range RawColumns() {
		rule, ok := RuleFor(raw)
		if !ok {
			t.Fatalf("RuleFor(%q) returned no rule", raw)
		}
		if rule.Raw != raw {
			t.Errorf("RuleFor(%q).Raw = %q", raw, rule.Raw)
		}
		if rule.Target == "" {
			t.Errorf("RuleFor(%q) has empty target", raw)
		}
	}
	if _, ok := RuleFor("NOSUCHCOL"); ok {
		t.Error("RuleFor accepted an unmapped column")
	}
}

func TestConvertInteger(t *testing.T) {
	rule, _ := RuleFor("IDADEMAE")

	tests := []struct {
		name  string
		input string
		want  any
	}{
		{"plain value", "23", int32(23)},
		{"padded input", " 23 ", int32(23)},
		{"sentinel", "99", nil},
		{"empty", "", nil},
		{"non-numeric", "abc", nil},
		{"negative out of domain", "-5", nil},
		{"explicit plus sign out of domain", "+23", nil},
		{"too many digits", "123456789", nil},
		{"zero", "0", int32(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rule.Convert(tt.input)
			if err != nil {
				t.Fatalf("Convert(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Convert(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestConvertBirthDate(t *testing.T) {
	rule, _ := RuleFor("DTNASC")

	got, err := rule.Convert("15032021")
	if err != nil {
		t.Fatalf("Convert valid date: %v", err)
	}
	want := time.Date(2021, time.March, 15, 0, 0, 0, 0, time.UTC)
	if !got.(time.Time).Equal(want) {
		t.Errorf("Convert(15032021) = %v, want %v", got, want)
	}

	// Leading-zero day exported as 7 characters.
	got, err = rule.Convert("5032021")
	if err != nil {
		t.Fatalf("Convert 7-char date: %v", err)
	}
	if d := got.(time.Time); d.Day() != 5 || d.Month() != time.March || d.Year() != 2021 {
		t.Errorf("Convert(5032021) = %v, want 2021-03-05", got)
	}

	dropped := []string{"", "32132021", "00000000", "150321", "garbage!"}
	for _, input := range dropped {
		_, err := rule.Convert(input)
		var drop *ErrRowDropped
		if !errors.As(err, &drop) {
			t.Errorf("Convert(%q) = %v, want ErrRowDropped", input, err)
		}
	}
}

func TestConvertBool(t *testing.T) {
	rule, _ := RuleFor("PARTO")

	tests := []struct {
		input string
		want  any
	}{
		{"2", true},
		{"1", false},
		{"9", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got, err := rule.Convert(tt.input)
		if err != nil {
			t.Fatalf("Convert(%q) error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Convert(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestConvertStringTruncates(t *testing.T) {
	rule, _ := RuleFor("CODMUNRES")

	got, err := rule.Convert("3550308")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got != "355030" {
		t.Errorf("Convert(3550308) = %v, want 355030", got)
	}
}

func TestConvertStringTruncatesByCharacter(t *testing.T) {
	rule, _ := RuleFor("ESCMAE")

	// Multibyte values must truncate to whole characters, the way SQL
	// left() does; a byte cut would emit invalid UTF-8.
	tests := []struct {
		input string
		want  string
	}{
		{"É", "É"},
		{"É9", "É"},
		{"49", "4"},
	}
	for _, tt := range tests {
		got, err := rule.Convert(tt.input)
		if err != nil {
			t.Fatalf("Convert(%q): %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Convert(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSQLTypeCoversEveryRule(t *testing.T) {
	for _, rule := range Columns {
		if rule.SQLType() == "" {
			t.Errorf("rule %s has no SQL type", rule.Raw)
		}
	}
}
