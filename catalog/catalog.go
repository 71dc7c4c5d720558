package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RuleKind identifies which typing rule applies to a raw column.
type RuleKind int

const (
	// RuleInteger casts to integer, mapping sentinel literals to null.
	RuleInteger RuleKind = iota
	// RuleDate parses a fixed-width DDMMYYYY value into a date. Rows whose
	// date cannot be parsed are dropped from the optimized table.
	RuleDate
	// RuleBool maps a small enumerated code set to true/false/null.
	RuleBool
	// RuleString passes the value through, optionally truncated.
	RuleString
)

// ColumnRule maps one raw source column to one typed target column.
// The catalog is the only source of column identifiers used to build SQL;
// nothing column-shaped ever comes from external input.
type ColumnRule struct {
	Raw    string // column name as shipped in the source export
	Target string // typed column name in the optimized table
	Kind   RuleKind

	Sentinels  []string // RuleInteger: literals meaning unknown
	TrueCodes  []string // RuleBool: codes mapped to true
	FalseCodes []string // RuleBool: codes mapped to false
	MaxLen     int      // RuleString: 0 means no truncation
}

// birthDateLayout is the fixed-width numeric date format used by the source
// exports (day, month, four-digit year). Exports drop the leading zero of
// single-digit days, so values are zero-padded to 8 digits before parsing.
const birthDateLayout = "02012006"

// Columns is the full type catalog for the live-birth record layout.
// Order here is the column order of the optimized table.
var Columns = []ColumnRule{
	{Raw: "DTNASC", Target: "birth_date", Kind: RuleDate},
	{Raw: "CODMUNRES", Target: "municipality_id", Kind: RuleString, MaxLen: 6},
	{Raw: "IDADEMAE", Target: "mother_age", Kind: RuleInteger, Sentinels: []string{"99"}},
	{Raw: "PESO", Target: "birth_weight_grams", Kind: RuleInteger, Sentinels: []string{"9999"}},
	{Raw: "SEMAGESTAC", Target: "gestation_weeks", Kind: RuleInteger, Sentinels: []string{"99"}},
	{Raw: "CONSPRENAT", Target: "prenatal_visits", Kind: RuleInteger, Sentinels: []string{"99"}},
	{Raw: "APGAR5", Target: "apgar5", Kind: RuleInteger, Sentinels: []string{"99"}},
	{Raw: "PARTO", Target: "cesarean", Kind: RuleBool, TrueCodes: []string{"2"}, FalseCodes: []string{"1"}},
	{Raw: "SEXO", Target: "male", Kind: RuleBool, TrueCodes: []string{"1", "M"}, FalseCodes: []string{"2", "F"}},
	{Raw: "GRAVIDEZ", Target: "multiple_pregnancy", Kind: RuleBool, TrueCodes: []string{"2", "3"}, FalseCodes: []string{"1"}},
	{Raw: "ESCMAE", Target: "mother_education", Kind: RuleString, MaxLen: 1},
	{Raw: "RACACOR", Target: "race_color", Kind: RuleString, MaxLen: 1},
}

// RuleFor returns the rule for a raw column name, or false if unmapped.
// Unmapped raw columns are dropped during optimization.
func RuleFor(raw string) (ColumnRule, bool) {
	for _, r := range Columns {
		if r.Raw == raw {
			return r, true
		}
	}
	return ColumnRule{}, false
}

// RawColumns returns the raw column names in catalog order.
func RawColumns() []string {
	cols := make([]string, len(Columns))
	for i, r := range Columns {
		cols[i] = r.Raw
	}
	return cols
}

// TargetColumns returns the typed column names in catalog order.
func TargetColumns() []string {
	cols := make([]string, len(Columns))
	for i, r := range Columns {
		cols[i] = r.Target
	}
	return cols
}

// SQLType returns the Postgres type of the rule's target column.
func (r ColumnRule) SQLType() string {
	switch r.Kind {
	case RuleInteger:
		return "integer"
	case RuleDate:
		return "date"
	case RuleBool:
		return "boolean"
	default:
		return "text"
	}
}

// ErrRowDropped reports that a mandatory field could not be parsed and the
// whole row must be excluded from the optimized table.
type ErrRowDropped struct {
	Column string
	Value  string
}

func (e *ErrRowDropped) Error() string {
	return fmt.Sprintf("row dropped: column %s value %q unparseable", e.Column, e.Value)
}

// Convert applies the rule to one raw value. A nil result means SQL null.
// RuleDate is the only rule that can fail with *ErrRowDropped; every other
// out-of-domain value coerces to null so the row is retained.
func (r ColumnRule) Convert(raw string) (any, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		if r.Kind == RuleDate {
			return nil, &ErrRowDropped{Column: r.Raw, Value: raw}
		}
		return nil, nil
	}

	switch r.Kind {
	case RuleInteger:
		for _, s := range r.Sentinels {
			if v == s {
				return nil, nil
			}
		}
		// All cataloged integer fields are non-negative counts; anything
		// else is out of domain and coerces to null.
		if len(v) > 8 || !allDigits(v) {
			return nil, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, nil
		}
		return int32(n), nil

	case RuleDate:
		if len(v) < 7 || len(v) > 8 || !allDigits(v) {
			return nil, &ErrRowDropped{Column: r.Raw, Value: raw}
		}
		padded := strings.Repeat("0", 8-len(v)) + v
		t, err := time.Parse(birthDateLayout, padded)
		if err != nil {
			return nil, &ErrRowDropped{Column: r.Raw, Value: raw}
		}
		return t, nil

	case RuleBool:
		for _, c := range r.TrueCodes {
			if v == c {
				return true, nil
			}
		}
		for _, c := range r.FalseCodes {
			if v == c {
				return false, nil
			}
		}
		return nil, nil

	default: // RuleString
		// Truncation counts characters, not bytes, matching SQL left().
		if r.MaxLen > 0 {
			if runes := []rune(v); len(runes) > r.MaxLen {
				v = string(runes[:r.MaxLen])
			}
		}
		return v, nil
	}
}

func allDigits(v string) bool {
	for _, c := range v {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(v) > 0
}

