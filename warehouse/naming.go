package warehouse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Table naming is the pipeline's wire format to downstream consumers:
//
//	raw_<year>                      loosely-typed yearly batch (fact grain)
//	optimized_<year>                typed yearly batch (fact grain)
//	dim_<name>                      dimension table
//	agg_<time_grain>[_<geo_grain>]  aggregate table (geo omitted = national)
//
// Consumers depend only on dim_* and agg_* names and schemas.

const (
	RawPrefix       = "raw_"
	OptimizedPrefix = "optimized_"
	DimPrefix       = "dim_"
	AggPrefix       = "agg_"
)

// TimeGrain is the temporal granularity of an aggregate table.
type TimeGrain string

const (
	GrainYearly  TimeGrain = "yearly"
	GrainMonthly TimeGrain = "monthly"
	GrainDaily   TimeGrain = "daily"
)

// GeoGrain is the geographic granularity of an aggregate table.
type GeoGrain string

const (
	GeoNational     GeoGrain = "national"
	GeoRegion       GeoGrain = "region"
	GeoState        GeoGrain = "state"
	GeoMunicipality GeoGrain = "municipality"
)

// KeyColumn returns the grain-key column of a geography grain, or "" for
// national (which has no key column).
func (g GeoGrain) KeyColumn() string {
	switch g {
	case GeoRegion:
		return "region_id"
	case GeoState:
		return "state_id"
	case GeoMunicipality:
		return "municipality_id"
	}
	return ""
}

// Parent returns the next coarser geography grain.
func (g GeoGrain) Parent() (GeoGrain, bool) {
	switch g {
	case GeoMunicipality:
		return GeoState, true
	case GeoState:
		return GeoRegion, true
	case GeoRegion:
		return GeoNational, true
	}
	return "", false
}

// RawTable returns the raw batch table name for a year.
func RawTable(year int) string {
	return fmt.Sprintf("%s%d", RawPrefix, year)
}

// OptimizedTable returns the typed batch table name for a year.
func OptimizedTable(year int) string {
	return fmt.Sprintf("%s%d", OptimizedPrefix, year)
}

// DimTable returns the dimension table name.
func DimTable(name string) string {
	return DimPrefix + name
}

// AggTable returns the aggregate table name for a grain pair. The national
// geography grain is omitted from the name.
func AggTable(t TimeGrain, g GeoGrain) string {
	if g == GeoNational {
		return AggPrefix + string(t)
	}
	return AggPrefix + string(t) + "_" + string(g)
}

// YearFromTable extracts the year suffix from a raw_* or optimized_* table
// name. ok is false when the name does not follow the convention.
func YearFromTable(name string) (year int, ok bool) {
	var suffix string
	switch {
	case strings.HasPrefix(name, RawPrefix):
		suffix = strings.TrimPrefix(name, RawPrefix)
	case strings.HasPrefix(name, OptimizedPrefix):
		suffix = strings.TrimPrefix(name, OptimizedPrefix)
	default:
		return 0, false
	}
	if len(suffix) != 4 {
		return 0, false
	}
	year, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return year, true
}

// IsFactGrain reports whether a table holds one row per source record.
// Fact-grain tables are categorically never promoted.
func IsFactGrain(name string) bool {
	return strings.HasPrefix(name, RawPrefix) || strings.HasPrefix(name, OptimizedPrefix)
}

// IsCurated reports whether a table follows the dimension or aggregate
// naming convention.
func IsCurated(name string) bool {
	return strings.HasPrefix(name, DimPrefix) || strings.HasPrefix(name, AggPrefix)
}

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidIdent reports whether a name is safe to interpolate as a SQL
// identifier. All table and column names used by the pipeline come from the
// closed catalog and naming conventions, so this is a guard, not a parser.
func ValidIdent(name string) bool {
	return identPattern.MatchString(name)
}
