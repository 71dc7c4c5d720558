package catalog

// DimensionEntry is one code→label row of a flat dimension table.
type DimensionEntry struct {
	Code  string
	Label string
}

// Dimension is a static code dictionary materialized as dim_<name>.
// Dimensions are referenced by convention only; no foreign keys are created.
type Dimension struct {
	Name    string // table becomes dim_<Name>
	Entries []DimensionEntry
}

// Dimensions holds every flat dimension built by the pipeline. Labels follow
// the source documentation; codes are stored exactly as they appear in the
// raw exports.
var Dimensions = []Dimension{
	{
		Name: "delivery_type",
		Entries: []DimensionEntry{
			{Code: "1", Label: "Vaginal"},
			{Code: "2", Label: "Cesarean"},
			{Code: "9", Label: "Unknown"},
		},
	},
	{
		Name: "education",
		Entries: []DimensionEntry{
			{Code: "1", Label: "None"},
			{Code: "2", Label: "1-3 years"},
			{Code: "3", Label: "4-7 years"},
			{Code: "4", Label: "8-11 years"},
			{Code: "5", Label: "12+ years"},
			{Code: "9", Label: "Unknown"},
		},
	},
	{
		Name: "race_color",
		Entries: []DimensionEntry{
			{Code: "1", Label: "White"},
			{Code: "2", Label: "Black"},
			{Code: "3", Label: "Yellow"},
			{Code: "4", Label: "Brown"},
			{Code: "5", Label: "Indigenous"},
			{Code: "9", Label: "Unknown"},
		},
	},
	{
		Name: "sex",
		Entries: []DimensionEntry{
			{Code: "1", Label: "Male"},
			{Code: "2", Label: "Female"},
			{Code: "0", Label: "Unknown"},
		},
	},
	{
		Name: "pregnancy_type",
		Entries: []DimensionEntry{
			{Code: "1", Label: "Single"},
			{Code: "2", Label: "Twins"},
			{Code: "3", Label: "Triplets or more"},
			{Code: "9", Label: "Unknown"},
		},
	},
	{
		Name: "prenatal_care",
		Entries: []DimensionEntry{
			{Code: "1", Label: "No visits"},
			{Code: "2", Label: "1-3 visits"},
			{Code: "3", Label: "4-6 visits"},
			{Code: "4", Label: "7+ visits"},
			{Code: "9", Label: "Unknown"},
		},
	},
}
