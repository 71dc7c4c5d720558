package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// The geographic hierarchy has three levels: municipality → state → region.
// A municipality id is the 6-digit IBGE code; its first two digits are the
// state id and the first digit is the region id.

// Region is one of the five macro-regions.
type Region struct {
	ID   string
	Name string
}

// State is a federative unit, child of a region.
type State struct {
	ID       string
	Name     string
	RegionID string
}

// Municipality is the finest geography grain, child of a state.
type Municipality struct {
	ID      string
	Name    string
	StateID string
}

// Regions lists the five macro-regions, keyed by the leading digit of the
// state code.
var Regions = []Region{
	{ID: "1", Name: "North"},
	{ID: "2", Name: "Northeast"},
	{ID: "3", Name: "Southeast"},
	{ID: "4", Name: "South"},
	{ID: "5", Name: "Center-West"},
}

// States lists all 27 federative units with their IBGE codes.
var States = []State{
	{ID: "11", Name: "Rondônia", RegionID: "1"},
	{ID: "12", Name: "Acre", RegionID: "1"},
	{ID: "13", Name: "Amazonas", RegionID: "1"},
	{ID: "14", Name: "Roraima", RegionID: "1"},
	{ID: "15", Name: "Pará", RegionID: "1"},
	{ID: "16", Name: "Amapá", RegionID: "1"},
	{ID: "17", Name: "Tocantins", RegionID: "1"},
	{ID: "21", Name: "Maranhão", RegionID: "2"},
	{ID: "22", Name: "Piauí", RegionID: "2"},
	{ID: "23", Name: "Ceará", RegionID: "2"},
	{ID: "24", Name: "Rio Grande do Norte", RegionID: "2"},
	{ID: "25", Name: "Paraíba", RegionID: "2"},
	{ID: "26", Name: "Pernambuco", RegionID: "2"},
	{ID: "27", Name: "Alagoas", RegionID: "2"},
	{ID: "28", Name: "Sergipe", RegionID: "2"},
	{ID: "29", Name: "Bahia", RegionID: "2"},
	{ID: "31", Name: "Minas Gerais", RegionID: "3"},
	{ID: "32", Name: "Espírito Santo", RegionID: "3"},
	{ID: "33", Name: "Rio de Janeiro", RegionID: "3"},
	{ID: "35", Name: "São Paulo", RegionID: "3"},
	{ID: "41", Name: "Paraná", RegionID: "4"},
	{ID: "42", Name: "Santa Catarina", RegionID: "4"},
	{ID: "43", Name: "Rio Grande do Sul", RegionID: "4"},
	{ID: "50", Name: "Mato Grosso do Sul", RegionID: "5"},
	{ID: "51", Name: "Mato Grosso", RegionID: "5"},
	{ID: "52", Name: "Goiás", RegionID: "5"},
	{ID: "53", Name: "Distrito Federal", RegionID: "5"},
}

// StateID returns the state code embedded in a municipality id, or "" if the
// id is not a valid 6-digit code.
func StateID(municipalityID string) string {
	if !validMunicipalityID(municipalityID) {
		return ""
	}
	return municipalityID[:2]
}

// RegionID returns the region code embedded in a municipality id, or "".
func RegionID(municipalityID string) string {
	if !validMunicipalityID(municipalityID) {
		return ""
	}
	return municipalityID[:1]
}

func validMunicipalityID(id string) bool {
	if len(id) != 6 {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	// 999999 and friends mean "residence unknown" in the source data.
	if strings.HasPrefix(id, "99") {
		return false
	}
	return true
}

// LoadMunicipalities reads the IBGE municipality reference export
// (semicolon-separated: code;name;state_code). Seven-digit codes (with the
// IBGE check digit) are truncated to the 6-digit form used by the records.
func LoadMunicipalities(path string) ([]Municipality, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open municipalities file: %w", err)
	}
	defer f.Close()
	return ParseMunicipalities(f)
}

// ParseMunicipalities parses the municipality reference from a reader.
func ParseMunicipalities(r io.Reader) ([]Municipality, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	var munis []Municipality
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse municipalities file: %w", err)
		}
		line++
		if len(record) < 2 {
			return nil, fmt.Errorf("municipalities line %d: expected at least code;name", line)
		}

		code := strings.TrimSpace(record[0])
		if len(code) == 7 {
			code = code[:6]
		}
		// Header rows and "residence unknown" entries (99*) are not
		// municipalities; the reference export carries both.
		if !validMunicipalityID(code) {
			continue
		}

		munis = append(munis, Municipality{
			ID:      code,
			Name:    strings.TrimSpace(record[1]),
			StateID: code[:2],
		})
	}
	return munis, nil
}
