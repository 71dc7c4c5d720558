package ingest

import "testing"

func TestYearRange(t *testing.T) {
	years, err := YearRange(2019, 2021)
	if err != nil {
		t.Fatalf("YearRange: %v", err)
	}
	want := []int{2019, 2020, 2021}
	if len(years) != len(want) {
		t.Fatalf("YearRange = %v, want %v", years, want)
	}
	for i := range want {
		if years[i] != want[i] {
			t.Fatalf("YearRange = %v, want %v", years, want)
		}
	}

	years, err = YearRange(2021, 2021)
	if err != nil || len(years) != 1 || years[0] != 2021 {
		t.Errorf("single-year range = %v, %v", years, err)
	}

	if _, err := YearRange(2022, 2021); err == nil {
		t.Error("inverted range should fail")
	}
}
