package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
warehouse:
  dsn: postgres://localhost/natality
ingest:
  start_year: 2020
  end_year: 2022
`)
	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if config.Service.HealthPort != "8095" {
		t.Errorf("default health port = %q", config.Service.HealthPort)
	}
	if config.Optimize.Mode != "auto" {
		t.Errorf("default optimize mode = %q", config.Optimize.Mode)
	}
	if config.Ingest.SourcePattern == "" {
		t.Error("no default source pattern")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	years, err := config.TargetYears()
	if err != nil {
		t.Fatalf("TargetYears: %v", err)
	}
	if len(years) != 3 || years[0] != 2020 || years[2] != 2022 {
		t.Errorf("TargetYears = %v", years)
	}
}

func TestConfigExplicitYearsWinOverRange(t *testing.T) {
	path := writeConfig(t, `
warehouse:
  dsn: postgres://localhost/natality
ingest:
  years: [2015, 2021]
  start_year: 2000
  end_year: 2010
`)
	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	years, err := config.TargetYears()
	if err != nil {
		t.Fatalf("TargetYears: %v", err)
	}
	if len(years) != 2 || years[0] != 2015 || years[1] != 2021 {
		t.Errorf("TargetYears = %v", years)
	}
}

func TestConfigValidation(t *testing.T) {
	t.Setenv("WAREHOUSE_DSN", "")

	tests := []struct {
		name    string
		content string
	}{
		{
			"missing dsn",
			"ingest:\n  start_year: 2020\n  end_year: 2021\n",
		},
		{
			"missing years",
			"warehouse:\n  dsn: postgres://localhost/n\n",
		},
		{
			"inverted range",
			"warehouse:\n  dsn: postgres://localhost/n\ningest:\n  start_year: 2022\n  end_year: 2020\n",
		},
		{
			"bad optimize mode",
			"warehouse:\n  dsn: postgres://localhost/n\ningest:\n  start_year: 2020\n  end_year: 2021\noptimize:\n  mode: turbo\n",
		},
		{
			"destination without engine",
			"warehouse:\n  dsn: postgres://localhost/n\ningest:\n  start_year: 2020\n  end_year: 2021\npromotion:\n  destinations:\n    - name: hot\n      dsn: x\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := LoadConfig(writeConfig(t, tt.content))
			if err != nil {
				t.Fatalf("LoadConfig: %v", err)
			}
			if err := config.Validate(); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}
