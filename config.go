package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opendatasus/natality-warehouse/ingest"
	"github.com/opendatasus/natality-warehouse/promote"
)

// Config holds all configuration for the natality warehouse pipeline.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Optimize  OptimizeConfig  `yaml:"optimize"`
	Promotion PromotionConfig `yaml:"promotion"`
}

// ServiceConfig contains service-level settings.
type ServiceConfig struct {
	Name       string `yaml:"name"`
	HealthPort string `yaml:"health_port"`
	LogLevel   string `yaml:"log_level"`

	// RunIntervalMinutes > 0 reruns the pipeline periodically; 0 runs it
	// once and exits.
	RunIntervalMinutes int `yaml:"run_interval_minutes"`
}

// WarehouseConfig points at the working Postgres database.
type WarehouseConfig struct {
	DSN string `yaml:"dsn"`
}

// IngestConfig selects the yearly batches to process and where their CSV
// exports live.
type IngestConfig struct {
	// Years lists explicit target years. When empty, the inclusive
	// [start_year, end_year] range is used instead.
	Years     []int `yaml:"years"`
	StartYear int   `yaml:"start_year"`
	EndYear   int   `yaml:"end_year"`

	// Overwrite reprocesses every target year even when its raw batch
	// already exists.
	Overwrite bool `yaml:"overwrite"`

	// SourcePattern is a fmt pattern with one %d verb for the year,
	// e.g. "data/sinasc_%d.csv".
	SourcePattern string `yaml:"source_pattern"`

	// MunicipalitiesCSV is the path to the IBGE municipality export used
	// to build the geography dimensions.
	MunicipalitiesCSV string `yaml:"municipalities_csv"`
}

// OptimizeConfig selects the type-optimization strategy.
type OptimizeConfig struct {
	// Mode is "bulk", "chunked" or "auto".
	Mode string `yaml:"mode"`
}

// PromotionConfig describes what gets promoted where.
type PromotionConfig struct {
	// Tables is the promotion manifest. Empty means promote every
	// curated table.
	Tables       []string                  `yaml:"tables"`
	RowCeiling   int64                     `yaml:"row_ceiling"`
	Destinations []promote.DestinationSpec `yaml:"destinations"`
}

// LoadConfig loads configuration from a YAML file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Service.Name == "" {
		config.Service.Name = "natality-warehouse"
	}
	if config.Service.HealthPort == "" {
		config.Service.HealthPort = "8095"
	}
	if config.Service.LogLevel == "" {
		config.Service.LogLevel = "info"
	}
	if config.Warehouse.DSN == "" {
		config.Warehouse.DSN = os.Getenv("WAREHOUSE_DSN")
	}
	if config.Ingest.SourcePattern == "" {
		config.Ingest.SourcePattern = "data/sinasc_%d.csv"
	}
	if config.Optimize.Mode == "" {
		config.Optimize.Mode = "auto"
	}

	return &config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Warehouse.DSN == "" {
		return fmt.Errorf("warehouse.dsn is required (or set WAREHOUSE_DSN)")
	}
	if len(c.Ingest.Years) == 0 && c.Ingest.StartYear == 0 {
		return fmt.Errorf("ingest.years or ingest.start_year/end_year is required")
	}
	if len(c.Ingest.Years) == 0 && c.Ingest.EndYear < c.Ingest.StartYear {
		return fmt.Errorf("ingest.end_year must not precede ingest.start_year")
	}
	switch c.Optimize.Mode {
	case "bulk", "chunked", "auto":
	default:
		return fmt.Errorf("optimize.mode must be bulk, chunked or auto, got %q", c.Optimize.Mode)
	}
	for _, dest := range c.Promotion.Destinations {
		if dest.Name == "" {
			return fmt.Errorf("every promotion destination needs a name")
		}
		if dest.Engine != promote.EnginePostgres && dest.Engine != promote.EngineDuckDB {
			return fmt.Errorf("destination %s: engine must be %s or %s", dest.Name, promote.EnginePostgres, promote.EngineDuckDB)
		}
		if dest.DSN == "" {
			return fmt.Errorf("destination %s: dsn is required", dest.Name)
		}
	}
	return nil
}

// TargetYears resolves the explicit year list or the configured range.
func (c *Config) TargetYears() ([]int, error) {
	if len(c.Ingest.Years) > 0 {
		return append([]int(nil), c.Ingest.Years...), nil
	}
	return ingest.YearRange(c.Ingest.StartYear, c.Ingest.EndYear)
}
