package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	pipelineRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warehouse_pipeline_runs_total",
		Help: "Total number of completed pipeline runs",
	})

	pipelineErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warehouse_pipeline_errors_total",
		Help: "Total number of failed pipeline runs",
	})

	pipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "warehouse_pipeline_duration_seconds",
		Help:    "Duration of pipeline runs",
		Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600},
	})

	yearsProcessed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warehouse_years_processed",
		Help: "Years processed by the last pipeline run",
	})
)

// HealthServer manages the HTTP health and metrics endpoints.
type HealthServer struct {
	pipeline  *Pipeline
	config    *Config
	port      string
	startTime time.Time
	logger    *zap.Logger
}

// NewHealthServer creates a new health server.
func NewHealthServer(pipeline *Pipeline, config *Config, logger *zap.Logger) *HealthServer {
	return &HealthServer{
		pipeline:  pipeline,
		config:    config,
		port:      config.Service.HealthPort,
		startTime: time.Now(),
		logger:    logger,
	}
}

// Start starts the health and metrics HTTP server and blocks.
func (h *HealthServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.HandleFunc("/live", h.handleLive)
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":" + h.port
	h.logger.Info("health server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, mux)
}

// handleHealth returns detailed health information.
func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.pipeline.GetStats()

	status := "healthy"
	if stats.LastError != "" {
		status = "degraded"
	}
	health := map[string]interface{}{
		"status":         status,
		"service":        h.config.Service.Name,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"stats": map[string]interface{}{
			"runs_total":                stats.RunsTotal,
			"last_run_time":             stats.LastRunTime,
			"last_run_duration_seconds": stats.LastRunDuration.Seconds(),
			"years_processed":           stats.YearsProcessed,
			"years_skipped":             stats.YearsSkipped,
			"years_failed":              stats.YearsFailed,
			"rollup_failures":           stats.RollupFailures,
			"tables_promoted":           stats.TablesPromoted,
			"tables_failed":             stats.TablesFailed,
			"last_error":                stats.LastError,
		},
		"config": map[string]interface{}{
			"optimize_mode":        h.config.Optimize.Mode,
			"overwrite":            h.config.Ingest.Overwrite,
			"destinations":         len(h.config.Promotion.Destinations),
			"run_interval_minutes": h.config.Service.RunIntervalMinutes,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleReady returns readiness status.
func (h *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "ready")
}

// handleLive returns liveness status.
func (h *HealthServer) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "live")
}
