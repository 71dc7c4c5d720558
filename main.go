package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/opendatasus/natality-warehouse/warehouse"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Optional .env for local development; env vars win over the file.
	_ = godotenv.Load()

	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := config.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := newLogger(config.Service.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("loaded configuration",
		zap.String("path", *configPath),
		zap.String("service", config.Service.Name))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := warehouse.Connect(ctx, config.Warehouse.DSN, logger)
	if err != nil {
		logger.Fatal("failed to connect to working database", zap.Error(err))
	}
	defer client.Close()

	pipeline := NewPipeline(config, client, logger)

	healthServer := NewHealthServer(pipeline, config, logger)
	go func() {
		if err := healthServer.Start(); err != nil {
			logger.Error("health server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- runLoop(ctx, pipeline, config, logger)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
		<-errChan
		logger.Info("graceful shutdown complete")
	case err := <-errChan:
		if err != nil {
			logger.Fatal("pipeline error", zap.Error(err))
		}
	}
}

// newLogger builds a production logger at the configured level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// runLoop runs the pipeline once, or periodically when an interval is
// configured.
func runLoop(ctx context.Context, pipeline *Pipeline, config *Config, logger *zap.Logger) error {
	runOnce := func() error {
		start := time.Now()
		err := pipeline.Run(ctx)
		pipelineRunsTotal.Inc()
		pipelineDuration.Observe(time.Since(start).Seconds())
		yearsProcessed.Set(float64(pipeline.GetStats().YearsProcessed))
		if err != nil {
			pipelineErrors.Inc()
		}
		return err
	}

	if config.Service.RunIntervalMinutes <= 0 {
		return runOnce()
	}

	if err := runOnce(); err != nil {
		logger.Error("pipeline run failed", zap.Error(err))
	}
	interval := time.Duration(config.Service.RunIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := runOnce(); err != nil {
				logger.Error("pipeline run failed", zap.Error(err))
			}
		}
	}
}
