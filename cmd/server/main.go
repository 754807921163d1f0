// Package main is the entry point for the citycast HTTP server.
//
// It loads configuration, opens the artifact store (local folder or S3),
// wires the repository, predictor and handlers onto the core chassis, and
// serves until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"citycast/internal/api/handlers"
	"citycast/internal/artifacts"
	"citycast/internal/config"
	"citycast/internal/core"
	"citycast/internal/dashboard"
	"citycast/internal/forecasts"
	"citycast/internal/repository"
	"citycast/internal/telemetry"
	"citycast/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// metrics is what the server, repository and predictor record into.
type metrics interface {
	core.MetricsCollector
	repository.LoadRecorder
	forecasts.DefaultRecorder
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := loadAWSConfig(ctx)
	if err != nil {
		return fmt.Errorf("loading AWS configuration: %w", err)
	}

	// The resolver is only consulted outside APP_ENV=local.
	resolver := config.NewSSMResolver(ssm.NewFromConfig(awsCfg))
	cfg, err := config.Load(ctx, resolver)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// .env may have supplied a different region.
	awsCfg.Region = cfg.AWS.Region

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("citycast starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"model_source", cfg.Models.Source,
	)

	store, err := newStore(cfg, awsCfg, logger)
	if err != nil {
		return err
	}

	var m metrics = telemetry.Noop{}
	if cfg.Observability.MetricsEnabled {
		collector := telemetry.NewCollector(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger)
		go collector.Run(ctx, cfg.Observability.FlushInterval)
		m = collector
	}

	repo := repository.New(store, logger,
		repository.WithLoadRecorder(m),
		repository.WithPreloadConcurrency(cfg.Models.PreloadConcurrency),
	)
	if cfg.Models.Preload {
		n, err := repo.Preload(ctx)
		if err != nil {
			// Pages still load on demand; a partial warm-up is not fatal.
			logger.Warn("model preload incomplete", "loaded", n, "error", err)
		} else {
			logger.Info("model preload complete", "loaded", n)
		}
	}

	predictor := forecasts.NewPredictor(logger, m)
	renderer, err := dashboard.NewRenderer()
	if err != nil {
		return fmt.Errorf("parsing dashboard template: %w", err)
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = m
	srv.HealthProbes = []core.HealthProbe{store}

	window := handlers.Window{DefaultDays: cfg.Forecast.Days, MaxDays: cfg.Forecast.MaxDays}
	clock := types.RealClock{}
	api := handlers.NewForecastHandler(repo, predictor, srv.Validator, logger, clock, window)
	page := handlers.NewDashboardHandler(repo, predictor, renderer, srv.Validator, logger, clock, window, modelLocation(cfg))
	page.Location = cfg.Forecast.DisplayLocation()
	srv.V1RouteRegistrars = []core.RouteRegistrar{api.RegisterRoutes}
	srv.RouteRegistrars = []core.RouteRegistrar{page.RegisterRoutes}
	srv.MountRoutes()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
		close(serverErrors)
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server resource cleanup failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

// loadAWSConfig reads the default credential chain. It runs before
// config.Load because the SSM client is needed to resolve parameters, so the
// region falls back to the same default as AWSConfig. AWS_ENDPOINT_URL is
// honoured by the SDK itself.
func loadAWSConfig(ctx context.Context) (aws.Config, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
}

func newStore(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (artifacts.Store, error) {
	switch cfg.Models.Source {
	case config.SourceS3:
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				o.UsePathStyle = true
			}
		})
		return artifacts.NewS3Store(client, cfg.Models.Bucket, cfg.Models.Prefix, logger), nil
	case config.SourceFS:
		return artifacts.NewFSStore(cfg.Models.Folder), nil
	default:
		return nil, fmt.Errorf("unknown model source %q", cfg.Models.Source)
	}
}

func modelLocation(cfg *config.Config) string {
	if cfg.Models.Source == config.SourceS3 {
		return "s3://" + cfg.Models.Bucket + "/" + cfg.Models.Prefix
	}
	return cfg.Models.Folder
}

// newLogger creates a JSON slog.Logger for the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
