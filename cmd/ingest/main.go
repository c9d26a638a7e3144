package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/flood-telemetry/internal/adapter/csvlog"
	httpadapter "github.com/couchcryptid/flood-telemetry/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/flood-telemetry/internal/adapter/kafka"
	mqttadapter "github.com/couchcryptid/flood-telemetry/internal/adapter/mqtt"
	"github.com/couchcryptid/flood-telemetry/internal/adapter/postgres"
	"github.com/couchcryptid/flood-telemetry/internal/alert"
	"github.com/couchcryptid/flood-telemetry/internal/config"
	"github.com/couchcryptid/flood-telemetry/internal/domain"
	"github.com/couchcryptid/flood-telemetry/internal/observability"
	"github.com/couchcryptid/flood-telemetry/internal/pipeline"
	"github.com/couchcryptid/flood-telemetry/internal/transport"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	aliases := domain.DefaultAliases()
	for field, keys := range cfg.FieldAliases {
		aliases.Add(field, keys...)
	}
	parser, err := domain.NewParser(aliases, cfg.FieldOrder, cfg.FixedMinFields)
	if err != nil {
		logger.Error("invalid field order", "error", err)
		os.Exit(1)
	}
	normalizer := domain.NewNormalizer(domain.Policy{
		AllowNegativePrecip: cfg.AllowNegativePrecip,
		MaxPrecipPerSample:  cfg.MaxPrecipPerSample,
	})

	reader, err := transport.NewReader(transport.Config{
		Port:              cfg.SerialPort,
		BridgeAddr:        cfg.TCPBridgeAddr,
		Baud:              cfg.BaudRate,
		ReadTimeout:       cfg.ReadTimeout,
		BackoffInitial:    cfg.BackoffInitial,
		BackoffMax:        cfg.BackoffMax,
		BackoffMultiplier: cfg.BackoffMultiplier,
	}, logger, metrics)
	if err != nil {
		logger.Error("invalid transport settings", "error", err)
		os.Exit(1)
	}

	// Warm start from the tail of the record store before it is reopened
	// for appending.
	var history []domain.Reading
	stored, err := csvlog.ReadFile(cfg.CSVPath)
	switch {
	case err == nil:
		history = stored.Since(time.Now().Add(-cfg.Retention()))
	case errors.Is(err, fs.ErrNotExist):
	default:
		logger.Warn("could not read record store for replay", "path", cfg.CSVPath, "error", err)
	}

	store, err := csvlog.Open(cfg.CSVPath, logger)
	if err != nil {
		logger.Error("failed to open record store", "path", cfg.CSVPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sinks []pipeline.Sink
	var db *postgres.Store
	if cfg.DatabaseURL != "" {
		db, err = postgres.New(ctx, cfg.DatabaseURL, cfg.DatabaseTable, logger)
		if err != nil {
			logger.Error("invalid database settings", "error", err)
			os.Exit(1)
		}
		if err := db.WaitReady(ctx, cfg.BackoffInitial, cfg.BackoffMax); err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		if err := db.EnsureTable(ctx); err != nil {
			logger.Error("failed to prepare database table", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, db)
	}
	var writer *kafkaadapter.Writer
	if len(cfg.KafkaBrokers) > 0 {
		writer = kafkaadapter.NewWriter(cfg, logger)
		sinks = append(sinks, writer)
	}

	worker := pipeline.New(reader, pipeline.NewTransformer(parser, normalizer), store, pipeline.Config{
		Windows:       cfg.Windows,
		MaxSamples:    cfg.SeriesMaxSamples,
		PollInterval:  cfg.PollInterval,
		SinkTimeout:   cfg.SinkTimeout,
		MaxFutureSkew: cfg.MaxFutureSkew,
	}, logger, metrics, pipeline.WithSinks(sinks...))
	if err := worker.Replay(history); err != nil {
		logger.Error("replay failed", "error", err)
	}

	publishers := alert.MultiPublisher{metrics.AlertPublisher()}
	var notifier *mqttadapter.Publisher
	if cfg.MQTTBroker != "" {
		notifier = mqttadapter.NewPublisher(cfg, logger)
		if err := notifier.Connect(ctx, cfg.BackoffInitial, cfg.BackoffMax); err != nil {
			logger.Error("mqtt broker unavailable", "error", err)
			os.Exit(1)
		}
		publishers = append(publishers, notifier)
	}
	evaluator := alert.NewEvaluator(worker, cfg.Thresholds)
	watcher := alert.NewWatcher(evaluator, publishers, cfg.AlertInterval, nil, logger)

	srv := httpadapter.NewServer(cfg.HTTPAddr, worker, worker, evaluator, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ingestion and alerting.
	worker.Start(ctx)
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		watcher.Run(ctx)
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	worker.Stop()
	<-watcherDone

	if err := store.Close(); err != nil {
		logger.Error("record store close error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if db != nil {
		db.Close()
	}
	if notifier != nil {
		notifier.Close()
	}

	logger.Info("shutdown complete")
}
