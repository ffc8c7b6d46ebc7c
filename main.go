// main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/releasegate/releasegate/orchestrator"
	"github.com/releasegate/releasegate/pkg/actions"
	"github.com/releasegate/releasegate/pkg/api"
	"github.com/releasegate/releasegate/pkg/config"
	"github.com/releasegate/releasegate/pkg/events"
	"github.com/releasegate/releasegate/pkg/logging"
	"github.com/releasegate/releasegate/pkg/metrics"
	"github.com/releasegate/releasegate/pkg/monitoring"
	"github.com/releasegate/releasegate/pkg/storage"
)

func main() {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "config.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *configPath, logger); err != nil {
		logger.Fatal("controller exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, configPath string, logger *zap.Logger) error {
	ctx := context.Background()

	store, err := newStore(cfg, logger)
	if err != nil {
		return err
	}

	provider, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}

	sinks, err := newSinks(cfg, logger)
	if err != nil {
		return err
	}
	bus := events.NewBus(cfg.Events.BufferSize, logger, sinks...)

	selfMetrics := monitoring.NewMetrics()
	bus.SetDropHook(selfMetrics.RecordEventDropped)

	runner := actions.NewWebhookExecutor(&cfg.Actions, logger)
	actuator := actions.NewWebhookActuator(&cfg.Actions, logger)

	ctrl, err := orchestrator.New(cfg, store, provider, runner, actuator, bus, selfMetrics, logger)
	if err != nil {
		return err
	}
	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	server := api.NewServer(cfg, ctrl, logger)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	watcher := config.NewWatcher(configPath, logger, ctrl.ApplyConfig)
	if err := watcher.Start(); err != nil {
		logger.Warn("config watcher not started", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	return ctrl.Stop(shutdownCtx)
}

func newStore(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "mongodb":
		return storage.NewMongoStore(&cfg.Storage.MongoDB, logger)
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

func newProvider(cfg *config.Config, logger *zap.Logger) (metrics.Provider, error) {
	switch cfg.Metrics.Provider {
	case "prometheus":
		return metrics.NewPrometheusProvider(&cfg.Metrics.Prometheus, logger)
	case "static":
		return metrics.NewStaticProvider(), nil
	default:
		return nil, fmt.Errorf("unknown metrics provider %q", cfg.Metrics.Provider)
	}
}

func newSinks(cfg *config.Config, logger *zap.Logger) ([]events.Sink, error) {
	audit, err := logging.NewAuditLogger(&cfg.Logging.Audit, logger)
	if err != nil {
		return nil, err
	}
	sinks := []events.Sink{audit}

	if cfg.Events.Kafka.Enabled {
		kafkaSink, err := events.NewKafkaSink(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, kafkaSink)
	}
	if cfg.Events.Redis.Enabled {
		sinks = append(sinks, events.NewRedisSink(cfg.Events.Redis.Addr, cfg.Events.Redis.Channel))
	}
	return sinks, nil
}
