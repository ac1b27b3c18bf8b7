package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/azzan02/Water-Quality-Dashboard/internal/aggregator"
	"github.com/azzan02/Water-Quality-Dashboard/internal/broadcast"
	"github.com/azzan02/Water-Quality-Dashboard/internal/config"
	apphttp "github.com/azzan02/Water-Quality-Dashboard/internal/http"
	applogger "github.com/azzan02/Water-Quality-Dashboard/internal/logger"
	"github.com/azzan02/Water-Quality-Dashboard/internal/mqtt"
	"github.com/azzan02/Water-Quality-Dashboard/internal/repository/memory"
	"github.com/azzan02/Water-Quality-Dashboard/internal/repository/postgres"
	"github.com/azzan02/Water-Quality-Dashboard/internal/service"

	"go.uber.org/zap"
)

type closableRepository interface {
	service.Repository
	Close()
}

func main() {
	// Создаём отменяемый контекст для всего приложения
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := applogger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("Error during logger sync: %v", err)
		}
	}()

	logger.Info("Starting Water Quality Telemetry Server",
		zap.String("version", "1.0.0"),
		zap.String("db_driver", cfg.DBConfig.DBDriver),
		zap.String("stream_mode", cfg.Stream.Mode))

	repo, err := newRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize repository", zap.Error(err))
		return
	}
	defer func() {
		repo.Close()
		logger.Info("Repository closed")
	}()

	hub := broadcast.NewHub(cfg.Stream.ClientBuffer, logger)
	telemetry := service.NewTelemetryService(repo, hub, cfg, logger)

	httpServer := apphttp.NewHTTPServer(cfg.RESTPort, telemetry, hub, cfg.Stream, logger)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	// MQTT-источник аплинков включается только при заданном брокере
	var (
		subscriber *mqtt.Subscriber
		agg        *aggregator.Aggregator
	)
	if cfg.MQTT.Broker != "" {
		subscriber = mqtt.NewSubscriber(cfg.MQTT, logger)
		if err := subscriber.Start(); err != nil {
			logger.Error("Failed to start MQTT subscriber", zap.Error(err))
			subscriber.Stop()
			subscriber = nil
		} else {
			agg = aggregator.NewAggregator(telemetry, cfg.WorkerCount, logger)
			agg.Start(ctx, subscriber.Uplinks())
		}
	} else {
		logger.Info("MQTT broker not configured, uplinks accepted over HTTP only")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Сначала закрываем источник, затем дожидаемся обработки очереди
	if subscriber != nil {
		subscriber.Stop()
	}
	if agg != nil {
		agg.Stop()
		agg.Wait()
	}

	// Закрытие хаба завершает активные SSE-потоки, иначе Shutdown их ждёт
	hub.Close()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("HTTP server shutdown due to timeout")
		} else {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
	}

	logger.Info("Water Quality Telemetry Server stopped")
}

func newRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (closableRepository, error) {
	switch cfg.DBConfig.DBDriver {
	case "memory":
		logger.Info("Using in-memory repository", zap.Int("capacity", cfg.DBConfig.MemoryCapacity))
		return memory.NewRepository(cfg.DBConfig.MemoryCapacity), nil
	default:
		repo, err := postgres.NewPostgresRepository(ctx, cfg.DBConfig, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Database connection established")
		return repo, nil
	}
}
