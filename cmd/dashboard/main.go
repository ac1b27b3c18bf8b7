package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/azzan02/Water-Quality-Dashboard/internal/client"
	"github.com/azzan02/Water-Quality-Dashboard/internal/config"
	"github.com/azzan02/Water-Quality-Dashboard/internal/dashboard"
	"github.com/azzan02/Water-Quality-Dashboard/internal/domain"
	applogger "github.com/azzan02/Water-Quality-Dashboard/internal/logger"
	"github.com/azzan02/Water-Quality-Dashboard/internal/transport"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	testData := flag.Bool("test-data", false, "request one generated test sample before starting live updates")
	flag.Parse()

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

	logger.Info("Starting Water Quality Dashboard", zap.String("server", cfg.Dashboard.ServerURL))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.New(cfg.Dashboard.ServerURL,
		client.WithHistoryLimit(cfg.Dashboard.HistorySize),
		client.WithStreamHeaderTimeout(cfg.Dashboard.RequestTimeout))

	renderer, err := dashboard.NewChartRenderer(cfg.Dashboard.ChartDir, logger)
	if err != nil {
		logger.Error("Failed to prepare chart directory", zap.Error(err))
		return
	}

	// Сессия создаётся после транспорта, так как использует его буфер истории
	var session *dashboard.Session
	tr := transport.New(api, api, transport.Options{
		MaxAttempts:    cfg.Dashboard.MaxAttempts,
		BaseDelay:      cfg.Dashboard.BaseDelay,
		MaxDelay:       cfg.Dashboard.MaxDelay,
		PollInterval:   cfg.Dashboard.PollInterval,
		RequestTimeout: cfg.Dashboard.RequestTimeout,
		HistorySize:    cfg.Dashboard.HistorySize,
		OnSample:       func(s domain.Sample) { session.OnSample(s) },
		OnStatus:       func(connected bool) { session.OnStatus(connected) },
		OnStateChange: func(state transport.State, attempt int) {
			logger.Info("Live update state changed",
				zap.Stringer("state", state),
				zap.Int("attempt", attempt))
		},
	}, logger)
	session = dashboard.NewSession(tr.History(), renderer, logger)
	defer session.Close()

	if *testData {
		reqCtx, cancel := context.WithTimeout(ctx, cfg.Dashboard.RequestTimeout)
		sample, err := api.TriggerTestData(reqCtx)
		cancel()
		if err != nil {
			logger.Warn("Failed to generate test data", zap.Error(err))
		} else {
			logger.Info("Test data generated", zap.String("timestamp", string(sample.Timestamp)))
		}
	}

	// Без истории дашборд продолжает работу и ждёт живых обновлений
	history, err := tr.Bootstrap(ctx)
	if err != nil {
		logger.Warn("Failed to load history", zap.Error(err))
	}
	session.SeedPath(history)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tr.Run(gctx)
	})
	g.Go(func() error {
		return reportStatus(gctx, tr, session, cfg.Dashboard.StatusInterval, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Dashboard stopped with error", zap.Error(err))
		return
	}
	logger.Info("Water Quality Dashboard stopped")
}

// reportStatus периодически выводит сводку панели в лог
func reportStatus(ctx context.Context, tr *transport.Transport, session *dashboard.Session, interval time.Duration, logger *zap.Logger) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := session.Snapshot()
			logger.Info("Dashboard status",
				zap.Stringer("transport", tr.Status()),
				zap.Bool("connected", snap.Connected),
				zap.String("last_updated", string(snap.LastUpdated)),
				zap.Stringer("arsenic_risk", snap.ArsenicRisk),
				zap.Stringer("barium_risk", snap.BariumRisk),
				zap.Int("history", len(snap.History)),
				zap.Int("path_points", len(snap.Path)),
				zap.Strings("charts", snap.Charts))
		}
	}
}
