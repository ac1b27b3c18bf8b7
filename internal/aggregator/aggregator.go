package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/azzan02/Water-Quality-Dashboard/internal/domain"
	"github.com/azzan02/Water-Quality-Dashboard/internal/metrics"

	"go.uber.org/zap"
)

type UplinkService interface {
	IngestUplink(ctx context.Context, uplink *domain.Uplink) error
}

// Aggregator разбирает очередь аплинков пулом воркеров
type Aggregator struct {
	workers int
	service UplinkService
	logger  *zap.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewAggregator(service UplinkService, workers int, logger *zap.Logger) *Aggregator {
	if workers <= 0 {
		workers = 1
	}
	return &Aggregator{
		service: service,
		workers: workers,
		logger:  logger,
	}
}

// Start запускает воркеры и сразу возвращает управление. Воркеры завершаются,
// когда закрыт канал, отменён ctx или вызван Stop.
func (a *Aggregator) Start(ctx context.Context, uplinks <-chan *domain.Uplink) {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	a.logger.Info("starting aggregator",
		zap.Int("workers", a.workers),
		zap.String("start_time", time.Now().Format(time.RFC3339)),
	)

	metrics.AggregatorActiveWorkers.Set(float64(a.workers))

	for i := 0; i < a.workers; i++ {
		a.wg.Add(1)
		go a.worker(ctx, i, uplinks)
	}

	go func() {
		a.wg.Wait()
		cancel()
		metrics.AggregatorActiveWorkers.Set(0)

		a.logger.Info("aggregator stopped",
			zap.String("stop_time", time.Now().Format(time.RFC3339)),
		)
	}()
}

func (a *Aggregator) worker(ctx context.Context, workerID int, uplinks <-chan *domain.Uplink) {
	defer a.wg.Done()
	defer metrics.AggregatorActiveWorkers.Dec()

	a.logger.Debug("worker started", zap.Int("worker_id", workerID))

	for {
		select {
		case uplink, ok := <-uplinks:
			if !ok {
				a.logger.Info("uplink channel closed, exiting worker",
					zap.Int("worker_id", workerID),
				)
				return
			}

			if ctx.Err() != nil {
				a.logger.Info("context cancelled, exiting worker",
					zap.Int("worker_id", workerID),
				)
				return
			}

			a.process(ctx, workerID, uplink)

		case <-ctx.Done():
			a.logger.Info("context cancelled, exiting worker",
				zap.Int("worker_id", workerID),
			)
			return
		}
	}
}

func (a *Aggregator) process(ctx context.Context, workerID int, uplink *domain.Uplink) {
	metrics.AggregatorUplinksReceived.Inc()
	startTime := time.Now()

	if err := a.service.IngestUplink(ctx, uplink); err != nil {
		metrics.AggregatorUplinksFailed.Inc()

		a.logger.Error("[Aggregator] failed to process uplink",
			zap.Int("worker_id", workerID),
			zap.String("uplink_id", uplink.ID.String()),
			zap.String("topic", uplink.Topic),
			zap.ByteString("payload", uplink.Payload),
			zap.Error(err),
		)
		return
	}

	metrics.AggregatorUplinksProcessed.Inc()

	processingTime := time.Since(startTime)
	metrics.AggregatorUplinkProcessingTime.Observe(processingTime.Seconds())

	a.logger.Info("[Aggregator] uplink processed successfully",
		zap.Int("worker_id", workerID),
		zap.String("uplink_id", uplink.ID.String()),
		zap.String("received_at", uplink.ReceivedAt.Format(time.RFC3339Nano)),
		zap.Duration("processing_time", processingTime),
	)
}

// Stop аккуратная остановка агрегатора
func (a *Aggregator) Stop() {
	a.logger.Info("stopping aggregator gracefully")

	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Wait блокируется до завершения всех воркеров
func (a *Aggregator) Wait() {
	a.wg.Wait()
}
