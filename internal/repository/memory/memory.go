package memory

import (
	"context"
	"sync"
	"time"

	"github.com/azzan02/Water-Quality-Dashboard/internal/domain"
	"github.com/azzan02/Water-Quality-Dashboard/internal/metrics"
	"github.com/azzan02/Water-Quality-Dashboard/pkg/utils"
)

// Repository хранит последние capacity показаний в памяти процесса
type Repository struct {
	mu       sync.RWMutex
	samples  []domain.Sample
	capacity int
}

func NewRepository(capacity int) *Repository {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Repository{capacity: capacity}
}

func (r *Repository) SaveSample(ctx context.Context, sample *domain.Sample) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("save_sample").Observe(time.Since(start).Seconds())
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	sample.ID = utils.NewUUID().String()
	if len(r.samples) >= r.capacity {
		r.samples = append(r.samples[:0], r.samples[len(r.samples)-r.capacity+1:]...)
	}
	r.samples = append(r.samples, *sample)
	return nil
}

// RecentSamples возвращает до limit последних показаний, от старых к новым
func (r *Repository) RecentSamples(ctx context.Context, limit int) ([]domain.Sample, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("recent_samples").Observe(time.Since(start).Seconds())
	}()

	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.samples) {
		limit = len(r.samples)
	}
	out := make([]domain.Sample, limit)
	copy(out, r.samples[len(r.samples)-limit:])
	return out, nil
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (r *Repository) Close() {}
