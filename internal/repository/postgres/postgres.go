package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/azzan02/Water-Quality-Dashboard/internal/config"
	"github.com/azzan02/Water-Quality-Dashboard/internal/domain"
	"github.com/azzan02/Water-Quality-Dashboard/internal/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DO - зарезервированное слово, поэтому колонка называется dissolved_oxygen
const createTableQuery = `CREATE TABLE IF NOT EXISTS sensor_data (
	id               UUID PRIMARY KEY,
	seq              BIGSERIAL,
	ts               TEXT NOT NULL,
	ph               DOUBLE PRECISION,
	ec               DOUBLE PRECISION,
	tds              DOUBLE PRECISION,
	dissolved_oxygen DOUBLE PRECISION,
	temp             DOUBLE PRECISION,
	arsenic          DOUBLE PRECISION,
	barium           DOUBLE PRECISION,
	lat              DOUBLE PRECISION,
	lon              DOUBLE PRECISION,
	extra            JSONB,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const createIndexQuery = `CREATE INDEX IF NOT EXISTS sensor_data_seq_idx ON sensor_data (seq DESC)`

type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresRepository(ctx context.Context, dbConfig config.DBConfig, logger *zap.Logger) (*PostgresRepository, error) {
	// Конфигурация пула
	config, err := pgxpool.ParseConfig(dbConfig.DBSource)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.MaxConns = int32(dbConfig.MaxDBConnections)
	config.MinConns = int32(dbConfig.MinDBConnections)
	config.MaxConnLifetime = dbConfig.MaxConnLifetime
	config.MaxConnIdleTime = dbConfig.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger,
	}
	if err := r.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	go monitorConnections(ctx, pool, logger)

	return r, nil
}

func (r *PostgresRepository) ensureSchema(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("ensure_schema").Observe(time.Since(start).Seconds())
	}()

	if _, err := r.pool.Exec(ctx, createTableQuery); err != nil {
		return fmt.Errorf("failed to create sensor_data table: %w", err)
	}
	if _, err := r.pool.Exec(ctx, createIndexQuery); err != nil {
		return fmt.Errorf("failed to create sensor_data index: %w", err)
	}
	r.logger.Info("Database initialized")
	return nil
}

// monitorConnections периодически обновляет метрики соединений и завершается при отмене ctx
func monitorConnections(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Stopping connection monitor")
			return
		case <-ticker.C:
			stats := pool.Stat()
			metrics.DBActiveConnections.Set(float64(stats.AcquiredConns()))
			metrics.DBIdleConnections.Set(float64(stats.IdleConns()))

			logger.Debug("Database connection stats",
				zap.Int("acquired", int(stats.AcquiredConns())),
				zap.Int("idle", int(stats.IdleConns())),
				zap.Int("max", int(stats.MaxConns())),
			)
		}
	}
}

// SaveSample записывает показание и проставляет ему новый id
func (r *PostgresRepository) SaveSample(ctx context.Context, sample *domain.Sample) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("save_sample").Observe(time.Since(start).Seconds())
	}()

	var extra []byte
	if len(sample.Extra) > 0 {
		b, err := json.Marshal(sample.Extra)
		if err != nil {
			return fmt.Errorf("failed to encode extra fields: %w", err)
		}
		extra = b
	}

	id := uuid.New()
	query := `INSERT INTO sensor_data
		(id, ts, ph, ec, tds, dissolved_oxygen, temp, arsenic, barium, lat, lon, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		id,
		string(sample.Timestamp),
		sample.PH,
		sample.EC,
		sample.TDS,
		sample.DO,
		sample.Temp,
		sample.Arsenic,
		sample.Barium,
		sample.Lat,
		sample.Lon,
		extra,
	)
	if err != nil {
		return fmt.Errorf("failed to save sample: %w", err)
	}

	sample.ID = id.String()
	return nil
}

// RecentSamples возвращает до limit последних показаний в хронологическом порядке
func (r *PostgresRepository) RecentSamples(ctx context.Context, limit int) ([]domain.Sample, error) {
	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("recent_samples").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT id, ts, ph, ec, tds, dissolved_oxygen, temp, arsenic, barium, lat, lon, extra
		FROM (
			SELECT * FROM sensor_data ORDER BY seq DESC LIMIT $1
		) recent
		ORDER BY seq ASC`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	// limit может сильно превышать число строк в таблице
	results := make([]domain.Sample, 0)
	for rows.Next() {
		var (
			s     domain.Sample
			id    uuid.UUID
			ts    string
			extra []byte
		)
		err := rows.Scan(
			&id,
			&ts,
			&s.PH,
			&s.EC,
			&s.TDS,
			&s.DO,
			&s.Temp,
			&s.Arsenic,
			&s.Barium,
			&s.Lat,
			&s.Lon,
			&extra,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		s.ID = id.String()
		s.Timestamp = domain.Timestamp(ts)
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &s.Extra); err != nil {
				r.logger.Warn("Skipping malformed extra fields",
					zap.String("id", s.ID),
					zap.Error(err))
			}
		}
		results = append(results, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.DBQueryDuration.WithLabelValues("health_check").Observe(duration)
	}()

	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}
