package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/azzan02/Water-Quality-Dashboard/internal/config"
	"github.com/azzan02/Water-Quality-Dashboard/internal/domain"
	"github.com/azzan02/Water-Quality-Dashboard/internal/metrics"
	"github.com/azzan02/Water-Quality-Dashboard/pkg/utils"

	"go.uber.org/zap"
)

var (
	ErrInvalidPayload = errors.New("invalid JSON format")
	ErrInvalidLimit   = errors.New("limit must be a positive integer")
)

// Источники показаний для метрик
const (
	SourceHTTP = "http"
	SourceMQTT = "mqtt"
	SourceTest = "test"
)

type Repository interface {
	SaveSample(ctx context.Context, sample *domain.Sample) error
	RecentSamples(ctx context.Context, limit int) ([]domain.Sample, error)
	HealthCheck(ctx context.Context) error
}

// Notifier рассылает сообщение клиентам потока
type Notifier interface {
	Notify(msg string) int
}

// DefaultMaxHistoryLimit используется, если верхняя граница не задана в конфигурации
const DefaultMaxHistoryLimit = 1000

type TelemetryService struct {
	repo            Repository
	notifier        Notifier
	streamMode      string
	historyLimit    int
	maxHistoryLimit int
	logger          *zap.Logger
	now             func() time.Time

	mu     sync.RWMutex
	latest domain.Sample
}

func NewTelemetryService(repo Repository, notifier Notifier, cfg *config.Config, logger *zap.Logger) *TelemetryService {
	maxLimit := cfg.MaxHistoryLimit
	if maxLimit <= 0 {
		maxLimit = DefaultMaxHistoryLimit
	}
	return &TelemetryService{
		repo:            repo,
		notifier:        notifier,
		streamMode:      cfg.Stream.Mode,
		historyLimit:    cfg.HistoryLimit,
		maxHistoryLimit: maxLimit,
		logger:          logger,
		now:             time.Now,
	}
}

func (s *TelemetryService) CheckDBConnection(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}

type uplinkBody struct {
	Message string `json:"message"`
}

// IngestMessage разбирает тело POST /lora ({"message":"pH:7.1,..."}), сохраняет
// показание и уведомляет клиентов потока.
func (s *TelemetryService) IngestMessage(ctx context.Context, body []byte, source string) (domain.Sample, error) {
	var in uplinkBody
	if err := json.Unmarshal(body, &in); err != nil {
		metrics.UplinksRejected.Inc()
		s.logger.Warn("[TelemetryService] Received data is not valid JSON",
			zap.String("source", source),
			zap.ByteString("raw", body),
			zap.Error(err))
		return domain.Sample{}, ErrInvalidPayload
	}

	sample := ParseMessage(in.Message, s.now())
	s.logger.Debug("[TelemetryService] Parsed uplink",
		zap.String("source", source),
		zap.String("message", in.Message),
		zap.Any("sample", sample))

	if err := s.record(ctx, &sample, source); err != nil {
		return domain.Sample{}, err
	}
	return sample, nil
}

// IngestUplink обрабатывает аплинк, полученный из MQTT
func (s *TelemetryService) IngestUplink(ctx context.Context, uplink *domain.Uplink) error {
	if err := ctx.Err(); err != nil {
		s.logger.Warn("[TelemetryService] Processing cancelled by context",
			zap.String("uplink_id", uplink.ID.String()))
		return err
	}

	if _, err := s.IngestMessage(ctx, uplink.Payload, SourceMQTT); err != nil {
		return fmt.Errorf("uplink %s: %w", uplink.ID, err)
	}
	return nil
}

// GenerateTestSample создаёт случайное показание для отладки дашборда
func (s *TelemetryService) GenerateTestSample(ctx context.Context) (domain.Sample, error) {
	sample := domain.Sample{
		Timestamp: domain.NewTimestamp(s.now()),
		PH:        domain.Float(testRanges.ph.Generate()),
		EC:        domain.Float(testRanges.ec.Generate()),
		TDS:       domain.Float(testRanges.tds.Generate()),
		DO:        domain.Float(testRanges.do.Generate()),
		Temp:      domain.Float(testRanges.temp.Generate()),
		Arsenic:   domain.Float(testRanges.arsenic.Generate()),
		Barium:    domain.Float(testRanges.barium.Generate()),
	}
	if utils.Chance(0.5) {
		sample.Lat = domain.Float(testRanges.lat.Generate())
		sample.Lon = domain.Float(testRanges.lon.Generate())
	}

	if err := s.record(ctx, &sample, SourceTest); err != nil {
		return domain.Sample{}, err
	}

	s.logger.Info("[TelemetryService] Generated test data", zap.Any("sample", sample))
	return sample, nil
}

var testRanges = struct {
	ph, ec, tds, do, temp, arsenic, barium, lat, lon *utils.RangeGenerator
}{
	ph:      utils.NewRangeGenerator(6.0, 9.0, 2),
	ec:      utils.NewRangeGenerator(0.5, 1.5, 2),
	tds:     utils.NewRangeGenerator(0.1, 0.5, 2),
	do:      utils.NewRangeGenerator(-2.0, 2.0, 2),
	temp:    utils.NewRangeGenerator(10, 30, 1),
	arsenic: utils.NewRangeGenerator(0, 120, 1),
	barium:  utils.NewRangeGenerator(0, 2500, 0),
	lat:     utils.NewRangeGenerator(30, 45, 6),
	lon:     utils.NewRangeGenerator(-120, -70, 6),
}

// Latest возвращает последнее принятое показание; до первого приёма - пустой Sample
func (s *TelemetryService) Latest() domain.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// History возвращает до limit последних показаний в хронологическом порядке.
// limit == 0 означает значение по умолчанию, больше maxHistoryLimit урезается.
func (s *TelemetryService) History(ctx context.Context, limit int) ([]domain.Sample, error) {
	if limit < 0 {
		return nil, ErrInvalidLimit
	}
	if limit == 0 {
		limit = s.historyLimit
	}
	if limit > s.maxHistoryLimit {
		s.logger.Debug("[TelemetryService] History limit clamped",
			zap.Int("requested", limit),
			zap.Int("max", s.maxHistoryLimit))
		limit = s.maxHistoryLimit
	}

	samples, err := s.repo.RecentSamples(ctx, limit)
	if err != nil {
		s.logger.Error("[TelemetryService] Failed to get history",
			zap.Int("limit", limit),
			zap.Error(err))
		return nil, err
	}
	if samples == nil {
		samples = []domain.Sample{}
	}
	return samples, nil
}

// record сохраняет показание, обновляет последнее и уведомляет клиентов.
// Последнее обновляется даже при ошибке сохранения.
func (s *TelemetryService) record(ctx context.Context, sample *domain.Sample, source string) error {
	err := s.repo.SaveSample(ctx, sample)

	s.mu.Lock()
	s.latest = *sample
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("[TelemetryService] Failed to save sample",
			zap.String("timestamp", string(sample.Timestamp)),
			zap.Error(err))
		return fmt.Errorf("save sample: %w", err)
	}

	metrics.SamplesIngested.WithLabelValues(source).Inc()
	s.notify(*sample)

	s.logger.Info("[TelemetryService] Sample recorded",
		zap.String("source", source),
		zap.String("id", sample.ID),
		zap.String("timestamp", string(sample.Timestamp)))
	return nil
}

func (s *TelemetryService) notify(sample domain.Sample) {
	if s.notifier == nil {
		return
	}

	msg := "update"
	if s.streamMode == config.StreamModePayload {
		b, err := json.Marshal(sample)
		if err != nil {
			s.logger.Error("[TelemetryService] Failed to encode stream payload", zap.Error(err))
			return
		}
		msg = string(b)
	}
	s.notifier.Notify(msg)
}

// ParseMessage разбирает строку вида "pH:7.1,EC:0.9,GPS:30.1,-80.2".
// Фрагмент без двоеточия продолжает значение предыдущего ключа, поэтому
// координаты GPS через запятую не теряются. Timestamp проставляется сервером.
func ParseMessage(message string, now time.Time) domain.Sample {
	fields := make(map[string]string)
	var order []string
	last := ""

	for _, part := range strings.Split(message, ",") {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			if last != "" {
				fields[last] += "," + strings.TrimSpace(part)
			}
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			last = ""
			continue
		}
		if _, seen := fields[key]; !seen {
			order = append(order, key)
		}
		fields[key] = strings.TrimSpace(value)
		last = key
	}

	sample := domain.Sample{Timestamp: domain.NewTimestamp(now)}
	for _, key := range order {
		value := fields[key]
		switch key {
		case "GPS":
			if value == "NoFix" {
				continue
			}
			lat, lon, ok := strings.Cut(value, ",")
			if !ok || strings.Contains(lon, ",") {
				continue
			}
			sample.Lat = domain.ParseNumber(lat)
			sample.Lon = domain.ParseNumber(lon)
		case domain.FieldTimestamp, domain.FieldID:
			// timestamp и id назначает сервер
		default:
			if sample.SetValue(key, domain.ParseNumber(value)) {
				continue
			}
			if sample.Extra == nil {
				sample.Extra = make(map[string]json.RawMessage)
			}
			raw, _ := json.Marshal(value)
			sample.Extra[key] = raw
		}
	}
	return sample
}
