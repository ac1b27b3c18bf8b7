package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/azzan02/Water-Quality-Dashboard/internal/config"
	"github.com/azzan02/Water-Quality-Dashboard/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) SaveSample(ctx context.Context, sample *domain.Sample) error {
	args := m.Called(ctx, sample)
	return args.Error(0)
}

func (m *MockRepository) RecentSamples(ctx context.Context, limit int) ([]domain.Sample, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Sample), args.Error(1)
}

func (m *MockRepository) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(msg string) int {
	args := m.Called(msg)
	return args.Int(0)
}

var fixedNow = time.Date(2025, 5, 1, 10, 30, 0, 0, time.Local)

func newTestService(t *testing.T, repo Repository, notifier Notifier, mode string) *TelemetryService {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	cfg := &config.Config{HistoryLimit: 20}
	cfg.Stream.Mode = mode

	s := NewTelemetryService(repo, notifier, cfg, logger)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		check   func(t *testing.T, s domain.Sample)
	}{
		{
			name:    "all fields with GPS",
			message: "pH:7.1,EC:0.9,TDS:0.3,DO:1.2,Temp:21.5,Arsenic:12,Barium:700,GPS:30.1,-80.2",
			check: func(t *testing.T, s domain.Sample) {
				assert.Equal(t, 7.1, *s.PH)
				assert.Equal(t, 0.9, *s.EC)
				assert.Equal(t, 0.3, *s.TDS)
				assert.Equal(t, 1.2, *s.DO)
				assert.Equal(t, 21.5, *s.Temp)
				assert.Equal(t, 12.0, *s.Arsenic)
				assert.Equal(t, 700.0, *s.Barium)
				assert.Equal(t, 30.1, *s.Lat)
				assert.Equal(t, -80.2, *s.Lon)
				assert.NotContains(t, s.Extra, "GPS")
			},
		},
		{
			name:    "no fix",
			message: "pH:7.0,GPS:NoFix",
			check: func(t *testing.T, s domain.Sample) {
				assert.Equal(t, 7.0, *s.PH)
				assert.Nil(t, s.Lat)
				assert.Nil(t, s.Lon)
				assert.Empty(t, s.Extra)
			},
		},
		{
			name:    "non numeric becomes null",
			message: "pH:abc, EC : 1.1 ",
			check: func(t *testing.T, s domain.Sample) {
				assert.Nil(t, s.PH)
				assert.Equal(t, 1.1, *s.EC)
			},
		},
		{
			name:    "unknown keys kept as strings",
			message: "Battery:low,DO:0.5",
			check: func(t *testing.T, s domain.Sample) {
				assert.JSONEq(t, `"low"`, string(s.Extra["Battery"]))
				assert.Equal(t, 0.5, *s.DO)
			},
		},
		{
			name:    "client timestamp ignored",
			message: "timestamp:yesterday,pH:8",
			check: func(t *testing.T, s domain.Sample) {
				assert.Equal(t, domain.NewTimestamp(fixedNow), s.Timestamp)
			},
		},
		{
			name:    "garbage",
			message: "hello,world",
			check: func(t *testing.T, s domain.Sample) {
				assert.Nil(t, s.PH)
				assert.Empty(t, s.Extra)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ParseMessage(tt.message, fixedNow)
			assert.Equal(t, domain.Timestamp("2025-05-01 10:30:00"), s.Timestamp)
			tt.check(t, s)
		})
	}
}

func TestTelemetryService_IngestMessage_Success(t *testing.T) {
	mockRepo := new(MockRepository)
	mockNotifier := new(MockNotifier)
	service := newTestService(t, mockRepo, mockNotifier, config.StreamModeSignal)

	mockRepo.On("SaveSample", mock.Anything, mock.AnythingOfType("*domain.Sample")).
		Return(nil).
		Run(func(args mock.Arguments) {
			s := args.Get(1).(*domain.Sample)
			assert.Equal(t, 7.2, *s.PH)
			s.ID = uuid.NewString()
		})
	mockNotifier.On("Notify", "update").Return(1)

	sample, err := service.IngestMessage(context.Background(), []byte(`{"message":"pH:7.2,GPS:40.5,-75.25"}`), SourceHTTP)
	require.NoError(t, err)
	assert.NotEmpty(t, sample.ID)
	assert.Equal(t, 40.5, *sample.Lat)

	latest := service.Latest()
	assert.Equal(t, sample.ID, latest.ID)
	assert.Equal(t, domain.Timestamp("2025-05-01 10:30:00"), latest.Timestamp)

	mockRepo.AssertExpectations(t)
	mockNotifier.AssertExpectations(t)
}

func TestTelemetryService_IngestMessage_InvalidJSON(t *testing.T) {
	mockRepo := new(MockRepository)
	mockNotifier := new(MockNotifier)
	service := newTestService(t, mockRepo, mockNotifier, config.StreamModeSignal)

	_, err := service.IngestMessage(context.Background(), []byte(`pH:7.2`), SourceHTTP)
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.True(t, service.Latest().IsEmpty())

	mockRepo.AssertNotCalled(t, "SaveSample", mock.Anything, mock.Anything)
	mockNotifier.AssertNotCalled(t, "Notify", mock.Anything)
}

func TestTelemetryService_IngestMessage_SaveError(t *testing.T) {
	mockRepo := new(MockRepository)
	mockNotifier := new(MockNotifier)
	service := newTestService(t, mockRepo, mockNotifier, config.StreamModeSignal)

	mockRepo.On("SaveSample", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	_, err := service.IngestMessage(context.Background(), []byte(`{"message":"pH:7.2"}`), SourceHTTP)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	// последнее показание обновляется, но клиенты не уведомляются
	assert.Equal(t, 7.2, *service.Latest().PH)
	mockNotifier.AssertNotCalled(t, "Notify", mock.Anything)
}

func TestTelemetryService_PayloadMode(t *testing.T) {
	mockRepo := new(MockRepository)
	mockNotifier := new(MockNotifier)
	service := newTestService(t, mockRepo, mockNotifier, config.StreamModePayload)

	mockRepo.On("SaveSample", mock.Anything, mock.Anything).Return(nil)
	mockNotifier.On("Notify", mock.AnythingOfType("string")).
		Return(1).
		Run(func(args mock.Arguments) {
			var s domain.Sample
			require.NoError(t, json.Unmarshal([]byte(args.String(0)), &s))
			assert.Equal(t, 55.0, *s.Arsenic)
			assert.Equal(t, domain.Timestamp("2025-05-01 10:30:00"), s.Timestamp)
		})

	_, err := service.IngestMessage(context.Background(), []byte(`{"message":"Arsenic:55"}`), SourceHTTP)
	require.NoError(t, err)
	mockNotifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestTelemetryService_IngestUplink(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(t, mockRepo, nil, config.StreamModeSignal)

	mockRepo.On("SaveSample", mock.Anything, mock.Anything).Return(nil)

	uplink := &domain.Uplink{
		ID:         uuid.New(),
		ReceivedAt: fixedNow,
		Topic:      "lora/uplink",
		Payload:    []byte(`{"message":"TDS:0.4"}`),
	}
	require.NoError(t, service.IngestUplink(context.Background(), uplink))
	assert.Equal(t, 0.4, *service.Latest().TDS)

	bad := &domain.Uplink{ID: uuid.New(), Payload: []byte(`nope`)}
	err := service.IngestUplink(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.Contains(t, err.Error(), bad.ID.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, service.IngestUplink(ctx, uplink), context.Canceled)
}

func TestTelemetryService_GenerateTestSample(t *testing.T) {
	mockRepo := new(MockRepository)
	mockNotifier := new(MockNotifier)
	service := newTestService(t, mockRepo, mockNotifier, config.StreamModeSignal)

	mockRepo.On("SaveSample", mock.Anything, mock.Anything).Return(nil)
	mockNotifier.On("Notify", "update").Return(0)

	for i := 0; i < 20; i++ {
		s, err := service.GenerateTestSample(context.Background())
		require.NoError(t, err)

		assert.True(t, *s.PH >= 6 && *s.PH <= 9)
		assert.True(t, *s.EC >= 0.5 && *s.EC <= 1.5)
		assert.True(t, *s.TDS >= 0.1 && *s.TDS <= 0.5)
		assert.True(t, *s.DO >= -2 && *s.DO <= 2)
		assert.True(t, *s.Temp >= 10 && *s.Temp <= 30)
		assert.True(t, *s.Arsenic >= 0 && *s.Arsenic <= 120)
		assert.True(t, *s.Barium >= 0 && *s.Barium <= 2500)
		assert.Equal(t, s.Lat == nil, s.Lon == nil)
		if p, ok := s.Position(); ok {
			assert.True(t, p.Lat >= 30 && p.Lat <= 45)
			assert.True(t, p.Lon >= -120 && p.Lon <= -70)
		}
	}
	mockNotifier.AssertNumberOfCalls(t, "Notify", 20)
}

func TestTelemetryService_History(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(t, mockRepo, nil, config.StreamModeSignal)

	expected := []domain.Sample{
		{Timestamp: "2025-05-01 10:00:00"},
		{Timestamp: "2025-05-01 10:00:05"},
	}
	mockRepo.On("RecentSamples", mock.Anything, 20).Return(expected, nil).Once()
	mockRepo.On("RecentSamples", mock.Anything, 5).Return(nil, nil).Once()
	mockRepo.On("RecentSamples", mock.Anything, 7).Return(nil, errors.New("connection lost")).Once()
	mockRepo.On("RecentSamples", mock.Anything, DefaultMaxHistoryLimit).Return(expected, nil).Once()

	result, err := service.History(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, expected, result)

	result, err = service.History(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Empty(t, result)

	_, err = service.History(context.Background(), 7)
	assert.Error(t, err)

	_, err = service.History(context.Background(), -1)
	assert.ErrorIs(t, err, ErrInvalidLimit)

	// слишком большой limit урезается до верхней границы
	result, err = service.History(context.Background(), 999999999999)
	require.NoError(t, err)
	assert.Equal(t, expected, result)

	mockRepo.AssertExpectations(t)
}

func TestTelemetryService_CheckDBConnection(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(t, mockRepo, nil, config.StreamModeSignal)

	mockRepo.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))

	assert.Error(t, service.CheckDBConnection(context.Background()))
	mockRepo.AssertExpectations(t)
}
