package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/azzan02/Water-Quality-Dashboard/internal/broadcast"
	"github.com/azzan02/Water-Quality-Dashboard/internal/client"
	"github.com/azzan02/Water-Quality-Dashboard/internal/config"
	"github.com/azzan02/Water-Quality-Dashboard/internal/domain"
	"github.com/azzan02/Water-Quality-Dashboard/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) IngestMessage(ctx context.Context, body []byte, source string) (domain.Sample, error) {
	args := m.Called(ctx, body, source)
	return args.Get(0).(domain.Sample), args.Error(1)
}

func (m *MockService) GenerateTestSample(ctx context.Context) (domain.Sample, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.Sample), args.Error(1)
}

func (m *MockService) Latest() domain.Sample {
	args := m.Called()
	return args.Get(0).(domain.Sample)
}

func (m *MockService) History(ctx context.Context, limit int) ([]domain.Sample, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Sample), args.Error(1)
}

func (m *MockService) CheckDBConnection(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func newTestServer(t *testing.T, svc TelemetryService, hub StreamHub) *HTTPServer {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	if hub == nil {
		hub = broadcast.NewHub(4, logger)
	}
	return NewHTTPServer(":8080", svc, hub, config.StreamConfig{HeartbeatInterval: 20 * time.Millisecond}, logger)
}

func TestHTTPServer_HealthCheck(t *testing.T) {
	mockService := new(MockService)
	server := newTestServer(t, mockService, nil)

	mockService.On("CheckDBConnection", mock.Anything).Return(nil).Once()
	mockService.On("CheckDBConnection", mock.Anything).Return(errors.New("connection refused")).Once()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	mockService.AssertExpectations(t)
}

func TestHTTPServer_ReceiveData(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		err          error
		expectedCode int
		expectedBody string
	}{
		{"success", `{"message":"pH:7.1"}`, nil, http.StatusOK, `{"status":"success"}`},
		{"invalid json", `pH:7.1`, service.ErrInvalidPayload, http.StatusBadRequest, `{"status":"error","message":"Invalid JSON format"}`},
		{"storage failure", `{"message":"pH:7.1"}`, errors.New("save sample: disk full"), http.StatusInternalServerError, `{"status":"error","message":"Internal server error"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			server := newTestServer(t, mockService, nil)

			mockService.On("IngestMessage", mock.Anything, []byte(tt.body), service.SourceHTTP).
				Return(domain.Sample{}, tt.err)

			req := httptest.NewRequest("POST", "/lora", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			server.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedCode, w.Code)
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
			mockService.AssertExpectations(t)
		})
	}
}

func TestHTTPServer_ReceiveDataWrongMethod(t *testing.T) {
	mockService := new(MockService)
	server := newTestServer(t, mockService, nil)

	req := httptest.NewRequest("GET", "/lora", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	mockService.AssertNotCalled(t, "IngestMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestHTTPServer_GetLatest(t *testing.T) {
	mockService := new(MockService)
	server := newTestServer(t, mockService, nil)

	mockService.On("Latest").Return(domain.Sample{}).Once()
	mockService.On("Latest").Return(domain.Sample{Timestamp: "2025-05-01 10:00:00", PH: domain.Float(7.4)}).Once()

	req := httptest.NewRequest("GET", "/lora/latest", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	var response domain.Sample
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 7.4, *response.PH)
	assert.Equal(t, domain.Timestamp("2025-05-01 10:00:00"), response.Timestamp)
	mockService.AssertExpectations(t)
}

func TestHTTPServer_GetHistory(t *testing.T) {
	mockService := new(MockService)
	server := newTestServer(t, mockService, nil)

	expected := []domain.Sample{
		{ID: "a", Timestamp: "2025-05-01 10:00:00", Arsenic: domain.Float(3)},
		{ID: "b", Timestamp: "2025-05-01 10:00:05", Arsenic: domain.Float(60)},
	}
	mockService.On("History", mock.Anything, 0).Return(expected, nil)
	mockService.On("History", mock.Anything, 5).Return([]domain.Sample{}, nil)
	mockService.On("History", mock.Anything, 9).Return(nil, errors.New("connection lost"))

	tests := []struct {
		name         string
		target       string
		expectedCode int
		expectedLen  int
	}{
		{"default limit", "/lora/history", http.StatusOK, 2},
		{"explicit limit", "/lora/history?limit=5", http.StatusOK, 0},
		{"bad limit", "/lora/history?limit=abc", http.StatusBadRequest, -1},
		{"negative limit", "/lora/history?limit=-3", http.StatusBadRequest, -1},
		{"storage failure", "/lora/history?limit=9", http.StatusInternalServerError, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			w := httptest.NewRecorder()
			server.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedCode, w.Code)
			if tt.expectedLen < 0 {
				assert.Contains(t, w.Body.String(), `"status":"error"`)
				return
			}
			var response []domain.Sample
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Len(t, response, tt.expectedLen)
		})
	}
}

// limitRepository запоминает limit, с которым сервис обратился к хранилищу
type limitRepository struct {
	mu     sync.Mutex
	limits []int
}

func (r *limitRepository) SaveSample(ctx context.Context, sample *domain.Sample) error {
	return nil
}

func (r *limitRepository) RecentSamples(ctx context.Context, limit int) ([]domain.Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits = append(r.limits, limit)
	return make([]domain.Sample, 0), nil
}

func (r *limitRepository) HealthCheck(ctx context.Context) error {
	return nil
}

func TestHTTPServer_GetHistoryOversizedLimit(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	repo := &limitRepository{}
	cfg := &config.Config{HistoryLimit: 20, MaxHistoryLimit: 100}
	cfg.Stream.Mode = config.StreamModeSignal
	svc := service.NewTelemetryService(repo, broadcast.NewHub(1, logger), cfg, logger)
	server := newTestServer(t, svc, nil)

	tests := []struct {
		name         string
		target       string
		expectedCode int
	}{
		{"oversized limit is clamped", "/lora/history?limit=999999999999", http.StatusOK},
		{"limit at the bound", "/lora/history?limit=100", http.StatusOK},
		{"limit overflowing int", "/lora/history?limit=99999999999999999999999", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			w := httptest.NewRecorder()
			server.Handler().ServeHTTP(w, req)
			assert.Equal(t, tt.expectedCode, w.Code)
		})
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, []int{100, 100}, repo.limits)
}

func TestHTTPServer_TestData(t *testing.T) {
	mockService := new(MockService)
	server := newTestServer(t, mockService, nil)

	mockService.On("GenerateTestSample", mock.Anything).
		Return(domain.Sample{Timestamp: "2025-05-01 10:00:00", Barium: domain.Float(1500)}, nil)

	req := httptest.NewRequest("GET", "/test-data", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success","data":{"timestamp":"2025-05-01 10:00:00","Barium":1500}}`, w.Body.String())
}

func TestHTTPServer_CORS(t *testing.T) {
	mockService := new(MockService)
	server := newTestServer(t, mockService, nil)
	mockService.On("Latest").Return(domain.Sample{})

	req := httptest.NewRequest("GET", "/lora/latest", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHTTPServer_Stream(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	hub := broadcast.NewHub(4, logger)
	server := newTestServer(t, new(MockService), hub)

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	sub, err := client.New(ts.URL).Subscribe(context.Background())
	require.NoError(t, err)

	next := func() string {
		select {
		case msg := <-sub.Messages():
			return msg
		case <-time.After(2 * time.Second):
			t.Fatal("no stream message received")
			return ""
		}
	}

	// первым приходит сигнал, чтобы клиент сразу забрал данные
	assert.Equal(t, "update", next())
	assert.Equal(t, 1, hub.Len())

	// heartbeat-комментарии клиенту не видны
	time.Sleep(60 * time.Millisecond)

	hub.Notify(`{"timestamp":"T1","pH":7.1}`)
	assert.Equal(t, `{"timestamp":"T1","pH":7.1}`, next())

	hub.Notify("update")
	assert.Equal(t, "update", next())

	require.NoError(t, sub.Close())
	assert.Eventually(t, func() bool {
		return hub.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
