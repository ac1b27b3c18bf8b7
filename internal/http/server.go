package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/azzan02/Water-Quality-Dashboard/internal/broadcast"
	"github.com/azzan02/Water-Quality-Dashboard/internal/config"
	"github.com/azzan02/Water-Quality-Dashboard/internal/domain"
	"github.com/azzan02/Water-Quality-Dashboard/internal/metrics"
	"github.com/azzan02/Water-Quality-Dashboard/internal/service"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxUplinkBodySize = 1 << 20

type TelemetryService interface {
	IngestMessage(ctx context.Context, body []byte, source string) (domain.Sample, error)
	GenerateTestSample(ctx context.Context) (domain.Sample, error)
	Latest() domain.Sample
	History(ctx context.Context, limit int) ([]domain.Sample, error)
	CheckDBConnection(ctx context.Context) error
}

// StreamHub - реестр клиентов /stream
type StreamHub interface {
	Subscribe() *broadcast.Subscriber
	Unsubscribe(sub *broadcast.Subscriber)
}

type HTTPServer struct {
	server    *http.Server
	service   TelemetryService
	hub       StreamHub
	heartbeat time.Duration
	logger    *zap.Logger
}

func NewHTTPServer(addr string, service TelemetryService, hub StreamHub, stream config.StreamConfig, logger *zap.Logger) *HTTPServer {
	router := mux.NewRouter()

	s := &HTTPServer{
		service:   service,
		hub:       hub,
		heartbeat: stream.HeartbeatInterval,
		logger:    logger,
	}
	if s.heartbeat <= 0 {
		s.heartbeat = 15 * time.Second
	}

	// Middleware регистрации
	router.Use(s.metricsMiddleware)
	router.Use(s.loggingMiddleware)

	// Маршруты
	router.HandleFunc("/health", s.healthCheck).Methods("GET")
	router.HandleFunc("/lora", s.receiveData).Methods("POST")
	router.HandleFunc("/lora/latest", s.getLatest).Methods("GET")
	router.HandleFunc("/lora/history", s.getHistory).Methods("GET")
	router.HandleFunc("/test-data", s.addTestData).Methods("GET")
	router.HandleFunc("/stream", s.stream).Methods("GET")

	// Метрики Prometheus
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	handler := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(router)
	handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(logger)),
		handlers.PrintRecoveryStack(true),
	)(handler)

	// без WriteTimeout: /stream держит соединение открытым
	s.server = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler возвращает корневой обработчик со всеми middleware
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// responseWriter для отслеживания статус кода и размера
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// Flush нужен потоку /stream сквозь обёртки middleware
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// middleware для сбора метрик HTTP запросов с использованием шаблона пути
func (s *HTTPServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		method := r.Method
		status := strconv.Itoa(rw.statusCode)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}

		metrics.HTTPRequests.WithLabelValues(method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
		metrics.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(rw.size))
	})
}

// middleware для логирования HTTP запросов
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.String("ip", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
			zap.Int("status", rw.statusCode),
			zap.Int("response_size", rw.size),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *HTTPServer) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CheckDBConnection(r.Context()); err != nil {
		s.logger.Error("Health check failed", zap.Error(err))
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *HTTPServer) receiveData(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUplinkBodySize))
	if err != nil {
		s.logger.Warn("Failed to read uplink body", zap.Error(err))
		s.writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if _, err := s.service.IngestMessage(r.Context(), body, service.SourceHTTP); err != nil {
		if errors.Is(err, service.ErrInvalidPayload) {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON format")
			return
		}
		s.logger.Error("Failed to process uplink", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *HTTPServer) getLatest(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Latest())
}

func (s *HTTPServer) getHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.logger.Warn("invalid history limit", zap.String("received_limit", raw))
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	data, err := s.service.History(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to get history", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.logger.Debug("Returning history records", zap.Int("records", len(data)))
	s.writeJSON(w, http.StatusOK, data)
}

func (s *HTTPServer) addTestData(w http.ResponseWriter, r *http.Request) {
	sample, err := s.service.GenerateTestSample(r.Context())
	if err != nil {
		s.logger.Error("Failed to generate test data", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": sample})
}

// stream отдаёт text/event-stream: сразу сигнал update, затем уведомления хаба
// и комментарий-heartbeat каждые heartbeat.
func (s *HTTPServer) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sub := s.hub.Subscribe()
	if sub == nil {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	defer s.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(w, "data: update\n\n"); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("Stream client disconnected", zap.String("client_id", sub.ID.String()))
			return

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				s.logger.Debug("Failed to write stream message", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"status": "error", "message": message})
}
