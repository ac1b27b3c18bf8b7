package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_response_size_bytes",
		Help:    "HTTP response size in bytes",
		Buckets: prometheus.ExponentialBuckets(100, 10, 5),
	}, []string{"method", "path"})

	// DB метрики
	DBQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Database query duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	DBActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_active_connections",
		Help: "Number of active database connections",
	})

	DBIdleConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_idle_connections",
		Help: "Number of idle database connections",
	})

	// приём показаний
	SamplesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_samples_ingested_total",
		Help: "Total number of sensor samples accepted, by source",
	}, []string{"source"})

	UplinksRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_uplinks_rejected_total",
		Help: "Total number of uplink payloads rejected as malformed",
	})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_stream_clients",
		Help: "Number of connected event-stream clients",
	})

	StreamMessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_stream_messages_dropped_total",
		Help: "Stream notifications dropped because a client buffer was full",
	})

	// метрики для агрегатора аплинков
	AggregatorUplinksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_uplinks_received_total",
		Help: "Total number of uplinks received by the aggregator",
	})

	AggregatorUplinksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_uplinks_processed_total",
		Help: "Total number of uplinks successfully processed",
	})

	AggregatorUplinksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_uplinks_failed_total",
		Help: "Total number of uplinks failed during processing",
	})

	AggregatorUplinkProcessingTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aggregator_uplink_processing_seconds",
		Help:    "Histogram of uplink processing durations",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // от 1ms до ~16 секунд
	})

	AggregatorActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aggregator_active_workers",
		Help: "Current number of active workers processing uplinks",
	})

	MQTTUplinksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_uplinks_dropped_total",
		Help: "Uplinks dropped because the ingest queue was full",
	})

	// клиент живых обновлений
	TransportState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transport_state",
		Help: "Current live-update transport state (0 connecting, 1 streaming, 2 reconnecting, 3 polling)",
	})

	TransportReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transport_reconnects_total",
		Help: "Scheduled stream reconnect attempts",
	})

	TransportPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transport_polls_total",
		Help: "Polling fetches by result",
	}, []string{"result"})

	TransportSamplesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transport_samples_delivered_total",
		Help: "Samples delivered to the dashboard, by source",
	}, []string{"source"})

	TransportSamplesDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transport_samples_duplicate_total",
		Help: "Samples discarded because their timestamp was already buffered",
	})
)
