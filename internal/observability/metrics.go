package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat sync service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatsync_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	syncMergesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_merges_total",
			Help: "Records merged into session message lists, by source.",
		},
		[]string{"source"},
	)
	syncDuplicatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_duplicates_suppressed_total",
			Help: "Redundant deliveries that did not change a message list.",
		},
	)
	syncFetchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_fetch_failures_total",
			Help: "Failed snapshot and poll fetches.",
		},
		[]string{"source"},
	)
	syncWriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_write_failures_total",
			Help: "Rolled back optimistic writes, by operation.",
		},
		[]string{"op"},
	)
	syncDegradedSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_degraded_sessions",
			Help: "Sessions running poll-only after losing their change subscription.",
		},
	)
	syncActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_active_room_sessions",
			Help: "Open room sessions.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		syncMergesTotal,
		syncDuplicatesTotal,
		syncFetchFailuresTotal,
		syncWriteFailuresTotal,
		syncDegradedSessions,
		syncActiveSessions,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

// AddMerged counts records merged from source (snapshot, poll, notify, local).
func AddMerged(source string, n int) {
	if n > 0 {
		syncMergesTotal.WithLabelValues(source).Add(float64(n))
	}
}

func AddDuplicates(n int) {
	if n > 0 {
		syncDuplicatesTotal.Add(float64(n))
	}
}

func IncFetchFailure(source string) {
	syncFetchFailuresTotal.WithLabelValues(source).Inc()
}

func IncWriteFailure(op string) {
	syncWriteFailuresTotal.WithLabelValues(op).Inc()
}

func SetDegraded(degraded bool) {
	if degraded {
		syncDegradedSessions.Inc()
		return
	}
	syncDegradedSessions.Dec()
}

func IncSessions() { syncActiveSessions.Inc() }

func DecSessions() { syncActiveSessions.Dec() }
