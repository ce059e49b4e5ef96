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
			Name: "social_http_requests_total",
			Help: "Total number of HTTP requests processed by the social service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "social_http_request_duration_seconds",
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
	wsActiveSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "social_ws_active_sessions",
			Help: "Number of live websocket sessions.",
		},
		[]string{"channel"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "social_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"channel", "event"},
	)
	onlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "social_online_users",
			Help: "Number of users with at least one live session.",
		},
	)
	fanoutDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "social_fanout_deliveries_total",
			Help: "Frames queued to sessions by room broadcasts, by event.",
		},
		[]string{"event"},
	)
	fanoutDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "social_fanout_drops_total",
			Help: "Frames dropped because a session outbox was full or closed.",
		},
		[]string{"event"},
	)
	engagementTogglesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "social_engagement_toggles_total",
			Help: "Engagement toggles by target type and resulting action.",
		},
		[]string{"target_type", "action"},
	)
	engagementConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "social_engagement_conflicts_total",
			Help: "Toggle attempts that lost a race and were retried.",
		},
	)
	reconcileCorrectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "social_reconcile_corrections_total",
			Help: "Denormalized counters corrected by the reconciliation pass.",
		},
		[]string{"target_type"},
	)
	feedLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "social_feed_lookups_total",
			Help: "Feed cache lookups by result (hit or miss).",
		},
		[]string{"result"},
	)
	feedInvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "social_feed_invalidations_total",
			Help: "Feed entries removed by targeted invalidation sweeps.",
		},
		[]string{"reason"},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "social_messages_total",
			Help: "Message lifecycle transitions.",
		},
		[]string{"transition"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "social_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveSessions,
		wsEventsTotal,
		onlineUsers,
		fanoutDeliveriesTotal,
		fanoutDropsTotal,
		engagementTogglesTotal,
		engagementConflictsTotal,
		reconcileCorrectionsTotal,
		feedLookupsTotal,
		feedInvalidationsTotal,
		messagesTotal,
		amqpPublishErrorsTotal,
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

func IncWSActive(channel string) {
	wsActiveSessions.WithLabelValues(channel).Inc()
}

func DecWSActive(channel string) {
	wsActiveSessions.WithLabelValues(channel).Dec()
}

func IncWSEvent(channel, event string) {
	wsEventsTotal.WithLabelValues(channel, event).Inc()
}

func SetOnlineUsers(n int) {
	onlineUsers.Set(float64(n))
}

func AddFanoutDeliveries(event string, n int) {
	if n > 0 {
		fanoutDeliveriesTotal.WithLabelValues(event).Add(float64(n))
	}
}

func IncFanoutDrop(event string) {
	fanoutDropsTotal.WithLabelValues(event).Inc()
}

func IncEngagementToggle(targetType, action string) {
	engagementTogglesTotal.WithLabelValues(targetType, action).Inc()
}

func IncEngagementConflict() {
	engagementConflictsTotal.Inc()
}

func IncReconcileCorrection(targetType string) {
	reconcileCorrectionsTotal.WithLabelValues(targetType).Inc()
}

func IncFeedLookup(result string) {
	feedLookupsTotal.WithLabelValues(result).Inc()
}

func AddFeedInvalidations(reason string, n int) {
	if n > 0 {
		feedInvalidationsTotal.WithLabelValues(reason).Add(float64(n))
	}
}

func IncMessageTransition(transition string) {
	messagesTotal.WithLabelValues(transition).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
