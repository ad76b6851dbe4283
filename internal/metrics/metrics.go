package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket connections",
	})
	MessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of chat messages persisted",
	})
	RoomsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_rooms_created_total",
		Help: "Total number of rooms created",
	})
	RoomsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_rooms_deleted_total",
		Help: "Total number of rooms deleted by their creator",
	})
	RoomJoins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_room_joins_total",
		Help: "Invite code joins by outcome",
	}, []string{"result"})
	InviteCodeCollisions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_invite_code_collisions_total",
		Help: "Generated invite codes rejected by the uniqueness constraint",
	})
	PushSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_push_sent_total",
		Help: "Push notifications by delivery result",
	}, []string{"result"})
	PushInvalidTokens = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_push_invalid_tokens_total",
		Help: "Push tokens removed after the provider rejected them",
	})
	PushDeduped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_push_deduped_total",
		Help: "Message events skipped because they were already dispatched",
	})
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_rate_limited_total",
		Help: "Requests rejected by the token-bucket limiter",
	}, []string{"path"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, MessagesTotal,
		RoomsCreated, RoomsDeleted, RoomJoins, InviteCodeCollisions,
		PushSent, PushInvalidTokens, PushDeduped, RateLimited,
		HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
