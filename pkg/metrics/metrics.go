package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/amoylab/roomhub/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors of the chat server
type Metrics struct {
	registry *prometheus.Registry

	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec
	httpInfl   *prometheus.GaugeVec

	connections    prometheus.Gauge
	onlineUsers    prometheus.Gauge
	messagesTotal  *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	fanoutDur      prometheus.Histogram
	persistFailCnt prometheus.Counter
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry:   r,
		httpReqCnt: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"}),
		httpDur:    prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: cfg.Buckets}, []string{"method", "route", "status"}),
		httpInfl:   prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"}),

		connections:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "chat_connections"}),
		onlineUsers:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "chat_online_users"}),
		messagesTotal:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "chat_messages_total"}, []string{"kind"}),
		deliveries:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "chat_deliveries_total"}, []string{"result"}),
		fanoutDur:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: ns, Name: "chat_fanout_duration_seconds", Buckets: cfg.Buckets}),
		persistFailCnt: prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "chat_persistence_failures_total"}),
	}
	r.MustRegister(m.httpReqCnt, m.httpDur, m.httpInfl)
	r.MustRegister(m.connections, m.onlineUsers, m.messagesTotal, m.deliveries, m.fanoutDur, m.persistFailCnt)
	return m
}

func (m *Metrics) ConnectionOpened() { m.connections.Inc() }

func (m *Metrics) ConnectionClosed() { m.connections.Dec() }

func (m *Metrics) OnlineUsers(n int) { m.onlineUsers.Set(float64(n)) }

func (m *Metrics) MessageSent(kind string) { m.messagesTotal.WithLabelValues(kind).Inc() }

func (m *Metrics) FanoutDone(delivered, failed int, since time.Time) {
	m.deliveries.WithLabelValues("ok").Add(float64(delivered))
	m.deliveries.WithLabelValues("failed").Add(float64(failed))
	m.fanoutDur.Observe(time.Since(since).Seconds())
}

func (m *Metrics) PersistenceFailed() { m.persistFailCnt.Inc() }

// Middleware records request count, latency and in-flight requests per route
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
