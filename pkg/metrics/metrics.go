package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/amoylab/wuhost/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry    *prometheus.Registry
	namespace   string
	httpReqCnt  *prometheus.CounterVec
	httpDur     *prometheus.HistogramVec
	httpInfl    *prometheus.GaugeVec
	events      *prometheus.CounterVec
	panics      prometheus.Counter
	sendDropped prometheus.Counter
	rejected    *prometheus.CounterVec
	live        prometheus.Gauge
	drainDur    prometheus.Histogram
	datagrams   *prometheus.CounterVec
	negotiated  *prometheus.CounterVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	// Register basic HTTP metrics
	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: cfg.Buckets}, []string{"method", "route", "status"})
	httpInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(httpReqCnt, httpDur, httpInfl)

	// Session host metrics
	events := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "events_dispatched_total"}, []string{"kind"})
	panics := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "handler_panics_total"})
	sendDropped := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "send_dropped_total"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "datagrams_rejected_total"}, []string{"reason"})
	live := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "sessions_live"})
	drainDur := prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: ns, Name: "drain_duration_seconds", Buckets: cfg.Buckets})
	datagrams := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "datagrams_total"}, []string{"direction"})
	negotiated := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "negotiations_total"}, []string{"status"})
	r.MustRegister(events, panics, sendDropped, rejected, live, drainDur, datagrams, negotiated)

	return &Metrics{
		registry:    r,
		namespace:   ns,
		httpReqCnt:  httpReqCnt,
		httpDur:     httpDur,
		httpInfl:    httpInfl,
		events:      events,
		panics:      panics,
		sendDropped: sendDropped,
		rejected:    rejected,
		live:        live,
		drainDur:    drainDur,
		datagrams:   datagrams,
		negotiated:  negotiated,
	}
}

func (m *Metrics) EventDispatched(kind string) {
	m.events.WithLabelValues(kind).Inc()
}

func (m *Metrics) HandlerPanic() {
	m.panics.Inc()
}

func (m *Metrics) SendDropped() {
	m.sendDropped.Inc()
}

func (m *Metrics) DatagramRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) SessionsLive(n int) {
	m.live.Set(float64(n))
}

func (m *Metrics) DrainDone(since time.Time) {
	m.drainDur.Observe(time.Since(since).Seconds())
}

// Datagram counts socket traffic; direction is "in" or "out".
func (m *Metrics) Datagram(direction string) {
	m.datagrams.WithLabelValues(direction).Inc()
}

func (m *Metrics) Negotiated(ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.negotiated.WithLabelValues(status).Inc()
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := httpStatus(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func httpStatus(code int) string { return strconv.Itoa(code) }
