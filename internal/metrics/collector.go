package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aero_chat_relay"

type Collector struct {
	events        *prometheus.CounterVec
	sessions      prometheus.Gauge
	outboundDrops prometheus.Counter
	rejections    *prometheus.CounterVec
	httpRequests  *prometheus.HistogramVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Relay events by event name and outcome.",
		}, []string{"event", "outcome"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Live WebSocket sessions.",
		}),
		outboundDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_dropped_total",
			Help:      "Outbound frames dropped because a session queue was full or closed.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_rejections_total",
			Help:      "WebSocket connections refused or closed by the gateway.",
		}, []string{"reason"}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status_code"}),
	}

	reg.MustRegister(
		c.events,
		c.sessions,
		c.outboundDrops,
		c.rejections,
		c.httpRequests,
	)
	return c
}

func (c *Collector) Event(event, outcome string) {
	c.events.WithLabelValues(event, outcome).Inc()
}

func (c *Collector) SessionOpened() { c.sessions.Inc() }

func (c *Collector) SessionClosed() { c.sessions.Dec() }

func (c *Collector) OutboundDropped() { c.outboundDrops.Inc() }

func (c *Collector) ConnectionRejected(reason string) {
	c.rejections.WithLabelValues(reason).Inc()
}

func (c *Collector) HTTPRequest(route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler serves gatherer in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
