package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Event(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.Event("send-message", OutcomeDelivered)
	c.Event("send-message", OutcomeDelivered)
	c.Event("call-initiate", OutcomeDropped)

	if got := testutil.ToFloat64(c.events.WithLabelValues("send-message", OutcomeDelivered)); got != 2 {
		t.Fatalf("send-message delivered=%v, want 2", got)
	}
	if got := testutil.ToFloat64(c.events.WithLabelValues("call-initiate", OutcomeDropped)); got != 1 {
		t.Fatalf("call-initiate dropped=%v, want 1", got)
	}
}

func TestCollector_SessionsGauge(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed()

	if got := testutil.ToFloat64(c.sessions); got != 1 {
		t.Fatalf("sessions=%v, want 1", got)
	}
}

func TestCollector_DropsAndRejections(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.OutboundDropped()
	c.ConnectionRejected(RejectRateLimited)
	c.ConnectionRejected(RejectRateLimited)

	if got := testutil.ToFloat64(c.outboundDrops); got != 1 {
		t.Fatalf("outbound drops=%v, want 1", got)
	}
	if got := testutil.ToFloat64(c.rejections.WithLabelValues(RejectRateLimited)); got != 2 {
		t.Fatalf("rate limited rejections=%v, want 2", got)
	}
}

func TestHandler_ExposesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.Event("call-end", OutcomeDelivered)
	c.HTTPRequest("/login", http.StatusOK, 20*time.Millisecond)

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`aero_chat_relay_events_total{event="call-end",outcome="delivered"} 1`,
		`aero_chat_relay_http_request_duration_seconds_count{route="/login",status_code="200"} 1`,
		"# TYPE aero_chat_relay_sessions gauge",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}
