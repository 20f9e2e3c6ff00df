package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.OrderPlaced("buy")
	m.OrderPlaced("buy")
	m.OrderPlaced("sell")
	m.Rejected("cancel", "paused")
	m.Fill(2)
	m.Depth(3, 1)
	m.Paused(true)

	if got := testutil.ToFloat64(m.orders.WithLabelValues("buy")); got != 2 {
		t.Errorf("buy orders = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.fillQty); got != 2 {
		t.Errorf("fill qty = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.depth.WithLabelValues("buy")); got != 3 {
		t.Errorf("buy depth = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.paused); got != 1 {
		t.Errorf("paused = %v, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.OrderPlaced("buy")
	m.Fill(1)
	m.Paused(false)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Cancelled()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "stoxbook_orders_cancelled_total 1") {
		t.Errorf("metrics output missing cancel counter:\n%s", rec.Body.String())
	}
}
