package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionOpened()
	m.EventDelivered("new-message")
	m.BotRun("ok", time.Second)
}

func TestMetricsCountEvents(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.EventDelivered("new-message")
	m.EventDelivered("new-message")
	m.EventDropped("typing-start")

	if got := testutil.ToFloat64(m.EventsPublished.WithLabelValues("new-message")); got != 2 {
		t.Fatalf("expected 2 new-message events, got %v", got)
	}
	if got := testutil.ToFloat64(m.EventsDropped.WithLabelValues("typing-start")); got != 1 {
		t.Fatalf("expected 1 dropped event, got %v", got)
	}
}
