package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister(t *testing.T) {
	registry := prometheus.NewRegistry()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustRegister() panicked: %v", r)
		}
	}()
	MustRegister(registry)

	// Record some values so metrics appear in Gather()
	RecordEventPublished("orders", "order.created")
	RecordDelivery("delivered", 100*time.Millisecond)
	RecordRetry("timeout")
	RecordDLQ("http_5xx")
	RecordReplay()
	UpdateBacklog(5)

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("Registry.Gather() error: %v", err)
	}

	expectedMetrics := []string{
		"relaybus_events_published_total",
		"relaybus_deliveries_total",
		"relaybus_retries_total",
		"relaybus_dlq_total",
		"relaybus_replays_total",
		"relaybus_callback_latency_seconds",
		"relaybus_dispatcher_backlog",
	}

	registeredMetrics := make(map[string]bool)
	for _, mf := range metricFamilies {
		registeredMetrics[mf.GetName()] = true
	}
	for _, expected := range expectedMetrics {
		if !registeredMetrics[expected] {
			t.Errorf("expected metric %s not found in registry", expected)
		}
	}
}

func TestRecordEventPublished(t *testing.T) {
	EventsPublishedTotal.Reset()

	tests := []struct {
		name          string
		sourceService string
		eventType     string
		calls         int
	}{
		{name: "single event", sourceService: "orders", eventType: "order.created", calls: 1},
		{name: "multiple events", sourceService: "billing", eventType: "invoice.paid", calls: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < tt.calls; i++ {
				RecordEventPublished(tt.sourceService, tt.eventType)
			}
			got := testutil.ToFloat64(EventsPublishedTotal.WithLabelValues(tt.sourceService, tt.eventType))
			if got != float64(tt.calls) {
				t.Errorf("EventsPublishedTotal = %v, want %v", got, tt.calls)
			}
		})
	}
}

func TestRecordDelivery(t *testing.T) {
	DeliveriesTotal.Reset()
	CallbackLatency.Reset()

	RecordDelivery("delivered", 50*time.Millisecond)
	RecordDelivery("delivered", 75*time.Millisecond)
	RecordDelivery("failed", 2*time.Second)

	if got := testutil.ToFloat64(DeliveriesTotal.WithLabelValues("delivered")); got != 2 {
		t.Errorf("DeliveriesTotal[delivered] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(DeliveriesTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("DeliveriesTotal[failed] = %v, want 1", got)
	}
}

func TestRecordRetryAndDLQ(t *testing.T) {
	RetriesTotal.Reset()
	DLQTotal.Reset()

	RecordRetry("timeout")
	RecordRetry("timeout")
	RecordRetry("http_5xx")
	RecordDLQ("http_5xx")

	if got := testutil.ToFloat64(RetriesTotal.WithLabelValues("timeout")); got != 2 {
		t.Errorf("RetriesTotal[timeout] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(RetriesTotal.WithLabelValues("http_5xx")); got != 1 {
		t.Errorf("RetriesTotal[http_5xx] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(DLQTotal.WithLabelValues("http_5xx")); got != 1 {
		t.Errorf("DLQTotal[http_5xx] = %v, want 1", got)
	}
}

func TestUpdateBacklog(t *testing.T) {
	UpdateBacklog(12)
	if got := testutil.ToFloat64(DispatcherBacklog); got != 12 {
		t.Errorf("DispatcherBacklog = %v, want 12", got)
	}
	UpdateBacklog(0)
	if got := testutil.ToFloat64(DispatcherBacklog); got != 0 {
		t.Errorf("DispatcherBacklog = %v, want 0", got)
	}
}
