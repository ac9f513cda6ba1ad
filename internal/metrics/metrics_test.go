package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}

	if m.Registry() == nil {
		t.Error("Registry() returned nil")
	}

	// Check that all metrics are registered
	if m.PlansComputedTotal == nil {
		t.Error("PlansComputedTotal is nil")
	}
	if m.PlanWarningsTotal == nil {
		t.Error("PlanWarningsTotal is nil")
	}
	if m.ContentValidationsTotal == nil {
		t.Error("ContentValidationsTotal is nil")
	}
	if m.ContentScore == nil {
		t.Error("ContentScore is nil")
	}
	if m.SegmentsResolvedTotal == nil {
		t.Error("SegmentsResolvedTotal is nil")
	}
	if m.MessagesSentTotal == nil {
		t.Error("MessagesSentTotal is nil")
	}
	if m.MessagesFailedTotal == nil {
		t.Error("MessagesFailedTotal is nil")
	}
	if m.JobsPending == nil {
		t.Error("JobsPending is nil")
	}
	if m.APIRequestsTotal == nil {
		t.Error("APIRequestsTotal is nil")
	}
	if m.APIRequestDurationSeconds == nil {
		t.Error("APIRequestDurationSeconds is nil")
	}
}

func TestGlobalMetrics(t *testing.T) {
	// Initially global should be nil
	if Global() != nil {
		t.Error("Global() should be nil before SetGlobal")
	}

	m := New()
	SetGlobal(m)

	if Global() != m {
		t.Error("Global() did not return the set metrics")
	}

	// Cleanup
	SetGlobal(nil)
}

func TestObservePlan(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	ObservePlan("whatsapp", 0)
	ObservePlan("whatsapp", 2)
	ObservePlan("telegram", 1)

	counter, err := m.PlansComputedTotal.GetMetricWithLabelValues("whatsapp")
	if err != nil {
		t.Fatalf("Failed to get counter: %v", err)
	}

	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Counter.GetValue() != 2 {
		t.Errorf("Expected plans computed 2, got %f", metric.Counter.GetValue())
	}

	warnings, err := m.PlanWarningsTotal.GetMetricWithLabelValues("whatsapp")
	if err != nil {
		t.Fatalf("Failed to get counter: %v", err)
	}

	var warnMetric dto.Metric
	if err := warnings.Write(&warnMetric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if warnMetric.Counter.GetValue() != 2 {
		t.Errorf("Expected plan warnings 2, got %f", warnMetric.Counter.GetValue())
	}
}

func TestObserveContentScore(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	ObserveContentScore("whatsapp_web", 80)
	ObserveContentScore("whatsapp_web", 100)

	counter, err := m.ContentValidationsTotal.GetMetricWithLabelValues("whatsapp_web")
	if err != nil {
		t.Fatalf("Failed to get counter: %v", err)
	}

	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Counter.GetValue() != 2 {
		t.Errorf("Expected validations 2, got %f", metric.Counter.GetValue())
	}
}

func TestIncMessagesSent(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncMessagesSent("whatsapp")
	IncMessagesSent("whatsapp")
	IncMessagesSent("sms")

	// Check counter value
	counter, err := m.MessagesSentTotal.GetMetricWithLabelValues("whatsapp")
	if err != nil {
		t.Fatalf("Failed to get counter: %v", err)
	}

	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Counter.GetValue() != 2 {
		t.Errorf("Expected counter value 2, got %f", metric.Counter.GetValue())
	}
}

func TestIncMessagesFailed(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncMessagesFailed("whatsapp", "timeout")
	IncMessagesFailed("whatsapp", "rejected")
	IncMessagesFailed("whatsapp", "timeout")

	counter, err := m.MessagesFailedTotal.GetMetricWithLabelValues("whatsapp", "timeout")
	if err != nil {
		t.Fatalf("Failed to get counter: %v", err)
	}

	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Counter.GetValue() != 2 {
		t.Errorf("Expected counter value 2, got %f", metric.Counter.GetValue())
	}
}

func TestIncSegmentsResolved(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncSegmentsResolved()
	IncSegmentsResolved()

	var metric dto.Metric
	if err := m.SegmentsResolvedTotal.(prometheus.Counter).Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Counter.GetValue() != 2 {
		t.Errorf("Expected segments resolved 2, got %f", metric.Counter.GetValue())
	}
}

func TestIncRateLimitExceeded(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncRateLimitExceeded("channel")
	IncRateLimitExceeded("account")
	IncRateLimitExceeded("channel")

	counter, err := m.RateLimitExceededTotal.GetMetricWithLabelValues("channel")
	if err != nil {
		t.Fatalf("Failed to get counter: %v", err)
	}

	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Counter.GetValue() != 2 {
		t.Errorf("Expected rate limit exceeded 2, got %f", metric.Counter.GetValue())
	}
}

func TestGlobalNilSafe(t *testing.T) {
	SetGlobal(nil)

	// These should not panic when global is nil
	ObservePlan("whatsapp", 1)
	ObserveContentScore("whatsapp", 90)
	IncSegmentsResolved()
	IncSchedulesEstimated()
	IncMessagesSent("whatsapp")
	IncMessagesFailed("whatsapp", "timeout")
	IncRateLimitExceeded("channel")
	IncAPIErrors("server_error")
}
