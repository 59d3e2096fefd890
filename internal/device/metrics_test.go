package device

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsUpdatePublishesCurrentStateGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	l := &fakeLink{operational: true}
	h := newTestHandler(l)
	h.state = StateReady

	m.Update(h)

	var found bool
	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, fam := range metricFamilies {
		if fam.GetName() != "scrutiny_device_state" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if metricLabel(metric, "state") == "ready" && metric.GetGauge().GetValue() == 1.0 {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected scrutiny_device_state{state=\"ready\"} == 1")
	}
}

func metricLabel(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestMetricsUpdateAddsDeltasNotAbsolutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	l := &fakeLink{operational: true}
	h := newTestHandler(l)

	h.stats.recordRequest(false)
	m.Update(h)
	h.stats.recordRequest(false)
	h.stats.recordRequest(true)
	m.Update(h)

	metricFamilies, _ := reg.Gather()
	for _, fam := range metricFamilies {
		if fam.GetName() == "scrutiny_requests_total" {
			if got := fam.GetMetric()[0].GetCounter().GetValue(); got != 3 {
				t.Fatalf("expected 3 total requests, got %v", got)
			}
		}
		if fam.GetName() == "scrutiny_requests_failed_total" {
			if got := fam.GetMetric()[0].GetCounter().GetValue(); got != 1 {
				t.Fatalf("expected 1 failed request, got %v", got)
			}
		}
	}
}
