package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	prometheus_client "github.com/prometheus/client_model/go"

	goBioKey "github.com/MrEthical07/goBioKey"
)

type fakeSource struct {
	snapshot goBioKey.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goBioKey.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func gather(t *testing.T, src fakeSource) []*prometheus_client.MetricFamily {
	t.Helper()
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewExporterFromSource(src)); err != nil {
		t.Fatalf("register: %v", err)
	}
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	return families
}

func findFamily(families []*prometheus_client.MetricFamily, name string) *prometheus_client.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestCollectEmptyWhenMetricsDisabled(t *testing.T) {
	families := gather(t, fakeSource{
		snapshot: goBioKey.MetricsSnapshot{
			Counters:   map[goBioKey.MetricID]uint64{},
			Histograms: map[goBioKey.MetricID][]uint64{},
		},
	})
	if len(families) != 0 {
		t.Fatalf("expected no metrics, got %d families", len(families))
	}
}

func TestCollectCountersAndHistogram(t *testing.T) {
	families := gather(t, fakeSource{
		snapshot: goBioKey.MetricsSnapshot{
			Counters: map[goBioKey.MetricID]uint64{
				goBioKey.MetricSecretReleased: 7,
			},
			Histograms: map[goBioKey.MetricID][]uint64{
				goBioKey.MetricSessionLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	released := findFamily(families, "biokey_secret_released_total")
	if released == nil || released.Metric[0].GetCounter().GetValue() != 7 {
		t.Fatalf("unexpected released counter %v", released)
	}

	latency := findFamily(families, "biokey_session_latency_seconds")
	if latency == nil {
		t.Fatal("latency histogram missing")
	}
	h := latency.Metric[0].GetHistogram()
	if h.GetSampleCount() != 36 {
		t.Fatalf("expected 36 samples, got %d", h.GetSampleCount())
	}
	first := h.GetBucket()[0]
	if first.GetUpperBound() != 0.25 || first.GetCumulativeCount() != 1 {
		t.Fatalf("unexpected first bucket %v", first)
	}

	dropped := findFamily(families, "biokey_audit_dropped_total")
	if dropped == nil || dropped.Metric[0].GetCounter().GetValue() != 2 {
		t.Fatalf("unexpected dropped counter %v", dropped)
	}
}

func TestCollectSkipsDisabledHistogram(t *testing.T) {
	families := gather(t, fakeSource{
		snapshot: goBioKey.MetricsSnapshot{
			Counters:   map[goBioKey.MetricID]uint64{goBioKey.MetricSessionStarted: 1},
			Histograms: map[goBioKey.MetricID][]uint64{},
		},
	})
	if findFamily(families, "biokey_session_latency_seconds") != nil {
		t.Fatal("histogram must be absent when latency is disabled")
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goBioKey.MetricsSnapshot{
			Counters:   map[goBioKey.MetricID]uint64{goBioKey.MetricSessionSuccess: 1},
			Histograms: map[goBioKey.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected text content type, got %q", got)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "biokey_session_success_total 1") {
		t.Fatalf("expected success counter, got:\n%s", body)
	}
}
