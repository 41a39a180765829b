package prometheus

import (
	"net/http/httptest"
	"strings"
	"testing"

	authcore "github.com/kestrelsec/authcore"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderCountersAndHistogram(t *testing.T) {
	source := fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:   7,
				authcore.MetricReplayDetected: 2,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricAuthorizeLatency: {3, 1, 0, 0, 0, 0, 0, 1},
			},
		},
		dropped: 4,
	}

	out := NewExporterFromSource(source).Render()

	for _, want := range []string{
		"# TYPE authcore_login_success_total counter",
		"authcore_login_success_total 7",
		"authcore_replay_detected_total 2",
		"# TYPE authcore_authorize_latency_seconds histogram",
		`authcore_authorize_latency_seconds_bucket{le="0.005"} 3`,
		`authcore_authorize_latency_seconds_bucket{le="0.01"} 4`,
		`authcore_authorize_latency_seconds_bucket{le="+Inf"} 5`,
		"authcore_authorize_latency_seconds_count 5",
		"authcore_audit_dropped_total 4",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render output missing %q", want)
		}
	}
}

func TestRenderEmptyWhenNothingRecorded(t *testing.T) {
	out := NewExporterFromSource(fakeSource{}).Render()
	if out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	source := fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{authcore.MetricLogout: 1},
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	NewExporterFromSource(source).Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("Content-Type = %q", got)
	}
	if !strings.Contains(rec.Body.String(), "authcore_logout_total 1") {
		t.Fatalf("body missing counter: %s", rec.Body.String())
	}
}
