package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/keithlinneman/linnemanlabs-demos/internal/assets"
	"github.com/keithlinneman/linnemanlabs-demos/internal/version"
)

var _ assets.Observer = (*ServerMetrics)(nil)

func family(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	fams, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range fams {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func mustFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	f := family(t, reg, name)
	if f == nil || len(f.GetMetric()) == 0 {
		t.Fatalf("metric %s has no samples", name)
	}
	return f
}

func labelsOf(m *dto.Metric) map[string]string {
	out := map[string]string{}
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func scrape(t *testing.T, m *ServerMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	b, _ := io.ReadAll(rec.Body)
	return string(b)
}

func TestNew_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncHttpPanic()
	if family(t, b.reg, "http_panic_total").GetMetric()[0].GetCounter().GetValue() != 0 {
		t.Fatal("registries are shared")
	}
}

func TestHandler_Scrape(t *testing.T) {
	m := New()
	m.IncHttpPanic()
	m.IncRateLimitDenied()
	m.IncRateLimitOffender()
	m.SetProfilingActive(true)
	m.SetCatalogProjects(3)

	body := scrape(t, m)
	for _, want := range []string{
		"go_goroutines",
		"process_",
		"http_panic_total 1",
		"http_requests_rate_limited_total 1",
		"http_rate_limit_offenders_total 1",
		"profiling_active 1",
		"demos_catalog_projects 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}

	m.SetProfilingActive(false)
	if !strings.Contains(scrape(t, m), "profiling_active 0") {
		t.Error("profiling_active did not reset")
	}
}

func TestSetBuildInfoFromVersion(t *testing.T) {
	dirty := true
	tests := []struct {
		name      string
		vi        version.Info
		wantDirty string
	}{
		{"dirty", version.Info{Version: "1.4.0", Commit: "9f1c2ab", BuildID: "b-77", GoVersion: "go1.24.0", VCSDirty: &dirty}, "true"},
		{"unknown", version.Info{Version: "dev"}, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			m.SetBuildInfoFromVersion("linnemanlabs-demos", "server", tt.vi)
			f := mustFamily(t, m.reg, "build_info")
			got := labelsOf(f.GetMetric()[0])
			if f.GetMetric()[0].GetGauge().GetValue() != 1 {
				t.Fatal("build_info should be 1")
			}
			if got["app"] != "linnemanlabs-demos" || got["component"] != "server" || got["version"] != tt.vi.Version {
				t.Fatalf("labels = %v", got)
			}
			if got["vcs_dirty"] != tt.wantDirty {
				t.Fatalf("vcs_dirty = %q, want %q", got["vcs_dirty"], tt.wantDirty)
			}
		})
	}
}

func TestObserveResolve(t *testing.T) {
	m := New()
	m.ObserveResolve(assets.Found, false)
	m.ObserveResolve(assets.Found, true)
	m.ObserveResolve(assets.Found, true)
	m.ObserveResolve(assets.NotFoundProject, false)

	got := map[string]float64{}
	for _, s := range mustFamily(t, m.reg, "demos_asset_resolve_total").GetMetric() {
		l := labelsOf(s)
		got[l["outcome"]+"/"+l["spa_fallback"]] = s.GetCounter().GetValue()
	}
	if len(got) != 3 || got["found/true"] != 2 || got["found/false"] != 1 || got["not_found_project/false"] != 1 {
		t.Fatalf("resolve counts = %v", got)
	}
}

func TestObserveStore(t *testing.T) {
	m := New()
	m.ObserveStore("metadata_get", time.Millisecond, nil)
	if family(t, m.reg, "demos_store_errors_total") != nil {
		t.Fatal("error counter present without errors")
	}

	m.ObserveStore("object_get", 10*time.Millisecond, errors.New("timeout"))
	if n := len(mustFamily(t, m.reg, "demos_store_request_duration_seconds").GetMetric()); n != 2 {
		t.Fatalf("duration series = %d, want 2", n)
	}
	errs := mustFamily(t, m.reg, "demos_store_errors_total").GetMetric()
	if len(errs) != 1 || labelsOf(errs[0])["op"] != "object_get" {
		t.Fatalf("errors = %v", errs)
	}
}

func TestSetStoreBackend_Replaces(t *testing.T) {
	m := New()
	m.SetStoreBackend("memory", "memory")
	m.SetStoreBackend("s3", "redis")

	series := mustFamily(t, m.reg, "demos_store_backend_info").GetMetric()
	if len(series) != 1 {
		t.Fatalf("series = %d, want 1", len(series))
	}
	if l := labelsOf(series[0]); l["objects"] != "s3" || l["metadata"] != "redis" {
		t.Fatalf("labels = %v", l)
	}
}

func TestIncAnalyticsEvent(t *testing.T) {
	m := New()
	m.IncAnalyticsEvent("sent")
	m.IncAnalyticsEvent("sent")
	m.IncAnalyticsEvent("dropped_queue_full")

	got := map[string]float64{}
	for _, s := range mustFamily(t, m.reg, "demos_analytics_events_total").GetMetric() {
		got[labelsOf(s)["result"]] = s.GetCounter().GetValue()
	}
	if got["sent"] != 2 || got["dropped_queue_full"] != 1 {
		t.Fatalf("events = %v", got)
	}
}
