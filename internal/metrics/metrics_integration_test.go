package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spatialq/aoiquery/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for _, ln := range strings.Split(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") && !strings.HasPrefix(ln, metric+" ") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_ServiceInstruments_CustomRegistry_Smoke(t *testing.T) {
	p := Init()
	observability.Init(p.Registerer())
	observability.SetEngine("cached")
	t.Cleanup(func() { observability.SetEngine("direct") })
	observability.ExposeBuildInfo("test")

	observability.ObserveQuery("gis.parcels", "server", "ok", 12*time.Millisecond)
	observability.ObserveQuery("gis.parcels", "client", "data_quality", 200*time.Millisecond)
	observability.AddMalformedSkipped("gis.parcels", 2)

	observability.ObserveProbe("supported", false, 3*time.Millisecond)
	observability.IncCacheHit()
	observability.IncCacheMiss()
	observability.ObserveCacheOp("get", nil, 2*time.Millisecond)

	observability.SetAOIParts(3)
	observability.SetAOICoverCells(117)
	observability.SetHotKeysTracked(42)
	observability.ObserveInvalidation("data")
	observability.IncConsumerError()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()

	mustContain := []string{
		`intersect_query_duration_seconds_bucket`,
		`cache_op_duration_seconds_count`,
		`malformed_geometries_skipped_total{table="gis.parcels"} 2`,
		`cache_results_total{outcome="hit"} 1`,
		`cache_results_total{outcome="miss"} 1`,
		`aoi_parts 3`,
		`aoi_cover_cells 117`,
		`hot_keys_tracked 42`,
		`invalidations_total{op="data"} 1`,
		`invalidation_consumer_errors_total 1`,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "intersect_queries_total",
		`engine="cached"`, `path="server"`, `outcome="ok"`, `table="gis.parcels"`)
	assertHasMetricLine(t, body, "intersect_queries_total",
		`engine="cached"`, `path="client"`, `outcome="data_quality"`)
	assertHasMetricLine(t, body, "capability_probes_total",
		`cached="false"`, `outcome="supported"`)
	assertHasMetricLine(t, body, "app_build_info", `version="test"`)
}
