package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("metrics scrape: %v", err)
	}
	t.Cleanup(func() {
		if cerr := resp.Body.Close(); cerr != nil {
			t.Fatalf("close body: %v", cerr)
		}
	})
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	return string(b)
}

func TestQueryMetrics_LabelsAndIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)
	SetEngine("cached")

	ObserveQuery("gis.parcels", "server", "ok", 12*time.Millisecond)
	ObserveQuery("gis.parcels", "client", "data_quality", 250*time.Millisecond)
	ObserveQuery("gis.parcels", "client", "data_quality", 250*time.Millisecond)
	AddMalformedSkipped("gis.parcels", 3)

	out := scrape(t, reg)

	exp1 := `intersect_queries_total{engine="cached",outcome="ok",path="server",table="gis.parcels"} 1`
	exp2 := `intersect_queries_total{engine="cached",outcome="data_quality",path="client",table="gis.parcels"} 2`
	exp3 := `malformed_geometries_skipped_total{table="gis.parcels"} 3`
	for _, exp := range []string{exp1, exp2, exp3} {
		if !strings.Contains(out, exp) {
			t.Errorf("expected %q in metrics; got:\n%s", exp, out)
		}
	}
	if !strings.Contains(out, "intersect_query_duration_seconds_bucket") {
		t.Error("missing query duration histogram buckets")
	}
}

func TestProbeAndCacheMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)

	ObserveProbe("supported", false, time.Millisecond)
	ObserveProbe("supported", true, 0)
	IncCacheHit()
	IncCacheMiss()
	IncCacheMiss()
	ObserveCacheOp("get", nil, time.Millisecond)
	ObserveCacheOp("set", errors.New("boom"), time.Millisecond)

	out := scrape(t, reg)

	for _, exp := range []string{
		`capability_probes_total{cached="false",outcome="supported"} 1`,
		`capability_probes_total{cached="true",outcome="supported"} 1`,
		`cache_results_total{outcome="hit"} 1`,
		`cache_results_total{outcome="miss"} 2`,
	} {
		if !strings.Contains(out, exp) {
			t.Errorf("expected %q in metrics; got:\n%s", exp, out)
		}
	}
	if !strings.Contains(out, `cache_op_duration_seconds_bucket{op="set",outcome="error"`) {
		t.Error("missing cache op error histogram")
	}
}

func TestGaugesAndBuildInfo(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)

	SetAOIParts(4)
	SetAOICoverCells(120)
	SetHotKeysTracked(7)
	ObserveInvalidation("schema")
	SetInvalidationLag(1.5)
	ExposeBuildInfo("")

	out := scrape(t, reg)

	for _, exp := range []string{
		`aoi_parts 4`,
		`aoi_cover_cells 120`,
		`hot_keys_tracked 7`,
		`invalidations_total{op="schema"} 1`,
		`invalidation_lag_seconds 1.5`,
		`app_build_info{version="dev"} 1`,
	} {
		if !strings.Contains(out, exp) {
			t.Errorf("expected %q in metrics; got:\n%s", exp, out)
		}
	}
}
