package metricswrap

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/spatialq/aoiquery/internal/core/observability"
	"github.com/spatialq/aoiquery/internal/hotness/expdecay"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read scrape body: %v", err)
	}
	return string(body)
}

func Test_HotTablesGauge_Updates(t *testing.T) {
	reg := prometheus.NewRegistry()
	observability.Init(reg)

	tr := expdecay.New(30 * time.Second)
	w := New(tr, 0, zerolog.Nop())

	w.Inc("gis.parcels")
	w.Inc("gis.roads")
	w.Reset("gis.parcels")

	body := scrape(t, reg)
	if !strings.Contains(body, "hot_keys_tracked 1") {
		t.Fatalf("expected hot_keys_tracked gauge == 1, got:\n%s", body)
	}
}

func Test_ThresholdLogging(t *testing.T) {
	var buf strings.Builder
	log := zerolog.New(&buf)

	tr := expdecay.New(time.Minute)
	w := New(tr, 1.5, log)

	w.Inc("gis.parcels")
	if strings.Contains(buf.String(), "hotness_threshold") {
		t.Fatal("threshold log fired below threshold")
	}

	w.Inc("gis.parcels")
	if !strings.Contains(buf.String(), "hotness_threshold") {
		t.Fatal("expected threshold log once the score crosses 1.5")
	}
	if !strings.Contains(buf.String(), "gis.parcels") {
		t.Fatalf("log should carry the table name: %s", buf.String())
	}
}
