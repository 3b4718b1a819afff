package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/spatialq/aoiquery/internal/aoi"
	"github.com/spatialq/aoiquery/internal/core/health"
	"github.com/spatialq/aoiquery/internal/core/model"
	"github.com/spatialq/aoiquery/internal/core/router"
	"github.com/spatialq/aoiquery/internal/engine"
	"github.com/spatialq/aoiquery/internal/query"
	"github.com/spatialq/aoiquery/pkg/strategy"
)

type stubEngine struct{}

func (stubEngine) Run(context.Context, engine.Request) (*query.Result, error) {
	return &query.Result{
		Table:    "gis.parcels",
		Decision: strategy.Decision{Path: strategy.PathServer, Reason: strategy.ReasonProbeSupported},
		Features: geojson.NewFeatureCollection(),
	}, nil
}

type stubProber struct{}

func (stubProber) SupportsServerRelate(context.Context, model.TableRef) (model.Capability, error) {
	return model.Capability{}, nil
}

func testHandler(t *testing.T, ready []health.Check) http.Handler {
	t.Helper()
	api := router.NewAPI(zerolog.Nop(), stubEngine{}, aoi.NewStore(), &aoi.Loader{}, stubProber{}, nil)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# scrape"))
	})
	return NewHandler(zerolog.Nop(), Deps{API: api, Metrics: metrics, Ready: ready})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewHandler_OperationalEndpoints(t *testing.T) {
	h := testHandler(t, []health.Check{
		{Name: "always", Probe: func(context.Context) error { return nil }},
	})

	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	rec := get(t, h, "/readyz")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ready"`) {
		t.Errorf("readyz = %d body %s", rec.Code, rec.Body.String())
	}
	rec = get(t, h, "/metrics")
	if rec.Code != http.StatusOK || rec.Body.String() != "# scrape" {
		t.Errorf("metrics = %d body %q", rec.Code, rec.Body.String())
	}
}

func TestNewHandler_MountsAPI(t *testing.T) {
	h := testHandler(t, nil)

	// Store is empty, so the API answers 404; reaching it proves the mount.
	if rec := get(t, h, "/v1/aoi"); rec.Code != http.StatusNotFound {
		t.Errorf("GET /v1/aoi = %d, want 404", rec.Code)
	}
	if rec := get(t, h, "/v1/tables/gis.parcels/support"); rec.Code != http.StatusOK {
		t.Errorf("GET support = %d, want 200", rec.Code)
	}
}

func TestNewHandler_MiddlewareApplied(t *testing.T) {
	h := testHandler(t, nil)

	rec := get(t, h, "/healthz")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("logging middleware not applied: no request id")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("cors middleware not applied")
	}
}

func TestNewHandler_ReadinessFailureIs503(t *testing.T) {
	h := testHandler(t, []health.Check{
		{Name: "db", Probe: func(context.Context) error { return nil }},
		{Name: "consumer", Probe: func(context.Context) error { return errors.New("no partitions assigned") }},
	})

	rec := get(t, h, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d, want 503", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "no partitions assigned") {
		t.Errorf("body missing failing check detail: %s", body)
	}
}
