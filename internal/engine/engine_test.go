package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/spatialq/aoiquery/internal/aoi"
	"github.com/spatialq/aoiquery/internal/cache"
	"github.com/spatialq/aoiquery/internal/cache/redisstore"
	"github.com/spatialq/aoiquery/internal/core/config"
	"github.com/spatialq/aoiquery/internal/core/model"
	"github.com/spatialq/aoiquery/internal/hotness/expdecay"
	h3mapper "github.com/spatialq/aoiquery/internal/mapper/h3"
	"github.com/spatialq/aoiquery/internal/query"
	"github.com/spatialq/aoiquery/pkg/strategy"
)

type fakeExec struct {
	mu    sync.Mutex
	calls int
	fail  error

	lastFilter string
	lastStrat  strategy.Strategy
}

func (f *fakeExec) Intersect(_ context.Context, table model.TableRef, _ *aoi.AreaOfInterest, filter string, st strategy.Strategy) (*query.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.calls++
	f.lastFilter = filter
	f.lastStrat = st

	fc := geojson.NewFeatureCollection()
	feat := geojson.NewFeature(orb.Point{12.5, 57.1})
	feat.ID = 1
	fc.Append(feat)
	return &query.Result{
		Table:     table.String(),
		Decision:  strategy.Decision{Path: strategy.PathServer, Reason: strategy.ReasonProbeSupported},
		Matched:   f.calls,
		ElapsedMS: 7,
		Features:  fc,
	}, nil
}

func (f *fakeExec) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testArea(t *testing.T) *aoi.AreaOfInterest {
	t.Helper()
	sq := orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}
	a, err := aoi.New([]orb.Polygon{sq}, 4326, "area.geojson")
	if err != nil {
		t.Fatalf("aoi.New: %v", err)
	}
	return a
}

func testTable(t *testing.T) model.TableRef {
	t.Helper()
	ref, err := model.ParseTableRef("gis.parcels")
	if err != nil {
		t.Fatalf("ParseTableRef: %v", err)
	}
	return ref
}

func newCachedForTest(t *testing.T) (*miniredis.Miniredis, *Cached, *fakeExec) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	cli, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	fe := &fakeExec{}
	c := &Cached{
		exec:      fe,
		store:     cache.NewRedisCache(cli, time.Minute),
		hot:       expdecay.New(time.Minute),
		opTimeout: time.Second,
		log:       zerolog.Nop(),
	}
	return mr, c, fe
}

func TestDirect_PassesThrough(t *testing.T) {
	fe := &fakeExec{}
	eng, err := New("direct", config.Config{}, fe, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := eng.Run(context.Background(), Request{
		Table: testTable(t), Area: testArea(t), Filter: "zone='R1'", Strategy: strategy.Client,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Cache != "" {
		t.Errorf("direct result Cache=%q, want empty", res.Cache)
	}
	if fe.lastFilter != "zone='R1'" || fe.lastStrat != strategy.Client {
		t.Errorf("executor saw filter=%q strat=%v", fe.lastFilter, fe.lastStrat)
	}
}

func TestRegistry_UnknownFallsBackToDirect(t *testing.T) {
	eng, err := New("turbo", config.Config{}, &fakeExec{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := eng.(*direct); !ok {
		t.Fatalf("engine type = %T, want *direct", eng)
	}
}

func TestRegistry_BuildsCached(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := config.Config{RedisAddr: mr.Addr(), ResultTTL: time.Minute, CacheOpTimeout: time.Second}
	eng, err := New("cached", cfg, &fakeExec{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c, ok := eng.(*Cached)
	if !ok {
		t.Fatalf("engine type = %T, want *Cached", eng)
	}
	if c.Store() == nil || c.Hotness() == nil {
		t.Fatalf("accessors must expose wiring")
	}
}

func TestCached_ComputeThenHit(t *testing.T) {
	_, c, fe := newCachedForTest(t)
	req := Request{Table: testTable(t), Area: testArea(t), Strategy: strategy.Auto}

	first, err := c.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.Cache != "miss" {
		t.Errorf("first Cache=%q, want miss", first.Cache)
	}

	second, err := c.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Cache != "hit" {
		t.Errorf("second Cache=%q, want hit", second.Cache)
	}
	if got := fe.count(); got != 1 {
		t.Errorf("executor ran %d times, want 1", got)
	}
	if second.Matched != first.Matched || second.Table != first.Table {
		t.Errorf("hit differs: %+v vs %+v", second, first)
	}
	if second.Decision != first.Decision {
		t.Errorf("decision not preserved: %+v vs %+v", second.Decision, first.Decision)
	}
	if second.Features == nil || len(second.Features.Features) != 1 {
		t.Errorf("features not preserved: %+v", second.Features)
	}
}

func TestCached_NoCacheSkipsReadButStores(t *testing.T) {
	_, c, fe := newCachedForTest(t)
	table := testTable(t)
	area := testArea(t)

	res, err := c.Run(context.Background(), Request{Table: table, Area: area, Strategy: strategy.Auto, NoCache: true})
	if err != nil {
		t.Fatalf("bypass Run: %v", err)
	}
	if res.Cache != "bypass" {
		t.Errorf("Cache=%q, want bypass", res.Cache)
	}

	res, err = c.Run(context.Background(), Request{Table: table, Area: area, Strategy: strategy.Auto})
	if err != nil {
		t.Fatalf("follow-up Run: %v", err)
	}
	if res.Cache != "hit" {
		t.Errorf("follow-up Cache=%q, want hit (bypass must still store)", res.Cache)
	}
	if got := fe.count(); got != 1 {
		t.Errorf("executor ran %d times, want 1", got)
	}
}

func TestCached_VersionBumpInvalidates(t *testing.T) {
	_, c, fe := newCachedForTest(t)
	req := Request{Table: testTable(t), Area: testArea(t), Strategy: strategy.Auto}
	ctx := context.Background()

	if _, err := c.Run(ctx, req); err != nil {
		t.Fatalf("warm Run: %v", err)
	}
	if _, err := c.store.BumpTableVersion(ctx, req.Table.String()); err != nil {
		t.Fatalf("BumpTableVersion: %v", err)
	}

	res, err := c.Run(ctx, req)
	if err != nil {
		t.Fatalf("Run after bump: %v", err)
	}
	if res.Cache != "miss" {
		t.Errorf("Cache=%q after bump, want miss", res.Cache)
	}
	if got := fe.count(); got != 2 {
		t.Errorf("executor ran %d times, want 2", got)
	}
}

func TestCached_DistinctFiltersDistinctEntries(t *testing.T) {
	_, c, fe := newCachedForTest(t)
	table := testTable(t)
	area := testArea(t)
	ctx := context.Background()

	if _, err := c.Run(ctx, Request{Table: table, Area: area, Filter: "zone='R1'", Strategy: strategy.Auto}); err != nil {
		t.Fatalf("first: %v", err)
	}
	res, err := c.Run(ctx, Request{Table: table, Area: area, Filter: "zone='C2'", Strategy: strategy.Auto})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if res.Cache != "miss" {
		t.Errorf("different filter Cache=%q, want miss", res.Cache)
	}
	if got := fe.count(); got != 2 {
		t.Errorf("executor ran %d times, want 2", got)
	}
}

func TestCached_RedisDownDegradesToCompute(t *testing.T) {
	mr, c, fe := newCachedForTest(t)
	mr.Close()

	res, err := c.Run(context.Background(), Request{Table: testTable(t), Area: testArea(t), Strategy: strategy.Auto})
	if err != nil {
		t.Fatalf("Run with redis down: %v", err)
	}
	if res.Cache != "bypass" {
		t.Errorf("Cache=%q, want bypass", res.Cache)
	}
	if got := fe.count(); got != 1 {
		t.Errorf("executor ran %d times, want 1", got)
	}
}

func TestCached_ExecutorErrorPropagates(t *testing.T) {
	mr, c, fe := newCachedForTest(t)
	fe.fail = errors.New("table vanished")

	_, err := c.Run(context.Background(), Request{Table: testTable(t), Area: testArea(t), Strategy: strategy.Auto})
	if err == nil || !errors.Is(err, fe.fail) {
		t.Fatalf("err=%v, want executor failure", err)
	}
	for _, k := range mr.Keys() {
		if k != "ver:gis.parcels" {
			t.Errorf("unexpected key stored on failure: %q", k)
		}
	}
}

// Cover-cell scores are bookkeeping only; they must never affect the query.
func TestCached_TracksCoverCellHotness(t *testing.T) {
	_, c, _ := newCachedForTest(t)
	mapr, err := h3mapper.New(2)
	if err != nil {
		t.Fatalf("mapper: %v", err)
	}
	c.mapr = mapr

	if _, err := c.Run(context.Background(), Request{Table: testTable(t), Area: testArea(t), Strategy: strategy.Auto}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	tr := c.hot.(*expdecay.Tracker)
	if tr.Score("gis.parcels") <= 0 {
		t.Error("table not scored")
	}
	if tr.Size() < 2 {
		t.Errorf("tracked %d keys, want table plus cover cells", tr.Size())
	}
	cells, err := mapr.Cover(testArea(t).Parts)
	if err != nil {
		t.Fatalf("Cover: %v", err)
	}
	if tr.Score("cell:"+cells[0]) <= 0 {
		t.Error("cover cell not scored")
	}
}
