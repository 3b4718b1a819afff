package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/spatialq/aoiquery/internal/aoi"
	"github.com/spatialq/aoiquery/internal/cache"
	"github.com/spatialq/aoiquery/internal/cache/keys"
	"github.com/spatialq/aoiquery/internal/cache/redisstore"
	"github.com/spatialq/aoiquery/internal/core/config"
	"github.com/spatialq/aoiquery/internal/core/observability"
	"github.com/spatialq/aoiquery/internal/hotness"
	"github.com/spatialq/aoiquery/internal/hotness/expdecay"
	"github.com/spatialq/aoiquery/internal/hotness/metricswrap"
	h3mapper "github.com/spatialq/aoiquery/internal/mapper/h3"
	"github.com/spatialq/aoiquery/internal/query"
)

func init() {
	Register("cached", newCached)
}

// Cached serves intersection results out of Redis, keyed by table version
// so invalidation is a counter bump instead of a key sweep. A cache
// failure degrades to computing; it never fails the query.
type Cached struct {
	exec      Intersector
	store     cache.ResultCache
	hot       hotness.Interface
	mapr      *h3mapper.Mapper
	opTimeout time.Duration
	log       zerolog.Logger

	coverMu    sync.Mutex
	coverFP    string
	coverCells []string
}

func newCached(cfg config.Config, exec Intersector, log zerolog.Logger) (Engine, error) {
	cli, err := redisstore.New(context.Background(), cfg.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}
	mapr, err := h3mapper.New(cfg.H3Res)
	if err != nil {
		return nil, fmt.Errorf("cover mapper: %w", err)
	}
	return &Cached{
		exec:      exec,
		store:     cache.NewRedisCache(cli, cfg.ResultTTL),
		hot:       metricswrap.New(expdecay.New(cfg.HotHalfLife), cfg.HotThreshold, log),
		mapr:      mapr,
		opTimeout: cfg.CacheOpTimeout,
		log:       log,
	}, nil
}

// Store exposes the result cache for invalidation wiring.
func (c *Cached) Store() cache.ResultCache { return c.store }

// Hotness exposes the per-table tracker for invalidation wiring.
func (c *Cached) Hotness() hotness.Interface { return c.hot }

// Cache ops get their own deadline, detached from the request context.
func (c *Cached) opCtx() (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), c.opTimeout)
}

// incHotness scores the table and, for WGS84 regions, the cells of the
// region's cover. The cover is memoized by fingerprint; regions only change
// on an explicit load. Scores never influence the query itself.
func (c *Cached) incHotness(table string, area *aoi.AreaOfInterest) {
	c.hot.Inc(table)
	if c.mapr == nil || area == nil || area.SRID != h3mapper.SRIDWGS84 {
		return
	}
	c.coverMu.Lock()
	if fp := area.Fingerprint(); fp != c.coverFP {
		cells, err := c.mapr.Cover(area.Parts)
		if err != nil {
			c.coverMu.Unlock()
			c.log.Debug().Err(err).Msg("cover for hotness failed")
			return
		}
		c.coverFP, c.coverCells = fp, cells
	}
	cells := c.coverCells
	c.coverMu.Unlock()
	for _, cell := range cells {
		c.hot.Inc("cell:" + cell)
	}
}

func (c *Cached) Run(ctx context.Context, req Request) (*query.Result, error) {
	table := req.Table.String()
	c.incHotness(table, req.Area)

	octx, cancel := c.opCtx()
	version, err := c.store.TableVersion(octx, table)
	cancel()
	if err != nil {
		observability.IncCacheError()
		c.log.Warn().Err(err).Str("table", table).Msg("version lookup failed; computing without cache")
		res, err := c.exec.Intersect(ctx, req.Table, req.Area, req.Filter, req.Strategy)
		if err != nil {
			return nil, err
		}
		res.Cache = "bypass"
		return res, nil
	}

	fp := ""
	if req.Area != nil {
		fp = req.Area.Fingerprint()
	}
	key := keys.Result(table, version, fp, req.Filter, req.Strategy.String())

	if !req.NoCache {
		octx, cancel = c.opCtx()
		body, ok, err := c.store.GetResult(octx, key)
		cancel()
		switch {
		case err != nil:
			observability.IncCacheError()
			c.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		case ok:
			var res query.Result
			if uerr := json.Unmarshal(body, &res); uerr != nil {
				observability.IncCacheError()
				c.log.Warn().Err(uerr).Str("key", key).Msg("dropping undecodable cache entry")
			} else {
				observability.IncCacheHit()
				res.Cache = "hit"
				return &res, nil
			}
		}
	} else {
		observability.IncCacheBypass()
	}

	res, err := c.exec.Intersect(ctx, req.Table, req.Area, req.Filter, req.Strategy)
	if err != nil {
		return nil, err
	}

	if body, merr := json.Marshal(res); merr != nil {
		observability.IncCacheError()
		c.log.Warn().Err(merr).Str("key", key).Msg("result not cacheable")
	} else {
		octx, cancel = c.opCtx()
		perr := c.store.PutResult(octx, key, body, 0)
		cancel()
		if perr != nil {
			observability.IncCacheError()
			c.log.Warn().Err(perr).Str("key", key).Msg("cache write failed")
		}
	}

	if req.NoCache {
		res.Cache = "bypass"
	} else {
		observability.IncCacheMiss()
		res.Cache = "miss"
	}
	return res, nil
}
