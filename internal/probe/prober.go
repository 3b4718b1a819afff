// Package probe answers whether a table supports the server-side relate
// path. The answer comes from metadata alone: the probe never executes the
// spatial predicate itself, so it stays cheap and side-effect-free.
package probe

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/spatialq/aoiquery/internal/core/model"
	"github.com/spatialq/aoiquery/internal/core/observability"
)

// Metadata is the slice of the database collaborator the prober reads.
type Metadata interface {
	Relation(ctx context.Context, t model.TableRef) (model.RelationKind, error)
	SpatialColumn(ctx context.Context, t model.TableRef) (col, geomType string, srid int, ok bool, err error)
	HasSpatialIndex(ctx context.Context, t model.TableRef, geomCol string) (bool, error)
	Columns(ctx context.Context, t model.TableRef) ([]string, error)
	PrimaryKey(ctx context.Context, t model.TableRef) ([]string, error)
}

type Prober struct {
	meta  Metadata
	cache *lru.Cache[string, model.Capability]
	log   zerolog.Logger
}

// New builds a prober. cacheSize <= 0 disables the verdict cache; repeated
// probes then hit the database every time, which stays correct, just slower.
func New(meta Metadata, cacheSize int, log zerolog.Logger) *Prober {
	p := &Prober{meta: meta, log: log}
	if cacheSize > 0 {
		// error only fires for size <= 0
		p.cache, _ = lru.New[string, model.Capability](cacheSize)
	}
	return p
}

// SupportsServerRelate probes the table and returns the verdict with the
// metadata facts either execution path needs. A missing table is
// TableNotFoundError; a table without spatial support is a negative verdict,
// not an error. Verdicts cache until a schema-change event forgets them.
func (p *Prober) SupportsServerRelate(ctx context.Context, t model.TableRef) (model.Capability, error) {
	key := t.String()
	if p.cache != nil {
		if cached, ok := p.cache.Get(key); ok {
			observability.ObserveProbe(outcome(cached), true, 0)
			return cached, nil
		}
	}

	start := time.Now()
	verdict, err := p.probe(ctx, t)
	if err != nil {
		return model.Capability{}, err
	}
	if p.cache != nil {
		p.cache.Add(key, verdict)
	}
	elapsed := time.Since(start)
	observability.ObserveProbe(outcome(verdict), false, elapsed)
	p.log.Debug().
		Str("table", key).
		Bool("supported", verdict.Supported).
		Str("reason", verdict.Reason).
		Dur("elapsed", elapsed).
		Msg("capability probe")
	return verdict, nil
}

func (p *Prober) probe(ctx context.Context, t model.TableRef) (model.Capability, error) {
	kind, err := p.meta.Relation(ctx, t)
	if err != nil {
		return model.Capability{}, err
	}
	verdict := model.Capability{Table: t, Kind: kind}

	col, geomType, srid, ok, err := p.meta.SpatialColumn(ctx, t)
	if err != nil {
		return model.Capability{}, err
	}
	if !ok {
		verdict.Reason = model.ReasonNoGeomColumn
		return verdict, nil
	}
	verdict.GeomColumn = col
	verdict.GeomType = geomType
	verdict.SRID = srid

	if verdict.Columns, err = p.meta.Columns(ctx, t); err != nil {
		return model.Capability{}, err
	}
	if verdict.PrimaryKey, err = p.meta.PrimaryKey(ctx, t); err != nil {
		return model.Capability{}, err
	}

	indexed, err := p.meta.HasSpatialIndex(ctx, t, col)
	if err != nil {
		return model.Capability{}, err
	}
	if indexed {
		verdict.Supported = true
		verdict.Reason = model.ReasonSpatialIndex
	} else {
		verdict.Reason = model.ReasonNoSpatialIndex
	}
	return verdict, nil
}

// Forget drops a cached verdict. The invalidation consumer calls this when
// a schema-change event lands, so a stale verdict never outlives the schema
// that produced it.
func (p *Prober) Forget(t model.TableRef) {
	if p.cache != nil {
		p.cache.Remove(t.String())
	}
}

// CacheLen reports the number of cached verdicts.
func (p *Prober) CacheLen() int {
	if p.cache == nil {
		return 0
	}
	return p.cache.Len()
}

func outcome(c model.Capability) string {
	if c.Supported {
		return "supported"
	}
	return "unsupported"
}
