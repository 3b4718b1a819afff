// Package engine selects how intersection queries run: straight through
// the executor, or behind a Redis result cache. Engines register
// themselves by name; an unknown name falls back to direct.
package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/spatialq/aoiquery/internal/aoi"
	"github.com/spatialq/aoiquery/internal/core/config"
	"github.com/spatialq/aoiquery/internal/core/model"
	"github.com/spatialq/aoiquery/internal/query"
	"github.com/spatialq/aoiquery/pkg/strategy"
)

// Intersector executes one intersection query. Satisfied by query.Executor.
type Intersector interface {
	Intersect(ctx context.Context, table model.TableRef, area *aoi.AreaOfInterest, filter string, st strategy.Strategy) (*query.Result, error)
}

// Request is one engine invocation. NoCache forces recomputation; the
// fresh result is still stored.
type Request struct {
	Table    model.TableRef
	Area     *aoi.AreaOfInterest
	Filter   string
	Strategy strategy.Strategy
	NoCache  bool
}

type Engine interface {
	Run(ctx context.Context, req Request) (*query.Result, error)
}

type Factory func(cfg config.Config, exec Intersector, log zerolog.Logger) (Engine, error)

var reg = map[string]Factory{}

func Register(name string, f Factory) {
	reg[name] = f
}

// New builds the named engine. Unknown names fall back to direct with a
// warning rather than failing startup.
func New(name string, cfg config.Config, exec Intersector, log zerolog.Logger) (Engine, error) {
	if f, ok := reg[name]; ok {
		return f(cfg, exec, log)
	}
	if f, ok := reg["direct"]; ok {
		log.Warn().Str("engine", name).Msg("unknown engine; falling back to direct")
		return f(cfg, exec, log)
	}
	return nil, fmt.Errorf("no factory for engine %q and no direct registered", name)
}
