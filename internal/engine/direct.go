package engine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/spatialq/aoiquery/internal/core/config"
	"github.com/spatialq/aoiquery/internal/query"
)

func init() {
	Register("direct", newDirect)
}

type direct struct {
	exec Intersector
}

func newDirect(_ config.Config, exec Intersector, _ zerolog.Logger) (Engine, error) {
	return &direct{exec: exec}, nil
}

func (d *direct) Run(ctx context.Context, req Request) (*query.Result, error) {
	return d.exec.Intersect(ctx, req.Table, req.Area, req.Filter, req.Strategy)
}
