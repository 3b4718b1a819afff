// Package query executes AOI intersection against a spatial table over one
// of two paths: SERVER pushes the predicate into the database as a single
// statement, CLIENT fetches the candidate set and evaluates the same
// predicate locally with a bounded worker pool. Both paths feed one
// normalizer, so a table answers identically whichever side does the work.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/spatialq/aoiquery/internal/aoi"
	"github.com/spatialq/aoiquery/internal/core/model"
	"github.com/spatialq/aoiquery/internal/core/observability"
	"github.com/spatialq/aoiquery/internal/geo"
	"github.com/spatialq/aoiquery/internal/pgstore"
	"github.com/spatialq/aoiquery/pkg/strategy"
)

const (
	defaultWorkers        = 8
	defaultMalformedLimit = 0.1
	defaultQueryTimeout   = 30 * time.Second
	defaultFetchTimeout   = 2 * time.Minute
	defaultProbeTimeout   = 5 * time.Second
)

// DB is the slice of the store the executor needs.
type DB interface {
	IntersectServer(ctx context.Context, cp model.Capability, partsHex []string, aoiSRID int, filter string) ([]model.Row, error)
	FetchAll(ctx context.Context, cp model.Capability, filter string) ([]model.Row, error)
}

// Prober answers whether a table supports server-side relate.
type Prober interface {
	SupportsServerRelate(ctx context.Context, t model.TableRef) (model.Capability, error)
}

type Config struct {
	Workers        int
	MalformedLimit float64
	QueryTimeout   time.Duration
	FetchTimeout   time.Duration
	ProbeTimeout   time.Duration
}

type Executor struct {
	db     DB
	prober Prober
	cfg    Config
	log    zerolog.Logger
}

func New(db DB, prober Prober, cfg Config, log zerolog.Logger) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MalformedLimit <= 0 {
		cfg.MalformedLimit = defaultMalformedLimit
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	return &Executor{db: db, prober: prober, cfg: cfg, log: log}
}

// Result is the uniform answer both paths produce.
type Result struct {
	Table     string                     `json:"table"`
	Decision  strategy.Decision          `json:"decision"`
	Matched   int                        `json:"matched"`
	Skipped   int                        `json:"skipped"`
	ElapsedMS int64                      `json:"elapsed_ms"`
	Features  *geojson.FeatureCollection `json:"features"`

	// Cache reports how the engine produced this result ("hit", "miss",
	// "bypass"). Not part of the response body; surfaced as a header.
	Cache string `json:"-"`
}

// Intersect runs the query end to end: probe, pick a path per the requested
// strategy, execute, normalize. An unsatisfiable strategy is an error, never
// a silent fallback to the other path.
func (e *Executor) Intersect(ctx context.Context, table model.TableRef, area *aoi.AreaOfInterest, filter string, st strategy.Strategy) (res *Result, err error) {
	start := time.Now()
	path := "none"
	defer func() {
		observability.ObserveQuery(table.String(), path, errClass(err), time.Since(start))
	}()

	if area == nil || len(area.Parts) == 0 {
		return nil, aoi.ErrNoAOILoaded
	}

	pctx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	cp, err := e.prober.SupportsServerRelate(pctx, table)
	cancel()
	if err != nil {
		return nil, err
	}

	dec, err := e.decide(table, cp, st)
	if err != nil {
		return nil, err
	}
	path = dec.Path.String()

	var (
		fc      *geojson.FeatureCollection
		skipped int
		total   int
	)
	switch dec.Path {
	case strategy.PathClient:
		fc, skipped, total, err = e.runClient(ctx, table, cp, area, filter, st)
	default:
		fc, skipped, total, err = e.runServer(ctx, cp, area, filter)
	}
	if err != nil {
		e.log.Warn().Err(err).Str("table", table.String()).Str("path", path).Msg("intersect failed")
		return nil, err
	}
	if err = e.checkQuality(table, skipped, total); err != nil {
		e.log.Warn().Err(err).Str("table", table.String()).Str("path", path).Msg("intersect failed")
		return nil, err
	}
	if skipped > 0 {
		observability.AddMalformedSkipped(table.String(), skipped)
	}

	elapsed := time.Since(start)
	e.log.Info().
		Str("table", table.String()).
		Str("path", path).
		Str("reason", string(dec.Reason)).
		Int("matched", len(fc.Features)).
		Int("skipped", skipped).
		Dur("elapsed", elapsed).
		Msg("intersect done")

	return &Result{
		Table:     table.String(),
		Decision:  dec,
		Matched:   len(fc.Features),
		Skipped:   skipped,
		ElapsedMS: elapsed.Milliseconds(),
		Features:  fc,
	}, nil
}

// decide maps the requested strategy and the probe verdict to a path.
func (e *Executor) decide(table model.TableRef, cp model.Capability, st strategy.Strategy) (strategy.Decision, error) {
	switch st {
	case strategy.Server:
		if !cp.Supported {
			return strategy.Decision{}, &UnsupportedStrategyError{Table: table, Strategy: st, Reason: cp.Reason}
		}
		return strategy.Decision{Path: strategy.PathServer, Reason: strategy.ReasonForcedServer}, nil
	case strategy.Client:
		if cp.GeomColumn == "" {
			return strategy.Decision{}, &UnsupportedStrategyError{Table: table, Strategy: st, Reason: cp.Reason}
		}
		return strategy.Decision{Path: strategy.PathClient, Reason: strategy.ReasonForcedClient}, nil
	default:
		if cp.Supported {
			return strategy.Decision{Path: strategy.PathServer, Reason: strategy.ReasonProbeSupported}, nil
		}
		if cp.GeomColumn == "" {
			return strategy.Decision{}, &UnsupportedStrategyError{Table: table, Strategy: st, Reason: cp.Reason}
		}
		return strategy.Decision{Path: strategy.PathClient, Reason: strategy.ReasonProbeUnsupported}, nil
	}
}

func (e *Executor) runServer(ctx context.Context, cp model.Capability, area *aoi.AreaOfInterest, filter string) (*geojson.FeatureCollection, int, int, error) {
	partsHex := make([]string, len(area.Parts))
	for i, p := range area.Parts {
		h, err := geo.EncodeHexWKB(p)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("encode aoi part %d: %w", i, err)
		}
		partsHex[i] = h
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()
	rows, err := e.db.IntersectServer(qctx, cp, partsHex, area.SRID, filter)
	if err != nil {
		return nil, 0, 0, err
	}
	fc, skipped := NewNormalizer(cp).Collection(rows)
	return fc, skipped, len(rows), nil
}

func (e *Executor) runClient(ctx context.Context, table model.TableRef, cp model.Capability, area *aoi.AreaOfInterest, filter string, st strategy.Strategy) (*geojson.FeatureCollection, int, int, error) {
	// The local predicate compares coordinates as-is. Reprojection belongs
	// to the database, so a CRS gap here is unsatisfiable, not approximable.
	if cp.SRID != 0 && area.SRID != 0 && cp.SRID != area.SRID {
		return nil, 0, 0, &UnsupportedStrategyError{
			Table:    table,
			Strategy: st,
			Reason:   fmt.Sprintf("srid mismatch: table %d, aoi %d", cp.SRID, area.SRID),
		}
	}

	fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	rows, err := e.db.FetchAll(fctx, cp, filter)
	cancel()
	if err != nil {
		return nil, 0, 0, err
	}

	matched, malformed, err := e.evaluateLocal(ctx, cp, rows, area)
	if err != nil {
		return nil, 0, 0, err
	}
	fc, extra := NewNormalizer(cp).Collection(matched)
	return fc, malformed + extra, len(rows), nil
}

// checkQuality applies the malformed-fraction limit over the candidate set.
// Past the limit a partial answer is a wrong answer, so nothing is returned.
func (e *Executor) checkQuality(table model.TableRef, malformed, total int) error {
	if malformed == 0 || total == 0 {
		return nil
	}
	if frac := float64(malformed) / float64(total); frac > e.cfg.MalformedLimit {
		return &DataQualityError{Table: table, Malformed: malformed, Total: total, Limit: e.cfg.MalformedLimit}
	}
	return nil
}

// errClass buckets an error for the query outcome metric label.
func errClass(err error) string {
	if err == nil {
		return "ok"
	}
	var (
		unsupported *UnsupportedStrategyError
		quality     *DataQualityError
		notFound    *pgstore.TableNotFoundError
		timeout     *pgstore.QueryTimeoutError
		conn        *pgstore.ConnectionError
	)
	switch {
	case errors.As(err, &unsupported):
		return "unsupported"
	case errors.As(err, &quality):
		return "data_quality"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &conn):
		return "connection"
	case errors.Is(err, aoi.ErrNoAOILoaded):
		return "no_aoi"
	default:
		return "error"
	}
}
