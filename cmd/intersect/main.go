// Command intersect runs one intersection query from the command line:
// load a region, query a table, write the matching features as GeoJSON.
//
// A failed run is never retried on the other path by itself; pass
// -fallback-client to allow one retry via the client path.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/spatialq/aoiquery/internal/aoi"
	"github.com/spatialq/aoiquery/internal/core/config"
	"github.com/spatialq/aoiquery/internal/core/httpclient"
	"github.com/spatialq/aoiquery/internal/core/model"
	"github.com/spatialq/aoiquery/internal/logger"
	"github.com/spatialq/aoiquery/internal/pgstore"
	"github.com/spatialq/aoiquery/internal/probe"
	"github.com/spatialq/aoiquery/internal/query"
	"github.com/spatialq/aoiquery/pkg/strategy"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load(".env")

	var (
		aoiSrc   = flag.String("aoi", "", "region source: KML or GeoJSON, file path or URL (required)")
		table    = flag.String("table", "", "target table as schema.name or name (required)")
		filter   = flag.String("filter", "", "attribute filter appended to the query")
		stratStr = flag.String("strategy", "auto", "execution strategy: auto|server|client")
		fallback = flag.Bool("fallback-client", false, "retry once via the client path if the first attempt fails")
		out      = flag.String("out", "-", "output file for the feature collection; - for stdout")
	)
	flag.Parse()

	if *aoiSrc == "" || *table == "" {
		fmt.Fprintln(os.Stderr, "usage: intersect -aoi <source> -table <schema.name> [-filter f] [-strategy auto|server|client] [-fallback-client] [-out file]")
		return 2
	}

	cfg := config.FromEnv()
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   true,
		Component: "intersect",
	}, os.Stderr)

	ref, err := model.ParseTableRef(*table)
	if err != nil {
		zl.Error().Err(err).Msg("bad table")
		return 2
	}
	st, err := strategy.Parse(*stratStr)
	if err != nil {
		zl.Error().Err(err).Msg("bad strategy")
		return 2
	}

	ctx := context.Background()

	loader := &aoi.Loader{HTTP: httpclient.NewOutbound()}
	area, err := loader.Load(ctx, *aoiSrc)
	if err != nil {
		zl.Error().Err(err).Str("source", *aoiSrc).Msg("region load failed")
		return 1
	}
	zl.Info().Str("kind", area.Kind.String()).Int("parts", len(area.Parts)).Int("srid", area.SRID).Msg("region loaded")

	db, err := pgstore.Open(ctx, cfg.Database, zl)
	if err != nil {
		zl.Error().Err(err).Msg("database open failed")
		return 1
	}
	defer func() { _ = db.Close() }()

	prober := probe.New(db, cfg.CapabilityCache, zl)
	exec := query.New(db, prober, query.Config{
		Workers:        cfg.ClientWorkers,
		MalformedLimit: cfg.MalformedLimit,
		QueryTimeout:   cfg.Database.QueryTimeout,
		FetchTimeout:   cfg.Database.FetchTimeout,
		ProbeTimeout:   cfg.CapabilityProbeTimeout,
	}, zl)

	res, err := exec.Intersect(ctx, ref, area, *filter, st)
	if err != nil && *fallback && st != strategy.Client && retryableViaClient(err) {
		zl.Warn().Err(err).Msg("first attempt failed; retrying via client path")
		res, err = exec.Intersect(ctx, ref, area, *filter, strategy.Client)
	}
	if err != nil {
		zl.Error().Err(err).Msg("intersect failed")
		return 1
	}

	zl.Info().
		Str("path", res.Decision.Path.String()).
		Str("reason", string(res.Decision.Reason)).
		Int("matched", res.Matched).
		Int("skipped", res.Skipped).
		Int64("elapsed_ms", res.ElapsedMS).
		Msg("intersect done")

	if err := writeFeatures(*out, res); err != nil {
		zl.Error().Err(err).Msg("write failed")
		return 1
	}
	return 0
}

// retryableViaClient reports whether a second attempt on the client path
// could plausibly succeed: the statement timed out, or the table cannot
// relate server-side at all.
func retryableViaClient(err error) bool {
	var timeout *pgstore.QueryTimeoutError
	var unsupported *query.UnsupportedStrategyError
	return errors.As(err, &timeout) || errors.As(err, &unsupported)
}

func writeFeatures(out string, res *query.Result) error {
	data, err := json.MarshalIndent(res.Features, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if out == "-" || strings.TrimSpace(out) == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(out, data, 0o644)
}
