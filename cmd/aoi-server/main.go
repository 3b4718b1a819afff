// Command aoi-server runs the intersection query service: load a region,
// probe table capabilities, and answer intersect requests over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"

	"github.com/spatialq/aoiquery/internal/aoi"
	"github.com/spatialq/aoiquery/internal/core/config"
	"github.com/spatialq/aoiquery/internal/core/health"
	"github.com/spatialq/aoiquery/internal/core/httpclient"
	"github.com/spatialq/aoiquery/internal/core/observability"
	"github.com/spatialq/aoiquery/internal/core/router"
	"github.com/spatialq/aoiquery/internal/core/server"
	"github.com/spatialq/aoiquery/internal/engine"
	"github.com/spatialq/aoiquery/internal/invalidation/kafkaconsumer"
	"github.com/spatialq/aoiquery/internal/logger"
	h3mapper "github.com/spatialq/aoiquery/internal/mapper/h3"
	"github.com/spatialq/aoiquery/internal/metrics"
	"github.com/spatialq/aoiquery/internal/pgstore"
	"github.com/spatialq/aoiquery/internal/probe"
	"github.com/spatialq/aoiquery/internal/query"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	_ = godotenv.Load(".env")

	engineFlag := flag.String("engine", "", "engine name (direct|cached); overrides ENGINE")
	aoiFlag := flag.String("aoi", os.Getenv("AOI_SOURCE"), "region source to load at boot (file path or URL)")
	flag.Parse()

	cfg := config.FromEnv()
	if *engineFlag != "" {
		cfg.Engine = strings.TrimSpace(*engineFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Engine:    cfg.Engine,
		Component: "aoi-server",
	}, os.Stdout)

	p := metrics.Init()
	observability.Init(p.Registerer())
	observability.SetEngine(cfg.Engine)
	observability.ExposeBuildInfo(Version)
	zl.Info().
		Str("addr", cfg.Addr).
		Str("version", Version).
		Str("engine", cfg.Engine).
		Msg("starting aoi-server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	eng, err := engine.New(cfg.Engine, cfg, exec, zl)
	if err != nil {
		zl.Error().Err(err).Msg("engine setup failed")
		return 1
	}

	regions := aoi.NewStore()
	loader := &aoi.Loader{HTTP: httpclient.NewOutbound()}
	if src := strings.TrimSpace(*aoiFlag); src != "" {
		area, err := loader.Load(ctx, src)
		if err != nil {
			zl.Error().Err(err).Str("source", src).Msg("boot region load failed")
			return 1
		}
		regions.Replace(area)
		observability.SetAOIParts(len(area.Parts))
		zl.Info().Str("source", src).Int("parts", len(area.Parts)).Msg("boot region loaded")
	}

	mapr, err := h3mapper.New(cfg.H3Res)
	if err != nil {
		zl.Error().Err(err).Msg("mapper setup failed")
		return 1
	}

	ready := []health.Check{
		{Name: "database", Probe: db.Ping},
	}

	// The consumer only makes sense next to a cache; with the direct
	// engine there is nothing to invalidate.
	if cfg.Invalidation.Enabled {
		if ce, ok := eng.(*engine.Cached); ok {
			sarama.Logger = logger.NewPrintLogger(zl.With().Str("component", "sarama").Logger())
			cons, err := kafkaconsumer.New(kafkaconsumer.FromApp(cfg.Invalidation), ce.Store(), prober, ce.Hotness(), zl)
			if err != nil {
				zl.Error().Err(err).Msg("invalidation consumer setup failed")
				return 1
			}
			if err := cons.Start(ctx); err != nil {
				zl.Error().Err(err).Msg("invalidation consumer start failed")
				return 1
			}
			defer func() { _ = cons.Stop() }()
			ready = append(ready, health.Check{Name: "invalidation", Probe: func(context.Context) error {
				if ok, _ := cons.Readiness(); !ok {
					return errors.New("no partitions assigned")
				}
				return nil
			}})
		} else {
			zl.Warn().Str("engine", cfg.Engine).Msg("invalidation enabled but engine carries no cache; consumer not started")
		}
	}

	api := router.NewAPI(zl, eng, regions, loader, prober, mapr)
	handler := server.NewHandler(zl, server.Deps{API: api, Metrics: p.Handler(), Ready: ready})

	if err := server.Run(ctx, cfg, zl, handler); err != nil {
		zl.Error().Err(err).Msg("server failed")
		return 1
	}
	zl.Info().Msg("shutdown complete")
	return 0
}
