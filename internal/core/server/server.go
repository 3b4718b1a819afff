// Package server assembles the HTTP stack and runs it until the context is
// cancelled.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/spatialq/aoiquery/internal/core/config"
	"github.com/spatialq/aoiquery/internal/core/health"
	"github.com/spatialq/aoiquery/internal/core/middleware"
	"github.com/spatialq/aoiquery/internal/core/router"
)

// Deps is everything the HTTP surface needs. Metrics serves the scrape
// endpoint; Ready holds the readiness probes in display order.
type Deps struct {
	API     *router.API
	Metrics http.Handler
	Ready   []health.Check
}

// NewHandler builds the full mux: operational endpoints plus the /v1 API,
// wrapped in recover, logging, metrics, and CORS middleware.
func NewHandler(log zerolog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(log))
	r.Use(middleware.Logging(log))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Ready...))
	if d.Metrics != nil {
		r.Get("/metrics", d.Metrics.ServeHTTP)
	}
	d.API.Routes(r)
	return r
}

// Run serves handler on cfg.Addr until ctx is cancelled, then drains
// in-flight requests for up to ten seconds.
func Run(ctx context.Context, cfg config.Config, log zerolog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("http listen")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
