// Package router holds the HTTP handlers for the service API: region
// loading and inspection, capability probing, and intersection queries.
// The server package owns the mux and middleware; handlers here only
// validate input, call into the domain, and map errors to status codes.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/spatialq/aoiquery/internal/aoi"
	"github.com/spatialq/aoiquery/internal/core/model"
	"github.com/spatialq/aoiquery/internal/core/observability"
	"github.com/spatialq/aoiquery/internal/engine"
	"github.com/spatialq/aoiquery/internal/logger"
	h3mapper "github.com/spatialq/aoiquery/internal/mapper/h3"
	"github.com/spatialq/aoiquery/internal/pgstore"
	"github.com/spatialq/aoiquery/internal/query"
	"github.com/spatialq/aoiquery/pkg/strategy"
)

// CapabilityProber answers whether a table can evaluate the relate
// server-side. Satisfied by probe.Prober.
type CapabilityProber interface {
	SupportsServerRelate(ctx context.Context, t model.TableRef) (model.Capability, error)
}

// API bundles the handlers for /v1. All fields except Mapper are required.
type API struct {
	log    zerolog.Logger
	eng    engine.Engine
	store  *aoi.Store
	loader *aoi.Loader
	prober CapabilityProber
	mapr   *h3mapper.Mapper
}

func NewAPI(log zerolog.Logger, eng engine.Engine, store *aoi.Store, loader *aoi.Loader, prober CapabilityProber, mapr *h3mapper.Mapper) *API {
	return &API{
		log:    log.With().Str("component", "api").Logger(),
		eng:    eng,
		store:  store,
		loader: loader,
		prober: prober,
		mapr:   mapr,
	}
}

// Routes registers the /v1 endpoints on r.
func (a *API) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/aoi", a.handleLoadAOI)
		r.Get("/aoi", a.handleGetAOI)
		r.Route("/tables/{table}", func(r chi.Router) {
			r.Get("/support", a.handleSupport)
			r.Get("/intersect", a.handleIntersect)
		})
	})
}

// loadRequest names either a source to fetch or an inline GeoJSON document.
// Exactly one of Source and Geometry must be set; SRID applies to inline
// geometry only and defaults to 4326.
type loadRequest struct {
	Source   string          `json:"source"`
	Geometry json.RawMessage `json:"geometry"`
	SRID     int             `json:"srid"`
}

func (a *API) handleLoadAOI(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	var (
		area *aoi.AreaOfInterest
		err  error
	)
	switch {
	case strings.TrimSpace(req.Source) != "" && len(req.Geometry) > 0:
		writeErrorMsg(w, http.StatusBadRequest, "source and geometry are mutually exclusive")
		return
	case strings.TrimSpace(req.Source) != "":
		area, err = a.loader.Load(r.Context(), req.Source)
	case len(req.Geometry) > 0:
		if req.SRID < 0 {
			writeErrorMsg(w, http.StatusBadRequest, "srid must be non-negative")
			return
		}
		srid := req.SRID
		if srid == 0 {
			srid = h3mapper.SRIDWGS84
		}
		area, err = aoi.ParseGeoJSONSRID(req.Geometry, srid, "inline")
	default:
		writeErrorMsg(w, http.StatusBadRequest, "missing required field: source or geometry")
		return
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.store.Replace(area)
	a.observeRegion(r, area)
	writeJSON(w, http.StatusOK, area.Summarize())
}

func (a *API) handleGetAOI(w http.ResponseWriter, r *http.Request) {
	area, err := a.store.Current()
	if err != nil {
		writeErrorMsg(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, area.Summarize())
}

func (a *API) handleSupport(w http.ResponseWriter, r *http.Request) {
	ref, err := model.ParseTableRef(chi.URLParam(r, "table"))
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, err.Error())
		return
	}
	cp, err := a.prober.SupportsServerRelate(r.Context(), ref)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (a *API) handleIntersect(w http.ResponseWriter, r *http.Request) {
	ref, err := model.ParseTableRef(chi.URLParam(r, "table"))
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := strings.TrimSpace(r.URL.Query().Get("filter"))
	if filter != "" && !isSafeFilter(filter) {
		writeErrorMsg(w, http.StatusBadRequest, "invalid or disallowed filter")
		return
	}

	st, err := strategy.Parse(r.URL.Query().Get("strategy"))
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, err.Error())
		return
	}

	area, err := a.store.Current()
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	res, err := a.eng.Run(r.Context(), engine.Request{
		Table:    ref,
		Area:     area,
		Filter:   filter,
		Strategy: st,
		NoCache:  noCache(r),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if res.Cache != "" {
		w.Header().Set("X-Cache", res.Cache)
	}
	writeJSON(w, http.StatusOK, res)
}

// noCache honors Cache-Control: no-cache on the request.
func noCache(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Cache-Control")), "no-cache")
}

// observeRegion updates the region gauges and, when a mapper is configured
// and the region is in WGS84, its H3 cover size. Cover trouble is logged,
// never surfaced: the load itself already succeeded.
func (a *API) observeRegion(r *http.Request, area *aoi.AreaOfInterest) {
	observability.SetAOIParts(len(area.Parts))
	log := logger.FromContext(r.Context(), &a.log)
	if a.mapr == nil {
		return
	}
	if area.SRID != h3mapper.SRIDWGS84 {
		observability.SetAOICoverCells(0)
		log.Debug().Int("srid", area.SRID).Msg("skipping cover: region not in WGS84")
		return
	}
	cells, err := a.mapr.Cover(area.Parts)
	if err != nil {
		log.Warn().Err(err).Msg("cover computation failed")
		return
	}
	observability.SetAOICoverCells(len(cells))
	log.Info().
		Str("source", area.Source).
		Int("parts", len(area.Parts)).
		Int("cover_cells", len(cells)).
		Int("res", a.mapr.Resolution()).
		Msg("region loaded")
}

// Filters are spliced into SQL verbatim (the geometry rides in binds), so
// the accepted character set is restricted up front.
var safeFilterPattern = regexp.MustCompile(`^[\w\s\=\>\<\!\(\)\.\,\'\"\%\-]+$`)

func isSafeFilter(s string) bool {
	if len(s) > 500 {
		return false
	}
	return safeFilterPattern.MatchString(s)
}

// writeError maps domain errors onto HTTP statuses. Anything unmapped is a
// 500 and gets logged; mapped errors are the caller's problem, not ours.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logger.FromContext(r.Context(), &a.log).Error().Err(err).Msg("request failed")
	}
	writeErrorMsg(w, code, err.Error())
}

func statusFor(err error) int {
	var (
		badGeom     *aoi.InvalidGeometryError
		unsupported *query.UnsupportedStrategyError
		quality     *query.DataQualityError
		notFound    *pgstore.TableNotFoundError
		timeout     *pgstore.QueryTimeoutError
		conn        *pgstore.ConnectionError
	)
	switch {
	// No region, or a forced strategy the table cannot satisfy: the
	// request clashes with current state, not with its own syntax.
	case errors.Is(err, aoi.ErrNoAOILoaded),
		errors.As(err, &unsupported):
		return http.StatusConflict
	case errors.As(err, &badGeom):
		return http.StatusUnprocessableEntity
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	// Upstream trouble: the database is unreachable or its rows are bad
	// past the malformed limit.
	case errors.As(err, &conn),
		errors.As(err, &quality):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMsg(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
