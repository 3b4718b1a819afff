// Package aoi owns the current area of interest: loading it from KML or
// GeoJSON sources, validating it, and handing an immutable snapshot to
// queries.
package aoi

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"github.com/spatialq/aoiquery/internal/geo"
)

// ErrNoAOILoaded is returned when a query runs before any load.
var ErrNoAOILoaded = errors.New("no area of interest loaded")

// InvalidGeometryError reports an AOI source that yielded no usable region:
// empty, non-polygonal, or unparseable.
type InvalidGeometryError struct {
	Source string
	Reason string
}

func (e *InvalidGeometryError) Error() string {
	if e.Source == "" {
		return "invalid aoi geometry: " + e.Reason
	}
	return fmt.Sprintf("invalid aoi geometry from %s: %s", e.Source, e.Reason)
}

// Kind tags how many parts a region carries. Server-side predicate
// construction branches on this: one relate term for a single polygon,
// OR'd terms for a set.
type Kind int

const (
	KindSingle Kind = iota + 1
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindSet:
		return "set"
	}
	return "unknown"
}

// AreaOfInterest is one query region: one or more polygons sharing a
// coordinate reference system. Values are immutable once built; a reload
// replaces the whole value, never mutates it.
type AreaOfInterest struct {
	Kind     Kind
	Parts    []orb.Polygon
	SRID     int
	Source   string
	LoadedAt time.Time

	fp string
}

// New validates the polygon parts and builds a region. Zero parts or a
// degenerate ring fail with InvalidGeometryError.
func New(parts []orb.Polygon, srid int, source string) (*AreaOfInterest, error) {
	if len(parts) == 0 {
		return nil, &InvalidGeometryError{Source: source, Reason: "source yielded no polygon geometry"}
	}
	for i, p := range parts {
		if len(p) == 0 || len(p[0]) < 4 {
			return nil, &InvalidGeometryError{
				Source: source,
				Reason: fmt.Sprintf("part %d: degenerate outer ring", i),
			}
		}
		for j, ring := range p[1:] {
			if len(ring) < 4 {
				return nil, &InvalidGeometryError{
					Source: source,
					Reason: fmt.Sprintf("part %d: degenerate hole %d", i, j),
				}
			}
		}
	}
	kind := KindSingle
	if len(parts) > 1 {
		kind = KindSet
	}
	return &AreaOfInterest{
		Kind:     kind,
		Parts:    parts,
		SRID:     srid,
		Source:   source,
		LoadedAt: time.Now().UTC(),
		fp:       geo.Fingerprint(srid, parts),
	}, nil
}

// FromGeometry builds a region from an in-memory geometry with an explicit
// SRID. Only polygonal geometry is accepted.
func FromGeometry(g orb.Geometry, srid int, source string) (*AreaOfInterest, error) {
	parts, err := polygonParts(g, source)
	if err != nil {
		return nil, err
	}
	return New(parts, srid, source)
}

func polygonParts(g orb.Geometry, source string) ([]orb.Polygon, error) {
	switch v := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{v}, nil
	case orb.MultiPolygon:
		return append([]orb.Polygon(nil), v...), nil
	case orb.Collection:
		var parts []orb.Polygon
		for _, m := range v {
			p, err := polygonParts(m, source)
			if err != nil {
				return nil, err
			}
			parts = append(parts, p...)
		}
		return parts, nil
	case nil:
		return nil, &InvalidGeometryError{Source: source, Reason: "nil geometry"}
	default:
		return nil, &InvalidGeometryError{
			Source: source,
			Reason: fmt.Sprintf("unsupported geometry type %s, only polygons are accepted", g.GeoJSONType()),
		}
	}
}

// Fingerprint is the content hash of the region, stable across reloads of
// the same geometry from different sources.
func (a *AreaOfInterest) Fingerprint() string { return a.fp }

// Bound is the union envelope of all parts.
func (a *AreaOfInterest) Bound() orb.Bound {
	b := a.Parts[0].Bound()
	for _, p := range a.Parts[1:] {
		b = b.Union(p.Bound())
	}
	return b
}

// Summary is the read-model returned by the AOI inspection endpoint.
type Summary struct {
	Kind        string     `json:"kind"`
	Parts       int        `json:"parts"`
	SRID        int        `json:"srid"`
	Source      string     `json:"source,omitempty"`
	Fingerprint string     `json:"fingerprint"`
	LoadedAt    time.Time  `json:"loaded_at"`
	Bound       [4]float64 `json:"bound"`
}

func (a *AreaOfInterest) Summarize() Summary {
	b := a.Bound()
	return Summary{
		Kind:        a.Kind.String(),
		Parts:       len(a.Parts),
		SRID:        a.SRID,
		Source:      a.Source,
		Fingerprint: a.fp,
		LoadedAt:    a.LoadedAt,
		Bound:       [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
	}
}
