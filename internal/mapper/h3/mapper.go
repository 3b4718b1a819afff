// Package h3mapper computes H3 cell covers for query regions.
package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"
)

// SRIDWGS84 is the only CRS H3 understands. Covers of regions in any
// other CRS are not computable.
const SRIDWGS84 = 4326

type Mapper struct {
	res int
}

// New builds a mapper at the given H3 resolution (0..15).
func New(res int) (*Mapper, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	return &Mapper{res: res}, nil
}

func (m *Mapper) Resolution() int { return m.res }

// Cover returns the sorted, de-duplicated H3 cells covering the polygon
// parts. Coordinates must be lon/lat degrees.
func (m *Mapper) Cover(parts []orb.Polygon) ([]string, error) {
	if len(parts) == 0 {
		return nil, errors.New("no polygon parts")
	}
	seen := make(map[string]struct{})
	var out []string
	for pi, p := range parts {
		if len(p) == 0 {
			return nil, fmt.Errorf("part %d is empty", pi)
		}
		outer := toLoop(p[0])
		if len(outer) < 3 {
			return nil, fmt.Errorf("part %d outer ring has fewer than 3 distinct vertices", pi)
		}
		var holes []h3.GeoLoop
		for i, ring := range p[1:] {
			h := toLoop(ring)
			if len(h) < 3 {
				return nil, fmt.Errorf("part %d hole %d has fewer than 3 distinct vertices", pi, i)
			}
			holes = append(holes, h)
		}
		cells, err := cellsFor(outer, holes, m.res)
		if err != nil {
			return nil, err
		}
		for _, c := range cells {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// Convert a ring to an h3 loop, dropping the duplicated closing vertex.
func toLoop(r orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(r))
	for _, pt := range r {
		loop = append(loop, h3.LatLng{Lat: pt.Lat(), Lng: pt.Lon()})
	}
	if len(loop) >= 2 {
		last, first := loop[len(loop)-1], loop[0]
		if last.Lat == first.Lat && last.Lng == first.Lng {
			loop = loop[:len(loop)-1]
		}
	}
	return loop
}

func cellsFor(outer h3.GeoLoop, holes []h3.GeoLoop, res int) ([]string, error) {
	poly := h3.GeoPolygon{GeoLoop: outer, Holes: holes}
	indexes, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return nil, fmt.Errorf("h3 cover: %w", err)
	}
	out := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, idx.String())
	}
	return out, nil
}
