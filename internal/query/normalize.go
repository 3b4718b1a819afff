package query

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/spatialq/aoiquery/internal/core/model"
	"github.com/spatialq/aoiquery/internal/geo"
)

// Normalizer turns raw rows from either execution path into the uniform
// feature collection: one GeoJSON feature per row, properties in probe
// column order, geometry decoded from hex WKB. Deduplication happens here
// and only here, with one rule for both paths: primary key identity when
// the table has one, canonical geometry hash otherwise. First occurrence
// wins and row order is preserved.
type Normalizer struct {
	geomColumn string
	columns    []string
	pk         []string
}

func NewNormalizer(cp model.Capability) *Normalizer {
	return &Normalizer{
		geomColumn: cp.GeomColumn,
		columns:    cp.Columns,
		pk:         cp.PrimaryKey,
	}
}

// Collection builds the output collection and reports how many rows were
// dropped for undecodable geometry.
func (n *Normalizer) Collection(rows []model.Row) (*geojson.FeatureCollection, int) {
	fc := geojson.NewFeatureCollection()
	seen := make(map[string]struct{}, len(rows))
	skipped := 0

	for _, row := range rows {
		raw, ok := rawGeometry(row, n.geomColumn)
		if !ok {
			skipped++
			continue
		}
		g, err := geo.DecodeHexWKB(raw)
		if err != nil {
			skipped++
			continue
		}
		id := n.identity(row, g)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		f := geojson.NewFeature(g)
		props := make(geojson.Properties, len(n.columns))
		for _, c := range n.columns {
			props[c] = row[c]
		}
		f.Properties = props
		if len(n.pk) == 1 {
			if v, ok := row[n.pk[0]]; ok && v != nil {
				f.ID = v
			}
		}
		fc.Append(f)
	}
	return fc, skipped
}

// identity keys a row for dedup. A row missing part of its primary key
// falls back to geometry identity rather than colliding on the gap.
func (n *Normalizer) identity(row model.Row, g orb.Geometry) string {
	if len(n.pk) > 0 {
		parts := make([]string, len(n.pk))
		complete := true
		for i, c := range n.pk {
			v, ok := row[c]
			if !ok || v == nil {
				complete = false
				break
			}
			parts[i] = fmt.Sprint(v)
		}
		if complete {
			return "pk:" + strings.Join(parts, "|")
		}
	}
	return "geom:" + geo.HashKey(g)
}

// rawGeometry pulls the hex WKB payload out of a row. The driver hands
// text columns back as string or []byte depending on the scan path.
func rawGeometry(row model.Row, col string) (string, bool) {
	switch v := row[col].(type) {
	case string:
		return v, v != ""
	case []byte:
		return string(v), len(v) > 0
	}
	return "", false
}
