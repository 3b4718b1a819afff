package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// IntersectsAny reports whether g intersects at least one polygon part.
// Evaluation short-circuits on the first hit.
func IntersectsAny(g orb.Geometry, parts []orb.Polygon) bool {
	for _, p := range parts {
		if Intersects(g, p) {
			return true
		}
	}
	return false
}

// Intersects reports whether g intersects poly. Boundary contact counts: a
// geometry that only touches the polygon's edge intersects it. The same
// semantics the database applies with ST_Intersects, so the two execution
// paths agree on boundary-touching features.
func Intersects(g orb.Geometry, poly orb.Polygon) bool {
	if g == nil || len(poly) == 0 {
		return false
	}
	if !g.Bound().Intersects(poly.Bound()) {
		return false
	}
	switch v := g.(type) {
	case orb.Point:
		return pointInPolygon(v, poly)
	case orb.MultiPoint:
		for _, p := range v {
			if pointInPolygon(p, poly) {
				return true
			}
		}
	case orb.LineString:
		return lineIntersectsPolygon(v, poly)
	case orb.MultiLineString:
		for _, ls := range v {
			if Intersects(ls, poly) {
				return true
			}
		}
	case orb.Ring:
		return polygonsIntersect(orb.Polygon{v}, poly)
	case orb.Polygon:
		return polygonsIntersect(v, poly)
	case orb.MultiPolygon:
		for _, p := range v {
			if Intersects(p, poly) {
				return true
			}
		}
	case orb.Collection:
		for _, m := range v {
			if Intersects(m, poly) {
				return true
			}
		}
	case orb.Bound:
		return polygonsIntersect(v.ToPolygon(), poly)
	}
	return false
}

func polygonsIntersect(a, b orb.Polygon) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	for _, p := range a[0] {
		if pointInPolygon(p, b) {
			return true
		}
	}
	for _, p := range b[0] {
		if pointInPolygon(p, a) {
			return true
		}
	}
	// Edge crossings catch the remaining cases: overlap with no contained
	// vertex, and pure boundary touch.
	for _, ra := range a {
		for _, rb := range b {
			if ringsCross(ra, rb) {
				return true
			}
		}
	}
	return false
}

func lineIntersectsPolygon(ls orb.LineString, poly orb.Polygon) bool {
	for _, p := range ls {
		if pointInPolygon(p, poly) {
			return true
		}
	}
	for i := 0; i+1 < len(ls); i++ {
		for _, ring := range poly {
			for j := 0; j+1 < len(ring); j++ {
				if segmentsIntersect(ls[i], ls[i+1], ring[j], ring[j+1]) {
					return true
				}
			}
		}
	}
	return false
}

// pointInPolygon is inclusive of every ring boundary. A point on a hole's
// edge is on the polygon's boundary and therefore intersects it, even though
// the hole interior does not.
func pointInPolygon(p orb.Point, poly orb.Polygon) bool {
	for _, ring := range poly {
		for i := 0; i+1 < len(ring); i++ {
			if onSegment(ring[i], ring[i+1], p) {
				return true
			}
		}
	}
	return planar.PolygonContains(poly, p)
}

func ringsCross(a, b orb.Ring) bool {
	for i := 0; i+1 < len(a); i++ {
		for j := 0; j+1 < len(b); j++ {
			if segmentsIntersect(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

// segmentsIntersect is the classical orientation test, endpoints inclusive.
func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	o1 := orient(p1, p2, q1)
	o2 := orient(p1, p2, q2)
	o3 := orient(q1, q2, p1)
	o4 := orient(q1, q2, p2)

	if o1 != o2 && o3 != o4 {
		return true
	}
	if o1 == 0 && onSegment(p1, p2, q1) {
		return true
	}
	if o2 == 0 && onSegment(p1, p2, q2) {
		return true
	}
	if o3 == 0 && onSegment(q1, q2, p1) {
		return true
	}
	if o4 == 0 && onSegment(q1, q2, p2) {
		return true
	}
	return false
}

// orient returns the sign of the cross product (b-a) x (c-a).
func orient(a, b, c orb.Point) int {
	v := (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// onSegment reports whether p lies on the closed segment ab, assuming the
// three points are collinear or nearly so.
func onSegment(a, b, p orb.Point) bool {
	if orient(a, b, p) != 0 {
		return false
	}
	return min(a[0], b[0]) <= p[0] && p[0] <= max(a[0], b[0]) &&
		min(a[1], b[1]) <= p[1] && p[1] <= max(a[1], b[1])
}
