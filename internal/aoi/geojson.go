package aoi

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// GeoJSON coordinates are WGS84 per RFC 7946.
const geoJSONSRID = 4326

// ParseGeoJSON builds a region from a GeoJSON document: a FeatureCollection,
// a single Feature, or a bare geometry. Only polygonal members are accepted.
func ParseGeoJSON(data []byte, source string) (*AreaOfInterest, error) {
	return ParseGeoJSONSRID(data, geoJSONSRID, source)
}

// ParseGeoJSONSRID parses the same document shapes with an explicit SRID,
// the form inline loads use. GeoJSON on disk or over HTTP is WGS84 by
// definition; a caller handing coordinates directly may know better.
func ParseGeoJSONSRID(data []byte, srid int, source string) (*AreaOfInterest, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil {
		return FromFeatureCollection(fc, srid, source)
	}
	if f, err := geojson.UnmarshalFeature(data); err == nil {
		return FromGeometry(f.Geometry, srid, source)
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, &InvalidGeometryError{Source: source, Reason: "parse geojson: " + err.Error()}
	}
	return FromGeometry(g.Geometry(), srid, source)
}

// FromFeatureCollection builds a region from an already-decoded collection,
// the shape the load endpoint accepts inline.
func FromFeatureCollection(fc *geojson.FeatureCollection, srid int, source string) (*AreaOfInterest, error) {
	parts, err := collectionParts(fc, source)
	if err != nil {
		return nil, err
	}
	return New(parts, srid, source)
}

func collectionParts(fc *geojson.FeatureCollection, source string) ([]orb.Polygon, error) {
	var parts []orb.Polygon
	for _, f := range fc.Features {
		p, err := polygonParts(f.Geometry, source)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p...)
	}
	return parts, nil
}
