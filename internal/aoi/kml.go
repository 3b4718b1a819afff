package aoi

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// KML carries coordinates in WGS84 by format definition.
const kmlSRID = 4326

type kmlRoot struct {
	XMLName  xml.Name    `xml:"kml"`
	Document kmlDocument `xml:"Document"`
}

type kmlDocument struct {
	Name       string         `xml:"name"`
	Folders    []kmlFolder    `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlFolder struct {
	Name       string         `xml:"name"`
	Folders    []kmlFolder    `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name          string            `xml:"name"`
	Point         *kmlPoint         `xml:"Point"`
	LineString    *kmlLineString    `xml:"LineString"`
	Polygon       *kmlPolygon       `xml:"Polygon"`
	MultiGeometry *kmlMultiGeometry `xml:"MultiGeometry"`
}

type kmlPoint struct {
	Coordinates string `xml:"coordinates"`
}

type kmlLineString struct {
	Coordinates string `xml:"coordinates"`
}

type kmlPolygon struct {
	OuterBoundary kmlBoundary   `xml:"outerBoundaryIs"`
	InnerBoundary []kmlBoundary `xml:"innerBoundaryIs"`
}

type kmlBoundary struct {
	LinearRing kmlLinearRing `xml:"LinearRing"`
}

type kmlLinearRing struct {
	Coordinates string `xml:"coordinates"`
}

type kmlMultiGeometry struct {
	Points      []kmlPoint      `xml:"Point"`
	LineStrings []kmlLineString `xml:"LineString"`
	Polygons    []kmlPolygon    `xml:"Polygon"`
}

// ParseKML reads a KML document and builds a region from its polygon
// placemarks. Point or line placemarks fail the load: the region accepts
// polygonal geometry only.
func ParseKML(r io.Reader, source string) (*AreaOfInterest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &InvalidGeometryError{Source: source, Reason: "read: " + err.Error()}
	}
	var root kmlRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, &InvalidGeometryError{Source: source, Reason: "parse kml: " + err.Error()}
	}

	var parts []orb.Polygon
	for _, pm := range collectPlacemarks(root.Document) {
		if pm.Point != nil || pm.LineString != nil {
			return nil, &InvalidGeometryError{
				Source: source,
				Reason: fmt.Sprintf("placemark %q: non-polygonal geometry", pm.Name),
			}
		}
		if pm.Polygon != nil {
			p, err := parseKMLPolygon(*pm.Polygon, source)
			if err != nil {
				return nil, err
			}
			parts = append(parts, p)
		}
		if pm.MultiGeometry != nil {
			if len(pm.MultiGeometry.Points) > 0 || len(pm.MultiGeometry.LineStrings) > 0 {
				return nil, &InvalidGeometryError{
					Source: source,
					Reason: fmt.Sprintf("placemark %q: non-polygonal geometry", pm.Name),
				}
			}
			for _, poly := range pm.MultiGeometry.Polygons {
				p, err := parseKMLPolygon(poly, source)
				if err != nil {
					return nil, err
				}
				parts = append(parts, p)
			}
		}
	}
	return New(parts, kmlSRID, source)
}

func collectPlacemarks(doc kmlDocument) []kmlPlacemark {
	out := append([]kmlPlacemark(nil), doc.Placemarks...)
	var walk func(f kmlFolder)
	walk = func(f kmlFolder) {
		out = append(out, f.Placemarks...)
		for _, sub := range f.Folders {
			walk(sub)
		}
	}
	for _, f := range doc.Folders {
		walk(f)
	}
	return out
}

func parseKMLPolygon(poly kmlPolygon, source string) (orb.Polygon, error) {
	outer, err := parseKMLRing(poly.OuterBoundary.LinearRing.Coordinates, source)
	if err != nil {
		return nil, err
	}
	p := orb.Polygon{outer}
	for _, inner := range poly.InnerBoundary {
		ring, err := parseKMLRing(inner.LinearRing.Coordinates, source)
		if err != nil {
			return nil, err
		}
		p = append(p, ring)
	}
	return p, nil
}

// parseKMLRing parses a whitespace-separated "lon,lat[,alt]" coordinate
// list. Altitude is dropped. An unclosed ring is closed.
func parseKMLRing(coords, source string) (orb.Ring, error) {
	var ring orb.Ring
	for _, tuple := range strings.Fields(coords) {
		fields := strings.Split(tuple, ",")
		if len(fields) < 2 {
			return nil, &InvalidGeometryError{Source: source, Reason: "malformed coordinate tuple " + tuple}
		}
		x, errX := strconv.ParseFloat(fields[0], 64)
		y, errY := strconv.ParseFloat(fields[1], 64)
		if errX != nil || errY != nil {
			return nil, &InvalidGeometryError{Source: source, Reason: "malformed coordinate tuple " + tuple}
		}
		ring = append(ring, orb.Point{x, y})
	}
	if len(ring) < 3 {
		return nil, &InvalidGeometryError{Source: source, Reason: "ring with fewer than 3 points"}
	}
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return ring, nil
}
