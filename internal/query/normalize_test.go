package query

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/spatialq/aoiquery/internal/core/model"
	"github.com/spatialq/aoiquery/internal/geo"
)

func mustHex(t *testing.T, g orb.Geometry) string {
	t.Helper()
	h, err := geo.EncodeHexWKB(g)
	if err != nil {
		t.Fatalf("encode geometry: %v", err)
	}
	return h
}

func TestNormalizerDedupByPrimaryKey(t *testing.T) {
	n := NewNormalizer(testCap(true))
	rows := []model.Row{
		testRow(t, 1, "first", square(0, 0, 1, 1)),
		testRow(t, 1, "second", square(5, 5, 6, 6)),
		testRow(t, 2, "kept", square(0, 0, 1, 1)),
	}

	fc, skipped := n.Collection(rows)
	if skipped != 0 {
		t.Fatalf("skipped = %d", skipped)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("features = %d, want 2", len(fc.Features))
	}
	if fc.Features[0].Properties["name"] != "first" {
		t.Errorf("first occurrence should win, got %v", fc.Features[0].Properties["name"])
	}
	if fc.Features[1].ID != 2 {
		t.Errorf("feature id = %v, want 2", fc.Features[1].ID)
	}
}

func TestNormalizerDistinctKeysEqualGeometry(t *testing.T) {
	// Same shape under different keys is two features, not a duplicate.
	n := NewNormalizer(testCap(true))
	rows := []model.Row{
		testRow(t, 1, "a", square(0, 0, 1, 1)),
		testRow(t, 2, "b", square(0, 0, 1, 1)),
	}
	fc, _ := n.Collection(rows)
	if len(fc.Features) != 2 {
		t.Fatalf("features = %d, want 2", len(fc.Features))
	}
}

func TestNormalizerGeometryIdentityFallback(t *testing.T) {
	cp := testCap(true)
	cp.PrimaryKey = nil
	n := NewNormalizer(cp)
	rows := []model.Row{
		testRow(t, 1, "a", square(0, 0, 1, 1)),
		testRow(t, 2, "b", square(0, 0, 1, 1)),
		testRow(t, 3, "c", square(5, 5, 6, 6)),
	}
	fc, _ := n.Collection(rows)
	if len(fc.Features) != 2 {
		t.Fatalf("features = %d, want 2 (geometry identity)", len(fc.Features))
	}
	if fc.Features[0].ID != nil {
		t.Errorf("no primary key, id should be unset, got %v", fc.Features[0].ID)
	}
}

func TestNormalizerIncompletePrimaryKey(t *testing.T) {
	// A row with a nil key column keys on geometry instead of colliding on
	// the gap with every other incomplete row.
	n := NewNormalizer(testCap(true))
	rows := []model.Row{
		{"id": nil, "name": "x", "geom": mustHex(t, square(0, 0, 1, 1))},
		{"id": nil, "name": "y", "geom": mustHex(t, square(5, 5, 6, 6))},
	}
	fc, _ := n.Collection(rows)
	if len(fc.Features) != 2 {
		t.Fatalf("features = %d, want 2", len(fc.Features))
	}
}

func TestNormalizerUniformProperties(t *testing.T) {
	n := NewNormalizer(testCap(true))
	rows := []model.Row{
		{"id": 7, "geom": mustHex(t, square(0, 0, 1, 1))}, // name missing
	}
	fc, _ := n.Collection(rows)
	if len(fc.Features) != 1 {
		t.Fatalf("features = %d", len(fc.Features))
	}
	f := fc.Features[0]
	if _, ok := f.Properties["name"]; !ok {
		t.Error("missing column should still appear in properties")
	}
	if f.Properties["name"] != nil {
		t.Errorf("name = %v, want nil", f.Properties["name"])
	}
	if _, ok := f.Properties["geom"]; ok {
		t.Error("geometry column must not leak into properties")
	}
	if f.ID != 7 {
		t.Errorf("id = %v, want 7", f.ID)
	}
}

func TestNormalizerSkipsBadGeometry(t *testing.T) {
	n := NewNormalizer(testCap(true))
	rows := []model.Row{
		testRow(t, 1, "good", square(0, 0, 1, 1)),
		{"id": 2, "name": "no geom"},
		{"id": 3, "name": "bad hex", "geom": "zz"},
		{"id": 4, "name": "empty", "geom": ""},
		testRow(t, 5, "also good", square(5, 5, 6, 6)),
	}
	fc, skipped := n.Collection(rows)
	if skipped != 3 {
		t.Fatalf("skipped = %d, want 3", skipped)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("features = %d, want 2", len(fc.Features))
	}
	if fc.Features[0].ID != 1 || fc.Features[1].ID != 5 {
		t.Errorf("order not preserved: %v, %v", fc.Features[0].ID, fc.Features[1].ID)
	}
}

func TestNormalizerBytesGeometry(t *testing.T) {
	n := NewNormalizer(testCap(true))
	rows := []model.Row{
		{"id": 1, "name": "bytes", "geom": []byte(mustHex(t, square(0, 0, 1, 1)))},
	}
	fc, skipped := n.Collection(rows)
	if skipped != 0 || len(fc.Features) != 1 {
		t.Fatalf("features = %d, skipped = %d", len(fc.Features), skipped)
	}
}
