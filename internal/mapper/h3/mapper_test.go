package h3mapper

import (
	"reflect"
	"sort"
	"testing"

	"github.com/paulmach/orb"
)

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

func TestCover_SortedUniqueAndDeterministic(t *testing.T) {
	m, err := New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	parts := []orb.Polygon{square(18.00, 59.32, 18.12, 59.38)}

	cells, err := m.Cover(parts)
	if err != nil {
		t.Fatalf("Cover: %v", err)
	}
	if len(cells) == 0 {
		t.Fatalf("expected non-empty cover")
	}
	if !sort.StringsAreSorted(cells) {
		t.Fatalf("cells must be sorted")
	}
	if hasDups(cells) {
		t.Fatalf("cells must be de-duplicated")
	}

	again, err := m.Cover(parts)
	if err != nil {
		t.Fatalf("Cover second call: %v", err)
	}
	if !reflect.DeepEqual(cells, again) {
		t.Fatalf("expected identical output for identical input")
	}
}

func TestCover_MultiPartUnion(t *testing.T) {
	m, err := New(7)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a := square(18.00, 59.30, 18.10, 59.36)
	b := square(17.60, 59.10, 17.70, 59.16)

	ca, err := m.Cover([]orb.Polygon{a})
	if err != nil {
		t.Fatalf("Cover a: %v", err)
	}
	cb, err := m.Cover([]orb.Polygon{b})
	if err != nil {
		t.Fatalf("Cover b: %v", err)
	}
	both, err := m.Cover([]orb.Polygon{a, b})
	if err != nil {
		t.Fatalf("Cover union: %v", err)
	}
	if hasDups(both) || !sort.StringsAreSorted(both) {
		t.Fatalf("union cover must stay sorted + unique")
	}
	inUnion := map[string]struct{}{}
	for _, c := range both {
		inUnion[c] = struct{}{}
	}
	for _, c := range append(append([]string{}, ca...), cb...) {
		if _, ok := inUnion[c]; !ok {
			t.Fatalf("union missing cell %s from a part's own cover", c)
		}
	}
}

func TestCover_HoleShrinksCover(t *testing.T) {
	m, err := New(9)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	solid := square(18.00, 59.30, 18.20, 59.40)
	holed := orb.Polygon{
		solid[0],
		{{18.05, 59.33}, {18.15, 59.33}, {18.15, 59.37}, {18.05, 59.37}, {18.05, 59.33}},
	}

	full, err := m.Cover([]orb.Polygon{solid})
	if err != nil {
		t.Fatalf("Cover solid: %v", err)
	}
	punched, err := m.Cover([]orb.Polygon{holed})
	if err != nil {
		t.Fatalf("Cover holed: %v", err)
	}
	if len(punched) >= len(full) {
		t.Fatalf("hole did not shrink cover: %d vs %d", len(punched), len(full))
	}
}

func TestNew_ResolutionBounds(t *testing.T) {
	for _, bad := range []int{-1, 16} {
		if _, err := New(bad); err == nil {
			t.Errorf("New(%d): expected error", bad)
		}
	}
	for _, ok := range []int{0, 8, 15} {
		if _, err := New(ok); err != nil {
			t.Errorf("New(%d): %v", ok, err)
		}
	}
}

func TestCover_DegenerateInputs(t *testing.T) {
	m, err := New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.Cover(nil); err == nil {
		t.Errorf("expected error for no parts")
	}
	if _, err := m.Cover([]orb.Polygon{{}}); err == nil {
		t.Errorf("expected error for empty part")
	}
	line := orb.Polygon{{{18, 59}, {18.1, 59}, {18, 59}}}
	if _, err := m.Cover([]orb.Polygon{line}); err == nil {
		t.Errorf("expected error for 2-vertex ring")
	}
}

func hasDups(s []string) bool {
	seen := map[string]struct{}{}
	for _, v := range s {
		if _, ok := seen[v]; ok {
			return true
		}
		seen[v] = struct{}{}
	}
	return false
}
