// Package geo holds the geometry codec, content hashing, and the local
// spatial predicate shared by the client execution path.
package geo

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// DecodeHexWKB decodes a postgres hex-encoded WKB value into a geometry.
func DecodeHexWKB(s string) (orb.Geometry, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode hex wkb: %w", err)
	}
	g, err := wkb.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal wkb: %w", err)
	}
	return g, nil
}

// EncodeHexWKB encodes a geometry as hex WKB for binding into SQL.
func EncodeHexWKB(g orb.Geometry) (string, error) {
	raw, err := wkb.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("marshal wkb: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Hash returns a content hash of a geometry. It is the feature identity of
// last resort, used when a table exposes no primary key.
func Hash(g orb.Geometry) uint64 {
	raw, err := wkb.Marshal(g)
	if err != nil {
		return xxhash.Sum64String(fmt.Sprintf("%#v", g))
	}
	return xxhash.Sum64(raw)
}

// HashKey formats Hash for dedup maps and cache keys.
func HashKey(g orb.Geometry) string {
	return strconv.FormatUint(Hash(g), 16)
}

// Fingerprint hashes a polygon set together with its SRID. Equal regions
// produce equal fingerprints regardless of which source they were loaded
// from, which is what makes cached results reusable across reloads.
func Fingerprint(srid int, parts []orb.Polygon) string {
	d := xxhash.New()
	fmt.Fprintf(d, "srid=%d|n=%d|", srid, len(parts))
	for _, p := range parts {
		raw, err := wkb.Marshal(p)
		if err != nil {
			fmt.Fprintf(d, "%#v", p)
			continue
		}
		_, _ = d.Write(raw)
	}
	return fmt.Sprintf("%016x", d.Sum64())
}
