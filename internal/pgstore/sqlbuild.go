package pgstore

import (
	"fmt"
	"strings"

	"github.com/spatialq/aoiquery/internal/core/model"
)

// Identifiers are validated at parse time; quoting here guards against
// keyword collisions, not injection. Bind parameters cannot carry
// identifiers, which is why they appear in the SQL text at all.
func quoteIdent(s string) string { return `"` + s + `"` }

func qualifiedTable(t model.TableRef) string {
	return quoteIdent(t.SchemaOr(defaultSchema)) + "." + quoteIdent(t.Name)
}

// selectList projects the attribute columns plus the geometry hex-encoded
// under its own column name, so both paths hand the normalizer the same row
// shape.
func selectList(cp model.Capability) string {
	cols := make([]string, 0, len(cp.Columns)+1)
	for _, c := range cp.Columns {
		cols = append(cols, quoteIdent(c))
	}
	cols = append(cols, fmt.Sprintf("encode(ST_AsBinary(%s), 'hex') AS %s",
		quoteIdent(cp.GeomColumn), quoteIdent(cp.GeomColumn)))
	return strings.Join(cols, ", ")
}

// intersectSQL builds the server-path statement: one ST_Intersects term per
// AOI part OR'd together, the attribute filter AND'd on as-is. The reference
// geometry binds as hex WKB per part; an AOI in a different CRS than the
// table is transformed inside the database.
func intersectSQL(cp model.Capability, parts, aoiSRID int) (string, error) {
	if parts < 1 {
		return "", fmt.Errorf("intersect sql: region has no parts")
	}
	if cp.GeomColumn == "" {
		return "", fmt.Errorf("intersect sql: %s has no geometry column", cp.Table)
	}
	ref := fmt.Sprintf("ST_SetSRID(ST_GeomFromWKB(decode(?, 'hex')), %d)", aoiSRID)
	if cp.SRID != 0 && aoiSRID != cp.SRID {
		ref = fmt.Sprintf("ST_Transform(%s, %d)", ref, cp.SRID)
	}
	terms := make([]string, parts)
	for i := range terms {
		terms[i] = fmt.Sprintf("ST_Intersects(%s, %s)", quoteIdent(cp.GeomColumn), ref)
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE (%s)",
		selectList(cp), qualifiedTable(cp.Table), strings.Join(terms, " OR ")), nil
}

// fetchSQL builds the client-path candidate fetch: the whole table,
// optionally narrowed by the attribute filter.
func fetchSQL(cp model.Capability) (string, error) {
	if cp.GeomColumn == "" {
		return "", fmt.Errorf("fetch sql: %s has no geometry column", cp.Table)
	}
	return fmt.Sprintf("SELECT %s FROM %s", selectList(cp), qualifiedTable(cp.Table)), nil
}

// withFilter appends the caller's attribute filter as one conjunctive
// predicate. The filter is trusted caller input in the database's own
// syntax, exactly as the definition queries it replaces were.
func withFilter(q, filter string, hasWhere bool) string {
	f := strings.TrimSpace(filter)
	if f == "" {
		return q
	}
	if hasWhere {
		return q + " AND (" + f + ")"
	}
	return q + " WHERE (" + f + ")"
}
