package pgstore

import (
	"context"
	"strings"

	"github.com/spatialq/aoiquery/internal/core/model"
)

// defaultSchema resolves unqualified table references.
const defaultSchema = "public"

// Relation reports whether the reference names a table or a view. A missing
// relation is TableNotFoundError, matching what a caller typo looks like.
func (s *Store) Relation(ctx context.Context, t model.TableRef) (model.RelationKind, error) {
	const q = `SELECT table_type FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?`

	var tableType string
	res := s.raw(ctx, q, t.SchemaOr(defaultSchema), t.Name).Scan(&tableType)
	if res.Error != nil {
		return "", classify("relation probe", res.Error, 0)
	}
	if res.RowsAffected == 0 {
		return "", &TableNotFoundError{Table: t}
	}
	if strings.EqualFold(tableType, "VIEW") {
		return model.RelationView, nil
	}
	return model.RelationTable, nil
}

// SpatialColumn looks the table up in geometry_columns. ok is false when no
// geometry column is registered; that is a probe fact, not an error.
func (s *Store) SpatialColumn(ctx context.Context, t model.TableRef) (col, geomType string, srid int, ok bool, err error) {
	const q = `SELECT f_geometry_column AS col, coalesce(type, '') AS geom_type, coalesce(srid, 0) AS srid
		FROM geometry_columns
		WHERE f_table_schema = ? AND f_table_name = ?
		ORDER BY f_geometry_column
		LIMIT 1`

	var row struct {
		Col      string
		GeomType string
		Srid     int
	}
	res := s.raw(ctx, q, t.SchemaOr(defaultSchema), t.Name).Scan(&row)
	if res.Error != nil {
		return "", "", 0, false, classify("geometry column probe", res.Error, 0)
	}
	if res.RowsAffected == 0 || row.Col == "" {
		return "", "", 0, false, nil
	}
	return row.Col, row.GeomType, row.Srid, true, nil
}

// HasSpatialIndex scans pg_indexes for a GiST index covering the geometry
// column. Views carry no indexes, so they come back false.
func (s *Store) HasSpatialIndex(ctx context.Context, t model.TableRef, geomCol string) (bool, error) {
	const q = `SELECT indexdef FROM pg_indexes WHERE schemaname = ? AND tablename = ?`

	var defs []string
	res := s.raw(ctx, q, t.SchemaOr(defaultSchema), t.Name).Scan(&defs)
	if res.Error != nil {
		return false, classify("index probe", res.Error, 0)
	}
	needle := strings.ToLower(geomCol)
	for _, def := range defs {
		low := strings.ToLower(def)
		if strings.Contains(low, "using gist") && strings.Contains(low, needle) {
			return true, nil
		}
	}
	return false, nil
}

// Columns returns the attribute columns in dictionary order. Geometry-typed
// columns are excluded; their payload travels separately as WKB.
func (s *Store) Columns(ctx context.Context, t model.TableRef) ([]string, error) {
	const q = `SELECT column_name FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		AND udt_name NOT IN ('geometry', 'geography')
		ORDER BY ordinal_position`

	var cols []string
	res := s.raw(ctx, q, t.SchemaOr(defaultSchema), t.Name).Scan(&cols)
	if res.Error != nil {
		return nil, classify("column probe", res.Error, 0)
	}
	return cols, nil
}

// PrimaryKey returns the primary key columns in key order, empty when the
// relation has none. Views never do.
func (s *Store) PrimaryKey(ctx context.Context, t model.TableRef) ([]string, error) {
	const q = `SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = ? AND tc.table_name = ?
		ORDER BY kcu.ordinal_position`

	var cols []string
	res := s.raw(ctx, q, t.SchemaOr(defaultSchema), t.Name).Scan(&cols)
	if res.Error != nil {
		return nil, classify("primary key probe", res.Error, 0)
	}
	return cols, nil
}
