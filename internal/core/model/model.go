// Package model defines core domain types shared across the service.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TableRef identifies a spatial table or view, optionally schema-qualified.
// The zero Schema means the search path decides.
type TableRef struct {
	Schema string
	Name   string
}

// ParseTableRef parses "name" or "schema.name". Identifiers are folded to
// lower case, matching how postgres folds unquoted identifiers. Identifiers
// are validated strictly because they are spliced into SQL text; bind
// parameters cannot carry them.
func ParseTableRef(s string) (TableRef, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return TableRef{}, fmt.Errorf("empty table reference")
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return TableRef{}, fmt.Errorf("table reference %q: at most one schema qualifier", s)
	}
	for _, p := range parts {
		if !validIdent(p) {
			return TableRef{}, fmt.Errorf("table reference %q: invalid identifier %q", s, p)
		}
	}
	if len(parts) == 2 {
		return TableRef{Schema: parts[0], Name: parts[1]}, nil
	}
	return TableRef{Name: parts[0]}, nil
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (t TableRef) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// SchemaOr returns the schema, or def when unqualified.
func (t TableRef) SchemaOr(def string) string {
	if t.Schema == "" {
		return def
	}
	return t.Schema
}

func (t TableRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TableRef) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	ref, err := ParseTableRef(s)
	if err != nil {
		return err
	}
	*t = ref
	return nil
}

// RelationKind distinguishes tables from views in metadata probes.
type RelationKind string

const (
	RelationTable RelationKind = "table"
	RelationView  RelationKind = "view"
)

// Capability is the outcome of probing a table for server-side relate
// support. Besides the verdict it carries the metadata facts the executor
// needs on either path, so a probe is never repeated within one query.
type Capability struct {
	Table     TableRef     `json:"table"`
	Kind      RelationKind `json:"kind"`
	Supported bool         `json:"supported"`
	Reason    string       `json:"reason"`

	GeomColumn string `json:"geometry_column,omitempty"`
	GeomType   string `json:"geometry_type,omitempty"`
	SRID       int    `json:"srid,omitempty"`

	// Columns holds the attribute columns in dictionary order, geometry
	// column excluded. PrimaryKey is empty when the table has no usable key.
	Columns    []string `json:"columns,omitempty"`
	PrimaryKey []string `json:"primary_key,omitempty"`
}

// Probe reasons surfaced in Capability.Reason.
const (
	ReasonSpatialIndex   = "spatial index present"
	ReasonNoGeomColumn   = "no registered geometry column"
	ReasonNoSpatialIndex = "no spatial index"
)

// Row is one database row keyed by column name. Geometry travels
// hex-encoded WKB under the geometry column until the normalizer decodes it.
type Row map[string]any
