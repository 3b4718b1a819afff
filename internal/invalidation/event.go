// Package invalidation defines the change events that expire cached
// intersection results and probe verdicts.
package invalidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/spatialq/aoiquery/internal/core/model"
)

const (
	// OpSchema announces a DDL change: columns, indexes or the geometry
	// registration moved, so the probe verdict is stale too.
	OpSchema = "schema"
	// OpData announces row changes; only cached results go stale.
	OpData = "data"
)

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Schema  string    `json:"schema,omitempty"`
	Table   string    `json:"table"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpSchema, OpData:
	default:
		return fmt.Errorf("op must be schema|data")
	}
	if strings.TrimSpace(e.Table) == "" {
		return fmt.Errorf("table is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if _, err := e.Ref(); err != nil {
		return err
	}
	return nil
}

// Ref resolves the event's target through the same identifier rules queries
// use, so a malformed name in a message can never reach Redis or the probe
// cache in a different spelling than queries would.
func (e Event) Ref() (model.TableRef, error) {
	name := strings.TrimSpace(e.Table)
	if s := strings.TrimSpace(e.Schema); s != "" && !strings.Contains(name, ".") {
		name = s + "." + name
	}
	ref, err := model.ParseTableRef(name)
	if err != nil {
		return model.TableRef{}, fmt.Errorf("table: %w", err)
	}
	return ref, nil
}
