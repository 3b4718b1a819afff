package invalidation

import (
	"encoding/json"
	"testing"
	"time"
)

func mustTS() time.Time { return time.Date(2026, 3, 14, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate_HappyPaths(t *testing.T) {
	for _, op := range []string{OpSchema, OpData} {
		ev := Event{Version: 1, Op: op, Table: "gis.parcels", TS: mustTS()}
		if err := ev.Validate(); err != nil {
			t.Fatalf("op %s: unexpected: %v", op, err)
		}
	}
}

func TestEvent_Validate_SeparateSchemaField(t *testing.T) {
	ev := Event{Version: 1, Op: OpData, Schema: "gis", Table: "parcels", TS: mustTS()}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	ref, err := ev.Ref()
	if err != nil {
		t.Fatalf("Ref: %v", err)
	}
	if ref.String() != "gis.parcels" {
		t.Fatalf("ref = %s", ref)
	}
}

func TestEvent_Validate_Rejections(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
	}{
		{"wrong version", Event{Version: 2, Op: OpData, Table: "t", TS: mustTS()}},
		{"unknown op", Event{Version: 1, Op: "truncate", Table: "t", TS: mustTS()}},
		{"missing table", Event{Version: 1, Op: OpData, TS: mustTS()}},
		{"missing ts", Event{Version: 1, Op: OpData, Table: "t"}},
		{"unsafe table name", Event{Version: 1, Op: OpData, Table: "t; drop table x", TS: mustTS()}},
	}
	for _, c := range cases {
		if err := c.ev.Validate(); err == nil {
			t.Errorf("%s: expected error", c.name)
		}
	}
}

func TestEvent_JSONRoundTrip(t *testing.T) {
	in := Event{Version: 1, Op: OpSchema, Schema: "gis", Table: "parcels", TS: mustTS(), Source: "migrator"}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Event
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Op != in.Op || out.Schema != in.Schema || out.Table != in.Table ||
		out.Source != in.Source || !out.TS.Equal(in.TS) {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}
