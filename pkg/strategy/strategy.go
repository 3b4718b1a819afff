// Package strategy defines the execution strategies for intersection queries.
package strategy

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Strategy int

const (
	Auto Strategy = iota
	Server
	Client
)

func Parse(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return Auto, nil
	case "server":
		return Server, nil
	case "client":
		return Client, nil
	default:
		return Auto, fmt.Errorf("unknown strategy %q (want auto|server|client)", s)
	}
}

func (s Strategy) String() string {
	switch s {
	case Server:
		return "server"
	case Client:
		return "client"
	default:
		return "auto"
	}
}

// Path is the side that actually evaluated the predicate.
type Path int

const (
	PathServer Path = iota
	PathClient
)

func (p Path) String() string {
	if p == PathClient {
		return "client"
	}
	return "server"
}

func (p Path) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Path) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "client" {
		*p = PathClient
	} else {
		*p = PathServer
	}
	return nil
}

type Reason string

const (
	ReasonProbeSupported   Reason = "probe_supported"
	ReasonProbeUnsupported Reason = "probe_unsupported"
	ReasonForcedServer     Reason = "forced_server"
	ReasonForcedClient     Reason = "forced_client"
)

// Decision records which path a query took and why.
type Decision struct {
	Path   Path   `json:"path"`
	Reason Reason `json:"reason"`
}
