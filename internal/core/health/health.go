// Package health serves the liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Check is one named readiness probe. Probe returns nil when the
// dependency can serve.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Readiness runs every check and reports per-check status. Any failing
// check makes the whole endpoint 503.
func Readiness(checks ...Check) http.HandlerFunc {
	type item struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		out := struct {
			Status string          `json:"status"`
			Checks map[string]item `json:"checks,omitempty"`
		}{Status: "ready"}
		if len(checks) > 0 {
			out.Checks = make(map[string]item, len(checks))
		}
		for _, c := range checks {
			if err := c.Probe(r.Context()); err != nil {
				out.Status = "not_ready"
				out.Checks[c.Name] = item{Status: "down", Error: err.Error()}
			} else {
				out.Checks[c.Name] = item{Status: "up"}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
