// Package metricswrap wraps the hotness tracker with Prometheus gauge
// updates and hot-key logging.
package metricswrap

import (
	"github.com/rs/zerolog"

	"github.com/spatialq/aoiquery/internal/core/observability"
	"github.com/spatialq/aoiquery/internal/hotness"
)

type Sizer interface{ Size() int }

type WithMetrics struct {
	inner     hotness.Interface
	threshold float64
	log       zerolog.Logger
}

var _ hotness.Interface = (*WithMetrics)(nil)

// New wraps a tracker. A positive threshold turns on the hot-key log line;
// zero disables it.
func New(inner hotness.Interface, threshold float64, log zerolog.Logger) *WithMetrics {
	return &WithMetrics{inner: inner, threshold: threshold, log: log}
}

func (w *WithMetrics) Inc(key string) {
	w.inner.Inc(key)
	if w.threshold > 0 {
		if score := w.inner.Score(key); score >= w.threshold {
			w.log.Info().
				Str("event", "hotness_threshold").
				Str("key", key).
				Float64("score", score).
				Msg("hot key above threshold")
		}
	}
	w.updateGauge()
}

func (w *WithMetrics) Score(key string) float64 {
	return w.inner.Score(key)
}

func (w *WithMetrics) Reset(keys ...string) {
	w.inner.Reset(keys...)
	w.updateGauge()
}

func (w *WithMetrics) updateGauge() {
	if s, ok := w.inner.(Sizer); ok {
		observability.SetHotKeysTracked(s.Size())
	}
}
