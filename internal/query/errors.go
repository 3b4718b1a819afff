package query

import (
	"fmt"

	"github.com/spatialq/aoiquery/internal/core/model"
	"github.com/spatialq/aoiquery/pkg/strategy"
)

// UnsupportedStrategyError reports a strategy the table cannot satisfy:
// SERVER forced against a negative probe, or any path against a relation
// with no geometry column. There is no silent fallback.
type UnsupportedStrategyError struct {
	Table    model.TableRef
	Strategy strategy.Strategy
	Reason   string
}

func (e *UnsupportedStrategyError) Error() string {
	return fmt.Sprintf("strategy %s unsupported for %s: %s", e.Strategy, e.Table, e.Reason)
}

// DataQualityError reports a candidate set whose malformed fraction
// exceeded the configured limit. No partial result accompanies it: past the
// limit, a partial answer is a wrong answer.
type DataQualityError struct {
	Table     model.TableRef
	Malformed int
	Total     int
	Limit     float64
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("%s: %d of %d candidate geometries malformed, over the %.0f%% limit",
		e.Table, e.Malformed, e.Total, e.Limit*100)
}
