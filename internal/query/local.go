package query

import (
	"context"
	"sync"

	"github.com/spatialq/aoiquery/internal/aoi"
	"github.com/spatialq/aoiquery/internal/core/model"
	"github.com/spatialq/aoiquery/internal/geo"
)

type verdict struct {
	idx       int
	keep      bool
	malformed bool
}

// evaluateLocal runs the client-path predicate over the candidate rows with
// a bounded worker pool. A candidate that fails to decode is skipped and
// counted, never fatal here; the caller applies the quality limit. Matched
// rows come back in fetch order.
func (e *Executor) evaluateLocal(ctx context.Context, cp model.Capability, rows []model.Row, area *aoi.AreaOfInterest) (matched []model.Row, malformed int, err error) {
	if len(rows) == 0 {
		return nil, 0, nil
	}

	workerN := e.cfg.Workers
	if workerN <= 0 {
		workerN = defaultWorkers
	}
	if workerN > len(rows) {
		workerN = len(rows)
	}

	jobs := make(chan int, workerN)
	results := make(chan verdict, len(rows))

	var wg sync.WaitGroup
	wg.Add(workerN)
	for w := 0; w < workerN; w++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				raw, ok := rawGeometry(rows[idx], cp.GeomColumn)
				if !ok {
					results <- verdict{idx: idx, malformed: true}
					continue
				}
				g, derr := geo.DecodeHexWKB(raw)
				if derr != nil {
					results <- verdict{idx: idx, malformed: true}
					continue
				}
				results <- verdict{idx: idx, keep: geo.IntersectsAny(g, area.Parts)}
			}
		}()
	}

	for i := range rows {
		select {
		case jobs <- i:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, 0, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	keep := make([]bool, len(rows))
	for v := range results {
		switch {
		case v.malformed:
			malformed++
		case v.keep:
			keep[v.idx] = true
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	for i, row := range rows {
		if keep[i] {
			matched = append(matched, row)
		}
	}
	return matched, malformed, nil
}
