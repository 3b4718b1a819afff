package pgstore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/spatialq/aoiquery/internal/core/model"
	"github.com/spatialq/aoiquery/internal/core/observability"
)

// IntersectServer evaluates the predicate in the database and returns the
// matching rows, geometry hex-encoded. One bind argument per AOI part.
func (s *Store) IntersectServer(ctx context.Context, cp model.Capability, partsHex []string, aoiSRID int, filter string) ([]model.Row, error) {
	q, err := intersectSQL(cp, len(partsHex), aoiSRID)
	if err != nil {
		return nil, err
	}
	q = withFilter(q, filter, true)
	args := make([]any, len(partsHex))
	for i, p := range partsHex {
		args[i] = p
	}
	return s.rows(ctx, "intersect", q, args...)
}

// FetchAll returns the table's rows, optionally filtered: the client path's
// candidate set.
func (s *Store) FetchAll(ctx context.Context, cp model.Capability, filter string) ([]model.Row, error) {
	q, err := fetchSQL(cp)
	if err != nil {
		return nil, err
	}
	return s.rows(ctx, "fetch", withFilter(q, filter, false))
}

func (s *Store) raw(ctx context.Context, q string, args ...any) *gorm.DB {
	return s.db.WithContext(ctx).Raw(q, args...)
}

func (s *Store) rows(ctx context.Context, op, q string, args ...any) ([]model.Row, error) {
	start := time.Now()
	var scanned []map[string]any
	if err := s.raw(ctx, q, args...).Scan(&scanned).Error; err != nil {
		observability.ObserveDBQuery(op, "error", time.Since(start))
		return nil, classify(op, err, time.Since(start))
	}
	elapsed := time.Since(start)
	observability.ObserveDBQuery(op, "ok", elapsed)
	s.log.Debug().Str("op", op).Int("rows", len(scanned)).Dur("elapsed", elapsed).Msg("query done")

	rows := make([]model.Row, len(scanned))
	for i, m := range scanned {
		rows[i] = model.Row(m)
	}
	return rows, nil
}
