// Package cache stores finished intersection results keyed by table version,
// AOI fingerprint and filter, so invalidating a table is a counter bump
// rather than a key scan.
package cache

import (
	"context"
	"time"

	"github.com/spatialq/aoiquery/internal/cache/keys"
	"github.com/spatialq/aoiquery/internal/cache/redisstore"
)

type ResultCache interface {
	GetResult(ctx context.Context, key string) ([]byte, bool, error)
	PutResult(ctx context.Context, key string, body []byte, ttl time.Duration) error

	// TableVersion is the table's current invalidation counter, zero for a
	// table that has never been invalidated.
	TableVersion(ctx context.Context, table string) (int64, error)
	BumpTableVersion(ctx context.Context, table string) (int64, error)
}

type redisResultCache struct {
	cli        *redisstore.Client
	defaultTTL time.Duration
}

func NewRedisCache(cli *redisstore.Client, defaultTTL time.Duration) ResultCache {
	return &redisResultCache{cli: cli, defaultTTL: defaultTTL}
}

func (s *redisResultCache) GetResult(ctx context.Context, key string) ([]byte, bool, error) {
	return s.cli.Get(ctx, key)
}

func (s *redisResultCache) PutResult(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	t := ttl
	if t <= 0 {
		t = s.defaultTTL
	}
	return s.cli.Set(ctx, key, body, t)
}

func (s *redisResultCache) TableVersion(ctx context.Context, table string) (int64, error) {
	return s.cli.GetInt64(ctx, keys.Version(table))
}

func (s *redisResultCache) BumpTableVersion(ctx context.Context, table string) (int64, error) {
	return s.cli.Incr(ctx, keys.Version(table))
}
