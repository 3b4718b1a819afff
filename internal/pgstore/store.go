// Package pgstore is the database collaborator. It owns the connection
// pool, the metadata probes, and the two query shapes the executor needs:
// the in-database predicate and the bulk fetch. Errors leave this package
// already classified into the service taxonomy.
package pgstore

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/spatialq/aoiquery/internal/core/config"
)

type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open connects the pool and verifies it with a ping.
func Open(ctx context.Context, cfg config.DatabaseCfg, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, &ConnectionError{Op: "open", Err: err}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, &ConnectionError{Op: "open", Err: err}
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, log: log}
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}
	log.Info().Int("max_open", cfg.MaxOpenConns).Msg("database pool open")
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &ConnectionError{Op: "ping", Err: err}
	}
	start := time.Now()
	if err := sqlDB.PingContext(ctx); err != nil {
		return classify("ping", err, time.Since(start))
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
