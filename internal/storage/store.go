// Package storage persists daily bars, volume events and feed ticks with GORM.
//
// Bars are written only by ingest. The rules engine reads bars and events and
// writes only to the events table: an event row is created once per
// (symbol, date) and afterwards only its NULL forward-return columns change.
package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds database connection settings
type Config struct {
	DSN             string        `yaml:"dsn" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" default:"10" validate:"gte=1"`
	MaxIdleConns    int           `yaml:"max_idle_conns" default:"5" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"5m"`
}

// Store is the relational persistence layer
type Store struct {
	db *gorm.DB
}

// Open connects to MySQL. The DSN must carry parseTime=true.
func Open(cfg Config) (*Store, error) {
	return OpenDialector(mysql.Open(cfg.DSN), cfg)
}

// OpenDialector connects through any GORM dialector
func OpenDialector(d gorm.Dialector, cfg Config) (*Store, error) {
	db, err := gorm.Open(d, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, WrapDBError("open", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, WrapDBError("open", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, WrapDBError("ping", err)
	}

	return &Store{db: db}, nil
}

// Migrate creates or updates the tables
func (s *Store) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(&BarRecord{}, &EventRecord{}, &TickRecord{})
	return WrapDBError("migrate", err)
}

// Ping checks the connection is alive
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return WrapDBError("ping", err)
	}
	return WrapDBError("ping", sqlDB.PingContext(ctx))
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) String() string {
	return fmt.Sprintf("storage(%s)", s.db.Dialector.Name())
}
