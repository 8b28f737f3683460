// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db"
)

// Config holds SQL database connection configuration.
// This is shared between PostgreSQL and MySQL/Vitess.
type Config struct {
	DSN    string
	Driver db.Driver

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// ConfigFrom converts the generic db.Config.
func ConfigFrom(cfg db.Config) Config {
	return Config{
		DSN:             cfg.DSN,
		Driver:          cfg.Driver,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTime) * time.Second,
	}
}

// applyPool sets pool limits on sqlDB, falling back to db.DefaultConfig values.
func applyPool(sqlDB *sql.DB, cfg Config) {
	defaults := ConfigFrom(db.DefaultConfig(cfg.Driver))

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaults.MaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaults.MaxIdleConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
}

// Store is a dialect-aware SQL database implementation of db.RequestStore
// and db.FileStore. It provides the shared implementation for both
// PostgreSQL and MySQL/Vitess.
type Store struct {
	db      *sql.DB
	dialect Dialect
	config  Config
	now     func() time.Time
}

// NewStore wraps an already opened *sql.DB.
func NewStore(sqlDB *sql.DB, dialect Dialect, config Config) *Store {
	return &Store{
		db:      sqlDB,
		dialect: dialect,
		config:  config,
		now:     time.Now,
	}
}

// Open opens a database connection and returns a configured Store.
func Open(driverName string, dialect Dialect, cfg Config) (*Store, error) {
	sqlDB, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return OpenDB(sqlDB, dialect, cfg)
}

// OpenDB configures the pool on sqlDB, verifies connectivity and returns a Store.
func OpenDB(sqlDB *sql.DB, dialect Dialect, cfg Config) (*Store, error) {
	applyPool(sqlDB, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewStore(sqlDB, dialect, cfg), nil
}

// DB returns the underlying *sql.DB for direct access if needed.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the dialect used by this store.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================================================
// Query Helpers
// ============================================================================

// Query executes a query with dialect-aware placeholder conversion.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.ReplacePlaceholders(query), args...)
}

// QueryRow executes a query that returns a single row.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.ReplacePlaceholders(query), args...)
}

// Exec executes a query that doesn't return rows.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.ReplacePlaceholders(query), args...)
}
