// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package postgres opens the metadata store on PostgreSQL or CockroachDB
// through the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db"
	dbsql "github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// applicationName shows up in pg_stat_activity and crdb_internal.node_sessions.
const applicationName = "uploader"

// Postgres is a db.DB backed by the shared SQL store with the $N dialect.
type Postgres struct {
	*dbsql.Store
	driver db.Driver
}

var _ db.DB = (*Postgres)(nil)

// connConfig parses the DSN and applies per-connection settings.
// CockroachDB is driven over the simple protocol so statements survive
// connection poolers that do not track prepared statements.
func connConfig(cfg db.Config) (*pgx.ConnConfig, error) {
	cc, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := cc.RuntimeParams["application_name"]; !ok {
		cc.RuntimeParams["application_name"] = applicationName
	}
	if cfg.Driver == db.DriverCockroach {
		cc.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	return cc, nil
}

// NewPostgres connects, sizes the pool and pings the server.
func NewPostgres(cfg db.Config) (*Postgres, error) {
	if cfg.Driver == "" {
		cfg.Driver = db.DriverPostgres
	}
	cc, err := connConfig(cfg)
	if err != nil {
		return nil, err
	}

	store, err := dbsql.OpenDB(stdlib.OpenDB(*cc), dbsql.PostgresDialect{}, dbsql.ConfigFrom(cfg))
	if err != nil {
		return nil, err
	}
	return &Postgres{Store: store, driver: cfg.Driver}, nil
}

// SqlDB exposes the pool for taskqueue.DBQueue, which shares the database.
func (p *Postgres) SqlDB() *sql.DB {
	return p.Store.DB()
}

// Migrate applies the embedded postgres scripts. CockroachDB accepts the same
// DDL.
func (p *Postgres) Migrate(ctx context.Context) error {
	m := dbsql.NewMigrator(p.Store)
	if err := m.EnsureVersionTable(ctx); err != nil {
		return err
	}
	if err := db.RunMigrations(ctx, m, db.MigrationsPostgres); err != nil {
		return fmt.Errorf("%s migrations: %w", p.driver, err)
	}
	return nil
}
