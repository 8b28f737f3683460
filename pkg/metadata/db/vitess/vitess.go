// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package vitess provides a Vitess/MySQL implementation of the db.DB interface.
package vitess

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"os"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db"
	dbsql "github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db/sql"

	"github.com/go-sql-driver/mysql"
)

// TLSMode specifies how TLS should be configured for MySQL connections
type TLSMode string

const (
	TLSModeDisabled  TLSMode = "disabled"
	TLSModePreferred TLSMode = "preferred"
	// TLSModeRequired encrypts but skips certificate verification
	TLSModeRequired TLSMode = "required"
	// TLSModeVerifyCA verifies the server certificate against TLSCAFile
	TLSModeVerifyCA TLSMode = "verify-ca"
)

// tlsConfigName is the key under which the verify-ca config is registered with the driver.
const tlsConfigName = "uploader-verify-ca"

// Config holds Vitess connection configuration
type Config struct {
	db.Config

	TLSMode   TLSMode
	TLSCAFile string
}

// Vitess implements db.DB using Vitess or MySQL as the backing store
type Vitess struct {
	*dbsql.Store
	config Config
}

// NewVitess creates a new Vitess-backed database
func NewVitess(cfg Config) (*Vitess, error) {
	if cfg.Driver == "" {
		cfg.Driver = db.DriverVitess
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	sqlCfg := dbsql.ConfigFrom(cfg.Config)
	sqlCfg.DSN = dsn

	store, err := dbsql.Open("mysql", dbsql.MySQLDialect{}, sqlCfg)
	if err != nil {
		return nil, err
	}

	return &Vitess{
		Store:  store,
		config: cfg,
	}, nil
}

// SqlDB returns the underlying *sql.DB for use with taskqueue.DBQueue
func (v *Vitess) SqlDB() *sql.DB {
	return v.Store.DB()
}

// Migrate runs database migrations for MySQL/Vitess
func (v *Vitess) Migrate(ctx context.Context) error {
	migrator := dbsql.NewMigrator(v.Store)
	if err := migrator.EnsureVersionTable(ctx); err != nil {
		return err
	}
	if err := db.RunMigrations(ctx, migrator, db.MigrationsMySQL); err != nil {
		return fmt.Errorf("mysql migrations: %w", err)
	}
	return nil
}

// Ensure Vitess implements db.DB
var _ db.DB = (*Vitess)(nil)

// buildDSN normalises the DSN: parseTime is forced on (the task queue scans
// DATETIME columns) and the TLS mode is applied.
func buildDSN(cfg Config) (string, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	mc.ParseTime = true

	switch cfg.TLSMode {
	case "", TLSModeDisabled:
	case TLSModePreferred:
		mc.TLSConfig = "preferred"
	case TLSModeRequired:
		mc.TLSConfig = "skip-verify"
	case TLSModeVerifyCA:
		if err := registerVerifyCA(cfg.TLSCAFile); err != nil {
			return "", err
		}
		mc.TLSConfig = tlsConfigName
	default:
		return "", fmt.Errorf("unknown TLS mode %q", cfg.TLSMode)
	}

	return mc.FormatDSN(), nil
}

func registerVerifyCA(caFile string) error {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return fmt.Errorf("no certificates found in %s", caFile)
		}
		tlsConfig.RootCAs = pool
	}

	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsConfig); err != nil {
		return fmt.Errorf("register TLS config: %w", err)
	}
	return nil
}
