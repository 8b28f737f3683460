// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"cmp"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"
)

// Schema scripts, one directory per SQL flavour. Both directories carry the
// same versions so either backend ends at the same schema.
//
//go:embed migrations/postgres/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

// Migration is one numbered schema script.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationDialect selects the SQL flavour of the embedded migrations.
type MigrationDialect string

const (
	MigrationsPostgres MigrationDialect = "postgres"
	MigrationsMySQL    MigrationDialect = "mysql"
)

// parseMigrationName splits "002_create_file_metadata.sql" into 2 and
// "create_file_metadata".
func parseMigrationName(file string) (int, string, error) {
	base, ok := strings.CutSuffix(file, ".sql")
	if !ok {
		return 0, "", fmt.Errorf("%s: not a .sql file", file)
	}
	num, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("%s: want <version>_<name>.sql", file)
	}
	v, err := strconv.Atoi(num)
	if err != nil || v <= 0 {
		return 0, "", fmt.Errorf("%s: bad version %q", file, num)
	}
	return v, name, nil
}

// LoadMigrations returns the embedded scripts for dialect ordered by version.
// Versions must start at 1 and have no gaps.
func LoadMigrations(dialect MigrationDialect) ([]Migration, error) {
	dir := path.Join("migrations", string(dialect))
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	out := make([]Migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		v, name, err := parseMigrationName(e.Name())
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(migrationsFS, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		out = append(out, Migration{Version: v, Name: name, SQL: string(body)})
	}

	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	for i, m := range out {
		if m.Version != i+1 {
			return nil, fmt.Errorf("%s migrations: expected version %d, found %d (%s)", dialect, i+1, m.Version, m.Name)
		}
	}
	return out, nil
}

// Migrator applies scripts and tracks the schema version of one database.
type Migrator interface {
	CurrentVersion(ctx context.Context) (int, error)
	Apply(ctx context.Context, m Migration) error
	SetVersion(ctx context.Context, version int) error
}

// RunMigrations brings the schema up to the newest embedded version. It is
// safe to run on every start: applied versions are skipped.
func RunMigrations(ctx context.Context, migrator Migrator, dialect MigrationDialect) error {
	all, err := LoadMigrations(dialect)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	current, err := migrator.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	pending := slices.DeleteFunc(all, func(m Migration) bool { return m.Version <= current })
	for _, m := range pending {
		if err := migrator.Apply(ctx, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		if err := migrator.SetVersion(ctx, m.Version); err != nil {
			return fmt.Errorf("set version %d: %w", m.Version, err)
		}
		logger.Ctx(ctx).Info().Int("version", m.Version).Str("name", m.Name).Msg("applied migration")
	}
	return nil
}
