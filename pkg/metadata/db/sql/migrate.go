// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db"
)

// Migrator implements db.Migrator over a Store. Applied versions are recorded
// in schema_migrations.
type Migrator struct {
	store *Store
}

var _ db.Migrator = (*Migrator)(nil)

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// EnsureVersionTable creates schema_migrations when missing.
func (m *Migrator) EnsureVersionTable(ctx context.Context) error {
	_, err := m.store.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at BIGINT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.store.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return version, nil
}

func (m *Migrator) Apply(ctx context.Context, migration db.Migration) error {
	for _, stmt := range SplitStatements(migration.SQL) {
		if _, err := m.store.DB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute statement: %w", err)
		}
	}
	return nil
}

func (m *Migrator) SetVersion(ctx context.Context, version int) error {
	_, err := m.store.Exec(ctx,
		`INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`,
		version, m.store.now().UnixNano())
	if err != nil {
		return fmt.Errorf("record migration version: %w", err)
	}
	return nil
}

// SplitStatements splits a SQL script on semicolons that are outside string
// literals and comments. Comment-only fragments are dropped.
func SplitStatements(script string) []string {
	var (
		statements []string
		current    strings.Builder
		quote      byte
		inComment  bool
	)

	flush := func() {
		if stmt := stripComments(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case inComment:
			if c == '\n' {
				inComment = false
			}
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			inComment = true
		case c == ';':
			flush()
			continue
		}
		current.WriteByte(c)
	}
	flush()

	return statements
}

// stripComments drops whole-line -- comments and surrounding whitespace.
func stripComments(stmt string) string {
	var kept []string
	for line := range strings.SplitSeq(stmt, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
