// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package sql provides a dialect-aware SQL implementation of the metadata
// store. Queries are written once with PostgreSQL placeholders ($1, $2, ...)
// and rewritten for MySQL/Vitess at execution time.
package sql

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// Dialect abstracts database-specific SQL syntax differences.
type Dialect interface {
	// Name returns the dialect name (e.g., "postgres", "mysql").
	Name() string

	// Placeholder returns the placeholder for the nth parameter (1-indexed).
	Placeholder(n int) string

	// PlaceholderRange returns count placeholders starting at from, joined by comma.
	// PostgreSQL: PlaceholderRange(3, 2) == "$3, $4"
	// MySQL/Vitess: "?, ?"
	PlaceholderRange(from, count int) string

	// ReplacePlaceholders converts PostgreSQL-style placeholders to the
	// dialect's format.
	ReplacePlaceholders(query string) string

	// InsertIgnorePrefix returns the prefix for INSERT statements that should ignore duplicates.
	// PostgreSQL: "" (uses ON CONFLICT suffix instead)
	// MySQL/Vitess: "IGNORE "
	InsertIgnorePrefix() string

	// InsertIgnoreSuffix returns the suffix for INSERT statements that should ignore duplicates.
	// PostgreSQL: " ON CONFLICT (conflict_columns) DO NOTHING"
	// MySQL/Vitess: ""
	InsertIgnoreSuffix(conflictColumns string) string

	// IsUniqueViolation reports whether err is a duplicate key error.
	IsUniqueViolation(err error) bool
}

// ============================================================================
// PostgreSQL Dialect
// ============================================================================

// PostgresDialect implements Dialect for PostgreSQL and CockroachDB.
type PostgresDialect struct{}

var _ Dialect = PostgresDialect{}

// pgUniqueViolation is SQLSTATE unique_violation.
const pgUniqueViolation = "23505"

func (d PostgresDialect) Name() string {
	return "postgres"
}

func (d PostgresDialect) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (d PostgresDialect) PlaceholderRange(from, count int) string {
	if count <= 0 {
		return ""
	}
	parts := make([]string, count)
	for i := range count {
		parts[i] = d.Placeholder(from + i)
	}
	return strings.Join(parts, ", ")
}

func (d PostgresDialect) ReplacePlaceholders(query string) string {
	return query
}

func (d PostgresDialect) InsertIgnorePrefix() string {
	return ""
}

func (d PostgresDialect) InsertIgnoreSuffix(conflictColumns string) string {
	return " ON CONFLICT (" + conflictColumns + ") DO NOTHING"
}

func (d PostgresDialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// ============================================================================
// MySQL/Vitess Dialect
// ============================================================================

// MySQLDialect implements Dialect for MySQL/Vitess.
type MySQLDialect struct{}

var _ Dialect = MySQLDialect{}

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func (d MySQLDialect) Name() string {
	return "mysql"
}

func (d MySQLDialect) Placeholder(n int) string {
	return "?"
}

func (d MySQLDialect) PlaceholderRange(from, count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", count), ", ")
}

// ReplacePlaceholders rewrites every $N token to ?. Arguments must be passed
// in the order the placeholders appear in the query text.
func (d MySQLDialect) ReplacePlaceholders(query string) string {
	if !strings.Contains(query, "$") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && isDigit(query[i+1]) {
			b.WriteByte('?')
			for i+1 < len(query) && isDigit(query[i+1]) {
				i++
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (d MySQLDialect) InsertIgnorePrefix() string {
	return "IGNORE "
}

func (d MySQLDialect) InsertIgnoreSuffix(string) string {
	return ""
}

func (d MySQLDialect) IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
