// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestPostgresDialect_Placeholder(t *testing.T) {
	d := PostgresDialect{}

	assert.Equal(t, "$1", d.Placeholder(1))
	assert.Equal(t, "$10", d.Placeholder(10))
}

func TestPostgresDialect_PlaceholderRange(t *testing.T) {
	d := PostgresDialect{}

	assert.Equal(t, "", d.PlaceholderRange(1, 0))
	assert.Equal(t, "$1", d.PlaceholderRange(1, 1))
	assert.Equal(t, "$3, $4, $5", d.PlaceholderRange(3, 3))
}

func TestPostgresDialect_ReplacePlaceholders(t *testing.T) {
	d := PostgresDialect{}

	query := "SELECT id FROM upload_requests WHERE client_id = $1 AND upload_id = $2"
	assert.Equal(t, query, d.ReplacePlaceholders(query))
}

func TestPostgresDialect_InsertIgnore(t *testing.T) {
	d := PostgresDialect{}

	assert.Equal(t, "", d.InsertIgnorePrefix())
	assert.Equal(t, " ON CONFLICT (client_id, upload_id) DO NOTHING", d.InsertIgnoreSuffix("client_id, upload_id"))
}

func TestMySQLDialect_PlaceholderRange(t *testing.T) {
	d := MySQLDialect{}

	assert.Equal(t, "?", d.Placeholder(7))
	assert.Equal(t, "", d.PlaceholderRange(1, 0))
	assert.Equal(t, "?, ?, ?", d.PlaceholderRange(4, 3))
}

func TestMySQLDialect_InsertIgnore(t *testing.T) {
	d := MySQLDialect{}

	assert.Equal(t, "IGNORE ", d.InsertIgnorePrefix())
	assert.Equal(t, "", d.InsertIgnoreSuffix("client_id, upload_id"))
}

func TestMySQLDialect_ReplacePlaceholders(t *testing.T) {
	d := MySQLDialect{}

	tests := []struct {
		name     string
		query    string
		expected string
	}{
		{
			name:     "single placeholder",
			query:    "SELECT * FROM upload_requests WHERE id = $1",
			expected: "SELECT * FROM upload_requests WHERE id = ?",
		},
		{
			name:     "no placeholders",
			query:    "SELECT * FROM upload_requests",
			expected: "SELECT * FROM upload_requests",
		},
		{
			name:     "double digit placeholders",
			query:    "VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)",
			expected: "VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		},
		{
			name:     "beyond fifty",
			query:    "WHERE a = $51 AND b = $120",
			expected: "WHERE a = ? AND b = ?",
		},
		{
			name:     "bare dollar untouched",
			query:    "SELECT '$' FROM t WHERE id = $1",
			expected: "SELECT '$' FROM t WHERE id = ?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, d.ReplacePlaceholders(tt.query))
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	pgDup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	pgOther := &pgconn.PgError{Code: "23503"}
	myDup := fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062})
	myOther := &mysql.MySQLError{Number: 1213}

	assert.True(t, PostgresDialect{}.IsUniqueViolation(pgDup))
	assert.False(t, PostgresDialect{}.IsUniqueViolation(pgOther))
	assert.False(t, PostgresDialect{}.IsUniqueViolation(myDup))

	assert.True(t, MySQLDialect{}.IsUniqueViolation(myDup))
	assert.False(t, MySQLDialect{}.IsUniqueViolation(myOther))
	assert.False(t, MySQLDialect{}.IsUniqueViolation(nil))
}
