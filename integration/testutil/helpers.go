//go:build integration

// Package testutil holds helpers shared by the integration suites, which run
// against real PostgreSQL, MySQL and MinIO instances named by environment
// variables.
package testutil

import (
	"context"
	"crypto/rand"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// DefaultTimeout bounds each integration test's calls against a backend.
const DefaultTimeout = 30 * time.Second

// Env returns the variable or def when it is unset or empty.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Context is cancelled after DefaultTimeout or when t finishes.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), DefaultTimeout)
	t.Cleanup(cancel)
	return ctx
}

// RandomBytes returns n bytes of random payload.
func RandomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// UniqueID keeps rows and keys from separate runs apart on a shared backend.
func UniqueID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:13]
}

// SkipIfShort skips backend suites under go test -short.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
}

// RedactDSN hides the password of a URL DSN (postgres://u:p@h/db) or a
// go-sql-driver DSN (u:p@tcp(h)/db) so it can be logged.
func RedactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		return u.Redacted()
	}
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	if user, _, ok := strings.Cut(dsn[:at], ":"); ok {
		return user + ":xxxxx" + dsn[at:]
	}
	return dsn
}
