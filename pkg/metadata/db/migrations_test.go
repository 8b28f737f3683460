package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrator struct {
	version int
	applied []int
	failOn  int
}

func (f *fakeMigrator) CurrentVersion(context.Context) (int, error) { return f.version, nil }

func (f *fakeMigrator) Apply(_ context.Context, m Migration) error {
	if m.Version == f.failOn {
		return errors.New("boom")
	}
	f.applied = append(f.applied, m.Version)
	return nil
}

func (f *fakeMigrator) SetVersion(_ context.Context, v int) error {
	f.version = v
	return nil
}

func TestLoadMigrations_BothDialectsInSync(t *testing.T) {
	pg, err := LoadMigrations(MigrationsPostgres)
	require.NoError(t, err)
	my, err := LoadMigrations(MigrationsMySQL)
	require.NoError(t, err)

	require.NotEmpty(t, pg)
	require.Len(t, my, len(pg))
	for i := range pg {
		assert.Equal(t, pg[i].Version, my[i].Version)
		assert.Equal(t, pg[i].Name, my[i].Name)
		assert.Equal(t, i+1, pg[i].Version)
	}
	assert.Equal(t, "create_upload_requests", pg[0].Name)
	assert.Contains(t, pg[0].SQL, "upload_requests")
}

func TestRunMigrations_SkipsApplied(t *testing.T) {
	m := &fakeMigrator{version: 1}
	require.NoError(t, RunMigrations(context.Background(), m, MigrationsPostgres))
	assert.Equal(t, []int{2, 3}, m.applied)
	assert.Equal(t, 3, m.version)
}

func TestRunMigrations_StopsOnFailure(t *testing.T) {
	m := &fakeMigrator{failOn: 2}
	err := RunMigrations(context.Background(), m, MigrationsMySQL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply migration 2")
	assert.Equal(t, 1, m.version)
}

func TestLoadMigrations_UnknownDialect(t *testing.T) {
	_, err := LoadMigrations("oracle")
	assert.Error(t, err)
}

func TestParseMigrationName(t *testing.T) {
	v, name, err := parseMigrationName("003_create_tasks.sql")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, "create_tasks", name)

	for _, bad := range []string{"README.md", "create_tasks.sql", "x_create.sql", "000_zero.sql", "004_.sql"} {
		_, _, err := parseMigrationName(bad)
		assert.Error(t, err, bad)
	}
}
