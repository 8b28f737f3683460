package vitess

import (
	"testing"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN_ForcesParseTime(t *testing.T) {
	dsn, err := buildDSN(Config{Config: db.Config{DSN: "user:pass@tcp(localhost:3306)/uploads"}})
	require.NoError(t, err)

	mc, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.True(t, mc.ParseTime)
	assert.Equal(t, "uploads", mc.DBName)
	assert.Empty(t, mc.TLSConfig)
}

func TestBuildDSN_TLSModes(t *testing.T) {
	tests := []struct {
		mode TLSMode
		want string
	}{
		{TLSModePreferred, "preferred"},
		{TLSModeRequired, "skip-verify"},
		{TLSModeDisabled, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			dsn, err := buildDSN(Config{
				Config:  db.Config{DSN: "user:pass@tcp(localhost:3306)/uploads?tls=true"},
				TLSMode: tt.mode,
			})
			require.NoError(t, err)

			mc, err := mysql.ParseDSN(dsn)
			require.NoError(t, err)
			if tt.want == "" {
				// disabled leaves whatever the DSN carried
				return
			}
			assert.Equal(t, tt.want, mc.TLSConfig)
		})
	}
}

func TestBuildDSN_Errors(t *testing.T) {
	_, err := buildDSN(Config{Config: db.Config{DSN: "user:pass@tcp(localhost:3306)/uploads"}, TLSMode: "bogus"})
	assert.Error(t, err)

	_, err = buildDSN(Config{
		Config:    db.Config{DSN: "user:pass@tcp(localhost:3306)/uploads"},
		TLSMode:   TLSModeVerifyCA,
		TLSCAFile: "/nonexistent/ca.pem",
	})
	assert.Error(t, err)
}
