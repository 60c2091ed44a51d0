package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "default", cfg.Name)
}

func TestLoad_Basic(t *testing.T) {
	path := writeConfig(t, `name = "orgchart"

[store]
backend = "Badger"
path = "/var/lib/hierprops/orgchart"
sync_writes = true

[log]
level = "debug"

[server]
addr = ":9000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "orgchart", cfg.Name)
	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, "/var/lib/hierprops/orgchart", cfg.Store.Path)
	assert.True(t, cfg.Store.SyncWrites)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9000", cfg.Server.Addr)
}

func TestLoad_EmptyFieldsGetDefaults(t *testing.T) {
	path := writeConfig(t, `[store]
backend = ""
[log]
level = ""
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, defaultAddr, cfg.Server.Addr)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown backend", "[store]\nbackend = \"mongo\"\n"},
		{"unknown level", "[log]\nlevel = \"loud\"\n"},
		{"bad toml", "name = \n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
		})
	}
}

func TestStorePath(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	cfg := Default()
	p, err := cfg.StorePath()
	require.NoError(t, err)
	assert.Equal(t, "default.db", filepath.Base(p))

	cfg.Store.Backend = BackendBadger
	p, err = cfg.StorePath()
	require.NoError(t, err)
	assert.Equal(t, "default.badger", filepath.Base(p))

	cfg.Store.Path = "/tmp/explicit"
	p, err = cfg.StorePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/explicit", p)
}

func TestDefaultPath_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	p, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "/cfg/hierprops/config.toml", p)
}
