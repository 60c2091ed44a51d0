package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lthms/hierprops/internal/config"
)

func TestOpenStore_Backends(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		backend string
		path    string
	}{
		{config.BackendMemory, ""},
		{config.BackendSQLite, filepath.Join(dir, "forest.db")},
		{config.BackendBadger, filepath.Join(dir, "forest.badger")},
	}
	for _, tc := range tests {
		t.Run(tc.backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Store.Backend = tc.backend
			cfg.Store.Path = tc.path

			s, err := openStore(cfg)
			require.NoError(t, err)
			defer s.Close()

			id, err := s.InsertNode(context.Background(), "", nil)
			require.NoError(t, err)
			n, err := s.Node(context.Background(), id)
			require.NoError(t, err)
			assert.True(t, n.IsRoot())
		})
	}
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "mongo"
	cfg.Store.Path = filepath.Join(t.TempDir(), "x")
	_, err := openStore(cfg)
	require.Error(t, err)
}

func TestLoadConfig_Overrides(t *testing.T) {
	cli := CLI{
		Config:  filepath.Join(t.TempDir(), "missing.toml"),
		Backend: config.BackendMemory,
		DB:      "/tmp/elsewhere",
	}
	cfg, err := cli.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "/tmp/elsewhere", cfg.Store.Path)

	cli.Backend = "mongo"
	_, err = cli.loadConfig()
	require.Error(t, err)
}
