package main

import (
	"fmt"
	"log/slog"

	"github.com/lthms/hierprops/internal/config"
	"github.com/lthms/hierprops/internal/hierarchy"
	"github.com/lthms/hierprops/internal/store/badgerstore"
	"github.com/lthms/hierprops/internal/store/memstore"
	"github.com/lthms/hierprops/internal/store/sqlitestore"
)

// openStore opens the backend selected by cfg.
func openStore(cfg *config.Config) (hierarchy.Store, error) {
	if cfg.Store.Backend == config.BackendMemory {
		slog.Debug("using in-memory store; nothing will be persisted")
		return memstore.New(), nil
	}

	path, err := cfg.StorePath()
	if err != nil {
		return nil, err
	}
	slog.Debug("opening store", "backend", cfg.Store.Backend, "path", path)

	switch cfg.Store.Backend {
	case config.BackendSQLite:
		return sqlitestore.Open(sqlitestore.Config{DBPath: path})
	case config.BackendBadger:
		return badgerstore.Open(badgerstore.Config{
			Path:       path,
			SyncWrites: cfg.Store.SyncWrites,
			Logger:     slog.Default().With("component", "badger"),
		})
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Store.Backend)
}
