package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenCalibrationCore/internal/config"
)

// Open returns the configured audit store, or nil for driver "none".
func Open(ctx context.Context, cfg config.StorageConfig) (AuditStore, error) {
	switch cfg.Driver {
	case "", config.DriverNone:
		return nil, nil
	case config.DriverPostgres:
		client, err := NewPostgresClient(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.DriverSQLite:
		store, err := NewSQLiteStore(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
