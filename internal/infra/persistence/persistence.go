// Package persistence selects the reference store's storage backend.
package persistence

import (
	"context"
	"fmt"

	"thingsync/internal/infra/persistence/memory"
	"thingsync/internal/infra/persistence/postgres"
	"thingsync/internal/infra/persistence/sqlite"
	"thingsync/internal/platform/config"
)

// Driver identifies a concrete storage implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // ephemeral
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Store is the contract every backend satisfies. Durable backends persist
// the snapshot after each committed transaction.
type Store interface {
	RunInTransaction(ctx context.Context, fn func(tx *memory.Transaction) error) ([]memory.Change, error)
	View(ctx context.Context, fn func(memory.View) error) error
	ExportState() memory.Snapshot
	ImportState(snapshot memory.Snapshot)
	Close() error
}

var (
	_ Store = (*memory.Store)(nil)
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

// Open builds the backend named by cfg.Driver. An empty driver selects memory.
func Open(ctx context.Context, cfg config.Storage) (Store, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverMemory
	}
	switch driver {
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite:
		return sqlite.NewStore(cfg.SQLitePath)
	case DriverPostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
