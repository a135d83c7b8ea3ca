// Package storage opens the configured disease record store.
package storage

import (
	"context"
	"fmt"

	"github.com/papercomputeco/medfit/pkg/disease"
	"github.com/papercomputeco/medfit/pkg/storage/inmemory"
	"github.com/papercomputeco/medfit/pkg/storage/postgres"
	"github.com/papercomputeco/medfit/pkg/storage/sqlite"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open returns the store named by driver. The dsn is a file path for SQLite
// and a connection URL for PostgreSQL; it is ignored for the memory driver.
func Open(ctx context.Context, driver, dsn string) (disease.Store, error) {
	switch driver {
	case DriverMemory, "":
		return inmemory.NewDriver(), nil
	case DriverSQLite:
		if dsn == "" {
			dsn = ":memory:"
		}
		return sqlite.NewDriver(ctx, dsn)
	case DriverPostgres:
		return postgres.NewDriver(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
