// Package medfit holds assets embedded into the medfit binaries.
package medfit

import "embed"

// MigrationsFS contains the PostgreSQL schema migrations.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
