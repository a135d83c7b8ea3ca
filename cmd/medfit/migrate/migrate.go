package migratecmder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/medfit"
	"github.com/papercomputeco/medfit/cmd/medfit/deps"
	"github.com/papercomputeco/medfit/pkg/storage"
	"github.com/papercomputeco/medfit/pkg/storage/postgres"
)

const migrateLongDesc string = `Apply the PostgreSQL schema migrations.

The migrations are embedded in the binary. Only the postgres store
needs them; the sqlite store creates its schema on open.

Examples:
  medfit migrate
  MEDFIT_STORE_DRIVER=postgres MEDFIT_STORE_DSN=postgres://localhost/medfit medfit migrate`

const migrateShortDesc string = "Apply PostgreSQL schema migrations"

type migrateCommander struct {
	dsn string
}

func NewMigrateCmd() *cobra.Command {
	cmder := &migrateCommander{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: migrateShortDesc,
		Long:  migrateLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.dsn, "dsn", "", "PostgreSQL connection URL (overrides config)")

	return cmd
}

func (c *migrateCommander) run(_ context.Context, cmd *cobra.Command) error {
	cfg, err := deps.LoadConfig(cmd)
	if err != nil {
		return err
	}

	dsn := c.dsn
	if dsn == "" {
		if cfg.Store.Driver != storage.DriverPostgres {
			return fmt.Errorf("store driver is %q; migrations only apply to %s", cfg.Store.Driver, storage.DriverPostgres)
		}
		dsn = cfg.Store.DSN
	}
	if dsn == "" {
		return errors.New("no PostgreSQL connection URL configured")
	}

	logger, closer, err := deps.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	defer logger.Sync()

	migrations, err := fs.Sub(medfit.MigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	if err := postgres.RunMigrations(dsn, migrations, logger); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
	return nil
}
