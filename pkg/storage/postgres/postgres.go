// Package postgres provides a disease record store backed by PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/papercomputeco/medfit/pkg/disease"
)

var sortColumns = map[disease.SortKey]string{
	disease.SortByName:      "name",
	disease.SortByCreatedAt: "created_at",
}

// Driver is a disease.Store over a pgx connection pool.
type Driver struct {
	pool *pgxpool.Pool
}

// NewPool connects to PostgreSQL and verifies the connection.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// NewDriver connects to databaseURL and returns a Driver owning the pool.
func NewDriver(ctx context.Context, databaseURL string) (*Driver, error) {
	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Driver{pool: pool}, nil
}

// RunMigrations applies the embedded schema migrations to databaseURL.
func RunMigrations(databaseURL string, migrationsFS fs.FS, logger *zap.Logger) error {
	d, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Query implements disease.Querier.
func (d *Driver) Query(ctx context.Context, criteria disease.Criteria) ([]disease.Record, error) {
	criteria = criteria.Normalize()
	column, ok := sortColumns[criteria.SortBy]
	if !ok {
		return nil, fmt.Errorf("%w: %q", disease.ErrInvalidSortKey, criteria.SortBy)
	}
	direction := "ASC"
	if !criteria.Ascending() {
		direction = "DESC"
	}

	var (
		b    strings.Builder
		args []any
	)
	b.WriteString("SELECT id, name, diagnosis, treatment, created_at FROM diseases")
	if criteria.Term != "" {
		b.WriteString(` WHERE name ILIKE $1 ESCAPE '\'`)
		args = append(args, disease.LikePattern(criteria.Term))
	}
	fmt.Fprintf(&b, " ORDER BY %s %s, id ASC", column, direction)

	rows, err := d.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query diseases: %w", err)
	}
	defer rows.Close()

	records := []disease.Record{}
	for rows.Next() {
		var rec disease.Record
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Diagnosis, &rec.Treatment, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan disease: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diseases: %w", err)
	}

	return records, nil
}

// Insert implements disease.Writer. Records with an existing ID are replaced.
func (d *Driver) Insert(ctx context.Context, rec disease.Record) (disease.Record, error) {
	if strings.TrimSpace(rec.Name) == "" {
		return disease.Record{}, errors.New("disease name is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := d.pool.Exec(ctx,
		`INSERT INTO diseases (id, name, diagnosis, treatment, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, diagnosis = EXCLUDED.diagnosis,
		 treatment = EXCLUDED.treatment, created_at = EXCLUDED.created_at`,
		rec.ID, rec.Name, rec.Diagnosis, rec.Treatment, rec.CreatedAt,
	)
	if err != nil {
		return disease.Record{}, fmt.Errorf("insert disease: %w", err)
	}

	return rec, nil
}

// Close closes the connection pool.
func (d *Driver) Close() error {
	d.pool.Close()
	return nil
}
