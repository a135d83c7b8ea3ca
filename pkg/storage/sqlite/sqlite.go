// Package sqlite provides a disease record store backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/medfit/pkg/disease"
)

const schema = `
CREATE TABLE IF NOT EXISTS diseases (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	diagnosis  TEXT NOT NULL DEFAULT '',
	treatment  TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_diseases_name ON diseases (name);
CREATE INDEX IF NOT EXISTS idx_diseases_created_at ON diseases (created_at);
`

// driverName is go-sqlite3 with a Unicode-aware lower() registered on every
// connection. The built-in LIKE only folds ASCII letters.
const driverName = "sqlite3_medfit"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("unicode_lower", strings.ToLower, true)
		},
	})
}

// sortColumns whitelists the columns a query may be ordered by.
var sortColumns = map[disease.SortKey]string{
	disease.SortByName:      "name",
	disease.SortByCreatedAt: "created_at",
}

// Driver is a disease.Store over a SQLite database.
type Driver struct {
	db *sql.DB
}

// NewDriver opens (or creates) the SQLite database at dbPath and ensures the schema exists.
// Use ":memory:" for an in-memory database.
func NewDriver(ctx context.Context, dbPath string) (*Driver, error) {
	db, err := sql.Open(driverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// An in-memory database lives and dies with its connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Driver{db: db}, nil
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
		b.WriteString(` WHERE unicode_lower(name) LIKE ? ESCAPE '\'`)
		args = append(args, disease.LikePattern(strings.ToLower(criteria.Term)))
	}
	fmt.Fprintf(&b, " ORDER BY %s %s, id ASC", column, direction)

	rows, err := d.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query diseases: %w", err)
	}
	defer rows.Close()

	records := []disease.Record{}
	for rows.Next() {
		var (
			rec       disease.Record
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Diagnosis, &rec.Treatment, &createdAt); err != nil {
			return nil, fmt.Errorf("scan disease: %w", err)
		}
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
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
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO diseases (id, name, diagnosis, treatment, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, diagnosis = excluded.diagnosis,
		 treatment = excluded.treatment, created_at = excluded.created_at`,
		rec.ID, rec.Name, rec.Diagnosis, rec.Treatment, rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return disease.Record{}, fmt.Errorf("insert disease: %w", err)
	}

	return rec, nil
}

// Close closes the database.
func (d *Driver) Close() error {
	return d.db.Close()
}
