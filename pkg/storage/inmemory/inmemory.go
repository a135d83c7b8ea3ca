// Package inmemory provides an in-memory disease record store.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/medfit/pkg/disease"
)

// Driver keeps records in a slice guarded by a RWMutex.
// It is intended for tests, demos and the MCP stdio server without a database.
type Driver struct {
	mu      sync.RWMutex
	records []disease.Record
	now     func() time.Time
}

// NewDriver creates a Driver seeded with the given records.
func NewDriver(records ...disease.Record) *Driver {
	d := &Driver{now: time.Now}
	for _, r := range records {
		d.records = append(d.records, d.fill(r))
	}
	return d
}

// Query implements disease.Querier.
func (d *Driver) Query(ctx context.Context, criteria disease.Criteria) ([]disease.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	criteria = criteria.Normalize()
	if err := criteria.Validate(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return disease.Filter(d.records, criteria), nil
}

// Insert implements disease.Writer.
func (d *Driver) Insert(ctx context.Context, rec disease.Record) (disease.Record, error) {
	if err := ctx.Err(); err != nil {
		return disease.Record{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec = d.fill(rec)
	for i, existing := range d.records {
		if existing.ID == rec.ID {
			d.records[i] = rec
			return rec, nil
		}
	}
	d.records = append(d.records, rec)
	return rec, nil
}

// Len returns the number of stored records.
func (d *Driver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// Close is a no-op.
func (d *Driver) Close() error {
	return nil
}

func (d *Driver) fill(rec disease.Record) disease.Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = d.now().UTC()
	}
	return rec
}
