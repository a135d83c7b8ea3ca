// Package disease defines the disease catalog records and the criteria used to query them.
package disease

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Record is a single disease entry from the catalog.
type Record struct {
	ID        string    `json:"id" toml:"id"`
	Name      string    `json:"name" toml:"name"`
	Diagnosis string    `json:"diagnosis" toml:"diagnosis"`
	Treatment string    `json:"treatment" toml:"treatment"`
	CreatedAt time.Time `json:"created_at" toml:"created_at"`
}

// SortKey is the column a query is ordered by.
type SortKey string

const (
	SortByName      SortKey = "name"
	SortByCreatedAt SortKey = "created_at"
)

// Label is the human readable name of the sort key.
func (k SortKey) Label() string {
	switch k {
	case SortByCreatedAt:
		return "Date Added"
	default:
		return "Name"
	}
}

// Direction is the ordering direction of a query.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Label is the human readable name of the direction.
func (d Direction) Label() string {
	if d == Descending {
		return "Descending"
	}
	return "Ascending"
}

var (
	ErrInvalidSortKey   = errors.New("invalid sort key")
	ErrInvalidDirection = errors.New("invalid sort direction")
)

// ParseSortKey converts user input into a SortKey. Empty input yields SortByName.
func ParseSortKey(s string) (SortKey, error) {
	switch SortKey(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortByName:
		return SortByName, nil
	case SortByCreatedAt:
		return SortByCreatedAt, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSortKey, s)
	}
}

// ParseDirection converts user input into a Direction. Empty input yields Ascending.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case "", Ascending:
		return Ascending, nil
	case Descending:
		return Descending, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

// Criteria is the search term and sort configuration of a query.
type Criteria struct {
	Term      string    `json:"term"`
	SortBy    SortKey   `json:"sort_by"`
	Direction Direction `json:"order"`
}

// DefaultCriteria matches every record, ordered by name ascending.
func DefaultCriteria() Criteria {
	return Criteria{SortBy: SortByName, Direction: Ascending}
}

// Normalize fills in the default sort configuration for zero values and trims the term.
func (c Criteria) Normalize() Criteria {
	c.Term = strings.TrimSpace(c.Term)
	if c.SortBy == "" {
		c.SortBy = SortByName
	}
	if c.Direction == "" {
		c.Direction = Ascending
	}
	return c
}

// Validate reports whether the sort configuration is one the stores understand.
func (c Criteria) Validate() error {
	if _, err := ParseSortKey(string(c.SortBy)); err != nil {
		return err
	}
	if _, err := ParseDirection(string(c.Direction)); err != nil {
		return err
	}
	return nil
}

// Ascending reports whether the criteria order results ascending.
func (c Criteria) Ascending() bool {
	return c.Direction != Descending
}

// Querier runs catalog queries against a record store.
type Querier interface {
	// Query returns the records whose name contains the criteria term
	// (case-insensitive), ordered by the criteria sort configuration.
	Query(ctx context.Context, criteria Criteria) ([]Record, error)
}

// Writer inserts records into a record store.
type Writer interface {
	// Insert stores a record. A missing ID or CreatedAt is assigned by the store.
	Insert(ctx context.Context, rec Record) (Record, error)
}

// Store is a record store that can be both queried and written.
type Store interface {
	Querier
	Writer
	Close() error
}

// Matches reports whether the record name contains term, ignoring case.
func Matches(rec Record, term string) bool {
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(rec.Name), strings.ToLower(term))
}

// Filter returns the records matching the criteria term, ordered per the criteria.
// The input slice is not modified.
func Filter(records []Record, criteria Criteria) []Record {
	criteria = criteria.Normalize()

	out := make([]Record, 0, len(records))
	for _, r := range records {
		if Matches(r, criteria.Term) {
			out = append(out, r)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		var cmp int
		switch criteria.SortBy {
		case SortByCreatedAt:
			cmp = a.CreatedAt.Compare(b.CreatedAt)
		default:
			cmp = strings.Compare(a.Name, b.Name)
		}
		if !criteria.Ascending() {
			cmp = -cmp
		}
		if cmp == 0 {
			return a.ID < b.ID
		}
		return cmp < 0
	})

	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// LikePattern builds a substring LIKE pattern for term, escaping wildcards with a backslash.
func LikePattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}
