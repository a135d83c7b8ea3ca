// Package search implements the disease query pipeline: criteria changes are
// debounced, each issued query is tagged with a generation number, and only the
// result of the most recent generation is ever applied.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/medfit/pkg/debounce"
	"github.com/papercomputeco/medfit/pkg/disease"
	"github.com/papercomputeco/medfit/pkg/retry"
)

// DefaultDelay is the quiet period after the last criteria change before a query is issued.
const DefaultDelay = 300 * time.Millisecond

// FailureMessage is the user-facing text of a failed query.
const FailureMessage = "Failed to fetch diseases. Please try again later."

// ErrClosed is returned when criteria are changed after Close.
var ErrClosed = errors.New("search pipeline closed")

// State is the lifecycle state of the most recent query.
type State int

const (
	StateLoading State = iota
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "loading"
	}
}

// QueryError wraps a record store failure with the criteria that caused it.
type QueryError struct {
	Criteria disease.Criteria
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query diseases (term=%q sort=%s %s): %v",
		e.Criteria.Term, e.Criteria.SortBy, e.Criteria.Direction, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Snapshot is a consistent view of the pipeline.
type Snapshot struct {
	Criteria   disease.Criteria
	State      State
	Records    []disease.Record
	Err        error
	Generation uint64
}

// Loading reports whether a query is in flight.
func (s Snapshot) Loading() bool {
	return s.State == StateLoading
}

// Empty reports whether the last query succeeded without matching any record.
// A failed query is never empty, even after its error was dismissed.
func (s Snapshot) Empty() bool {
	return s.State == StateSuccess && len(s.Records) == 0
}

// ShowsError reports whether the last query failed and its error has not been dismissed.
func (s Snapshot) ShowsError() bool {
	return s.State == StateFailed && s.Err != nil
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDelay overrides DefaultDelay.
func WithDelay(d time.Duration) Option {
	return func(p *Pipeline) { p.delay = d }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithObserver registers fn to be called after every state change. Observers
// may be called from several goroutines; read Snapshot for the latest state.
func WithObserver(fn func(Snapshot)) Option {
	return func(p *Pipeline) { p.observers = append(p.observers, fn) }
}

// WithTimeout bounds every issued query.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithRetry retries failed queries with the given policy.
func WithRetry(policy retry.Policy) Option {
	return func(p *Pipeline) { p.policy = &policy }
}

// WithCriteria sets the criteria used by Start.
func WithCriteria(c disease.Criteria) Option {
	return func(p *Pipeline) { p.criteria = c.Normalize() }
}

// Pipeline owns the current criteria and result set for one UI session.
type Pipeline struct {
	querier   disease.Querier
	delay     time.Duration
	timeout   time.Duration
	policy    *retry.Policy
	logger    *zap.Logger
	observers []func(Snapshot)
	debouncer *debounce.Debouncer[disease.Criteria]

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	criteria disease.Criteria
	state    State
	records  []disease.Record
	err      error
	gen      uint64
	closed   bool
}

// New creates a Pipeline over querier. No query runs until Start or SetCriteria.
func New(querier disease.Querier, opts ...Option) *Pipeline {
	p := &Pipeline{
		querier:  querier,
		delay:    DefaultDelay,
		logger:   zap.NewNop(),
		criteria: disease.DefaultCriteria(),
		state:    StateLoading,
		records:  []disease.Record{},
	}
	for _, opt := range opts {
		opt(p)
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.debouncer = debounce.New(p.delay, p.issue,
		debounce.WithCancelHook(func(c disease.Criteria) {
			p.logger.Debug("debounced query superseded", zap.String("term", c.Term))
		}),
	)
	return p
}

// Start schedules the initial query for the configured criteria.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.gen++
	c := p.criteria
	p.mu.Unlock()

	p.debouncer.Trigger(c)
}

// SetCriteria replaces the criteria. Any in-flight query becomes stale at once
// and a new query is issued after the debounce delay. Setting criteria equal to
// the current ones is a no-op.
func (p *Pipeline) SetCriteria(c disease.Criteria) error {
	c = c.Normalize()
	if err := c.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if c == p.criteria {
		p.mu.Unlock()
		return nil
	}
	p.criteria = c
	p.gen++
	p.mu.Unlock()

	p.debouncer.Trigger(c)
	return nil
}

// SetTerm changes only the search term.
func (p *Pipeline) SetTerm(term string) error {
	c := p.Criteria()
	c.Term = term
	return p.SetCriteria(c)
}

// SetSort changes only the sort configuration.
func (p *Pipeline) SetSort(key disease.SortKey, dir disease.Direction) error {
	c := p.Criteria()
	c.SortBy = key
	c.Direction = dir
	return p.SetCriteria(c)
}

// Retry issues the current criteria immediately, skipping the debounce delay.
func (p *Pipeline) Retry() {
	p.debouncer.Cancel()
	p.mu.Lock()
	p.launchLocked(p.criteria)
}

// DismissError clears the error of a failed query. The state stays failed and
// the retained result set stays on display.
func (p *Pipeline) DismissError() {
	p.mu.Lock()
	if p.state != StateFailed || p.err == nil {
		p.mu.Unlock()
		return
	}
	p.err = nil
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.notify(snap)
}

// Criteria returns the current criteria.
func (p *Pipeline) Criteria() disease.Criteria {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.criteria
}

// Snapshot returns the current state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Results returns the displayed result set.
func (p *Pipeline) Results() []disease.Record {
	return p.Snapshot().Records
}

// IsLoading reports whether a query is in flight.
func (p *Pipeline) IsLoading() bool {
	return p.Snapshot().Loading()
}

// Err returns the error of the last query, if it failed.
func (p *Pipeline) Err() error {
	return p.Snapshot().Err
}

// Close drops pending queries, cancels in-flight ones and stops accepting criteria.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.gen++
	p.mu.Unlock()

	p.debouncer.Stop()
	p.cancel()
}

// issue runs a debounced query unless the criteria changed after it was scheduled.
func (p *Pipeline) issue(c disease.Criteria) {
	p.mu.Lock()
	if c != p.criteria {
		p.mu.Unlock()
		p.logger.Debug("skipping superseded query", zap.String("term", c.Term))
		return
	}
	p.launchLocked(c)
}

// launchLocked starts a query for c. It must be called with p.mu held and releases it.
func (p *Pipeline) launchLocked(c disease.Criteria) {
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.gen++
	gen := p.gen
	p.state = StateLoading
	p.err = nil
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.logger.Debug("issuing disease query",
		zap.Uint64("generation", gen),
		zap.String("term", c.Term),
		zap.String("sort_by", string(c.SortBy)),
		zap.String("order", string(c.Direction)),
	)
	p.notify(snap)

	go p.run(gen, c)
}

func (p *Pipeline) run(gen uint64, c disease.Criteria) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	records, err := p.query(ctx, c)

	p.mu.Lock()
	if gen != p.gen {
		current := p.gen
		p.mu.Unlock()
		p.logger.Debug("discarding stale query result",
			zap.Uint64("generation", gen),
			zap.Uint64("current", current),
		)
		return
	}

	if err != nil {
		p.state = StateFailed
		p.err = &QueryError{Criteria: c, Err: err}
	} else {
		p.state = StateSuccess
		p.records = records
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("error fetching diseases", zap.Uint64("generation", gen), zap.Error(err))
	} else {
		p.logger.Debug("disease query applied",
			zap.Uint64("generation", gen),
			zap.Int("count", len(records)),
			zap.Duration("duration", time.Since(start)),
		)
	}
	p.notify(snap)
}

func (p *Pipeline) query(ctx context.Context, c disease.Criteria) (records []disease.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("querier panic: %v", r)
		}
	}()

	if p.policy == nil {
		records, err = p.querier.Query(ctx, c)
	} else {
		records, err = retry.Do(ctx, *p.policy, func(ctx context.Context, _ int) ([]disease.Record, error) {
			return p.querier.Query(ctx, c)
		})
	}
	if err == nil && records == nil {
		records = []disease.Record{}
	}
	return records, err
}

func (p *Pipeline) snapshotLocked() Snapshot {
	records := make([]disease.Record, len(p.records))
	copy(records, p.records)
	return Snapshot{
		Criteria:   p.criteria,
		State:      p.state,
		Records:    records,
		Err:        p.err,
		Generation: p.gen,
	}
}

func (p *Pipeline) notify(s Snapshot) {
	for _, fn := range p.observers {
		fn(s)
	}
}
