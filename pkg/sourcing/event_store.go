package sourcing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Config tunes EventStore behavior. Construction remains explicit — there
// is no file- or env-based loader, since application bootstrap is out of
// scope for this library (spec.md §1).
type Config struct {
	// MaxBatchSize caps the number of events a single Append call may
	// submit to AppendBatch. Zero means unbounded.
	MaxBatchSize int
	// DefaultIteratorClass selects SimplePaged or PrefetchingPaged when
	// GetDomainEvents falls back to paged iteration.
	DefaultIteratorClass IteratorClass
	// DefaultPageSize is used by GetDomainEvents when the caller's
	// DomainEventQuery leaves PageSize unset and Limit nil, so a store
	// configured this way never falls back to a single unbounded query.
	DefaultPageSize int
	// QueryTimeout bounds each single-query read call (GetDomainEvents's
	// single-query path, GetMostRecentEvent). It is not applied to
	// AllDomainEvents or to paged reads. Zero means no deadline beyond
	// whatever ctx already carries.
	QueryTimeout time.Duration
	// AppendTimeout bounds each Append call the same way.
	AppendTimeout time.Duration
	Log           *logrus.Entry
}

// withTimeout wraps ctx with d if d is positive, returning a no-op cancel
// otherwise so callers can always `defer cancel()` unconditionally.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// EventStoreOption configures an EventStore at construction time.
type EventStoreOption func(*EventStore)

// WithConfig installs cfg wholesale.
func WithConfig(cfg Config) EventStoreOption {
	return func(s *EventStore) { s.config = cfg }
}

// EventStore is the event-level façade over a SequencedItemMapper and an
// ActiveRecordStrategy (spec.md §4.F).
type EventStore struct {
	mapper   *SequencedItemMapper
	strategy ActiveRecordStrategy
	config   Config
}

// NewEventStore builds an EventStore.
func NewEventStore(mapper *SequencedItemMapper, strategy ActiveRecordStrategy, opts ...EventStoreOption) *EventStore {
	s := &EventStore{mapper: mapper, strategy: strategy}
	for _, opt := range opts {
		opt(s)
	}
	if s.config.Log == nil {
		s.config.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return s
}

// Append maps each event and appends it, surfacing a storage-level
// ConflictError as a ConcurrencyError.
func (s *EventStore) Append(ctx context.Context, events ...any) error {
	if len(events) == 0 {
		return &ValidationError{StoreError: StoreError{Op: "EventStore.Append", Err: fmt.Errorf("events must not be empty")}, Field: "events"}
	}
	if s.config.MaxBatchSize > 0 && len(events) > s.config.MaxBatchSize {
		return &ValidationError{
			StoreError: StoreError{Op: "EventStore.Append", Err: fmt.Errorf("batch size %d exceeds maximum %d", len(events), s.config.MaxBatchSize)},
			Field:      "events",
		}
	}

	items := make([]SequencedItem, len(events))
	for i, event := range events {
		item, err := s.mapper.ToItem(event)
		if err != nil {
			return err
		}
		items[i] = item
	}

	ctx, cancel := withTimeout(ctx, s.config.AppendTimeout)
	defer cancel()

	var err error
	if len(items) == 1 {
		err = s.strategy.Append(ctx, items[0])
	} else {
		err = s.strategy.AppendBatch(ctx, items)
	}
	if err != nil {
		if IsConflictError(err) {
			s.config.Log.WithError(err).Warn("append failed: concurrency conflict")
			return &ConcurrencyError{StoreError{Op: "EventStore.Append", Err: err}}
		}
		return err
	}
	s.config.Log.WithField("count", len(items)).Debug("appended domain events")
	return nil
}

// DomainEventQuery configures GetDomainEvents.
type DomainEventQuery struct {
	Bounds
	Limit       *int
	PageSize    int
	IsAscending bool
}

// GetDomainEvents returns a lazy, decoded sequence of domain events for
// entityID. When Limit is nil and either PageSize or the store's
// Config.DefaultPageSize is set, results are produced by a PagedIterator
// (spec.md §4.G); otherwise a single underlying query is issued.
func (s *EventStore) GetDomainEvents(ctx context.Context, entityID uuid.UUID, q DomainEventQuery) (EventIterator, error) {
	pageSize := q.PageSize
	if pageSize == 0 && q.Limit == nil {
		pageSize = s.config.DefaultPageSize
	}
	if pageSize > 0 && q.Limit == nil {
		pit := NewPagedIterator(s.strategy, PagedIteratorConfig{
			SequenceID:  entityID,
			PageSize:    pageSize,
			Bounds:      q.Bounds,
			IsAscending: q.IsAscending,
			Log:         s.config.Log,
		}, s.config.DefaultIteratorClass)
		return &decodingIterator{source: pit, mapper: s.mapper}, nil
	}

	ctx, cancel := withTimeout(ctx, s.config.QueryTimeout)
	defer cancel()
	items, err := s.strategy.GetItems(ctx, entityID, GetItemsOptions{
		Bounds:           q.Bounds,
		Limit:            q.Limit,
		QueryAscending:   q.IsAscending,
		ResultsAscending: q.IsAscending,
	})
	if err != nil {
		return nil, err
	}
	return &sliceEventIterator{items: items, mapper: s.mapper}, nil
}

// GetMostRecentEvent returns the most recent event not exceeding the lt/lte
// bound, or nil if none exists.
func (s *EventStore) GetMostRecentEvent(ctx context.Context, entityID uuid.UUID, lt, lte *float64) (any, error) {
	ctx, cancel := withTimeout(ctx, s.config.QueryTimeout)
	defer cancel()
	limit := 1
	items, err := s.strategy.GetItems(ctx, entityID, GetItemsOptions{
		Bounds:           Bounds{LT: lt, LTE: lte},
		Limit:            &limit,
		QueryAscending:   false,
		ResultsAscending: false,
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return s.mapper.FromItem(items[0])
}

// AllDomainEvents returns a decoded view over every item in the store,
// across every sequence_id.
func (s *EventStore) AllDomainEvents(ctx context.Context) (EventIterator, error) {
	// QueryTimeout is not applied here: AllItems hands back a streaming
	// cursor the caller drains over an arbitrary number of Next calls, and
	// canceling its context early would break iteration rather than bound
	// a single query.
	it, err := s.strategy.AllItems(ctx)
	if err != nil {
		return nil, err
	}
	return &decodingIterator{source: it, mapper: s.mapper}, nil
}

// EventIterator is a lazy sequence of decoded domain events.
type EventIterator interface {
	// Next returns the next event, or (nil, nil) once exhausted.
	Next(ctx context.Context) (any, error)
	Close() error
}

type decodingIterator struct {
	source ItemIterator
	mapper *SequencedItemMapper
}

func (d *decodingIterator) Next(ctx context.Context) (any, error) {
	item, err := d.source.Next(ctx)
	if err != nil || item == nil {
		return nil, err
	}
	return d.mapper.FromItem(*item)
}

func (d *decodingIterator) Close() error { return d.source.Close() }

type sliceEventIterator struct {
	items  []SequencedItem
	mapper *SequencedItemMapper
	idx    int
}

func (s *sliceEventIterator) Next(_ context.Context) (any, error) {
	if s.idx >= len(s.items) {
		return nil, nil
	}
	item := s.items[s.idx]
	s.idx++
	return s.mapper.FromItem(item)
}

func (s *sliceEventIterator) Close() error { return nil }
