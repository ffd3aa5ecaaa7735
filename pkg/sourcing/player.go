package sourcing

import (
	"context"

	"github.com/google/uuid"
)

// MutateFunc folds a single domain event into state, returning the next
// state. It must be pure: the player never calls it concurrently or out of
// order.
type MutateFunc func(state any, event any) any

// PlayerOption configures an EventPlayer at construction time.
type PlayerOption func(*EventPlayer)

// WithPageSize makes replay use a PagedIterator instead of a single query
// once page_size is set.
func WithPageSize(pageSize int) PlayerOption {
	return func(p *EventPlayer) { p.pageSize = pageSize }
}

// WithShortStreamHint flips the default query direction to descending when
// no bound, limit or page_size is given — an optimization hint for backends
// that store items in descending order (spec.md §9 Open Questions).
// Backends without that property may ignore it; the in-memory and
// postgres strategies serve it as an ordinary descending query, and the
// player reverses the fetched events before the fold.
func WithShortStreamHint(isShort bool) PlayerOption {
	return func(p *EventPlayer) { p.isShort = isShort }
}

// WithSnapshots enables TakeSnapshot by supplying the snapshot strategy and
// the entity registry used to rehydrate an entity from a snapshot.
func WithSnapshots(strategy SnapshotStrategy, entities *Registry) PlayerOption {
	return func(p *EventPlayer) {
		p.snapshots = strategy
		p.entities = entities
	}
}

// WithPositionOf supplies an accessor that reads the position attribute off
// a decoded domain event; required only by TakeSnapshot.
func WithPositionOf(fn func(event any) (float64, error)) PlayerOption {
	return func(p *EventPlayer) { p.positionOf = fn }
}

// WithLastModifiedOf supplies an accessor that reads the "as of" timestamp
// off a rehydrated entity; required only by TakeSnapshot.
func WithLastModifiedOf(fn func(entity any) (float64, error)) PlayerOption {
	return func(p *EventPlayer) { p.lastModifiedOf = fn }
}

// PositionKind selects the tail-bound formula TakeSnapshot uses when
// resuming replay from the last snapshot (spec.md §4.I step 3). An integer
// position advances in whole steps, so the next event starts at
// version+1; a timestamp position is continuous, so adding 1 would skip
// roughly a second's worth of events — the next event is simply any event
// strictly after the snapshot's position.
type PositionKind int

const (
	// PositionVersion treats a stream's position as an integer step counter.
	PositionVersion PositionKind = iota
	// PositionTimestamp treats a stream's position as a continuous timestamp.
	PositionTimestamp
)

// WithPositionKind selects how TakeSnapshot computes the resume bound after
// a snapshot. Defaults to PositionVersion.
func WithPositionKind(kind PositionKind) PlayerOption {
	return func(p *EventPlayer) { p.positionKind = kind }
}

// EventPlayer reconstitutes domain entities by folding a (possibly
// snapshotted, possibly paginated) event stream through a mutator
// (spec.md §4.I).
type EventPlayer struct {
	store  *EventStore
	mutate MutateFunc

	pageSize int
	isShort  bool

	snapshots      SnapshotStrategy
	entities       *Registry
	positionOf     func(event any) (float64, error)
	lastModifiedOf func(entity any) (float64, error)
	positionKind   PositionKind
}

// NewEventPlayer builds an EventPlayer.
func NewEventPlayer(store *EventStore, mutate MutateFunc, opts ...PlayerOption) *EventPlayer {
	p := &EventPlayer{store: store, mutate: mutate}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ReplayQuery configures ReplayEntity.
type ReplayQuery struct {
	Bounds
	Limit           *int
	InitialState    any
	QueryDescending bool
}

// ReplayEntity reconstitutes the requested entity from the events found in
// the event store, folding them through the player's mutator.
func (p *EventPlayer) ReplayEntity(ctx context.Context, entityID uuid.UUID, q ReplayQuery) (any, error) {
	isAscending := true
	if p.isShort && q.GT == nil && q.GTE == nil && q.LT == nil && q.LTE == nil && q.Limit == nil && p.pageSize == 0 {
		isAscending = false
	} else if q.QueryDescending {
		isAscending = false
	}

	it, err := p.store.GetDomainEvents(ctx, entityID, DomainEventQuery{
		Bounds:      q.Bounds,
		Limit:       q.Limit,
		PageSize:    p.pageSize,
		IsAscending: isAscending,
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var events []any
	for {
		event, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if event == nil {
			break
		}
		events = append(events, event)
	}

	// The fold always runs in ascending position order, regardless of the
	// direction the underlying query actually walked.
	if !isAscending {
		for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
			events[i], events[j] = events[j], events[i]
		}
	}

	state := q.InitialState
	for _, event := range events {
		state = p.mutate(state, event)
	}
	return state, nil
}

// GetMostRecentEvent returns the most recent event for entityID, or nil.
func (p *EventPlayer) GetMostRecentEvent(ctx context.Context, entityID uuid.UUID, lt, lte *float64) (any, error) {
	return p.store.GetMostRecentEvent(ctx, entityID, lt, lte)
}

// GetSnapshot returns the snapshot strategy's most recent snapshot for
// entityID not exceeding the lt/lte bound, or nil if no snapshot strategy
// is configured or none exists.
func (p *EventPlayer) GetSnapshot(ctx context.Context, entityID uuid.UUID, lt, lte *float64) (*Snapshot, error) {
	if p.snapshots == nil {
		return nil, nil
	}
	return p.snapshots.GetSnapshot(ctx, entityID, lt, lte)
}

// TakeSnapshot takes a snapshot of the entity as it existed after the most
// recent event, optionally bounded by lt/lte (spec.md §4.I). It requires a
// snapshot strategy and both accessor functions to have been configured.
func (p *EventPlayer) TakeSnapshot(ctx context.Context, entityID uuid.UUID, lt, lte *float64) (*Snapshot, error) {
	lastEvent, err := p.GetMostRecentEvent(ctx, entityID, lt, lte)
	if err != nil {
		return nil, err
	}
	if lastEvent == nil {
		return nil, nil
	}
	lastPosition, err := p.positionOf(lastEvent)
	if err != nil {
		return nil, err
	}

	lastSnapshot, err := p.GetSnapshot(ctx, entityID, nil, &lastPosition)
	if err != nil {
		return nil, err
	}

	var initialState any
	var gt, gte *float64
	if lastSnapshot != nil {
		if lastSnapshot.Version < lastPosition {
			initial, err := ApplySnapshot(p.entities, *lastSnapshot)
			if err != nil {
				return nil, err
			}
			initialState = initial
			switch p.positionKind {
			case PositionTimestamp:
				tail := lastSnapshot.Version
				gt = &tail
			default:
				next := lastSnapshot.Version + 1
				gte = &next
			}
		} else {
			// The latest snapshot already covers the last event: nothing
			// to do.
			return lastSnapshot, nil
		}
	}

	entity, err := p.ReplayEntity(ctx, entityID, ReplayQuery{
		Bounds:       Bounds{GT: gt, GTE: gte, LT: lt, LTE: lte},
		InitialState: initialState,
	})
	if err != nil {
		return nil, err
	}

	timestamp, err := p.lastModifiedOf(entity)
	if err != nil {
		return nil, err
	}
	snap, err := p.snapshots.TakeSnapshot(ctx, entity, timestamp)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
