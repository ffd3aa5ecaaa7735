package sourcing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ctxCapturingStrategy wraps MemoryActiveRecordStrategy to record the
// context each call actually received, so tests can assert Config's
// timeout knobs reach the strategy boundary as a deadline.
type ctxCapturingStrategy struct {
	*MemoryActiveRecordStrategy
	appendCtx   context.Context
	getItemsCtx context.Context
	callCount   int
}

func (s *ctxCapturingStrategy) Append(ctx context.Context, item SequencedItem) error {
	s.appendCtx = ctx
	return s.MemoryActiveRecordStrategy.Append(ctx, item)
}

func (s *ctxCapturingStrategy) GetItems(ctx context.Context, sequenceID uuid.UUID, opts GetItemsOptions) ([]SequencedItem, error) {
	s.getItemsCtx = ctx
	s.callCount++
	return s.MemoryActiveRecordStrategy.GetItems(ctx, sequenceID, opts)
}

func newTestStore(t *testing.T, opts ...EventStoreOption) *EventStore {
	t.Helper()
	registry := NewRegistry()
	require.NoError(t, registry.Register(TopicFor("orders", "itemAdded"), itemAdded{}, itemAddedDescriptor()))
	mapper := NewSequencedItemMapper(registry, NewCodec(registry), "entity_version")
	return NewEventStore(mapper, NewMemoryActiveRecordStrategy(), opts...)
}

func TestEventStoreAppendAndReplay(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := uuid.New()

	require.NoError(t, store.Append(ctx,
		itemAdded{EntityID: id, Version: 0, Name: "first"},
		itemAdded{EntityID: id, Version: 1, Name: "second"},
	))

	it, err := store.GetDomainEvents(ctx, id, DomainEventQuery{IsAscending: true})
	require.NoError(t, err)
	defer it.Close()

	var names []string
	for {
		event, err := it.Next(ctx)
		require.NoError(t, err)
		if event == nil {
			break
		}
		names = append(names, event.(itemAdded).Name)
	}
	assert.Equal(t, []string{"first", "second"}, names)
}

func TestEventStoreAppendConflictBecomesConcurrencyError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := uuid.New()

	require.NoError(t, store.Append(ctx, itemAdded{EntityID: id, Version: 0, Name: "a"}))
	err := store.Append(ctx, itemAdded{EntityID: id, Version: 0, Name: "b"})
	assert.True(t, IsConcurrencyError(err))
}

func TestEventStoreAppendRejectsEmptyBatch(t *testing.T) {
	store := newTestStore(t)
	err := store.Append(context.Background())
	assert.True(t, IsValidationError(err))
}

func TestEventStoreAppendEnforcesMaxBatchSize(t *testing.T) {
	store := newTestStore(t, WithConfig(Config{MaxBatchSize: 1}))
	id := uuid.New()
	err := store.Append(context.Background(),
		itemAdded{EntityID: id, Version: 0, Name: "a"},
		itemAdded{EntityID: id, Version: 1, Name: "b"},
	)
	assert.True(t, IsValidationError(err))
}

func TestEventStoreGetMostRecentEvent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := uuid.New()
	require.NoError(t, store.Append(ctx,
		itemAdded{EntityID: id, Version: 0, Name: "first"},
		itemAdded{EntityID: id, Version: 1, Name: "second"},
	))

	event, err := store.GetMostRecentEvent(ctx, id, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "second", event.(itemAdded).Name)
}

func TestEventStoreGetMostRecentEventNoneFound(t *testing.T) {
	store := newTestStore(t)
	event, err := store.GetMostRecentEvent(context.Background(), uuid.New(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestEventStoreGetDomainEventsPaginates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := uuid.New()
	for i := 0; i < 9; i++ {
		require.NoError(t, store.Append(ctx, itemAdded{EntityID: id, Version: float64(i), Name: "x"}))
	}

	it, err := store.GetDomainEvents(ctx, id, DomainEventQuery{PageSize: 4, IsAscending: true})
	require.NoError(t, err)
	defer it.Close()

	count := 0
	for {
		event, err := it.Next(ctx)
		require.NoError(t, err)
		if event == nil {
			break
		}
		count++
	}
	assert.Equal(t, 9, count)
}

func TestEventStoreAppendTimeoutSetsDeadlineOnStrategyContext(t *testing.T) {
	strategy := &ctxCapturingStrategy{MemoryActiveRecordStrategy: NewMemoryActiveRecordStrategy()}
	registry := NewRegistry()
	require.NoError(t, registry.Register(TopicFor("orders", "itemAdded"), itemAdded{}, itemAddedDescriptor()))
	mapper := NewSequencedItemMapper(registry, NewCodec(registry), "entity_version")
	store := NewEventStore(mapper, strategy, WithConfig(Config{AppendTimeout: 50 * time.Millisecond}))

	require.NoError(t, store.Append(context.Background(), itemAdded{EntityID: uuid.New(), Version: 0, Name: "a"}))

	deadline, ok := strategy.appendCtx.Deadline()
	require.True(t, ok, "expected Append's context to carry a deadline")
	assert.True(t, time.Until(deadline) <= 50*time.Millisecond)
}

func TestEventStoreQueryTimeoutSetsDeadlineOnStrategyContext(t *testing.T) {
	strategy := &ctxCapturingStrategy{MemoryActiveRecordStrategy: NewMemoryActiveRecordStrategy()}
	registry := NewRegistry()
	require.NoError(t, registry.Register(TopicFor("orders", "itemAdded"), itemAdded{}, itemAddedDescriptor()))
	mapper := NewSequencedItemMapper(registry, NewCodec(registry), "entity_version")
	store := NewEventStore(mapper, strategy, WithConfig(Config{QueryTimeout: 50 * time.Millisecond}))

	_, err := store.GetMostRecentEvent(context.Background(), uuid.New(), nil, nil)
	require.NoError(t, err)

	deadline, ok := strategy.getItemsCtx.Deadline()
	require.True(t, ok, "expected GetMostRecentEvent's context to carry a deadline")
	assert.True(t, time.Until(deadline) <= 50*time.Millisecond)
}

func TestEventStoreDefaultPageSizeDrivesUnrequestedPaging(t *testing.T) {
	ctx := context.Background()
	strategy := &ctxCapturingStrategy{MemoryActiveRecordStrategy: NewMemoryActiveRecordStrategy()}
	registry := NewRegistry()
	require.NoError(t, registry.Register(TopicFor("orders", "itemAdded"), itemAdded{}, itemAddedDescriptor()))
	mapper := NewSequencedItemMapper(registry, NewCodec(registry), "entity_version")
	store := NewEventStore(mapper, strategy, WithConfig(Config{DefaultPageSize: 4}))

	id := uuid.New()
	for i := 0; i < 9; i++ {
		require.NoError(t, store.Append(ctx, itemAdded{EntityID: id, Version: float64(i), Name: "x"}))
	}

	// A query with no PageSize and no Limit must still go through the
	// paged path when the store has a DefaultPageSize, issuing more than
	// one GetItems call instead of falling back to a single query.
	it, err := store.GetDomainEvents(ctx, id, DomainEventQuery{IsAscending: true})
	require.NoError(t, err)
	defer it.Close()

	count := 0
	for {
		event, err := it.Next(ctx)
		require.NoError(t, err)
		if event == nil {
			break
		}
		count++
	}
	assert.Equal(t, 9, count)
	assert.Greater(t, strategy.callCount, 1)
}

func TestEventStoreAllDomainEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Append(ctx, itemAdded{EntityID: uuid.New(), Version: 0, Name: "a"}))
	require.NoError(t, store.Append(ctx, itemAdded{EntityID: uuid.New(), Version: 0, Name: "b"}))

	it, err := store.AllDomainEvents(ctx)
	require.NoError(t, err)
	defer it.Close()

	count := 0
	for {
		event, err := it.Next(ctx)
		require.NoError(t, err)
		if event == nil {
			break
		}
		count++
	}
	assert.Equal(t, 2, count)
}
