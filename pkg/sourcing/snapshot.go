package sourcing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Snapshot is a value with the entity's observable state captured at a
// point in its history, stored as a sequenced item in its own sequence
// keyed off the entity id (spec.md §3, §4.H).
type Snapshot struct {
	EntityID    uuid.UUID
	EntityTopic string
	State       map[string]any
	Timestamp   float64
	Version     float64
}

// SnapshotTopic is the topic Snapshot values are registered under.
const SnapshotTopic = "eventsourcing#Snapshot"

// RegisterSnapshotType registers the Snapshot value type itself on
// registry, so a snapshot-dedicated EventStore can append and read
// Snapshot values exactly like any other domain event.
func RegisterSnapshotType(registry *Registry) error {
	return registry.Register(SnapshotTopic, Snapshot{}, Descriptor{
		Extract: func(value any) (map[string]any, error) {
			snap, ok := value.(Snapshot)
			if !ok {
				return nil, fmt.Errorf("expected Snapshot, got %T", value)
			}
			return map[string]any{
				"entity_id":    snap.EntityID,
				"entity_topic": snap.EntityTopic,
				"state":        snap.State,
				"timestamp":    snap.Timestamp,
				"version":      snap.Version,
			}, nil
		},
		New: func(state map[string]any) (any, error) {
			entityID, ok := state["entity_id"].(uuid.UUID)
			if !ok {
				return nil, fmt.Errorf("snapshot missing entity_id")
			}
			entityTopic, _ := state["entity_topic"].(string)
			innerState, _ := state["state"].(map[string]any)
			timestamp, _ := toPosition(state["timestamp"])
			version, _ := toPosition(state["version"])
			return Snapshot{
				EntityID:    entityID,
				EntityTopic: entityTopic,
				State:       innerState,
				Timestamp:   timestamp,
				Version:     version,
			}, nil
		},
	})
}

// SnapshotStrategy takes and retrieves snapshots for an entity.
type SnapshotStrategy interface {
	// TakeSnapshot serializes entity's observable state under its
	// registered class topic and appends it to the snapshot sequence.
	TakeSnapshot(ctx context.Context, entity any, timestamp float64) (Snapshot, error)
	// GetSnapshot returns the most recent snapshot not exceeding the lt/lte
	// bound, or nil if none exists.
	GetSnapshot(ctx context.Context, entityID uuid.UUID, lt, lte *float64) (*Snapshot, error)
}

// EventStoreSnapshotStrategy implements SnapshotStrategy on top of a
// dedicated EventStore (own active-record strategy, usually its own
// table) and the Registry used to resolve entity classes.
type EventStoreSnapshotStrategy struct {
	store    *EventStore
	entities *Registry
}

// NewEventStoreSnapshotStrategy builds a SnapshotStrategy. store's mapper
// must have been built against a registry where RegisterSnapshotType has
// been called; entities resolves the entity class topic embedded in each
// snapshot.
func NewEventStoreSnapshotStrategy(store *EventStore, entities *Registry) *EventStoreSnapshotStrategy {
	return &EventStoreSnapshotStrategy{store: store, entities: entities}
}

// TakeSnapshot implements SnapshotStrategy.
func (s *EventStoreSnapshotStrategy) TakeSnapshot(ctx context.Context, entity any, timestamp float64) (Snapshot, error) {
	topic, err := s.entities.TopicOf(entity)
	if err != nil {
		return Snapshot{}, err
	}
	desc, err := s.entities.Resolve(topic)
	if err != nil {
		return Snapshot{}, err
	}
	state, err := desc.Extract(entity)
	if err != nil {
		return Snapshot{}, &ValidationError{StoreError: StoreError{Op: "EventStoreSnapshotStrategy.TakeSnapshot", Err: err}}
	}
	entityID, ok := state["entity_id"].(uuid.UUID)
	if !ok {
		return Snapshot{}, &ValidationError{
			StoreError: StoreError{Op: "EventStoreSnapshotStrategy.TakeSnapshot", Err: fmt.Errorf("entity of topic %q has no entity_id", topic)},
			Field:      "entity_id",
		}
	}
	version, _ := toPosition(state["version"])

	snap := Snapshot{EntityID: entityID, EntityTopic: topic, State: state, Timestamp: timestamp, Version: version}
	if err := s.store.Append(ctx, snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// GetSnapshot implements SnapshotStrategy.
func (s *EventStoreSnapshotStrategy) GetSnapshot(ctx context.Context, entityID uuid.UUID, lt, lte *float64) (*Snapshot, error) {
	event, err := s.store.GetMostRecentEvent(ctx, entityID, lt, lte)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, nil
	}
	snap, ok := event.(Snapshot)
	if !ok {
		return nil, &DecodeError{StoreError{Op: "EventStoreSnapshotStrategy.GetSnapshot", Err: fmt.Errorf("expected Snapshot, got %T", event)}}
	}
	return &snap, nil
}

// ApplySnapshot rehydrates an entity from snap by resolving its entity
// class topic and invoking the registered factory with the snapshotted
// state — no user-level constructor runs.
func ApplySnapshot(entities *Registry, snap Snapshot) (any, error) {
	desc, err := entities.Resolve(snap.EntityTopic)
	if err != nil {
		return nil, err
	}
	return desc.New(snap.State)
}
