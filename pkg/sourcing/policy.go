package sourcing

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// VersionedEntityEvent is published by entities whose stream position is an
// integer-like version number (spec.md §3's "integer position" flavor).
// Implementations need nothing beyond identity — the marker is only used to
// route events to the right store in a PersistencePolicy configured with
// more than one.
type VersionedEntityEvent interface {
	isVersionedEntityEvent()
}

// TimestampedEntityEvent is published by entities whose stream position is
// a timestamp (spec.md §3's "timestamp position" flavor).
type TimestampedEntityEvent interface {
	isTimestampedEntityEvent()
}

// PersistencePolicy subscribes to a Bus and appends every published entity
// event to the appropriate EventStore, the way the original's
// PersistencePolicy subscribes to published events and calls
// event_store.append (original_source/eventsourcing/application/base.py).
type PersistencePolicy struct {
	bus             *Bus
	versionedStore  *EventStore
	timestampedStore *EventStore
	log             *logrus.Entry

	unsubscribe func()
	closeOnce   sync.Once
}

// PolicyOption configures a PersistencePolicy at construction time.
type PolicyOption func(*PersistencePolicy)

// WithVersionedStore routes VersionedEntityEvent values to store.
func WithVersionedStore(store *EventStore) PolicyOption {
	return func(p *PersistencePolicy) { p.versionedStore = store }
}

// WithTimestampedStore routes TimestampedEntityEvent values to store.
func WithTimestampedStore(store *EventStore) PolicyOption {
	return func(p *PersistencePolicy) { p.timestampedStore = store }
}

// WithPolicyLogger attaches a structured logger.
func WithPolicyLogger(log *logrus.Entry) PolicyOption {
	return func(p *PersistencePolicy) { p.log = log }
}

// NewPersistencePolicy subscribes to bus and starts appending published
// entity events to the configured store(s). At least one of
// WithVersionedStore / WithTimestampedStore must be given, or published
// events of that flavor are silently dropped with a warning.
func NewPersistencePolicy(bus *Bus, opts ...PolicyOption) *PersistencePolicy {
	p := &PersistencePolicy{bus: bus, log: logrus.NewEntry(logrus.StandardLogger())}
	for _, opt := range opts {
		opt(p)
	}
	p.unsubscribe = bus.Subscribe(p.onPublish)
	return p
}

// onPublish appends event to the appropriate store and returns the append
// error to the Bus, which propagates it back to whoever called Publish —
// the policy never swallows a persistence failure (spec.md §7).
func (p *PersistencePolicy) onPublish(event any) error {
	ctx := context.Background()
	switch event.(type) {
	case VersionedEntityEvent:
		if p.versionedStore == nil {
			p.log.WithField("event", event).Warn("no versioned store configured, dropping event")
			return nil
		}
		if err := p.versionedStore.Append(ctx, event); err != nil {
			p.log.WithError(err).Error("persistence policy failed to append versioned event")
			return err
		}
	case TimestampedEntityEvent:
		if p.timestampedStore == nil {
			p.log.WithField("event", event).Warn("no timestamped store configured, dropping event")
			return nil
		}
		if err := p.timestampedStore.Append(ctx, event); err != nil {
			p.log.WithError(err).Error("persistence policy failed to append timestamped event")
			return err
		}
	default:
		// Events that implement neither marker interface are not entity
		// events and are not this policy's concern.
	}
	return nil
}

// Close unsubscribes from the bus. It is idempotent and safe to call more
// than once, mirroring the teacher's application-close pattern.
func (p *PersistencePolicy) Close() error {
	p.closeOnce.Do(func() {
		if p.unsubscribe != nil {
			p.unsubscribe()
		}
	})
	return nil
}
