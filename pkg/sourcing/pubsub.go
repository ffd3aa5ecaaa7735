package sourcing

// Subscriber receives events published on a Bus. A non-nil return stops
// delivery to any subscriber registered after it and is propagated back to
// the caller of Publish, so a failure (e.g. a persistence policy's append)
// is observed synchronously by the original publisher rather than swallowed.
type Subscriber func(event any) error

// Bus is an in-process publish/subscribe channel. Delivery is synchronous
// and in publisher order: Publish returns only after every subscriber
// registered at call time has run, or the first one to fail. There is no
// background goroutine and no buffering, matching the original's
// plain-function pub/sub (grounded on
// original_source/eventsourcing/application/base.py's event publishing).
type Bus struct {
	subscribers []Subscriber
}

// NewBus builds an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers sub to receive every future Publish call. It returns
// an Unsubscribe func removing exactly this registration.
func (b *Bus) Subscribe(sub Subscriber) (unsubscribe func()) {
	b.subscribers = append(b.subscribers, sub)
	token := len(b.subscribers) - 1
	return func() {
		if token < 0 || token >= len(b.subscribers) {
			return
		}
		b.subscribers[token] = nil
	}
}

// Publish delivers event to every live subscriber, in subscription order,
// stopping at and returning the first subscriber error.
func (b *Bus) Publish(event any) error {
	for _, sub := range b.subscribers {
		if sub == nil {
			continue
		}
		if err := sub(event); err != nil {
			return err
		}
	}
	return nil
}
