package sourcing

import (
	"fmt"
	"reflect"
	"sync"
)

// Descriptor is an explicit, reflection-free bridge between a registered Go
// type and the structured attribute bag the codec and mapper operate on.
// Extract turns a live value into its attribute bag; New turns a decoded
// attribute bag back into a live value without ever invoking the type's own
// constructor, preserving the "no user constructor runs on replay"
// invariant described in spec.md §9 without resorting to reflection-based
// field injection.
type Descriptor struct {
	// AlwaysEncrypt marks every event of this type for encryption,
	// regardless of the mapper's own default (spec.md §4.D).
	AlwaysEncrypt bool
	Extract       func(value any) (map[string]any, error)
	New           func(state map[string]any) (any, error)
}

// Registry is a bidirectional, explicit mapping between a topic string and
// the Descriptor that knows how to take a registered Go type apart and put
// it back together. It is process-wide only if the caller chooses to use
// DefaultRegistry; construction is otherwise fully explicit.
//
// No dynamic reloading is supported: topics are registered once, in
// declaration order, before any reader goroutine starts (spec.md §5).
type Registry struct {
	mu      sync.RWMutex
	byTopic map[string]Descriptor
	byType  map[reflect.Type]string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byTopic: make(map[string]Descriptor),
		byType:  make(map[reflect.Type]string),
	}
}

// DefaultRegistry is a process-wide registry provided for convenience. Using
// it is optional: every constructor in this package accepts an explicit
// *Registry instead.
var DefaultRegistry = NewRegistry()

// Register associates topic with desc. sample is only used to capture the
// reflect.Type of the registered Go type so that TopicOf can map a live
// value back to its topic; it is never stored or mutated.
func (r *Registry) Register(topic string, sample any, desc Descriptor) error {
	if topic == "" {
		return &ValidationError{StoreError: StoreError{Op: "Registry.Register", Err: fmt.Errorf("topic must not be empty")}, Field: "topic"}
	}
	if desc.Extract == nil || desc.New == nil {
		return &ValidationError{StoreError: StoreError{Op: "Registry.Register", Err: fmt.Errorf("descriptor must supply Extract and New")}, Field: "descriptor"}
	}
	t := reflect.TypeOf(sample)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTopic[topic] = desc
	if t != nil {
		r.byType[t] = topic
	}
	return nil
}

// TopicOf returns the stable topic string previously registered for value's
// concrete type.
func (r *Registry) TopicOf(value any) (string, error) {
	t := reflect.TypeOf(value)
	r.mu.RLock()
	defer r.mu.RUnlock()
	topic, ok := r.byType[t]
	if !ok {
		return "", &TopicResolutionError{
			StoreError: StoreError{Op: "Registry.TopicOf", Err: fmt.Errorf("type %v has no registered topic", t)},
			Topic:      fmt.Sprintf("%v", t),
		}
	}
	return topic, nil
}

// Resolve returns the Descriptor registered for topic, or a
// TopicResolutionError if topic is unknown.
func (r *Registry) Resolve(topic string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.byTopic[topic]
	if !ok {
		return Descriptor{}, &TopicResolutionError{
			StoreError: StoreError{Op: "Registry.Resolve", Err: fmt.Errorf("unresolvable topic %q", topic)},
			Topic:      topic,
		}
	}
	return desc, nil
}

// Has reports whether topic has been registered.
func (r *Registry) Has(topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byTopic[topic]
	return ok
}

// TopicFor is a convenience that builds the "module#QualifiedName" shaped
// topic string the reference implementation uses, given a package path and
// a type name. The only hard requirement on the shape (spec.md §4.A) is
// round-trip stability, which any fixed, unique string satisfies.
func TopicFor(pkg, name string) string {
	return pkg + "#" + name
}
