package sourcing

import (
	"fmt"

	"github.com/google/uuid"
)

// MapperOption configures a SequencedItemMapper at construction time.
type MapperOption func(*SequencedItemMapper)

// WithCipher installs a Cipher used whenever encryption is active for a
// given event, either because the mapper defaults to always-encrypt or the
// event's own Descriptor is flagged.
func WithCipher(c Cipher) MapperOption {
	return func(m *SequencedItemMapper) { m.cipher = c }
}

// WithAlwaysEncrypt makes every event pass through the cipher regardless of
// its Descriptor's AlwaysEncrypt flag.
func WithAlwaysEncrypt(always bool) MapperOption {
	return func(m *SequencedItemMapper) { m.alwaysEncrypt = always }
}

// SequencedItemMapper converts a domain event value to and from a
// SequencedItem (spec.md §4.D), using the registry to resolve topics and the
// codec to transcode the attribute bag.
type SequencedItemMapper struct {
	registry      *Registry
	codec         *Codec
	positionAttr  string
	cipher        Cipher
	alwaysEncrypt bool
}

// NewSequencedItemMapper builds a mapper. positionAttr names the attribute
// that carries the position within its sequence, typically
// "entity_version" for integer-positioned streams or "timestamp" for
// timestamp-positioned streams.
func NewSequencedItemMapper(registry *Registry, codec *Codec, positionAttr string, opts ...MapperOption) *SequencedItemMapper {
	m := &SequencedItemMapper{registry: registry, codec: codec, positionAttr: positionAttr}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ToItem serializes a domain event into a SequencedItem.
func (m *SequencedItemMapper) ToItem(event any) (SequencedItem, error) {
	topic, err := m.registry.TopicOf(event)
	if err != nil {
		return SequencedItem{}, err
	}
	desc, err := m.registry.Resolve(topic)
	if err != nil {
		return SequencedItem{}, err
	}
	attrs, err := desc.Extract(event)
	if err != nil {
		return SequencedItem{}, &ValidationError{StoreError: StoreError{Op: "SequencedItemMapper.ToItem", Err: err}}
	}

	sequenceID, ok := attrs["entity_id"].(uuid.UUID)
	if !ok {
		return SequencedItem{}, &ValidationError{
			StoreError: StoreError{Op: "SequencedItemMapper.ToItem", Err: fmt.Errorf("event of topic %q has no entity_id", topic)},
			Field:      "entity_id",
		}
	}
	position, err := toPosition(attrs[m.positionAttr])
	if err != nil {
		return SequencedItem{}, &ValidationError{
			StoreError: StoreError{Op: "SequencedItemMapper.ToItem", Err: fmt.Errorf("event of topic %q has invalid %s: %w", topic, m.positionAttr, err)},
			Field:      m.positionAttr,
		}
	}

	payload, err := m.codec.Encode(attrs)
	if err != nil {
		return SequencedItem{}, err
	}

	if m.alwaysEncrypt || desc.AlwaysEncrypt {
		if m.cipher == nil {
			return SequencedItem{}, &CipherError{StoreError{Op: "SequencedItemMapper.ToItem", Err: fmt.Errorf("encryption required for topic %q but no cipher configured", topic)}}
		}
		payload, err = m.cipher.Encrypt(payload)
		if err != nil {
			return SequencedItem{}, err
		}
	}

	return SequencedItem{SequenceID: sequenceID, Position: position, Topic: topic, Data: payload}, nil
}

// FromItem reconstructs the original domain event from a SequencedItem. No
// user-level constructor is invoked: desc.New receives the fully decoded
// attribute map.
func (m *SequencedItemMapper) FromItem(item SequencedItem) (any, error) {
	desc, err := m.registry.Resolve(item.Topic)
	if err != nil {
		return nil, err
	}

	payload := item.Data
	if m.alwaysEncrypt || desc.AlwaysEncrypt {
		if m.cipher == nil {
			return nil, &CipherError{StoreError{Op: "SequencedItemMapper.FromItem", Err: fmt.Errorf("decryption required for topic %q but no cipher configured", item.Topic)}}
		}
		payload, err = m.cipher.Decrypt(payload)
		if err != nil {
			return nil, err
		}
	}

	decoded, err := m.codec.Decode(payload)
	if err != nil {
		return nil, err
	}
	attrs, ok := decoded.(map[string]any)
	if !ok {
		return nil, &DecodeError{StoreError{Op: "SequencedItemMapper.FromItem", Err: fmt.Errorf("decoded payload for topic %q is not an object", item.Topic)}}
	}

	event, err := desc.New(attrs)
	if err != nil {
		return nil, &DecodeError{StoreError{Op: "SequencedItemMapper.FromItem", Err: err}}
	}
	return event, nil
}

// toPosition normalizes the many numeric shapes a decoded attribute map may
// hold (float64 from JSON, int64 from a freshly-built event, and so on)
// into the float64 representation SequencedItem uses for Position.
func toPosition(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported position type %T", v)
	}
}
