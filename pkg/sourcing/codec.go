package sourcing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Marker keys used by the canonical textual encoding. These names follow
// the reference implementation (spec.md §6) so that a payload produced by
// one reader/writer pair remains legible against the source project's own
// fixtures.
const (
	markerTimestamp = "ISO8601_datetime"
	markerDate      = "ISO8601_date"
	markerUUID      = "UUID"
	markerClass     = "__class__"
)

const timestampLayout = "2006-01-02T15:04:05.000000-0700"

// Codec encodes and decodes a tree of primitive and well-known values to
// and from the canonical textual form described in spec.md §4.B: object
// keys sorted, no insignificant whitespace, timestamps/dates/UUIDs/nested
// registered values wrapped in a marker object.
//
// encoding/json sorts map[string]any keys by construction, which is what
// gives the encoder its "sorted keys" property without any bespoke
// marshaling code.
type Codec struct {
	registry *Registry
}

// NewCodec builds a Codec that resolves nested registered values through
// registry.
func NewCodec(registry *Registry) *Codec {
	return &Codec{registry: registry}
}

// Encode serializes v into the canonical textual form.
func (c *Codec) Encode(v any) ([]byte, error) {
	tree, err := c.encodeValue(v)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, &DecodeError{StoreError{Op: "Codec.Encode", Err: err}}
	}
	return data, nil
}

// Decode parses the canonical textual form back into a tree of Go values:
// primitives, time.Time, Date, uuid.UUID, map[string]any, []any, and
// whatever New returns for nested registered values.
func (c *Codec) Decode(data []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &DecodeError{StoreError{Op: "Codec.Decode", Err: err}}
	}
	return c.decodeValue(raw)
}

func (c *Codec) encodeValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, string, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val, nil
	case time.Time:
		return map[string]any{markerTimestamp: val.Format(timestampLayout)}, nil
	case Date:
		return map[string]any{markerDate: fmt.Sprintf("%04d-%02d-%02d", val.Year, val.Month, val.Day)}, nil
	case uuid.UUID:
		return map[string]any{markerUUID: uuidHex(val)}, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			encoded, err := c.encodeValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = encoded
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			encoded, err := c.encodeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = encoded
		}
		return out, nil
	default:
		return c.encodeNested(val)
	}
}

func (c *Codec) encodeNested(v any) (any, error) {
	topic, err := c.registry.TopicOf(v)
	if err != nil {
		return nil, err
	}
	desc, err := c.registry.Resolve(topic)
	if err != nil {
		return nil, err
	}
	state, err := desc.Extract(v)
	if err != nil {
		return nil, &DecodeError{StoreError{Op: "Codec.encodeNested", Err: err}}
	}
	encodedState, err := c.encodeValue(map[string]any(state))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		markerClass: map[string]any{
			"topic": topic,
			"state": encodedState,
		},
	}, nil
}

func (c *Codec) decodeValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if raw, ok := val[markerTimestamp]; ok {
			s, _ := raw.(string)
			return parseTimestamp(s)
		}
		if raw, ok := val[markerDate]; ok {
			s, _ := raw.(string)
			return parseDate(s)
		}
		if raw, ok := val[markerUUID]; ok {
			s, _ := raw.(string)
			return parseUUIDHex(s)
		}
		if raw, ok := val[markerClass]; ok {
			return c.decodeClass(raw)
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			decoded, err := c.decodeValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = decoded
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			decoded, err := c.decodeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = decoded
		}
		return out, nil
	default:
		return val, nil
	}
}

func (c *Codec) decodeClass(raw any) (any, error) {
	wrapper, ok := raw.(map[string]any)
	if !ok {
		return nil, &DecodeError{StoreError{Op: "Codec.decodeClass", Err: fmt.Errorf("malformed %s wrapper", markerClass)}}
	}
	topic, _ := wrapper["topic"].(string)
	desc, err := c.registry.Resolve(topic)
	if err != nil {
		return nil, err
	}
	decodedState, err := c.decodeValue(wrapper["state"])
	if err != nil {
		return nil, err
	}
	stateMap, ok := decodedState.(map[string]any)
	if !ok {
		return nil, &DecodeError{StoreError{Op: "Codec.decodeClass", Err: fmt.Errorf("state of %s is not an object", topic)}}
	}
	value, err := desc.New(stateMap)
	if err != nil {
		return nil, &DecodeError{StoreError{Op: "Codec.decodeClass", Err: err}}
	}
	return value, nil
}

func uuidHex(u uuid.UUID) string {
	var buf [32]byte
	const hexDigits = "0123456789abcdef"
	raw := u
	j := 0
	for _, b := range raw {
		buf[j] = hexDigits[b>>4]
		buf[j+1] = hexDigits[b&0x0f]
		j += 2
	}
	return string(buf[:])
}

func parseUUIDHex(s string) (uuid.UUID, error) {
	if len(s) != 32 {
		return uuid.UUID{}, &DecodeError{StoreError{Op: "parseUUIDHex", Err: fmt.Errorf("invalid UUID hex length %d", len(s))}}
	}
	dashed := s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
	u, err := uuid.Parse(dashed)
	if err != nil {
		return uuid.UUID{}, &DecodeError{StoreError{Op: "parseUUIDHex", Err: err}}
	}
	return u, nil
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		// Accept the standard library's RFC3339Nano-ish rendering too, so
		// values produced with a different but compatible layout round-trip.
		if t2, err2 := time.Parse(time.RFC3339Nano, s); err2 == nil {
			return t2, nil
		}
		return time.Time{}, &DecodeError{StoreError{Op: "parseTimestamp", Err: err}}
	}
	return t, nil
}

func parseDate(s string) (Date, error) {
	var y, m, d int
	if _, err := fmt.Sscanf(s, "%04d-%02d-%02d", &y, &m, &d); err != nil {
		return Date{}, &DecodeError{StoreError{Op: "parseDate", Err: err}}
	}
	return Date{Year: y, Month: m, Day: d}, nil
}
