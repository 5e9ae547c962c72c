package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind tags the type of a collected value.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueNumber
	ValueBool
)

// Value is the tagged sum stored in collected data: string, number, or
// bool. It serializes to the native JSON type.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
}

// StringValue wraps a string.
func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }

// NumberValue wraps a number.
func NumberValue(f float64) Value { return Value{Kind: ValueNumber, Num: f} }

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{Kind: ValueBool, Bool: b} }

// ValueOf converts an arbitrary cleaned value into a Value. Unrecognized
// types are stored as their string rendering.
func ValueOf(v any) Value {
	switch t := v.(type) {
	case string:
		return StringValue(t)
	case float64:
		return NumberValue(t)
	case int:
		return NumberValue(float64(t))
	case bool:
		return BoolValue(t)
	}
	return StringValue(fmt.Sprint(v))
}

// Any returns the native Go representation.
func (v Value) Any() any {
	switch v.Kind {
	case ValueNumber:
		return v.Num
	case ValueBool:
		return v.Bool
	default:
		return v.Str
	}
}

// Display renders the value for template substitution.
func (v Value) Display() string {
	switch v.Kind {
	case ValueNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Str
	}
}

// Empty reports whether the value carries no information (blank string).
func (v Value) Empty() bool {
	return v.Kind == ValueString && strings.TrimSpace(v.Str) == ""
}

// MarshalJSON writes the native JSON type.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// UnmarshalJSON sniffs the JSON type.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = ValueOf(raw)
	return nil
}

// Collected is the per-conversation field map. It preserves insertion
// order through JSON round-trips, as required by the persisted-state
// contract.
type Collected struct {
	keys   []string
	values map[string]Value
}

// NewCollected creates an empty collected-data map.
func NewCollected() *Collected {
	return &Collected{values: make(map[string]Value)}
}

// Set stores a value, keeping first-insertion order for existing keys.
func (c *Collected) Set(field string, v Value) {
	if c.values == nil {
		c.values = make(map[string]Value)
	}
	if _, exists := c.values[field]; !exists {
		c.keys = append(c.keys, field)
	}
	c.values[field] = v
}

// Get returns the value for a field.
func (c *Collected) Get(field string) (Value, bool) {
	v, ok := c.values[field]
	return v, ok
}

// Has reports whether the field holds a non-empty value.
func (c *Collected) Has(field string) bool {
	v, ok := c.values[field]
	return ok && !v.Empty()
}

// Len returns the number of stored fields.
func (c *Collected) Len() int { return len(c.keys) }

// Keys returns the fields in insertion order.
func (c *Collected) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Map renders the collected data as a plain map for the condition
// evaluator and the scorer.
func (c *Collected) Map() map[string]any {
	out := make(map[string]any, len(c.keys))
	for k, v := range c.values {
		out[k] = v.Any()
	}
	return out
}

// MarshalJSON writes an object whose keys follow insertion order.
func (c *Collected) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(c.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, preserving key order via the token
// stream.
func (c *Collected) UnmarshalJSON(data []byte) error {
	c.keys = nil
	c.values = make(map[string]Value)

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("collected_data must be an object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)

		var raw any
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if num, ok := raw.(json.Number); ok {
			f, err := num.Float64()
			if err != nil {
				return err
			}
			raw = f
		}
		c.Set(key, ValueOf(raw))
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
