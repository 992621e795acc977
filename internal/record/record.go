// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrUnsupportedValue is returned by FormatValue for values that have no
// scalar text form (maps, structs, channels...).
var ErrUnsupportedValue = errors.New("unsupported value type")

// Record is an ordered set of fields produced by a source.
// A Record must not be modified after it has been handed to the export core.
type Record struct {
	keys   []string
	values map[string]any
}

// New creates an empty record with room for n fields.
func New(n int) *Record {
	return &Record{
		keys:   make([]string, 0, n),
		values: make(map[string]any, n),
	}
}

// FromPairs builds a record from alternating key/value arguments.
// It panics on an odd argument count or a non-string key; it is meant for tests
// and literal construction.
func FromPairs(kv ...any) *Record {
	if len(kv)%2 != 0 {
		panic("record: odd number of arguments to FromPairs")
	}
	r := New(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("record: key at position %d is %T, not string", i, kv[i]))
		}
		r.Set(key, kv[i+1])
	}
	return r
}

// Set adds or replaces a field. Replacing keeps the original position.
func (r *Record) Set(key string, value any) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value of a field and whether the field is present.
func (r *Record) Get(key string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the field names in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Values returns the elements of a field value: a multi-value field yields its
// non-nil elements, a scalar yields itself, nil yields nothing.
func Values(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			if e != nil {
				out = append(out, e)
			}
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	default:
		return []any{v}
	}
}

// FormatValue renders a scalar value to the bytes written to LDIF.
func FormatValue(v any) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return []byte(t), nil
	case []byte:
		return t, nil
	case json.Number:
		return []byte(t.String()), nil
	case bool:
		if t {
			return []byte("TRUE"), nil
		}
		return []byte("FALSE"), nil
	case int:
		return strconv.AppendInt(nil, int64(t), 10), nil
	case int8:
		return strconv.AppendInt(nil, int64(t), 10), nil
	case int16:
		return strconv.AppendInt(nil, int64(t), 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(t), 10), nil
	case int64:
		return strconv.AppendInt(nil, t, 10), nil
	case uint:
		return strconv.AppendUint(nil, uint64(t), 10), nil
	case uint8:
		return strconv.AppendUint(nil, uint64(t), 10), nil
	case uint16:
		return strconv.AppendUint(nil, uint64(t), 10), nil
	case uint32:
		return strconv.AppendUint(nil, uint64(t), 10), nil
	case uint64:
		return strconv.AppendUint(nil, t, 10), nil
	case float32:
		return strconv.AppendFloat(nil, float64(t), 'f', -1, 32), nil
	case float64:
		return strconv.AppendFloat(nil, t, 'f', -1, 64), nil
	case time.Time:
		return []byte(t.UTC().Format(time.RFC3339)), nil
	case fmt.Stringer:
		return []byte(t.String()), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}
