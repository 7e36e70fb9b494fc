package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Payload holds the free-form key/value body of an event.
// Values arrive from JSON decoding, so numbers are usually float64.
type Payload map[string]any

// String returns the value for key rendered as a string, or "" when absent
func (p Payload) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// Lower returns String(key) lowercased
func (p Payload) Lower(key string) string {
	return strings.ToLower(p.String(key))
}

// FirstString returns the first non-empty string value among keys
func (p Payload) FirstString(keys ...string) string {
	for _, k := range keys {
		if s := p.String(k); s != "" {
			return s
		}
	}
	return ""
}

// Number returns the numeric value for key. Numeric strings are parsed.
// The bool is false when the key is absent or not numeric.
func (p Payload) Number(key string) (float64, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// NumberOr returns Number(key) or def when unavailable
func (p Payload) NumberOr(key string, def float64) float64 {
	if n, ok := p.Number(key); ok {
		return n
	}
	return def
}

// FirstNumber returns the first numeric value among keys, or 0
func (p Payload) FirstNumber(keys ...string) float64 {
	for _, k := range keys {
		if n, ok := p.Number(k); ok {
			return n
		}
	}
	return 0
}

// Bool returns the boolean value for key. "true"/"false" strings and
// numbers are accepted. The second result is false when the key is absent.
func (p Payload) Bool(key string) (bool, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return false, false
	}
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		return b, err == nil
	default:
		if n, ok := p.Number(key); ok {
			return n != 0, true
		}
		return false, false
	}
}

// BoolOr returns Bool(key) or def when unavailable
func (p Payload) BoolOr(key string, def bool) bool {
	if b, ok := p.Bool(key); ok {
		return b
	}
	return def
}

// Truthy reports whether the value for key is present and truthy
func (p Payload) Truthy(key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	if b, ok := p.Bool(key); ok {
		return b
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}

// Has reports whether key is present with a non-nil value
func (p Payload) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// Clone returns a shallow copy of the payload
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
