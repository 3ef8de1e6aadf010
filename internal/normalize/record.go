// Package normalize reads loosely-shaped backend JSON. The backend is not
// consistent about key naming (snake_case vs camelCase, alternate names for the
// same concept) or scalar types (numbers sent as strings), so record-type
// normalizers look fields up through alias lists instead of struct tags.
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Record is one decoded JSON object. Records built in Go rather than decoded
// may also carry ints, time.Time and nested Records.
type Record map[string]any

// number converts the numeric kinds a record may hold.
func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

// String returns the first non-empty string-ish value among keys.
func (r Record) String(keys ...string) string {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = strings.TrimSpace(t)
		case json.Number:
			s = t.String()
		case bool:
			s = strconv.FormatBool(t)
		default:
			if f, ok := number(t); ok {
				s = strconv.FormatFloat(f, 'f', -1, 64)
			}
		}
		if s != "" {
			return s
		}
	}
	return ""
}

// Float returns the first numeric value among keys; numeric strings are accepted.
func (r Record) Float(keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		if f, ok := number(v); ok {
			return f, true
		}
		if t, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// Int is Float truncated toward zero, defaulting to 0.
func (r Record) Int(keys ...string) int {
	f, _ := r.Float(keys...)
	return int(f)
}

// Bool accepts JSON booleans and "true"/"false"/"1"/"0" strings.
func (r Record) Bool(keys ...string) (bool, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case bool:
			return t, true
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
				return b, true
			}
		default:
			if f, ok := number(t); ok {
				return f != 0, true
			}
		}
	}
	return false, false
}

// Object returns a nested object among keys.
func (r Record) Object(keys ...string) Record {
	for _, k := range keys {
		switch m := r[k].(type) {
		case map[string]any:
			return Record(m)
		case Record:
			return m
		}
	}
	return nil
}

// timeLayouts covers ISO timestamps and the RFC 2822 dates carrier APIs return.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time returns the first parseable timestamp among keys. Numeric values are Unix seconds.
func (r Record) Time(keys ...string) time.Time {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			s := strings.TrimSpace(t)
			for _, layout := range timeLayouts {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts.UTC()
				}
			}
		case time.Time:
			if !t.IsZero() {
				return t.UTC()
			}
		default:
			if f, ok := number(t); ok && f > 0 {
				return time.Unix(int64(f), 0).UTC()
			}
		}
	}
	return time.Time{}
}

// Decode parses a JSON object. Null and non-object bodies yield (nil, false).
func Decode(raw json.RawMessage) (Record, bool) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, false
	}
	return Record(m), true
}

// listKeys are the envelope keys list endpoints have been seen to use.
var listKeys = []string{"data", "items", "results", "calls", "callLogs", "call_logs", "recordings", "numbers", "phoneNumbers", "phone_numbers", "available_phone_numbers", "availableNumbers"}

// DecodeList accepts a bare array or an object wrapping one. Null and
// non-object entries are dropped.
func DecodeList(body []byte) ([]Record, error) {
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 || string(body) == "null" {
		return []Record{}, nil
	}

	var items []json.RawMessage
	if body[0] == '[' {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
	} else {
		var env map[string]json.RawMessage
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, err
		}
		for _, k := range listKeys {
			raw, ok := env[k]
			if !ok {
				continue
			}
			trimmed := strings.TrimSpace(string(raw))
			if trimmed == "null" {
				return []Record{}, nil
			}
			if strings.HasPrefix(trimmed, "{") {
				// nested envelope, e.g. {"data": {"calls": [...]}}
				return DecodeList(raw)
			}
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, err
			}
			break
		}
	}

	out := make([]Record, 0, len(items))
	for _, raw := range items {
		if rec, ok := Decode(raw); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// DecodeOne accepts a bare object or one wrapped under "data" or the given keys.
func DecodeOne(body []byte, keys ...string) (Record, bool) {
	rec, ok := Decode(body)
	if !ok {
		return nil, false
	}
	for _, k := range append([]string{"data"}, keys...) {
		if inner := rec.Object(k); inner != nil {
			return inner, true
		}
	}
	return rec, true
}
