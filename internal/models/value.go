package models

import "reflect"

// Value is a property value as stored on an entity or a suggestion. The
// concrete type depends on the property: string for text/title/date text,
// float64 for numeric and date epochs, []string for multiselect and
// relationship option ids.
type Value = any

// ValueEmpty reports whether a value counts as absent: nil, empty string,
// or an empty list.
func ValueEmpty(v Value) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// ValueEquals compares two property values. Multi-valued types compare as
// sets: order does not matter, multiplicity does not matter.
func ValueEquals(a, b Value) bool {
	as, aok := asStringSlice(a)
	bs, bok := asStringSlice(b)
	if aok && bok {
		return stringSetEquals(as, bs)
	}
	if aok != bok {
		return false
	}

	an, aok := asFloat(a)
	bn, bok := asFloat(b)
	if aok && bok {
		return an == bn
	}
	if aok != bok {
		return false
	}

	return reflect.DeepEqual(a, b)
}

func asStringSlice(v Value) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func asFloat(v Value) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func stringSetEquals(a, b []string) bool {
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			return false
		}
	}
	for _, s := range b {
		delete(seen, s)
	}
	return len(seen) == 0
}
