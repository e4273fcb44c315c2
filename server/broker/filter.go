package broker

import (
	"reflect"
	"strings"
)

// Operator names a filter comparison.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpContains    Operator = "contains"    // substring, string fields only
	OpGreaterThan Operator = "greaterThan" // numeric fields only
	OpLessThan    Operator = "lessThan"    // numeric fields only
	OpIn          Operator = "in"          // value must appear in target array
)

// Filter is a single field/operator/value predicate. Channel filters and
// subscription filters use the same evaluation and are ANDed together.
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Match evaluates the predicate against an event. Type mismatches make the
// predicate vacuously false rather than an error.
func (f Filter) Match(ev *Event) bool {
	actual := resolveField(ev, f.Field)

	switch f.Operator {
	case OpEquals:
		return valuesEqual(actual, f.Value)
	case OpContains:
		s, ok := actual.(string)
		if !ok {
			return false
		}
		sub, ok := f.Value.(string)
		if !ok {
			return false
		}
		return strings.Contains(s, sub)
	case OpGreaterThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(f.Value)
		return aok && bok && a > b
	case OpLessThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(f.Value)
		return aok && bok && a < b
	case OpIn:
		for _, candidate := range toSlice(f.Value) {
			if valuesEqual(actual, candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// MatchAll reports whether every filter matches the event. An empty filter
// list matches everything.
func MatchAll(filters []Filter, ev *Event) bool {
	for _, f := range filters {
		if !f.Match(ev) {
			return false
		}
	}
	return true
}

// resolveField reads type, source, and priority from the envelope; any other
// field name is looked up inside the payload. A missing payload key resolves
// to nil, which only an `equals: null` predicate can satisfy.
func resolveField(ev *Event, field string) any {
	switch field {
	case "type":
		return string(ev.Type)
	case "source":
		return ev.Source
	case "priority":
		return ev.Priority.String()
	default:
		if ev.Payload == nil {
			return nil
		}
		return ev.Payload[field]
	}
}

// valuesEqual compares loosely across the numeric types JSON decoding
// produces; everything else falls back to deep equality.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	default:
		return nil
	}
}
