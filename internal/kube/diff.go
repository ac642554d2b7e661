package kube

import (
	"github.com/kdeploy-dev/kdeploy/internal/manifest"
)

// Changed reports whether the live object differs meaningfully from the
// desired document.
//
// ConfigMaps and Secrets compare only their data field, in both directions.
// Every other kind compares spec by subset equality: each key present in the
// desired spec must exist in the live spec with an equal value, while
// server-defaulted keys present only in the live spec are ignored. The
// comparison is directional on purpose — drift in fields the desired manifest
// does not specify is never detected. That is a known limitation, not a bug.
func Changed(kind string, desired manifest.Document, live map[string]any) bool {
	if kind == "ConfigMap" || kind == "Secret" {
		return !valueEqual(anyMap(desired.Data()), liveField(live, "data"))
	}

	desiredSpec := anyMap(desired.Spec())
	liveSpec := liveField(live, "spec")
	return !subsetEqual(desiredSpec, liveSpec)
}

// liveField extracts a top-level field from the live document, nil when absent.
func liveField(live map[string]any, key string) any {
	if live == nil {
		return nil
	}
	return live[key]
}

// anyMap widens a possibly-nil map to any, mapping nil maps to nil.
func anyMap(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

// subsetEqual compares desired against live: maps key-by-key over desired's
// keys only, lists element-by-element with matching length and order, scalars
// by value. nil on both sides is equal; nil against a value is not.
func subsetEqual(desired, live any) bool {
	if desired == nil && live == nil {
		return true
	}
	if desired == nil || live == nil {
		return false
	}

	switch d := desired.(type) {
	case map[string]any:
		l, ok := live.(map[string]any)
		if !ok {
			return false
		}
		for key, dv := range d {
			lv, present := l[key]
			if !present {
				return false
			}
			if !subsetEqual(dv, lv) {
				return false
			}
		}
		return true

	case []any:
		l, ok := live.([]any)
		if !ok {
			return false
		}
		if len(d) != len(l) {
			return false
		}
		for i := range d {
			if !subsetEqual(d[i], l[i]) {
				return false
			}
		}
		return true

	default:
		return scalarEqual(desired, live)
	}
}

// valueEqual is a strict structural comparison in both directions, used for
// ConfigMap and Secret data.
func valueEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for key, v := range av {
			other, present := bv[key]
			if !present || !valueEqual(v, other) {
				return false
			}
		}
		return true

	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true

	default:
		return scalarEqual(a, b)
	}
}

// scalarEqual compares scalar values, treating numeric types as equal by
// value: YAML decoding yields int while the unstructured converter yields
// int64 or float64 for the same field.
func scalarEqual(a, b any) bool {
	if ai, aok := asInt64(a); aok {
		if bi, bok := asInt64(b); bok {
			return ai == bi
		}
		if bf, bok := asFloat64(b); bok {
			return float64(ai) == bf
		}
		return false
	}
	if af, aok := asFloat64(a); aok {
		if bf, bok := asFloat64(b); bok {
			return af == bf
		}
		if bi, bok := asInt64(b); bok {
			return af == float64(bi)
		}
		return false
	}
	return a == b
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
