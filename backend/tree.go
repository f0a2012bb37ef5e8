package backend

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// Normalize converts v into the tree representation shared by all backends:
// nil, bool, float64, string and map[string]any. Slices become maps keyed by
// index, nil children and empty maps are pruned. ServerValue placeholders
// survive as {".sv": kind} maps until ResolveServerValues replaces them.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return prune(out), nil
}

func prune(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, c := range t {
			if pc := prune(c); pc == nil {
				delete(t, k)
			} else {
				t[k] = pc
			}
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		m := make(map[string]any, len(t))
		for i, c := range t {
			if pc := prune(c); pc != nil {
				m[strconv.Itoa(i)] = pc
			}
		}
		if len(m) == 0 {
			return nil
		}
		return m
	default:
		return v
	}
}

// ResolveServerValues replaces every ServerValue placeholder in the
// normalized value v with its value at commit time now. The input is not
// modified.
func ResolveServerValues(v any, now time.Time) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if sv, ok := m[".sv"]; ok && len(m) == 1 {
		if sv == ServerTimestamp.Kind {
			return float64(now.UnixMilli())
		}
		return v
	}
	out := make(map[string]any, len(m))
	for k, c := range m {
		out[k] = ResolveServerValues(c, now)
	}
	return out
}

// Lookup returns the value at segs below root, or nil.
func Lookup(root any, segs []string) any {
	cur := root
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[s]
	}
	return cur
}

// Assign returns a copy of root with the value at segs replaced by v. Only
// the maps along segs are copied; root itself is left untouched so earlier
// snapshots stay valid.
func Assign(root any, segs []string, v any) any {
	if len(segs) == 0 {
		return v
	}
	src, _ := root.(map[string]any)
	out := make(map[string]any, len(src)+1)
	for k, c := range src {
		out[k] = c
	}
	child := Assign(src[segs[0]], segs[1:], v)
	if child == nil {
		delete(out, segs[0])
	} else {
		out[segs[0]] = child
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Equal reports whether two normalized values are identical.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// Copy returns a deep copy of a normalized value so callers can't mutate
// stored snapshots.
func Copy(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, c := range m {
		out[k] = Copy(c)
	}
	return out
}
