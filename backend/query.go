package backend

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"
)

const (
	// OrderByKeyField orders children by their key.
	OrderByKeyField = "$key"
	// OrderByValueField orders children by their own value.
	OrderByValueField = "$value"
)

// Query is the ordering and range decoration of a reference. The zero value
// orders by key and admits every child.
type Query struct {
	OrderBy  string
	StartAt  any
	HasStart bool
}

// WithOrderBy returns a copy of q ordered by field.
func (q Query) WithOrderBy(field string) Query {
	q.OrderBy = field
	return q
}

// WithStartAt returns a copy of q restricted to children at or after v.
func (q Query) WithStartAt(v any) Query {
	if n, err := Normalize(v); err == nil {
		v = n
	}
	q.StartAt = v
	q.HasStart = true
	return q
}

// Filters reports whether q may exclude children.
func (q Query) Filters() bool { return q.HasStart }

func (q Query) byKey() bool { return q.OrderBy == "" || q.OrderBy == OrderByKeyField }

func (q Query) sortValue(key string, child any) any {
	switch q.OrderBy {
	case "", OrderByKeyField:
		return key
	case OrderByValueField:
		return child
	default:
		return Lookup(child, SplitPath(q.OrderBy))
	}
}

// Admits reports whether the child stored under key passes the range filter.
func (q Query) Admits(key string, child any) bool {
	if !q.HasStart {
		return true
	}
	if q.byKey() {
		start, ok := q.StartAt.(string)
		if !ok {
			start = fmt.Sprint(q.StartAt)
		}
		return CompareKeys(key, start) >= 0
	}
	return Compare(q.sortValue(key, child), q.StartAt) >= 0
}

// Child is a keyed child value.
type Child struct {
	Key   string
	Value any
}

// Children returns the children of v admitted by q, in query order.
func (q Query) Children(v any) []Child {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make([]Child, 0, len(m))
	for k, c := range m {
		if q.Admits(k, c) {
			out = append(out, Child{Key: k, Value: c})
		}
	}
	slices.SortFunc(out, func(a, b Child) int {
		if !q.byKey() {
			if c := Compare(q.sortValue(a.Key, a.Value), q.sortValue(b.Key, b.Value)); c != 0 {
				return c
			}
		}
		return CompareKeys(a.Key, b.Key)
	})
	return out
}

// View applies the range filter of q to v.
func (q Query) View(v any) any {
	if !q.Filters() {
		return v
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, c := range m {
		if q.Admits(k, c) {
			out[k] = c
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Change is one event computed by Diff or Initial. Ref is left to the caller.
type Change struct {
	Kind  EventKind
	Key   string
	Value any
}

// Initial returns the events a new subscription of kind observes for the
// current value v at the location named key.
func (q Query) Initial(kind EventKind, key string, v any) []Change {
	switch kind {
	case EventValue:
		return []Change{{Kind: EventValue, Key: key, Value: q.View(v)}}
	case EventChildAdded:
		children := q.Children(v)
		out := make([]Change, 0, len(children))
		for _, c := range children {
			out = append(out, Change{Kind: EventChildAdded, Key: c.Key, Value: c.Value})
		}
		return out
	}
	return nil
}

// Diff returns the events of kind caused by the value at the location named
// key changing from before to after.
func (q Query) Diff(kind EventKind, key string, before, after any) []Change {
	if kind == EventValue {
		bv, av := q.View(before), q.View(after)
		if Equal(bv, av) {
			return nil
		}
		return []Change{{Kind: EventValue, Key: key, Value: av}}
	}

	prev := q.Children(before)
	next := q.Children(after)
	prevByKey := make(map[string]any, len(prev))
	for _, c := range prev {
		prevByKey[c.Key] = c.Value
	}
	nextByKey := make(map[string]any, len(next))
	for _, c := range next {
		nextByKey[c.Key] = c.Value
	}

	var out []Change
	switch kind {
	case EventChildAdded:
		for _, c := range next {
			if _, ok := prevByKey[c.Key]; !ok {
				out = append(out, Change{Kind: kind, Key: c.Key, Value: c.Value})
			}
		}
	case EventChildChanged:
		for _, c := range next {
			if old, ok := prevByKey[c.Key]; ok && !Equal(old, c.Value) {
				out = append(out, Change{Kind: kind, Key: c.Key, Value: c.Value})
			}
		}
	case EventChildRemoved:
		for _, c := range prev {
			if _, ok := nextByKey[c.Key]; !ok {
				out = append(out, Change{Kind: kind, Key: c.Key, Value: c.Value})
			}
		}
	}
	return out
}

// Compare orders values the way the backend sorts children: nil, false,
// true, numbers, strings, then maps.
func Compare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case rankBool:
		return cmp.Compare(boolInt(a.(bool)), boolInt(b.(bool)))
	case rankNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return cmp.Compare(fa, fb)
	case rankString:
		return cmp.Compare(a.(string), b.(string))
	}
	return 0
}

// CompareKeys orders keys that parse as 32-bit integers numerically before
// every other key, which sort lexicographically.
func CompareKeys(a, b string) int {
	ia, aInt := intKey(a)
	ib, bInt := intKey(b)
	switch {
	case aInt && bInt:
		return cmp.Compare(ia, ib)
	case aInt:
		return -1
	case bInt:
		return 1
	}
	return cmp.Compare(a, b)
}

const (
	rankNil = iota
	rankBool
	rankNumber
	rankString
	rankObject
)

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return rankNil
	case bool:
		return rankBool
	case string:
		return rankString
	}
	if _, ok := toFloat(v); ok {
		return rankNumber
	}
	return rankObject
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
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intKey(k string) (int64, bool) {
	n, err := strconv.ParseInt(k, 10, 64)
	if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
		return 0, false
	}
	return n, true
}
