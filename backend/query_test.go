package backend

import (
	"testing"
)

func TestCompareOrdering(t *testing.T) {
	ordered := []any{nil, false, true, -1.0, 0.0, 2.5, "a", "b", map[string]any{"x": 1.0}}
	for i := range ordered {
		for j := range ordered {
			got := Compare(ordered[i], ordered[j])
			var want int
			switch {
			case i < j:
				want = -1
			case i > j:
				want = 1
			}
			if got != want {
				t.Fatalf("Compare(%v, %v) = %d, want %d", ordered[i], ordered[j], got, want)
			}
		}
	}
}

func TestCompareMixedNumericTypes(t *testing.T) {
	if Compare(1, 1.0) != 0 {
		t.Fatalf("expected int and float64 of the same value to compare equal")
	}
	if Compare(int64(2), 1.5) != 1 {
		t.Fatalf("expected 2 > 1.5")
	}
}

func TestCompareKeys(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1", "2", -1},
		{"10", "9", 1},
		{"9", "a", -1},
		{"a", "b", -1},
		{"b", "10", 1},
		{"x", "x", 0},
	}
	for _, tc := range cases {
		if got := CompareKeys(tc.a, tc.b); got != tc.want {
			t.Fatalf("CompareKeys(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestChildrenOrderByChildWithStartAt(t *testing.T) {
	v := map[string]any{
		"a": map[string]any{"rank": 2.0},
		"b": map[string]any{"rank": 1.0},
		"c": map[string]any{"rank": 0.0},
		"d": map[string]any{"name": "no rank"},
	}
	q := Query{}.WithOrderBy("rank").WithStartAt(1)
	got := q.Children(v)
	if len(got) != 2 {
		t.Fatalf("expected 2 children, got %d: %v", len(got), got)
	}
	if got[0].Key != "b" || got[1].Key != "a" {
		t.Fatalf("expected order [b a], got [%s %s]", got[0].Key, got[1].Key)
	}
}

func TestChildrenDefaultKeyOrder(t *testing.T) {
	v := map[string]any{"b": 1.0, "10": 1.0, "2": 1.0, "a": 1.0}
	got := Query{}.Children(v)
	want := []string{"2", "10", "a", "b"}
	for i, c := range got {
		if c.Key != want[i] {
			t.Fatalf("position %d: got %q want %q", i, c.Key, want[i])
		}
	}
}

func TestStartAtWithoutOrderByFiltersKeys(t *testing.T) {
	v := map[string]any{"a": 1.0, "m": 1.0, "z": 1.0}
	got := Query{}.WithStartAt("m").View(v)
	m := got.(map[string]any)
	if len(m) != 2 || m["a"] != nil {
		t.Fatalf("unexpected view: %v", got)
	}
}

func TestOrderByValue(t *testing.T) {
	v := map[string]any{"x": 3.0, "y": 1.0, "z": 2.0}
	got := Query{}.WithOrderBy(OrderByValueField).WithStartAt(2).Children(v)
	if len(got) != 2 || got[0].Key != "z" || got[1].Key != "x" {
		t.Fatalf("unexpected children: %v", got)
	}
}

func TestDiffChildEvents(t *testing.T) {
	q := Query{}
	before := map[string]any{"a": 1.0, "b": 2.0}
	after := map[string]any{"b": 3.0, "c": 4.0}

	added := q.Diff(EventChildAdded, "root", before, after)
	if len(added) != 1 || added[0].Key != "c" {
		t.Fatalf("added: %v", added)
	}
	changed := q.Diff(EventChildChanged, "root", before, after)
	if len(changed) != 1 || changed[0].Key != "b" || changed[0].Value != 3.0 {
		t.Fatalf("changed: %v", changed)
	}
	removed := q.Diff(EventChildRemoved, "root", before, after)
	if len(removed) != 1 || removed[0].Key != "a" || removed[0].Value != 1.0 {
		t.Fatalf("removed: %v", removed)
	}
}

func TestDiffRespectsFilter(t *testing.T) {
	q := Query{}.WithOrderBy("rank").WithStartAt(1)
	before := map[string]any{}
	after := map[string]any{"low": map[string]any{"rank": 0.0}}
	if got := q.Diff(EventChildAdded, "items", before, after); len(got) != 0 {
		t.Fatalf("expected no events for a filtered child, got %v", got)
	}
	if got := q.Diff(EventValue, "items", before, after); len(got) != 0 {
		t.Fatalf("expected no value event when the view is unchanged, got %v", got)
	}
}

func TestInitialValueFiresForEmptyLocation(t *testing.T) {
	got := Query{}.Initial(EventValue, "empty", nil)
	if len(got) != 1 || got[0].Value != nil {
		t.Fatalf("expected a single nil value event, got %v", got)
	}
	if got := (Query{}).Initial(EventChildRemoved, "empty", map[string]any{"a": 1.0}); got != nil {
		t.Fatalf("expected no initial child_removed events, got %v", got)
	}
}
