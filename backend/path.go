package backend

import "strings"

// SplitPath splits a slash separated path into its non-empty segments.
func SplitPath(p string) []string {
	parts := strings.Split(p, "/")
	segs := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// JoinPath is the inverse of SplitPath.
func JoinPath(segs []string) string {
	return strings.Join(segs, "/")
}

// CleanPath normalizes p by dropping leading, trailing and repeated slashes.
func CleanPath(p string) string {
	return JoinPath(SplitPath(p))
}

// LastSegment returns the last segment of p, or "" for the root.
func LastSegment(p string) string {
	segs := SplitPath(p)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Related reports whether one of a and b is an ancestor of (or equal to) the
// other. A write at a can only change what is observed at b when they are
// related.
func Related(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// appendPath returns a new slice holding base followed by rest.
func appendPath(base []string, rest ...string) []string {
	out := make([]string, 0, len(base)+len(rest))
	out = append(out, base...)
	return append(out, rest...)
}

// ChildPath returns the segments of base extended by the segments of rel.
func ChildPath(base []string, rel string) []string {
	return appendPath(base, SplitPath(rel)...)
}
