// Package keypath flattens nested document data into dotted-path keys and back.
// Point lookups against the cache are done on flattened leaves, so nested maps
// never have to be walked at read time.
package keypath

import (
	"sort"
	"strings"
)

// Separator joins path segments in a flattened key.
const Separator = "."

// Flatten converts a nested map into a single-level map keyed by dotted paths.
// String slices and scalars are leaves; nested maps recurse. An optional prefix
// is prepended to every produced key. Keys with empty segments are skipped.
func Flatten(prefix string, nested map[string]any) map[string]any {
	out := make(map[string]any, len(nested))
	flattenInto(out, prefix, nested)
	return out
}

func flattenInto(out map[string]any, prefix string, nested map[string]any) {
	for key, value := range nested {
		if key == "" {
			continue
		}
		path := key
		if prefix != "" {
			path = prefix + Separator + key
		}
		switch v := value.(type) {
		case map[string]any:
			flattenInto(out, path, v)
		case []any:
			// BSON arrays decode as []any; keep string lists ordered.
			out[path] = toStringSlice(v)
		default:
			out[path] = value
		}
	}
}

// Unflatten rebuilds a nested map from dotted-path keys. It is the inverse of
// Flatten for any map Flatten can produce. On conflicting paths (a leaf where
// a branch already exists) the leaf wins and replaces the branch.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)

	// Sorted keys make branch/leaf conflicts deterministic.
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		segments := strings.Split(key, Separator)
		if hasEmptySegment(segments) {
			continue
		}
		node := out
		for i, seg := range segments {
			if i == len(segments)-1 {
				node[seg] = flat[key]
				break
			}
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[seg] = child
			}
			node = child
		}
	}
	return out
}

// Lookup walks a nested map along a dotted path and returns the leaf value.
func Lookup(nested map[string]any, path string) (any, bool) {
	segments := strings.Split(path, Separator)
	if hasEmptySegment(segments) {
		return nil, false
	}
	var current any = nested
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func hasEmptySegment(segments []string) bool {
	for _, s := range segments {
		if s == "" {
			return true
		}
	}
	return false
}

func toStringSlice(list []any) any {
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			// Mixed array, keep it as-is.
			return list
		}
		out = append(out, s)
	}
	return out
}
