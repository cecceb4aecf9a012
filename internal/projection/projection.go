// Package projection builds the nested configuration object spec §4.11
// describes from the flat dotted-key mapping the engine publishes.
package projection

import (
	"fmt"
	"sort"
	"strings"
)

// validSeparators enumerates the separators ConstructConfigurationObject
// accepts (spec §4.11).
var validSeparators = map[string]bool{
	".":  true,
	",":  true,
	";":  true,
	"-":  true,
	"_":  true,
	"__": true,
	"/":  true,
	":":  true,
}

// Options controls how the flat mapping is projected into a nested object.
type Options struct {
	// Separator splits each key into its path segments. Defaults to "."
	// when empty.
	Separator string
	// TrimPrefixes are removed from the front of each key before
	// splitting, longest match first, so a longer prefix never loses to a
	// shorter one that happens to also match.
	TrimPrefixes []string
}

// Construct builds a nested map from flat, where each key in flat is split
// on Separator (after trimming the longest matching prefix) into a path of
// object keys. A key path that collides with an existing leaf value, or
// that would need to turn a leaf into an object, is reported as an
// ambiguity (spec §4.11 invariant: "a flat key may not both be a leaf and
// a prefix of another key").
func Construct(flat map[string]any, opts Options) (map[string]any, error) {
	separator := opts.Separator
	if separator == "" {
		separator = "."
	}
	if !validSeparators[separator] {
		return nil, fmt.Errorf("projection: separator %q is not one of . , ; - _ __ / :", separator)
	}

	prefixes := append([]string(nil), opts.TrimPrefixes...)
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	root := make(map[string]any)
	for _, key := range keys {
		trimmed := trimLongestPrefix(key, prefixes)
		if trimmed == "" {
			continue
		}
		segments := strings.Split(trimmed, separator)
		if err := insert(root, segments, flat[key], key); err != nil {
			return nil, err
		}
	}
	return root, nil
}

func trimLongestPrefix(key string, prefixes []string) string {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(key, p) {
			return strings.TrimPrefix(key, p)
		}
	}
	return key
}

func insert(node map[string]any, segments []string, value any, originalKey string) error {
	if len(segments) == 0 {
		return fmt.Errorf("projection: key %q has an empty path segment", originalKey)
	}
	segment := segments[0]
	if segment == "" {
		return fmt.Errorf("projection: key %q has an empty path segment", originalKey)
	}
	if len(segments) == 1 {
		if existing, ok := node[segment]; ok {
			if _, isObject := existing.(map[string]any); isObject {
				return fmt.Errorf("projection: key %q collides with a longer key at the same path", originalKey)
			}
			return fmt.Errorf("projection: key %q is set more than once after projection", originalKey)
		}
		node[segment] = value
		return nil
	}

	child, ok := node[segment]
	if !ok {
		newChild := make(map[string]any)
		node[segment] = newChild
		return insert(newChild, segments[1:], value, originalKey)
	}
	childMap, ok := child.(map[string]any)
	if !ok {
		return fmt.Errorf("projection: key %q collides with a shorter key at the same path", originalKey)
	}
	return insert(childMap, segments[1:], value, originalKey)
}
