// Package selectors validates, defaults and deduplicates the selector list
// a caller provides (spec §4.1), producing the effective selector set the
// load/refresh engine walks.
package selectors

import (
	"fmt"
	"strings"

	"github.com/remoteconf/provider/internal/model"
)

// Error is returned for any selector validation failure. The engine surfaces
// these as InvalidArgument.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// Normalize validates, defaults and deduplicates a caller-supplied selector
// list. An absent/empty input normalizes to a single default selector
// matching everything with no label (spec §4.1).
func Normalize(input []model.Selector) ([]model.Selector, error) {
	if len(input) == 0 {
		return []model.Selector{{
			Kind:        model.SelectorQuery,
			KeyFilter:   model.WildCard,
			LabelFilter: model.NullLabel,
		}}, nil
	}

	validated := make([]model.Selector, len(input))
	for i, s := range input {
		v, err := validateOne(s)
		if err != nil {
			return nil, err
		}
		validated[i] = v
	}

	return deduplicate(validated), nil
}

// NormalizeFeatureFlagSelectors is Normalize, additionally prefixing every
// key filter with the feature-flag key prefix (spec §4.1, §6: "feature-flag
// selectors are silently prefixed with the feature-flag key prefix").
func NormalizeFeatureFlagSelectors(input []model.Selector) ([]model.Selector, error) {
	normalized, err := Normalize(input)
	if err != nil {
		return nil, err
	}
	out := make([]model.Selector, len(normalized))
	for i, s := range normalized {
		if s.Kind == model.SelectorQuery {
			s.KeyFilter = model.FeatureFlagKeyPrefix + s.KeyFilter
		}
		out[i] = s
	}
	return out, nil
}

func validateOne(s model.Selector) (model.Selector, error) {
	hasSnapshot := s.SnapshotName != ""
	hasFilter := s.KeyFilter != "" || s.LabelFilter != "" || len(s.TagFilters) > 0

	if hasSnapshot && hasFilter {
		return model.Selector{}, invalid("selector must not mix a snapshot name with key/label/tag filters")
	}

	if hasSnapshot {
		return model.Selector{Kind: model.SelectorSnapshot, SnapshotName: s.SnapshotName}, nil
	}

	if s.KeyFilter == "" {
		return model.Selector{}, invalid("key filter must not be empty")
	}

	label := s.LabelFilter
	if label == "" {
		label = model.NullLabel
	}
	if label != model.NullLabel {
		if strings.Contains(label, "*") {
			return model.Selector{}, invalid("label filter %q must not contain '*'", label)
		}
		if strings.Contains(label, ",") {
			return model.Selector{}, invalid("label filter %q must not contain ','", label)
		}
	}

	for _, tf := range s.TagFilters {
		if tf.Name == "" {
			return model.Selector{}, invalid("tag filter %q must have a non-empty name", tf.String())
		}
	}

	return model.Selector{
		Kind:        model.SelectorQuery,
		KeyFilter:   s.KeyFilter,
		LabelFilter: label,
		TagFilters:  s.TagFilters,
	}, nil
}

// deduplicate implements spec §4.1's "stable last-write-wins deduplication":
// processed in input order, an earlier selector sharing dedup identity with
// a later one is dropped; the surviving relative order matches last
// occurrence in the input (spec §8 property 2).
func deduplicate(selectors []model.Selector) []model.Selector {
	lastIndexOf := make(map[string]int, len(selectors))
	for i, s := range selectors {
		lastIndexOf[s.DedupKey()] = i
	}

	result := make([]model.Selector, 0, len(selectors))
	for i, s := range selectors {
		if lastIndexOf[s.DedupKey()] == i {
			result = append(result, s)
		}
	}
	return result
}

// ParseTagFilter parses a `name=value` tag filter string (spec §3).
func ParseTagFilter(raw string) (model.TagFilter, error) {
	idx := strings.IndexByte(raw, '=')
	if idx <= 0 {
		return model.TagFilter{}, invalid("tag filter %q must match name=value with a non-empty name", raw)
	}
	return model.TagFilter{Name: raw[:idx], Value: raw[idx+1:]}, nil
}
