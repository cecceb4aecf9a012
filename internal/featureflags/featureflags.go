// Package featureflags parses App Configuration feature-flag settings and
// computes the telemetry metadata the engine splices into each flag before
// publishing it under the feature_management key (spec §4.12).
package featureflags

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ClientFilter is a single targeting filter attached to a flag's
// conditions (e.g. TimeWindow, Targeting).
type ClientFilter struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// PercentileAllocation assigns the [From, To) bucket range to Variant.
type PercentileAllocation struct {
	Variant string `json:"variant"`
	From    int    `json:"from"`
	To      int    `json:"to"`
}

// GroupAllocation assigns a named user group to Variant.
type GroupAllocation struct {
	Variant string `json:"variant"`
	Groups  []string `json:"groups"`
}

// UserAllocation assigns named users to Variant.
type UserAllocation struct {
	Variant string   `json:"variant"`
	Users   []string `json:"users"`
}

// Allocation describes how users are assigned to variants.
type Allocation struct {
	DefaultWhenEnabled  string                 `json:"default_when_enabled,omitempty"`
	DefaultWhenDisabled string                 `json:"default_when_disabled,omitempty"`
	User                []UserAllocation       `json:"user,omitempty"`
	Group               []GroupAllocation      `json:"group,omitempty"`
	Percentile          []PercentileAllocation `json:"percentile,omitempty"`
	Seed                string                 `json:"seed,omitempty"`
}

// Variant is a named configuration overlay a flag can allocate users to.
type Variant struct {
	Name                string `json:"name"`
	ConfigurationValue  any    `json:"configuration_value,omitempty"`
	StatusOverride      string `json:"status_override,omitempty"`
}

// Telemetry carries the flag's telemetry toggle plus the engine-computed
// metadata spliced in at load time.
type Telemetry struct {
	Enabled  bool              `json:"enabled"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Conditions groups the client filters that gate a flag.
type Conditions struct {
	ClientFilters []ClientFilter `json:"client_filters,omitempty"`
}

// Flag is a single parsed feature flag (spec §4.12).
type Flag struct {
	ID          string      `json:"id"`
	Description string      `json:"description,omitempty"`
	Enabled     bool        `json:"enabled"`
	Conditions  Conditions  `json:"conditions,omitempty"`
	Allocation  *Allocation `json:"allocation,omitempty"`
	Variants    []Variant   `json:"variants,omitempty"`
	Telemetry   Telemetry   `json:"telemetry,omitempty"`
}

// Parse decodes a feature-flag setting's JSON body into a Flag.
func Parse(raw string) (Flag, error) {
	var f Flag
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return Flag{}, fmt.Errorf("featureflags: invalid flag body: %w", err)
	}
	return f, nil
}

// SpliceTelemetryMetadata fills in the three engine-owned telemetry
// metadata entries (spec §4.12): ETag, the feature-flag reference (store
// endpoint + key + label), and the allocation id. It mutates f in place
// and is a no-op when f.Telemetry.Enabled is false.
func SpliceTelemetryMetadata(f *Flag, etag, endpoint, key, label string) {
	if !f.Telemetry.Enabled {
		return
	}
	if f.Telemetry.Metadata == nil {
		f.Telemetry.Metadata = make(map[string]string, 3)
	}
	f.Telemetry.Metadata["ETag"] = etag
	f.Telemetry.Metadata["FeatureFlagReference"] = featureFlagReference(endpoint, key, label)
	if id := AllocationID(f); id != "" {
		f.Telemetry.Metadata["AllocationId"] = id
	}
}

// nullLabel mirrors internal/model.NullLabel; duplicated here (rather than
// imported) to keep this package free of a dependency on internal/model,
// since a Flag's telemetry reference only ever needs the sentinel value,
// never the rest of the model package's selector/setting types.
const nullLabel = "\x00"

func featureFlagReference(endpoint, key, label string) string {
	ref := strings.TrimRight(endpoint, "/") + "/kv/" + key
	if label != "" && label != nullLabel {
		ref += "?label=" + label
	}
	return ref
}

// AllocationID computes the deterministic identifier for f's allocation
// configuration (spec §4.12): a canonical string built from the seed,
// default-when-enabled variant, sorted/filtered percentile allocations and
// the variants they (or default_when_enabled) reference, hashed with
// SHA-256, truncated to its first 15 bytes and base64url-encoded without
// padding. Returns "" when f has no allocation, or its allocation carries
// neither a seed nor a percentile allocation — there is nothing to
// identify.
func AllocationID(f *Flag) string {
	if f.Allocation == nil {
		return ""
	}
	percentiles := filteredPercentiles(f.Allocation.Percentile)
	if f.Allocation.Seed == "" && len(percentiles) == 0 {
		return ""
	}
	canonical := canonicalAllocationString(f, percentiles)
	sum := sha256.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(sum[:15])
}

// filteredPercentiles sorts allocation's percentile entries ascending by
// From and keeps only those with a defined variant and a (From, To) pair
// not already seen (spec §4.12: "filtered to those with distinct from/to
// and defined variant").
func filteredPercentiles(in []PercentileAllocation) []PercentileAllocation {
	sorted := append([]PercentileAllocation(nil), in...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].From < sorted[j].From })

	type bucket struct{ from, to int }
	seen := make(map[bucket]bool, len(sorted))
	out := make([]PercentileAllocation, 0, len(sorted))
	for _, p := range sorted {
		if p.Variant == "" {
			continue
		}
		b := bucket{p.From, p.To}
		if seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, p)
	}
	return out
}

func canonicalAllocationString(f *Flag, percentiles []PercentileAllocation) string {
	var b strings.Builder

	b.WriteString("seed=")
	b.WriteString(f.Allocation.Seed)
	b.WriteString("\ndefault_when_enabled=")
	b.WriteString(f.Allocation.DefaultWhenEnabled)

	b.WriteString("\npercentiles=")
	for i, p := range percentiles {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%d,%s,%d", p.From, base64Variant(p.Variant), p.To)
	}

	b.WriteString("\nvariants=")
	for i, v := range referencedVariants(f, percentiles) {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(base64Variant(v.Name))
		b.WriteByte(',')
		b.WriteString(canonicalJSON(v.ConfigurationValue))
	}

	return b.String()
}

// referencedVariants returns, sorted by name, only the variants from
// f.Variants named by default_when_enabled or by one of percentiles (spec
// §4.12) — an allocation's variant set can be a strict subset of the
// flag's declared variants.
func referencedVariants(f *Flag, percentiles []PercentileAllocation) []Variant {
	wanted := make(map[string]bool, len(percentiles)+1)
	if f.Allocation.DefaultWhenEnabled != "" {
		wanted[f.Allocation.DefaultWhenEnabled] = true
	}
	for _, p := range percentiles {
		wanted[p.Variant] = true
	}

	out := make([]Variant, 0, len(wanted))
	for _, v := range f.Variants {
		if wanted[v.Name] {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func base64Variant(name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}

// canonicalJSON renders v as JSON. encoding/json already marshals
// map[string]any keys in sorted order, so two structurally equal
// configuration values always produce identical bytes regardless of the
// original map's iteration order.
func canonicalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
