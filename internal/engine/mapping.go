package engine

import (
	"sync/atomic"

	"github.com/remoteconf/provider/internal/featureflags"
	"github.com/remoteconf/provider/internal/model"
)

// mapping is one immutable, published snapshot of everything the engine
// has loaded: the flat key-value settings (already run through the
// adapter chain), the parsed feature flags, and the change-detection
// state needed to decide whether the next refresh found anything new.
//
// Readers always see a fully-formed mapping or its immediate predecessor,
// never a partially-updated one — the same no-torn-reads guarantee the
// teacher's internal/snapshot.go gives its in-memory flag snapshot, here
// generalized from a hand-rolled unsafe.Pointer swap to the generic
// atomic.Pointer[T] (same technique, idiomatic for current Go).
type mapping struct {
	values       map[string]any
	featureFlags map[string]featureflags.Flag
	rawSettings  []model.Setting // flattened, in selector order; re-processed on a secret-only refresh

	kvPageETags        map[string]string           // selector dedup key -> page etag
	kvSelectorSettings map[string][]model.Setting  // selector dedup key -> its last-loaded settings
	sentinelETags      map[string]string           // "key\x1flabel" -> etag (watched-sentinel mode)
	ffPageETags        map[string]string
	ffSelectorSettings map[string][]model.Setting
}

func newMapping() *mapping {
	return &mapping{
		values:             make(map[string]any),
		featureFlags:       make(map[string]featureflags.Flag),
		kvPageETags:        make(map[string]string),
		kvSelectorSettings: make(map[string][]model.Setting),
		sentinelETags:      make(map[string]string),
		ffPageETags:        make(map[string]string),
		ffSelectorSettings: make(map[string][]model.Setting),
	}
}

// clone returns a shallow copy of m, safe to mutate independently. Leaf
// values are never mutated in place, so a shallow value copy plus fresh
// top-level maps is sufficient for copy-on-write publication.
func (m *mapping) clone() *mapping {
	c := newMapping()
	for k, v := range m.values {
		c.values[k] = v
	}
	for k, v := range m.featureFlags {
		c.featureFlags[k] = v
	}
	for k, v := range m.kvPageETags {
		c.kvPageETags[k] = v
	}
	for k, v := range m.kvSelectorSettings {
		c.kvSelectorSettings[k] = v
	}
	for k, v := range m.sentinelETags {
		c.sentinelETags[k] = v
	}
	for k, v := range m.ffPageETags {
		c.ffPageETags[k] = v
	}
	for k, v := range m.ffSelectorSettings {
		c.ffSelectorSettings[k] = v
	}
	c.rawSettings = append([]model.Setting(nil), m.rawSettings...)
	return c
}

// published is a lock-free, atomically-swapped pointer to the current
// mapping.
type published struct {
	ptr atomic.Pointer[mapping]
}

func newPublished() *published {
	p := &published{}
	p.ptr.Store(newMapping())
	return p
}

func (p *published) Load() *mapping {
	return p.ptr.Load()
}

func (p *published) Store(m *mapping) {
	p.ptr.Store(m)
}
