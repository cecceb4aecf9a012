// Package adapters implements the value-adapter pipeline of spec §4.5: an
// ordered chain of ValueAdapter implementations, each given first refusal on
// a setting by content type, that turns a raw store setting into the
// key/value pair published in the configuration mapping.
package adapters

import (
	"context"

	"github.com/remoteconf/provider/internal/model"
)

// ValueAdapter transforms settings of a specific content type. Chain tries
// adapters in registration order and uses the first whose CanProcess
// returns true; a setting with no matching adapter is passed through as a
// plain string.
type ValueAdapter interface {
	// CanProcess reports whether this adapter claims the setting, based on
	// its content type.
	CanProcess(setting model.Setting) bool

	// ProcessKeyValue turns the raw setting into the key and value to
	// publish. The returned key is normally setting.Key unchanged; adapters
	// that compute a derived key (none currently do) may override it.
	ProcessKeyValue(ctx context.Context, setting model.Setting) (key string, value any, err error)

	// OnChangeDetected is called whenever the engine observes a change in
	// the underlying settings (a new page ETag, a watched sentinel change),
	// before the refreshed settings are re-processed. Adapters with
	// internal caches (the secret-reference adapter) use it to invalidate
	// state that would otherwise go stale.
	OnChangeDetected()
}

// Chain tries its adapters, in order, against a setting.
type Chain struct {
	adapters []ValueAdapter
}

// NewChain builds a chain that tries adapters in the given order. Spec
// §4.5 requires the secret-reference adapter be tried before the JSON
// adapter, since a secret-reference setting's content type also satisfies
// the JSON adapter's `+json` suffix test.
func NewChain(adapters ...ValueAdapter) *Chain {
	return &Chain{adapters: adapters}
}

// Process runs setting through the first matching adapter, or returns the
// raw string value unchanged (nil-safe) if none claims it.
func (c *Chain) Process(ctx context.Context, setting model.Setting) (key string, value any, err error) {
	for _, a := range c.adapters {
		if a.CanProcess(setting) {
			return a.ProcessKeyValue(ctx, setting)
		}
	}
	if setting.Value == nil {
		return setting.Key, nil, nil
	}
	return setting.Key, *setting.Value, nil
}

// OnChangeDetected notifies every adapter in the chain.
func (c *Chain) OnChangeDetected() {
	for _, a := range c.adapters {
		a.OnChangeDetected()
	}
}
