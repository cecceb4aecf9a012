package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/remoteconf/provider/internal/contenttype"
	"github.com/remoteconf/provider/internal/model"
)

// SecretResolver is the narrow capability the secret-reference adapter
// needs from internal/secrets. Depending on this interface rather than the
// concrete package avoids an import cycle (secrets never needs adapters)
// and keeps the adapter independently testable with a fake.
type SecretResolver interface {
	// Resolve returns the secret value for the given Key Vault secret URI
	// (spec §4.6). It owns its own caching and refresh-timer gating.
	Resolve(ctx context.Context, uri string) (string, error)

	// ClearCache drops any cached secret values, called when the engine
	// observes a change in the underlying settings.
	ClearCache()
}

type secretReferenceValue struct {
	URI string `json:"uri"`
}

// SecretReferenceAdapter resolves `application/vnd.microsoft.appconfig.
// keyvaultref+json` settings into their referenced secret value (spec
// §4.5, §4.6). It must be tried before JSONAdapter since the content type
// also carries the `+json` suffix.
type SecretReferenceAdapter struct {
	resolver SecretResolver
}

// NewSecretReferenceAdapter builds a SecretReferenceAdapter backed by
// resolver.
func NewSecretReferenceAdapter(resolver SecretResolver) *SecretReferenceAdapter {
	return &SecretReferenceAdapter{resolver: resolver}
}

// CanProcess reports whether setting carries the secret-reference content
// type.
func (a *SecretReferenceAdapter) CanProcess(setting model.Setting) bool {
	return contenttype.IsSecretReference(contenttype.ClassifySetting(setting))
}

// ProcessKeyValue parses the `{"uri": "..."}` envelope and resolves the
// referenced secret. Any failure — malformed envelope or resolution error
// — is wrapped so the engine can attribute it to this one setting without
// failing the whole load (spec §9 decision: an adapter failure fails only
// the originating setting).
func (a *SecretReferenceAdapter) ProcessKeyValue(ctx context.Context, setting model.Setting) (string, any, error) {
	if setting.Value == nil {
		return setting.Key, nil, fmt.Errorf("secret reference %q: empty value", setting.Key)
	}

	var envelope secretReferenceValue
	if err := json.Unmarshal([]byte(*setting.Value), &envelope); err != nil {
		return setting.Key, nil, fmt.Errorf("secret reference %q: invalid envelope: %w", setting.Key, err)
	}
	if envelope.URI == "" {
		return setting.Key, nil, fmt.Errorf("secret reference %q: missing uri", setting.Key)
	}

	value, err := a.resolver.Resolve(ctx, envelope.URI)
	if err != nil {
		return setting.Key, nil, fmt.Errorf("secret reference %q: %w", setting.Key, err)
	}
	return setting.Key, value, nil
}

// OnChangeDetected clears the resolver's cache so the next refresh
// re-resolves rather than serving a stale secret value.
func (a *SecretReferenceAdapter) OnChangeDetected() {
	a.resolver.ClearCache()
}
