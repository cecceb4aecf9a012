package confprovider

import (
	"context"
	"time"

	"github.com/remoteconf/provider/internal/model"
	"github.com/remoteconf/provider/internal/secrets"
)

// Credential acquires a bearer token for the configuration store. The
// provider never performs credential acquisition itself (spec §1: "out of
// scope"); this is the narrow capability it consumes, shaped like
// azcore.TokenCredential but without pulling in the Azure SDK.
type Credential interface {
	Token(ctx context.Context) (string, error)
}

// SecretClient fetches a single secret version's value from one Key Vault.
// A caller pre-registers these per vault host in KeyVaultOptions.SecretClients
// to avoid the provider lazily building its own client from Credential.
type SecretClient interface {
	GetSecret(ctx context.Context, name, version string) (string, error)
}

// TagFilter is a single `name=value` tag predicate (spec §3).
type TagFilter struct {
	Name  string
	Value string
}

// Selector describes a subset of store settings to load: either a query
// selector (KeyFilter/LabelFilter/TagFilters) or a snapshot selector
// (SnapshotName). Exactly one form applies; mixing both is rejected during
// normalization (spec §3, §4.1).
type Selector struct {
	KeyFilter    string
	LabelFilter  string
	TagFilters   []TagFilter
	SnapshotName string
}

func (s Selector) toModel() model.Selector {
	tagFilters := make([]model.TagFilter, len(s.TagFilters))
	for i, tf := range s.TagFilters {
		tagFilters[i] = model.TagFilter{Name: tf.Name, Value: tf.Value}
	}
	return model.Selector{
		KeyFilter:    s.KeyFilter,
		LabelFilter:  s.LabelFilter,
		TagFilters:   tagFilters,
		SnapshotName: s.SnapshotName,
	}
}

func toModelSelectors(in []Selector) []model.Selector {
	out := make([]model.Selector, len(in))
	for i, s := range in {
		out[i] = s.toModel()
	}
	return out
}

// RefreshOptions configures the key-value refresh cadence (spec §6).
type RefreshOptions struct {
	Enabled bool
	// RefreshIntervalInMs gates how often a refresh actually re-lists the
	// store; must be at least 1000ms when Enabled.
	RefreshIntervalInMs int
	// WatchedSettings, when non-empty, switches change detection from
	// watch-all (re-list every selector) to polling only these sentinels
	// (spec §4.9).
	WatchedSettings []Selector
}

// FeatureFlagOptions configures feature-flag loading and refresh (spec §6).
type FeatureFlagOptions struct {
	Enabled   bool
	Selectors []Selector
	Refresh   RefreshOptions
}

// KeyVaultOptions configures secret-reference resolution (spec §4.6, §6).
type KeyVaultOptions struct {
	// SecretClients pre-registers a client per vault host, tried before a
	// credential-backed client is lazily built.
	SecretClients map[string]SecretClient
	// Credential builds a client for a vault host not covered by
	// SecretClients, when set.
	Credential Credential
	// SecretResolver is a caller-supplied override tried only when no vault
	// client can be built for the reference's host at all (spec §4.6 step
	// 2(c): client/credential precedence wins over this callback).
	SecretResolver func(ctx context.Context, uri string) (string, error)
	// SecretRefreshIntervalInMs is the external cache-clear cadence; must
	// be at least 60000ms. Zero uses the package default (30 minutes).
	SecretRefreshIntervalInMs int
	// ParallelSecretResolutionEnabled fans secret (and other adapter)
	// resolution out concurrently during a load/refresh instead of
	// resolving settings one at a time (spec §4.6 "Parallelism").
	ParallelSecretResolutionEnabled bool
}

// StartupOptions bounds the initial load (spec §4.9, §6).
type StartupOptions struct {
	// TimeoutInMs is the wall-clock budget for the initial load, retried
	// with the startup backoff curve until it elapses. Zero uses the
	// package default of 100000ms.
	TimeoutInMs int
}

// Options configures Load. A nil Options is equivalent to &Options{} with
// every field at its zero value, additionally consulting process
// environment variables for a small set of overridable defaults (see
// envdefaults.go) — Load never requires a caller to hand-populate this
// struct just to get sane behavior in a twelve-factor deployment.
type Options struct {
	// Selectors chooses what key-value settings to load. Empty defaults to
	// a single selector matching every key with no label (spec §4.1).
	Selectors []Selector
	// TrimKeyPrefixes strips a matching prefix (longest first) from each
	// published key (spec §4.11); it does not affect which settings load.
	TrimKeyPrefixes []string

	Refresh      RefreshOptions
	FeatureFlags FeatureFlagOptions
	KeyVault     KeyVaultOptions
	Startup      StartupOptions

	// LoadBalancingEnabled rotates the failover order after the last
	// successful client, spreading load across healthy replicas (spec
	// §4.8 step 2).
	LoadBalancingEnabled bool
	// ReplicaDiscoveryEnabled lets the client manager rediscover replicas
	// (via the injected DiscoverReplicas function) after every client in
	// the current set has failed (spec §4.7).
	ReplicaDiscoveryEnabled bool
	// DiscoverReplicas looks up the current set of replica endpoint URLs.
	// Required for ReplicaDiscoveryEnabled to have any effect; the
	// provider never performs DNS/transport discovery itself (spec §1,
	// §4.7 models it as "an opaque injected function").
	DiscoverReplicas func(ctx context.Context) ([]string, error)

	// Observability is optional ambient wiring: a metrics collector to
	// register, a tracer for failover span attribution, and a structured
	// logger. All three default to safe no-ops when left unset.
	Observability ObservabilityOptions
}

// msAtLeast enforces spec §6's stated minimums (RefreshIntervalInMs≥1000ms,
// SecretRefreshIntervalInMs≥60000ms) while leaving an unset (<=0) value as
// 0, so the engine falls back to its own internal default instead of this
// package inventing one.
func msAtLeast(ms, min int) time.Duration {
	if ms <= 0 {
		return 0
	}
	if ms < min {
		ms = min
	}
	return time.Duration(ms) * time.Millisecond
}

// msOrDefault is for settings the engine has no internal default for
// (the startup timeout), where spec §6 names an explicit default
// (timeoutInMs=100000) this package must supply itself.
func msOrDefault(ms, def int) time.Duration {
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

func buildSecretsProvider(opts KeyVaultOptions) *secrets.Provider {
	var factory secrets.ClientFactory
	if len(opts.SecretClients) > 0 || opts.Credential != nil {
		factory = func(vaultHost string) (secrets.VaultClient, error) {
			if c, ok := opts.SecretClients[vaultHost]; ok {
				return vaultClientAdapter{c}, nil
			}
			if opts.Credential != nil {
				return newCredentialVaultClient(vaultHost, opts.Credential), nil
			}
			return nil, ErrSecretUnresolvable(vaultHost)
		}
	}

	var resolver secrets.ResolveFunc
	if opts.SecretResolver != nil {
		resolver = secrets.ResolveFunc(opts.SecretResolver)
	}

	return secrets.NewProvider(secrets.Options{
		Factory:         factory,
		Resolver:        resolver,
		RefreshInterval: msAtLeast(opts.SecretRefreshIntervalInMs, 60_000),
	})
}

// vaultClientAdapter adapts a public SecretClient to the internal
// secrets.VaultClient contract, which is identical in shape but kept
// separate so internal/secrets never depends on this package.
type vaultClientAdapter struct{ c SecretClient }

func (a vaultClientAdapter) GetSecret(ctx context.Context, name, version string) (string, error) {
	return a.c.GetSecret(ctx, name, version)
}
