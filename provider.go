// Package confprovider is a client-side configuration provider: it loads a
// remote, hierarchically-keyed configuration store into an in-memory
// mapping, keeps that mapping fresh against the store over HTTP, resolves
// Key Vault secret references and snapshot collections, and surfaces
// feature-flag definitions for the application to read.
//
// Load is the package's single entry point; everything else hangs off the
// *Provider it returns.
package confprovider

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/remoteconf/provider/internal/adapters"
	"github.com/remoteconf/provider/internal/clientmanager"
	"github.com/remoteconf/provider/internal/engine"
	"github.com/remoteconf/provider/internal/failover"
	"github.com/remoteconf/provider/internal/model"
	"github.com/remoteconf/provider/internal/projection"
	"github.com/remoteconf/provider/internal/selectors"
	"github.com/remoteconf/provider/internal/storeclient"
	"github.com/remoteconf/provider/internal/telemetry"
)

// Disposable unsubscribes a previously registered refresh listener.
type Disposable interface {
	Dispose()
}

// ObservabilityOptions wires the provider's ambient logging, metrics and
// tracing. Every field is optional and defaults to a safe no-op.
type ObservabilityOptions struct {
	// MetricsRegisterer, when set, registers the provider's Prometheus
	// collectors against it (spec SPEC_FULL.md supplemented "metrics
	// surface": additive, caller-owned registration, not a notification
	// channel).
	MetricsRegisterer prometheus.Registerer
	// TracerProvider spans each failover attempt. Defaults to a no-op
	// tracer.
	TracerProvider trace.TracerProvider
	// Logger receives structured load/refresh/adapter diagnostics.
	// Defaults to zerolog's zero-value no-op logger.
	Logger zerolog.Logger
}

// Provider is the loaded, self-refreshing view over a remote configuration
// store. It is safe for concurrent use by many reader goroutines; Refresh
// calls serialize against each other (spec §5: "refresh() calls
// serialize").
type Provider struct {
	eng          *engine.Engine
	trimPrefixes []string
	defaultSep   string
	metrics      *telemetry.Metrics
}

// Load fetches the initial configuration and returns a ready-to-use
// Provider, retrying with the startup backoff curve (spec §4.3, §4.9)
// until it succeeds or Options.Startup.TimeoutInMs elapses.
//
// endpointOrConnectionString is either a bare HTTPS endpoint URL or an
// `Endpoint=...;Id=...;Secret=...` connection string (SPEC_FULL.md
// supplemented feature); only the endpoint is load-bearing here. A
// connection string's Id/Secret segments are for the caller's own
// Credential construction (mirroring the HMAC signing key in an Azure App
// Configuration connection string), not something Load itself interprets.
// credential may be nil when the store needs no bearer token (e.g. a
// network-local test double). options may be nil, in which case
// environment variables provide defaults (envdefaults.go) rather than
// this package silently picking its own.
func Load(ctx context.Context, endpointOrConnectionString string, credential Credential, options *Options) (*Provider, error) {
	var opts Options
	if options != nil {
		opts = *options
	} else {
		applyEnvDefaults(&opts)
	}

	cs, err := parseConnectionString(endpointOrConnectionString)
	if err != nil {
		return nil, err
	}

	kvSelectors, err := normalizeModelSelectors(opts.Selectors)
	if err != nil {
		return nil, ErrInvalidArgument("%v", err)
	}
	watchedSentinels, err := normalizeModelSelectors(opts.Refresh.WatchedSettings)
	if err != nil {
		return nil, ErrInvalidArgument("%v", err)
	}
	var ffSelectors []model.Selector
	if opts.FeatureFlags.Enabled {
		ffSelectors, err = normalizeFeatureFlagModelSelectors(opts.FeatureFlags.Selectors)
		if err != nil {
			return nil, ErrInvalidArgument("%v", err)
		}
	}

	var tokenSource storeclient.TokenSource
	if credential != nil {
		tokenSource = func(ctx context.Context) (string, error) { return credential.Token(ctx) }
	}

	var metrics *telemetry.Metrics
	if opts.Observability.MetricsRegisterer != nil {
		metrics = telemetry.NewMetrics()
		metrics.MustRegister(opts.Observability.MetricsRegisterer)
	}

	tracer := opts.Observability.TracerProvider
	var tr trace.Tracer
	if tracer != nil {
		tr = tracer.Tracer("github.com/remoteconf/provider")
	} else {
		tr = telemetry.NoopTracer()
	}

	primary := storeclient.NewHTTPClient(cs.Endpoint, tokenSource)
	mgr := clientmanager.New[storeclient.StoreClient](cs.Endpoint, primary, nil)
	mgr.SetLoadBalancing(opts.LoadBalancingEnabled)

	var discover failover.Discover[storeclient.StoreClient]
	if opts.ReplicaDiscoveryEnabled && opts.DiscoverReplicas != nil {
		discover = func(ctx context.Context) (map[string]storeclient.StoreClient, error) {
			endpoints, err := opts.DiscoverReplicas(ctx)
			if err != nil {
				return nil, err
			}
			clients := make(map[string]storeclient.StoreClient, len(endpoints))
			for _, ep := range endpoints {
				clients[ep] = storeclient.NewHTTPClient(ep, tokenSource)
			}
			return clients, nil
		}
	}

	executor := &failover.Executor[storeclient.StoreClient]{Manager: mgr, Tracer: tr, Discover: discover, Metrics: metrics}

	secretsProvider := buildSecretsProvider(opts.KeyVault)
	chain := adapters.NewChain(
		adapters.NewSecretReferenceAdapter(secretsProvider),
		adapters.NewJSONAdapter(),
	)

	secretsEnabled := len(opts.KeyVault.SecretClients) > 0 || opts.KeyVault.Credential != nil || opts.KeyVault.SecretResolver != nil

	eng := engine.New(engine.Options{
		Endpoint: cs.Endpoint,
		KV:       executor,
		Adapters: chain,

		Selectors:         kvSelectors,
		RefreshEnabled:    opts.Refresh.Enabled,
		KVRefreshInterval: msAtLeast(opts.Refresh.RefreshIntervalInMs, 1000),
		WatchedSentinels:  watchedSentinels,

		FeatureFlagsEnabled:        opts.FeatureFlags.Enabled,
		FeatureFlagSelectors:       ffSelectors,
		FeatureFlagRefreshEnabled:  opts.FeatureFlags.Refresh.Enabled,
		FeatureFlagRefreshInterval: msAtLeast(opts.FeatureFlags.Refresh.RefreshIntervalInMs, 1000),

		SecretsEnabled:                  secretsEnabled,
		SecretRefreshInterval:           msAtLeast(opts.KeyVault.SecretRefreshIntervalInMs, 60_000),
		ParallelSecretResolutionEnabled: opts.KeyVault.ParallelSecretResolutionEnabled,

		StartupTimeout: msOrDefault(opts.Startup.TimeoutInMs, 100_000),

		Metrics: metrics,
		Logger:  opts.Observability.Logger,
	})

	if err := eng.Load(ctx); err != nil {
		return nil, err
	}

	return &Provider{
		eng:          eng,
		trimPrefixes: opts.TrimKeyPrefixes,
		defaultSep:   ".",
		metrics:      metrics,
	}, nil
}

func normalizeModelSelectors(in []Selector) ([]model.Selector, error) {
	return selectors.Normalize(toModelSelectors(in))
}

func normalizeFeatureFlagModelSelectors(in []Selector) ([]model.Selector, error) {
	return selectors.NormalizeFeatureFlagSelectors(toModelSelectors(in))
}

// Get returns the current value for key, or (nil, false) when it is not
// present in the published mapping.
func (p *Provider) Get(key string) (any, bool) {
	return p.eng.Current().Value(key)
}

// Has reports whether key is present in the published mapping.
func (p *Provider) Has(key string) bool {
	_, ok := p.eng.Current().Value(key)
	return ok
}

// ForEach calls cb with every key and value currently published. Iteration
// order is unspecified (spec §3: "an ordered key→value mapping" describes
// lookup semantics, not a guaranteed traversal order).
func (p *Provider) ForEach(cb func(key string, value any)) {
	m := p.eng.Current()
	for _, k := range m.Keys() {
		v, ok := m.Value(k)
		if ok {
			cb(k, v)
		}
	}
}

// Size returns the number of keys currently published.
func (p *Provider) Size() int {
	return len(p.eng.Current().Keys())
}

// Refresh runs one refresh cycle against the configured refresh/watch
// settings, returning whether anything changed. It is idempotent under
// concurrent calls: a call made while another refresh is in flight returns
// (false, nil) immediately rather than issuing a duplicate upstream cycle
// (spec §5, §8 property 4).
func (p *Provider) Refresh(ctx context.Context) (bool, error) {
	return p.eng.Refresh(ctx)
}

// OnRefresh registers a listener invoked after every refresh that
// published a change. The returned Disposable removes it.
func (p *Provider) OnRefresh(listener func()) Disposable {
	return p.eng.OnRefresh(listener)
}

// ConstructConfigurationObjectOptions controls ConstructConfigurationObject.
type ConstructConfigurationObjectOptions struct {
	// Separator splits each flat key into nested path segments. One of
	// `.  ,  ;  -  _  __  /  :`; defaults to "." (spec §4.11).
	Separator string
}

// ConstructConfigurationObject projects the current flat mapping into a
// nested object by splitting each key on Separator, after trimming
// whichever configured key prefix is the longest match (spec §4.11).
func (p *Provider) ConstructConfigurationObject(opts ConstructConfigurationObjectOptions) (map[string]any, error) {
	sep := opts.Separator
	if sep == "" {
		sep = p.defaultSep
	}
	switch sep {
	case ".", ",", ";", "-", "_", "__", "/", ":":
	default:
		return nil, ErrInvalidArgument("invalid separator %q", sep)
	}

	m := p.eng.Current()
	flat := make(map[string]any, len(m.Keys()))
	for _, k := range m.Keys() {
		if v, ok := m.Value(k); ok {
			flat[k] = v
		}
	}

	obj, err := projection.Construct(flat, projection.Options{Separator: sep, TrimPrefixes: p.trimPrefixes})
	if err != nil {
		return nil, ErrAmbiguity("%v", err)
	}
	return obj, nil
}
