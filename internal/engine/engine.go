// Package engine implements the load/refresh engine of spec §4.2/§4.9/§4.10:
// the initial load with startup backoff, and the steady-state refresh cycle
// that fans out independent key-value, feature-flag and secret sub-refreshes
// and publishes one atomically-visible mapping when anything changed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/errgroup"

	"github.com/remoteconf/provider/internal/adapters"
	"github.com/remoteconf/provider/internal/backoffpolicy"
	"github.com/remoteconf/provider/internal/contenttype"
	"github.com/remoteconf/provider/internal/failover"
	"github.com/remoteconf/provider/internal/featureflags"
	"github.com/remoteconf/provider/internal/model"
	"github.com/remoteconf/provider/internal/refreshtimer"
	"github.com/remoteconf/provider/internal/storeclient"
	"github.com/remoteconf/provider/internal/telemetry"
)

// Options configures an Engine. Selectors and FeatureFlagSelectors are
// expected to already be normalized (internal/selectors.Normalize /
// NormalizeFeatureFlagSelectors).
type Options struct {
	Endpoint string // the primary endpoint, used to build feature-flag telemetry references

	KV       *failover.Executor[storeclient.StoreClient]
	Adapters *adapters.Chain

	Selectors         []model.Selector
	RefreshEnabled    bool
	KVRefreshInterval time.Duration
	WatchedSentinels  []model.Selector // non-empty switches key-value change detection to watched-sentinel mode

	FeatureFlagsEnabled        bool
	FeatureFlagSelectors       []model.Selector
	FeatureFlagRefreshEnabled  bool
	FeatureFlagRefreshInterval time.Duration

	SecretsEnabled                  bool
	SecretRefreshInterval           time.Duration
	ParallelSecretResolutionEnabled bool // fan out adapter processing across settings rather than running it sequentially

	StartupTimeout time.Duration

	Metrics *telemetry.Metrics // optional
	Logger  zerolog.Logger     // defaults to a no-op logger when zero-valued
}

// minLoadFailureDelay is the crash-loop rate limit of spec §4.9: any load
// failure surfaced to the caller is delayed to at least this much
// wall-clock from the start of the attempt.
const minLoadFailureDelay = 5 * time.Second

// Engine owns the provider's single source of truth: the published mapping,
// and the machinery that keeps it current.
type Engine struct {
	opts Options

	published *published
	listeners *listenerRegistry

	kvTimer      *refreshtimer.Timer
	ffTimer      *refreshtimer.Timer
	secretsTimer *refreshtimer.Timer

	refreshing chan struct{} // 1-buffered; held while a refresh is in flight

	// loadFailureDelay and sleep back Load's crash-loop floor; overridable
	// in tests so they don't pay the real 5s.
	loadFailureDelay time.Duration
	sleep            func(ctx context.Context, d time.Duration)
}

// New constructs an Engine. It does not load anything; call Load.
func New(opts Options) *Engine {
	e := &Engine{
		opts:             opts,
		published:        newPublished(),
		listeners:        newListenerRegistry(),
		refreshing:       make(chan struct{}, 1),
		loadFailureDelay: minLoadFailureDelay,
		sleep:            ctxSleep,
	}
	e.refreshing <- struct{}{}

	if opts.RefreshEnabled {
		interval := opts.KVRefreshInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		e.kvTimer = refreshtimer.New(interval)
	}
	if opts.FeatureFlagsEnabled && opts.FeatureFlagRefreshEnabled {
		interval := opts.FeatureFlagRefreshInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		e.ffTimer = refreshtimer.New(interval)
	}
	if opts.SecretsEnabled {
		interval := opts.SecretRefreshInterval
		if interval <= 0 {
			interval = 30 * time.Minute
		}
		e.secretsTimer = refreshtimer.New(interval)
	}
	return e
}

// Mapping is the read surface the root package's Provider builds Get/Has/
// ForEach on top of.
type Mapping interface {
	Value(key string) (any, bool)
	Keys() []string
	FeatureFlags() map[string]featureflags.Flag
}

func (m *mapping) Value(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *mapping) Keys() []string {
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys
}

func (m *mapping) FeatureFlags() map[string]featureflags.Flag {
	return m.featureFlags
}

// Current returns the currently published mapping.
func (e *Engine) Current() Mapping {
	return e.published.Load()
}

// OnRefresh registers fn to run after every refresh that published a
// change. The returned Disposable unregisters it.
func (e *Engine) OnRefresh(fn func()) Disposable {
	return e.listeners.Add(fn)
}

// Load performs the initial load, retrying on failure with the spec's
// startup backoff curve until either it succeeds or StartupTimeout elapses.
func (e *Engine) Load(ctx context.Context) error {
	start := time.Now()
	correlationID := uuid.New()
	e.opts.Logger.Info().Str("correlation_id", correlationID.String()).Msg("engine: starting initial load")

	startupCtx, cancel := context.WithTimeout(ctx, e.opts.StartupTimeout)
	defer cancel()

	eg, egCtx := errgroup.WithContext(startupCtx)
	eg.Go(func() error {
		schedule := &backoffpolicy.StartupSchedule{}
		_, err := backoff.Retry(egCtx, func() (struct{}, error) {
			return struct{}{}, e.loadOnce(egCtx)
		}, backoff.WithBackOff(schedule))
		return err
	})

	if err := eg.Wait(); err != nil {
		outcome := "error"
		if errors.Is(egCtx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
		}
		if e.opts.Metrics != nil {
			e.opts.Metrics.ObserveLoad(start, outcome)
		}
		if ctx.Err() == nil {
			e.sleepToFloor(ctx, start)
		}
		if outcome == "timeout" {
			return fmt.Errorf("engine: initial load did not succeed within startup timeout: %w", err)
		}
		return err
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveLoad(start, "success")
		e.opts.Metrics.PublishedKeys.Set(float64(len(e.Current().Keys())))
	}
	return nil
}

// sleepToFloor blocks until loadFailureDelay has elapsed since start,
// rate-limiting crash loops from supervisors that restart the process on
// every load failure (spec §4.9/§8 S6). A no-op once the floor has already
// passed.
func (e *Engine) sleepToFloor(ctx context.Context, start time.Time) {
	remaining := e.loadFailureDelay - time.Since(start)
	if remaining <= 0 {
		return
	}
	e.sleep(ctx, remaining)
}

// ctxSleep blocks for d or until ctx is done, whichever comes first.
func ctxSleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// loadOnce runs exactly one unconditional load of every enabled domain,
// reusing the same per-domain compute helpers the steady-state refresh
// uses, against an empty base mapping.
func (e *Engine) loadOnce(ctx context.Context) error {
	base := newMapping()

	kvRes := e.computeKVRefresh(ctx, base)
	if kvRes.err != nil {
		return kvRes.err
	}

	var ffRes ffResult
	if e.opts.FeatureFlagsEnabled {
		ffRes = e.computeFFRefresh(ctx, base)
		if ffRes.err != nil {
			return ffRes.err
		}
	}

	m := base.clone()
	m.kvPageETags, m.kvSelectorSettings = kvRes.pageETags, kvRes.selectorSettings
	rawSettings := flattenSelectorSettings(kvRes.selectorSettings, e.opts.Selectors)
	e.applySettings(ctx, m, rawSettings)

	if e.opts.FeatureFlagsEnabled {
		m.ffPageETags, m.ffSelectorSettings = ffRes.pageETags, ffRes.selectorSettings
		m.featureFlags = e.buildFeatureFlags(m.ffSelectorSettings)
	}

	e.published.Store(m)
	if e.kvTimer != nil {
		e.kvTimer.Reset()
	}
	if e.ffTimer != nil {
		e.ffTimer.Reset()
	}
	if e.secretsTimer != nil {
		e.secretsTimer.Reset()
	}
	return nil
}

// Refresh runs one steady-state refresh cycle: key-value, feature-flag and
// secret sub-refreshes run concurrently (each reading only the currently
// published, immutable mapping), and the single caller goroutine merges
// whatever changed into one new mapping and publishes it. A call made while
// another refresh is in flight returns (false, nil) at once without doing
// any work, so a timer-driven refresh racing a manually triggered one does
// the work once.
func (e *Engine) Refresh(ctx context.Context) (bool, error) {
	select {
	case <-e.refreshing:
	default:
		return false, nil
	}
	defer func() { e.refreshing <- struct{}{} }()

	correlationID := uuid.New()
	changed, err := e.doRefresh(ctx)
	e.opts.Logger.Debug().Str("correlation_id", correlationID.String()).
		Bool("changed", changed).Err(err).Msg("engine: refresh cycle complete")
	return changed, err
}

func (e *Engine) doRefresh(ctx context.Context) (bool, error) {
	base := e.published.Load()
	start := time.Now()

	kvAttempted := e.opts.RefreshEnabled && e.kvTimer != nil && e.kvTimer.CanRefresh()
	ffAttempted := e.opts.FeatureFlagsEnabled && e.opts.FeatureFlagRefreshEnabled && e.ffTimer != nil && e.ffTimer.CanRefresh()
	secretsAttempted := e.opts.SecretsEnabled && e.secretsTimer != nil && e.secretsTimer.CanRefresh()

	var kvRes kvResult
	var ffRes ffResult

	wg := conc.NewWaitGroup()
	if kvAttempted {
		wg.Go(func() { kvRes = e.computeKVRefresh(ctx, base) })
	}
	if ffAttempted {
		wg.Go(func() { ffRes = e.computeFFRefresh(ctx, base) })
	}
	wg.Wait() // a panic in either sub-refresh re-panics here rather than crashing the process from a bare goroutine

	if kvAttempted && e.kvTimer != nil {
		e.kvTimer.Reset()
	}
	if ffAttempted && e.ffTimer != nil {
		e.ffTimer.Reset()
	}
	if secretsAttempted && e.secretsTimer != nil {
		e.secretsTimer.Reset()
	}

	if e.opts.Metrics != nil {
		if kvAttempted {
			e.opts.Metrics.ObserveRefresh("keyvalues", start, kvRes.changed, outcomeOf(kvRes.err))
		}
		if ffAttempted {
			e.opts.Metrics.ObserveRefresh("featureflags", start, ffRes.changed, outcomeOf(ffRes.err))
		}
		if secretsAttempted {
			e.opts.Metrics.ObserveRefresh("secrets", start, false, "success")
		}
	}

	if err := errors.Join(kvRes.err, ffRes.err); err != nil {
		return false, err
	}

	kvChanged := kvAttempted && kvRes.changed
	ffChanged := ffAttempted && ffRes.changed
	if !kvChanged && !ffChanged && !secretsAttempted {
		return false, nil
	}

	m := base.clone()
	changed := false

	if kvChanged {
		m.kvPageETags, m.kvSelectorSettings = kvRes.pageETags, kvRes.selectorSettings
		changed = true
	}
	if kvChanged || secretsAttempted {
		e.opts.Adapters.OnChangeDetected()
		rawSettings := flattenSelectorSettings(m.kvSelectorSettings, e.opts.Selectors)
		e.applySettings(ctx, m, rawSettings)
		changed = true
	}
	if ffChanged {
		m.ffPageETags, m.ffSelectorSettings = ffRes.pageETags, ffRes.selectorSettings
		m.featureFlags = e.buildFeatureFlags(m.ffSelectorSettings)
		changed = true
	}

	e.published.Store(m)
	if e.opts.Metrics != nil {
		e.opts.Metrics.PublishedKeys.Set(float64(len(m.values)))
	}
	e.opts.Logger.Info().Bool("kv_changed", kvChanged).Bool("feature_flags_changed", ffChanged).
		Bool("secrets_refreshed", secretsAttempted).Msg("engine: refresh published a change")
	e.listeners.notifyAll()
	return changed, nil
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

type kvResult struct {
	changed          bool
	pageETags        map[string]string
	selectorSettings map[string][]model.Setting
	err              error
}

type ffResult struct {
	changed          bool
	pageETags        map[string]string
	selectorSettings map[string][]model.Setting
	err              error
}

// computeKVRefresh loads every key-value selector against base's known page
// ETags, returning a complete (not delta) view of the resulting page-etag
// and per-selector-settings maps. It only reads base; all network I/O and
// computation here is safe to run concurrently with computeFFRefresh.
func (e *Engine) computeKVRefresh(ctx context.Context, base *mapping) kvResult {
	res := kvResult{
		pageETags:        cloneStringMap(base.kvPageETags),
		selectorSettings: cloneSettingsMap(base.kvSelectorSettings),
	}

	if len(e.opts.WatchedSentinels) > 0 {
		changed, err := e.anySentinelChanged(ctx, base)
		if err != nil {
			res.err = err
			return res
		}
		if !changed {
			return res
		}
	}

	for _, selector := range e.opts.Selectors {
		dedupKey := selector.DedupKey()
		settings, etag, changed, err := e.loadSelector(ctx, selector, res.pageETags[dedupKey])
		if err != nil {
			res.err = err
			return res
		}
		if changed {
			res.changed = true
			res.pageETags[dedupKey] = etag
			res.selectorSettings[dedupKey] = settings
		}
	}
	return res
}

// anySentinelChanged polls every watched sentinel; a single changed
// sentinel is enough to justify re-listing every key-value selector
// (watched-sentinel mode, spec §4.9).
func (e *Engine) anySentinelChanged(ctx context.Context, base *mapping) (bool, error) {
	for _, sentinel := range e.opts.WatchedSentinels {
		sentinelKey := sentinel.KeyFilter + "\x1f" + sentinel.LabelFilter
		known := base.sentinelETags[sentinelKey]

		type result struct {
			changed bool
			etag    string
		}
		r, err := failover.Execute(ctx, e.opts.KV, func(ctx context.Context, client storeclient.StoreClient) (result, error) {
			changed, etag, err := client.CheckSentinel(ctx, sentinel.KeyFilter, sentinel.LabelFilter, known)
			return result{changed: changed, etag: etag}, err
		})
		if err != nil {
			return false, err
		}
		if r.changed {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) computeFFRefresh(ctx context.Context, base *mapping) ffResult {
	res := ffResult{
		pageETags:        cloneStringMap(base.ffPageETags),
		selectorSettings: cloneSettingsMap(base.ffSelectorSettings),
	}
	for _, selector := range e.opts.FeatureFlagSelectors {
		dedupKey := selector.DedupKey()
		settings, etag, changed, err := e.loadSelector(ctx, selector, res.pageETags[dedupKey])
		if err != nil {
			res.err = err
			return res
		}
		if changed {
			res.changed = true
			res.pageETags[dedupKey] = etag
			res.selectorSettings[dedupKey] = settings
		}
	}
	return res
}

// loadSelector fetches one selector's current settings, dispatching to the
// snapshot path when the selector names a snapshot (spec §4.10). changed is
// false only when the store confirmed the page is unchanged from etag.
func (e *Engine) loadSelector(ctx context.Context, selector model.Selector, knownETag string) (settings []model.Setting, etag string, changed bool, err error) {
	if selector.Kind == model.SelectorSnapshot {
		return e.loadSnapshotSelector(ctx, selector, knownETag)
	}

	type result struct {
		page        model.Page
		notModified bool
	}
	r, err := failover.Execute(ctx, e.opts.KV, func(ctx context.Context, client storeclient.StoreClient) (result, error) {
		page, notModified, err := client.GetSettings(ctx, selector, knownETag)
		return result{page: page, notModified: notModified}, err
	})
	if err != nil {
		return nil, "", false, err
	}
	if r.notModified {
		return nil, knownETag, false, nil
	}
	return r.page.Settings, r.page.ETag, true, nil
}

// loadSnapshotSelector expands a snapshot selector into its captured
// settings, rejecting any composition type other than "key" (spec §4.10).
// Snapshots are immutable, so once loaded at a given ETag they never need
// re-fetching; the ETag comparison here is just that short-circuit.
func (e *Engine) loadSnapshotSelector(ctx context.Context, selector model.Selector, knownETag string) ([]model.Setting, string, bool, error) {
	snap, err := failover.Execute(ctx, e.opts.KV, func(ctx context.Context, client storeclient.StoreClient) (model.Snapshot, error) {
		return client.GetSnapshot(ctx, selector.SnapshotName)
	})
	if err != nil {
		return nil, "", false, err
	}
	if snap.CompositionType != model.CompositionTypeKey {
		e.opts.Logger.Error().Str("snapshot", selector.SnapshotName).
			Str("composition_type", string(snap.CompositionType)).
			Msg("engine: rejecting snapshot selector with unsupported composition type")
		return nil, "", false, fmt.Errorf("engine: snapshot %q has composition type %q, only %q is supported", selector.SnapshotName, snap.CompositionType, model.CompositionTypeKey)
	}

	page, err := failover.Execute(ctx, e.opts.KV, func(ctx context.Context, client storeclient.StoreClient) (model.Page, error) {
		return client.GetSnapshotSettings(ctx, selector.SnapshotName)
	})
	if err != nil {
		return nil, "", false, err
	}
	if knownETag != "" && page.ETag == knownETag {
		return nil, knownETag, false, nil
	}
	return page.Settings, page.ETag, true, nil
}

// applySettings runs every non-feature-flag setting through the adapter
// chain and replaces m.values wholesale. A setting that fails adapter
// processing (a malformed secret reference, an unresolvable vault secret)
// is dropped rather than failing the whole refresh; it simply doesn't
// appear in the published mapping until it stops failing.
//
// When ParallelSecretResolutionEnabled, adapter processing for every
// setting (secret references included) fans out concurrently — spec §4.6's
// "callers may opt into parallel resolution" — but results are always
// folded into m.values in rawSettings order, so later-selector-wins (spec
// §4.10) stays deterministic regardless of which goroutine finishes first.
func (e *Engine) applySettings(ctx context.Context, m *mapping, rawSettings []model.Setting) {
	type outcome struct {
		key   string
		value any
		ok    bool
	}
	results := make([]outcome, len(rawSettings))

	process := func(i int) {
		s := rawSettings[i]
		if contenttype.IsFeatureFlag(contenttype.ClassifySetting(s)) {
			return
		}
		key, value, err := e.opts.Adapters.Process(ctx, s)
		if err != nil {
			e.opts.Logger.Warn().Err(err).Str("key", s.Key).Str("label", s.Label).
				Msg("engine: dropping setting, adapter processing failed")
			return
		}
		results[i] = outcome{key: key, value: value, ok: true}
	}

	if e.opts.ParallelSecretResolutionEnabled {
		wg := conc.NewWaitGroup()
		for i := range rawSettings {
			i := i
			wg.Go(func() { process(i) })
		}
		wg.Wait()
	} else {
		for i := range rawSettings {
			process(i)
		}
	}

	values := make(map[string]any, len(rawSettings))
	for _, r := range results {
		if r.ok {
			values[r.key] = r.value
		}
	}
	m.values = values
	m.rawSettings = rawSettings
}

func (e *Engine) buildFeatureFlags(selectorSettings map[string][]model.Setting) map[string]featureflags.Flag {
	flags := make(map[string]featureflags.Flag)
	for _, selector := range e.opts.FeatureFlagSelectors {
		for _, s := range selectorSettings[selector.DedupKey()] {
			if s.Value == nil || !contenttype.IsFeatureFlag(contenttype.ClassifySetting(s)) {
				continue
			}
			flag, err := featureflags.Parse(*s.Value)
			if err != nil {
				continue
			}
			featureflags.SpliceTelemetryMetadata(&flag, s.ETag, e.opts.Endpoint, s.Key, s.Label)
			flags[flag.ID] = flag
		}
	}
	return flags
}

// flattenSelectorSettings concatenates each selector's settings in selector
// order, so a later selector's settings overwrite an earlier selector's for
// the same key when applySettings assigns into m.values (spec §4.1's
// later-selector-wins composition).
func flattenSelectorSettings(selectorSettings map[string][]model.Setting, selectors []model.Selector) []model.Setting {
	var out []model.Setting
	for _, selector := range selectors {
		out = append(out, selectorSettings[selector.DedupKey()]...)
	}
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneSettingsMap(in map[string][]model.Setting) map[string][]model.Setting {
	out := make(map[string][]model.Setting, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
