package confprovider

import (
	"strings"

	"github.com/spf13/viper"
)

// envPrefix namespaces every environment variable this package reads
// (APPCONFIG_STARTUP_TIMEOUT_MS, and so on), following the teacher's
// internal/config.go viper pattern of a single prefixed AutomaticEnv
// instance plus explicit SetDefault calls.
const envPrefix = "APPCONFIG"

// applyEnvDefaults overlays process environment variables onto opts. It
// runs only when the caller passed a nil Options to Load (spec §6:
// options is optional) — this package is a library, not a CLI
// (SPEC_FULL.md ambient-config note), so env defaults never override
// options a caller actually set.
func applyEnvDefaults(opts *Options) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("STARTUP_TIMEOUT_MS", 100_000)
	v.SetDefault("REFRESH_ENABLED", false)
	v.SetDefault("REFRESH_INTERVAL_MS", 30_000)
	v.SetDefault("FEATURE_FLAGS_ENABLED", false)
	v.SetDefault("LOAD_BALANCING_ENABLED", false)
	v.SetDefault("REPLICA_DISCOVERY_ENABLED", false)
	v.SetDefault("TRIM_KEY_PREFIXES", "")

	opts.Startup.TimeoutInMs = v.GetInt("STARTUP_TIMEOUT_MS")
	opts.Refresh.Enabled = v.GetBool("REFRESH_ENABLED")
	opts.Refresh.RefreshIntervalInMs = v.GetInt("REFRESH_INTERVAL_MS")
	opts.FeatureFlags.Enabled = v.GetBool("FEATURE_FLAGS_ENABLED")
	opts.LoadBalancingEnabled = v.GetBool("LOAD_BALANCING_ENABLED")
	opts.ReplicaDiscoveryEnabled = v.GetBool("REPLICA_DISCOVERY_ENABLED")

	if raw := strings.TrimSpace(v.GetString("TRIM_KEY_PREFIXES")); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				opts.TrimKeyPrefixes = append(opts.TrimKeyPrefixes, p)
			}
		}
	}
}
