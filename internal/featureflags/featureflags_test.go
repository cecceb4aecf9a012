package featureflags

import "testing"

func TestParseBasicFlag(t *testing.T) {
	raw := `{
		"id": "Beta",
		"enabled": true,
		"conditions": {"client_filters": [{"name": "Microsoft.TimeWindow"}]}
	}`
	f, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.ID != "Beta" || !f.Enabled {
		t.Errorf("got %+v", f)
	}
	if len(f.Conditions.ClientFilters) != 1 || f.Conditions.ClientFilters[0].Name != "Microsoft.TimeWindow" {
		t.Errorf("client filters not parsed: %+v", f.Conditions)
	}
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	if _, err := Parse("not json"); err == nil {
		t.Fatal("expected error")
	}
}

func TestAllocationIDEmptyWithoutAllocation(t *testing.T) {
	f := Flag{ID: "X"}
	if AllocationID(&f) != "" {
		t.Error("expected empty allocation id with no allocation")
	}
}

func TestAllocationIDDeterministic(t *testing.T) {
	f1 := Flag{
		Allocation: &Allocation{Seed: "s1", DefaultWhenEnabled: "A"},
		Variants: []Variant{
			{Name: "A", ConfigurationValue: map[string]any{"x": 1}},
			{Name: "B", ConfigurationValue: "plain"},
		},
	}
	f2 := Flag{
		Allocation: &Allocation{Seed: "s1", DefaultWhenEnabled: "A"},
		Variants: []Variant{
			{Name: "B", ConfigurationValue: "plain"},
			{Name: "A", ConfigurationValue: map[string]any{"x": 1}},
		},
	}
	id1 := AllocationID(&f1)
	id2 := AllocationID(&f2)
	if id1 == "" {
		t.Fatal("expected non-empty allocation id")
	}
	if id1 != id2 {
		t.Errorf("expected variant-order-independent id: %q != %q", id1, id2)
	}
}

func TestAllocationIDChangesWithSeed(t *testing.T) {
	base := Flag{
		Allocation: &Allocation{Seed: "s1"},
		Variants:   []Variant{{Name: "A"}},
	}
	changed := Flag{
		Allocation: &Allocation{Seed: "s2"},
		Variants:   []Variant{{Name: "A"}},
	}
	if AllocationID(&base) == AllocationID(&changed) {
		t.Error("expected allocation id to change when seed changes")
	}
}

func TestAllocationIDNonEmptyWithSeedOnlyNoVariants(t *testing.T) {
	f := Flag{Allocation: &Allocation{Seed: "s1"}}
	if AllocationID(&f) == "" {
		t.Error("expected non-empty allocation id when seed is present, even with no variants")
	}
}

func TestCanonicalAllocationStringFormat(t *testing.T) {
	f := Flag{
		Allocation: &Allocation{
			Seed:               "s1",
			DefaultWhenEnabled: "A",
			Percentile: []PercentileAllocation{
				{Variant: "A", From: 0, To: 50},
				{Variant: "A", From: 0, To: 50}, // duplicate from/to, should collapse
				{Variant: "B", From: 50, To: 100},
				{Variant: "", From: 100, To: 150}, // no variant, must be dropped
			},
		},
		Variants: []Variant{
			{Name: "B", ConfigurationValue: "plain"},
			{Name: "A", ConfigurationValue: map[string]any{"x": 1}},
			{Name: "C", ConfigurationValue: "unreferenced"}, // not named by default/percentile
		},
	}

	percentiles := filteredPercentiles(f.Allocation.Percentile)
	if len(percentiles) != 2 {
		t.Fatalf("filteredPercentiles = %+v, want 2 entries", percentiles)
	}

	want := "seed=s1" +
		"\ndefault_when_enabled=A" +
		"\npercentiles=0," + base64Variant("A") + ",50" +
		";50," + base64Variant("B") + ",100" +
		"\nvariants=" + base64Variant("A") + "," + canonicalJSON(map[string]any{"x": 1}) +
		";" + base64Variant("B") + "," + canonicalJSON("plain")

	got := canonicalAllocationString(&f, percentiles)
	if got != want {
		t.Errorf("canonicalAllocationString =\n%q\nwant\n%q", got, want)
	}
}

func TestSpliceTelemetryMetadataNoOpWhenDisabled(t *testing.T) {
	f := Flag{Telemetry: Telemetry{Enabled: false}}
	SpliceTelemetryMetadata(&f, "etag", "https://store", "key", "")
	if f.Telemetry.Metadata != nil {
		t.Error("expected no metadata when telemetry disabled")
	}
}

func TestSpliceTelemetryMetadataFillsFields(t *testing.T) {
	f := Flag{
		Telemetry:  Telemetry{Enabled: true},
		Allocation: &Allocation{Seed: "s"},
		Variants:   []Variant{{Name: "A"}},
	}
	SpliceTelemetryMetadata(&f, "abc123", "https://store.example.com/", ".appconfig.featureflag/Beta", "prod")

	if f.Telemetry.Metadata["ETag"] != "abc123" {
		t.Errorf("ETag = %q", f.Telemetry.Metadata["ETag"])
	}
	want := "https://store.example.com/kv/.appconfig.featureflag/Beta?label=prod"
	if f.Telemetry.Metadata["FeatureFlagReference"] != want {
		t.Errorf("FeatureFlagReference = %q, want %q", f.Telemetry.Metadata["FeatureFlagReference"], want)
	}
	if f.Telemetry.Metadata["AllocationId"] == "" {
		t.Error("expected AllocationId to be populated")
	}
}
