package confprovider

import (
	"context"
	"testing"
	"time"
)

func TestMsAtLeastLeavesUnsetAsZero(t *testing.T) {
	if got := msAtLeast(0, 1000); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
	if got := msAtLeast(-5, 1000); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}

func TestMsAtLeastEnforcesFloor(t *testing.T) {
	if got := msAtLeast(10, 1000); got != 1000*time.Millisecond {
		t.Errorf("got %v, want 1000ms", got)
	}
	if got := msAtLeast(5000, 1000); got != 5000*time.Millisecond {
		t.Errorf("got %v, want 5000ms", got)
	}
}

func TestMsOrDefaultFillsUnsetValue(t *testing.T) {
	if got := msOrDefault(0, 100_000); got != 100_000*time.Millisecond {
		t.Errorf("got %v, want 100000ms", got)
	}
	if got := msOrDefault(5000, 100_000); got != 5000*time.Millisecond {
		t.Errorf("got %v, want 5000ms", got)
	}
}

func TestToModelSelectorsTranslatesTagFilters(t *testing.T) {
	in := []Selector{{KeyFilter: "app.*", TagFilters: []TagFilter{{Name: "env", Value: "prod"}}}}
	out := toModelSelectors(in)
	if len(out) != 1 || out[0].KeyFilter != "app.*" {
		t.Fatalf("got %+v", out)
	}
	if len(out[0].TagFilters) != 1 || out[0].TagFilters[0].Name != "env" || out[0].TagFilters[0].Value != "prod" {
		t.Errorf("got %+v", out[0].TagFilters)
	}
}

type fakeSecretClient struct {
	value string
}

func (f fakeSecretClient) GetSecret(ctx context.Context, name, version string) (string, error) {
	return f.value, nil
}

func TestBuildSecretsProviderPrefersRegisteredClient(t *testing.T) {
	p := buildSecretsProvider(KeyVaultOptions{
		SecretClients: map[string]SecretClient{"vault.example.com": fakeSecretClient{value: "shh"}},
	})
	v, err := p.Resolve(context.Background(), "https://vault.example.com/secrets/db-password")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "shh" {
		t.Errorf("got %q, want %q", v, "shh")
	}
}

func TestBuildSecretsProviderWithNoFactoryOrResolverFails(t *testing.T) {
	p := buildSecretsProvider(KeyVaultOptions{})
	if _, err := p.Resolve(context.Background(), "https://vault.example.com/secrets/db-password"); err == nil {
		t.Error("expected an error when no client/resolver is configured")
	}
}

func TestBuildSecretsProviderUsesResolverOverride(t *testing.T) {
	called := false
	p := buildSecretsProvider(KeyVaultOptions{
		SecretResolver: func(ctx context.Context, uri string) (string, error) {
			called = true
			return "resolved", nil
		},
	})
	v, err := p.Resolve(context.Background(), "https://vault.example.com/secrets/db-password")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called || v != "resolved" {
		t.Errorf("got %q called=%v", v, called)
	}
}
