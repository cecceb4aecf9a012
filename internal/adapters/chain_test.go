package adapters

import (
	"context"
	"testing"

	"github.com/remoteconf/provider/internal/model"
)

func TestChainTriesSecretReferenceBeforeJSON(t *testing.T) {
	resolver := &fakeResolver{values: map[string]string{
		"https://vault.vault.azure.net/secrets/foo": "resolved",
	}}
	chain := NewChain(NewSecretReferenceAdapter(resolver), NewJSONAdapter())

	setting := model.Setting{
		Key:         "k",
		ContentType: strPtr(model.SecretReferenceContentType),
		Value:       strPtr(`{"uri":"https://vault.vault.azure.net/secrets/foo"}`),
	}

	_, value, err := chain.Process(context.Background(), setting)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "resolved" {
		t.Errorf("value = %v, want resolved (secret adapter should win)", value)
	}
}

func TestChainFallsThroughToJSON(t *testing.T) {
	chain := NewChain(NewSecretReferenceAdapter(&fakeResolver{}), NewJSONAdapter())
	setting := model.Setting{Key: "k", ContentType: strPtr("application/json"), Value: strPtr(`{"x":1}`)}

	_, value, err := chain.Process(context.Background(), setting)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := value.(map[string]any); !ok {
		t.Fatalf("expected parsed map, got %T", value)
	}
}

func TestChainPassesThroughUnmatchedSetting(t *testing.T) {
	chain := NewChain(NewJSONAdapter())
	setting := model.Setting{Key: "k", ContentType: strPtr("text/plain"), Value: strPtr("hello")}

	_, value, err := chain.Process(context.Background(), setting)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "hello" {
		t.Errorf("value = %v, want raw passthrough", value)
	}
}

func TestChainOnChangeDetectedPropagates(t *testing.T) {
	resolver := &fakeResolver{}
	chain := NewChain(NewSecretReferenceAdapter(resolver), NewJSONAdapter())
	chain.OnChangeDetected()
	if resolver.clearedCount != 1 {
		t.Errorf("expected resolver cache cleared once, got %d", resolver.clearedCount)
	}
}
