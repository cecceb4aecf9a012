package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/remoteconf/provider/internal/model"
)

type fakeResolver struct {
	values       map[string]string
	err          error
	clearedCount int
}

func (f *fakeResolver) Resolve(_ context.Context, uri string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.values[uri]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (f *fakeResolver) ClearCache() {
	f.clearedCount++
}

func TestSecretReferenceAdapterCanProcess(t *testing.T) {
	a := NewSecretReferenceAdapter(&fakeResolver{})
	if !a.CanProcess(model.Setting{Key: "k", ContentType: strPtr(model.SecretReferenceContentType)}) {
		t.Fatal("expected secret-reference content type to be claimed")
	}
	if a.CanProcess(model.Setting{Key: "k", ContentType: strPtr("application/json")}) {
		t.Fatal("expected plain json not to be claimed")
	}
}

func TestSecretReferenceAdapterResolves(t *testing.T) {
	resolver := &fakeResolver{values: map[string]string{
		"https://vault.vault.azure.net/secrets/foo": "super-secret",
	}}
	a := NewSecretReferenceAdapter(resolver)
	setting := model.Setting{
		Key:   "k",
		Value: strPtr(`{"uri":"https://vault.vault.azure.net/secrets/foo"}`),
	}

	_, value, err := a.ProcessKeyValue(context.Background(), setting)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "super-secret" {
		t.Errorf("value = %v, want super-secret", value)
	}
}

func TestSecretReferenceAdapterWrapsResolveFailure(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("boom")}
	a := NewSecretReferenceAdapter(resolver)
	setting := model.Setting{
		Key:   "k",
		Value: strPtr(`{"uri":"https://vault.vault.azure.net/secrets/foo"}`),
	}

	_, _, err := a.ProcessKeyValue(context.Background(), setting)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSecretReferenceAdapterRejectsMalformedEnvelope(t *testing.T) {
	a := NewSecretReferenceAdapter(&fakeResolver{})
	setting := model.Setting{Key: "k", Value: strPtr(`not json`)}

	_, _, err := a.ProcessKeyValue(context.Background(), setting)
	if err == nil {
		t.Fatal("expected error for malformed envelope")
	}
}

func TestSecretReferenceAdapterOnChangeDetectedClearsCache(t *testing.T) {
	resolver := &fakeResolver{}
	a := NewSecretReferenceAdapter(resolver)
	a.OnChangeDetected()
	if resolver.clearedCount != 1 {
		t.Errorf("expected ClearCache called once, got %d", resolver.clearedCount)
	}
}
