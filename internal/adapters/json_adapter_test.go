package adapters

import (
	"context"
	"reflect"
	"testing"

	"github.com/remoteconf/provider/internal/model"
)

func strPtr(s string) *string { return &s }

func TestJSONAdapterCanProcess(t *testing.T) {
	a := NewJSONAdapter()

	tests := []struct {
		name        string
		contentType *string
		want        bool
	}{
		{"plain json", strPtr("application/json"), true},
		{"structured suffix", strPtr("application/vnd.custom+json"), true},
		{"feature flag excluded", strPtr(model.FeatureFlagContentType), false},
		{"secret reference excluded", strPtr(model.SecretReferenceContentType), false},
		{"snapshot reference excluded", strPtr(model.SnapshotReferenceContentType), false},
		{"no content type", nil, false},
		{"text plain", strPtr("text/plain"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.CanProcess(model.Setting{Key: "k", ContentType: tt.contentType})
			if got != tt.want {
				t.Errorf("CanProcess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJSONAdapterParsesStrictJSON(t *testing.T) {
	a := NewJSONAdapter()
	setting := model.Setting{Key: "k", Value: strPtr(`{"a":1,"b":[2,3]}`)}

	_, value, err := a.ProcessKeyValue(context.Background(), setting)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", value)
	}
	if m["a"].(float64) != 1 {
		t.Errorf("a = %v, want 1", m["a"])
	}
}

func TestJSONAdapterFallsBackToJSONC(t *testing.T) {
	a := NewJSONAdapter()
	raw := `{
		// a comment
		"a": 1, /* inline */ "b": "text // not a comment"
	}`
	setting := model.Setting{Key: "k", Value: strPtr(raw)}

	_, value, err := a.ProcessKeyValue(context.Background(), setting)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", value)
	}
	if m["a"].(float64) != 1 {
		t.Errorf("a = %v, want 1", m["a"])
	}
	if m["b"].(string) != "text // not a comment" {
		t.Errorf("b = %q, want preserved slashes inside string", m["b"])
	}
}

func TestJSONAdapterFallsBackToRawString(t *testing.T) {
	a := NewJSONAdapter()
	setting := model.Setting{Key: "k", Value: strPtr("not json at all {")}

	_, value, err := a.ProcessKeyValue(context.Background(), setting)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(value, "not json at all {") {
		t.Errorf("value = %v, want raw string passthrough", value)
	}
}

func TestJSONAdapterNilValue(t *testing.T) {
	a := NewJSONAdapter()
	_, value, err := a.ProcessKeyValue(context.Background(), model.Setting{Key: "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != nil {
		t.Errorf("value = %v, want nil", value)
	}
}
