package projection

import (
	"reflect"
	"testing"
)

func TestConstructNestsDottedKeys(t *testing.T) {
	flat := map[string]any{
		"app.name":       "demo",
		"app.db.host":    "localhost",
		"app.db.port":    5432,
		"feature.toggle": true,
	}
	got, err := Construct(flat, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]any{
		"app": map[string]any{
			"name": "demo",
			"db": map[string]any{
				"host": "localhost",
				"port": 5432,
			},
		},
		"feature": map[string]any{
			"toggle": true,
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestConstructRejectsInvalidSeparator(t *testing.T) {
	_, err := Construct(map[string]any{"a.b": 1}, Options{Separator: "|"})
	if err == nil {
		t.Fatal("expected error for invalid separator")
	}
}

func TestConstructAcceptsAllValidSeparators(t *testing.T) {
	for sep := range validSeparators {
		flat := map[string]any{"a" + sep + "b": 1}
		_, err := Construct(flat, Options{Separator: sep})
		if err != nil {
			t.Errorf("separator %q: unexpected error: %v", sep, err)
		}
	}
}

func TestConstructTrimsLongestMatchingPrefix(t *testing.T) {
	flat := map[string]any{
		"app:db.host":    "localhost",
		"app:feature.on": true,
	}
	got, err := Construct(flat, Options{TrimPrefixes: []string{"app:", "app:feature."}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dbNode, ok := got["db"].(map[string]any)
	if !ok {
		t.Fatalf("expected db node, got %#v", got)
	}
	if dbNode["host"] != "localhost" {
		t.Errorf("app:db.host should trim the shorter \"app:\" prefix, got %#v", dbNode)
	}
	if got["on"] != true {
		t.Errorf("app:feature.on should trim the longer \"app:feature.\" prefix, got %#v", got)
	}
}

func TestConstructDetectsAmbiguity(t *testing.T) {
	flat := map[string]any{
		"app":      "leaf-value",
		"app.name": "demo",
	}
	if _, err := Construct(flat, Options{}); err == nil {
		t.Fatal("expected ambiguity error when a key is both a leaf and a prefix")
	}
}

func TestConstructRejectsEmptyPathSegment(t *testing.T) {
	flat := map[string]any{"a..b": "v"}
	if _, err := Construct(flat, Options{}); err == nil {
		t.Fatal("expected error for a key with consecutive separators producing an empty segment")
	}
}

func TestConstructSkipsKeysFullyConsumedByPrefix(t *testing.T) {
	flat := map[string]any{"trimme": "v"}
	got, err := Construct(flat, Options{TrimPrefixes: []string{"trimme"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty projection, got %#v", got)
	}
}
