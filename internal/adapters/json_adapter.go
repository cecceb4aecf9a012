package adapters

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/remoteconf/provider/internal/contenttype"
	"github.com/remoteconf/provider/internal/model"
)

// JSONAdapter parses `application/json` and `application/*+json` settings
// into their structured form (spec §4.5). It explicitly refuses
// feature-flag and secret-reference settings even though both also satisfy
// the `+json` suffix test — those are owned by dedicated adapters earlier
// in the chain.
type JSONAdapter struct{}

// NewJSONAdapter constructs a JSONAdapter.
func NewJSONAdapter() *JSONAdapter { return &JSONAdapter{} }

// CanProcess reports whether setting's content type is JSON and not one of
// the reserved structured-syntax content types owned by another adapter.
func (a *JSONAdapter) CanProcess(setting model.Setting) bool {
	c := contenttype.ClassifySetting(setting)
	if !contenttype.IsJSON(c) {
		return false
	}
	if contenttype.IsFeatureFlag(c) || contenttype.IsSecretReference(c) || contenttype.IsSnapshotReference(c) {
		return false
	}
	return true
}

// ProcessKeyValue parses the setting's value as JSON, falling back to a
// JSON-with-comments parse, and finally to the raw string when both fail
// (spec §4.5: "a setting that fails structured parsing still publishes its
// raw string value; only the originating setting is affected").
func (a *JSONAdapter) ProcessKeyValue(_ context.Context, setting model.Setting) (string, any, error) {
	if setting.Value == nil {
		return setting.Key, nil, nil
	}
	raw := *setting.Value
	if strings.TrimSpace(raw) == "" {
		return setting.Key, raw, nil
	}

	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return setting.Key, parsed, nil
	}

	stripped := stripJSONComments(raw)
	if err := json.Unmarshal([]byte(stripped), &parsed); err == nil {
		return setting.Key, parsed, nil
	}

	return setting.Key, raw, nil
}

// OnChangeDetected is a no-op: the JSON adapter holds no state.
func (a *JSONAdapter) OnChangeDetected() {}

// stripJSONComments removes `//` line comments and `/* */` block comments
// outside of string literals, producing a best-effort JSON-C-to-JSON
// rewrite. It is intentionally small: App Configuration only ever emits
// comments as an authoring convenience, never as meaningful content.
func stripJSONComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if inString {
			b.WriteRune(r)
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch {
		case r == '"':
			inString = true
			b.WriteRune(r)
		case r == '/' && i+1 < len(runes) && runes[i+1] == '/':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			if i < len(runes) {
				b.WriteRune('\n')
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++ // land on the closing '/'
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
