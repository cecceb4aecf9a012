// Package contenttype classifies the media type of a setting's content,
// driving which value adapter (if any) accepts it (spec §4.4).
package contenttype

import (
	"strings"

	"github.com/remoteconf/provider/internal/model"
)

// Classification is the parsed, lowercased media type plus its parameters.
type Classification struct {
	MediaType string
	Params    map[string]string
}

// Profile returns the `profile=` parameter, used only for AI-content
// tracing (spec §4.4) — never for adapter dispatch.
func (c Classification) Profile() string {
	return c.Params["profile"]
}

// Parse lowercases and splits a `media-type; param=value; ...` header value.
// An absent content type parses to a zero Classification.
func Parse(contentType *string) Classification {
	if contentType == nil {
		return Classification{}
	}
	parts := strings.Split(*contentType, ";")
	mediaType := strings.ToLower(strings.TrimSpace(parts[0]))
	params := make(map[string]string, len(parts)-1)
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		value := ""
		if len(kv) == 2 {
			value = strings.Trim(strings.TrimSpace(kv[1]), `"`)
		}
		params[key] = value
	}
	return Classification{MediaType: mediaType, Params: params}
}

// IsJSON reports whether the media type is `application/json` or an
// `application/*+json` structured-syntax suffix (spec §4.4).
func IsJSON(c Classification) bool {
	if c.MediaType == "application/json" {
		return true
	}
	return strings.HasPrefix(c.MediaType, "application/") && strings.HasSuffix(c.MediaType, "+json")
}

func baseMediaType(contentType string) string {
	return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
}

// IsFeatureFlag reports whether contentType is the feature-flag content type.
func IsFeatureFlag(c Classification) bool {
	return c.MediaType == baseMediaType(model.FeatureFlagContentType)
}

// IsSecretReference reports whether contentType is the secret-reference
// content type.
func IsSecretReference(c Classification) bool {
	return c.MediaType == baseMediaType(model.SecretReferenceContentType)
}

// IsSnapshotReference reports whether contentType is the snapshot-reference
// content type.
func IsSnapshotReference(c Classification) bool {
	return c.MediaType == baseMediaType(model.SnapshotReferenceContentType)
}

// ClassifySetting is a convenience wrapper classifying a setting's content
// type, returning the zero Classification when the setting has none.
func ClassifySetting(s model.Setting) Classification {
	return Parse(s.ContentType)
}
