package secrets

import (
	"fmt"
	"net/url"
	"strings"
)

// Identifier is a parsed Key Vault secret reference URI:
// https://{vaultHost}/secrets/{name}[/{version}] (spec §4.6).
type Identifier struct {
	VaultHost string
	Name      string
	Version   string // empty means "latest"
}

// String reconstructs the canonical vault secret URI.
func (id Identifier) String() string {
	u := fmt.Sprintf("https://%s/secrets/%s", id.VaultHost, id.Name)
	if id.Version != "" {
		u += "/" + id.Version
	}
	return u
}

// ParseIdentifier parses a secret reference URI into its vault host, secret
// name and optional version. It accepts both the bare vault.azure.net form
// and sovereign-cloud variants, since only the path shape is significant.
func ParseIdentifier(uri string) (Identifier, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Identifier{}, fmt.Errorf("secrets: invalid uri %q: %w", uri, err)
	}
	if u.Scheme != "https" {
		return Identifier{}, fmt.Errorf("secrets: uri %q must use https", uri)
	}
	if u.Host == "" {
		return Identifier{}, fmt.Errorf("secrets: uri %q is missing a host", uri)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 2 || segments[0] != "secrets" || segments[1] == "" {
		return Identifier{}, fmt.Errorf("secrets: uri %q is not a /secrets/{name} reference", uri)
	}

	id := Identifier{VaultHost: u.Host, Name: segments[1]}
	if len(segments) >= 3 && segments[2] != "" {
		id.Version = segments[2]
	}
	return id, nil
}
