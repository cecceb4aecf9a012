package confprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// credentialVaultClient lazily resolves a secret from a vault host using
// only a bearer credential, for a vault host with no registered
// SecretClient when a Credential is configured; it is tried before any
// SecretResolver (spec §4.6 step 2(b):
// "lazily-constructed client using the injected credential"). The Key
// Vault wire protocol itself is out of this module's scope (spec §1:
// "the secret store wire protocol... injected"), so this speaks the one
// REST shape every Key Vault-compatible store exposes: a GET against
// /secrets/{name}/{version} returning {"value": "..."}.
type credentialVaultClient struct {
	vaultHost  string
	credential Credential
	httpClient *http.Client
}

func newCredentialVaultClient(vaultHost string, credential Credential) *credentialVaultClient {
	return &credentialVaultClient{
		vaultHost:  vaultHost,
		credential: credential,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *credentialVaultClient) GetSecret(ctx context.Context, name, version string) (string, error) {
	u := url.URL{Scheme: "https", Host: c.vaultHost, Path: "/secrets/" + url.PathEscape(name)}
	if version != "" {
		u.Path += "/" + url.PathEscape(version)
	}
	q := u.Query()
	q.Set("api-version", "7.4")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("confprovider: building key vault request: %w", err)
	}
	token, err := c.credential.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("confprovider: acquiring key vault token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("confprovider: key vault request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("confprovider: key vault returned status %d for %q", resp.StatusCode, name)
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("confprovider: decoding key vault response: %w", err)
	}
	return body.Value, nil
}
