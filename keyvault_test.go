package confprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

type staticCredential struct{ token string }

func (c staticCredential) Token(ctx context.Context) (string, error) { return c.token, nil }

func TestCredentialVaultClientGetSecret(t *testing.T) {
	var gotAuth, gotPath, gotQuery string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("api-version")
		_ = json.NewEncoder(w).Encode(map[string]string{"value": "s3cr3t"})
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	c := newCredentialVaultClient(u.Host, staticCredential{token: "tok-1"})
	c.httpClient = srv.Client()

	v, err := c.GetSecret(context.Background(), "db-password", "v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "s3cr3t" {
		t.Errorf("got %q", v)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("got Authorization %q", gotAuth)
	}
	if gotPath != "/secrets/db-password/v1" {
		t.Errorf("got path %q", gotPath)
	}
	if gotQuery != "7.4" {
		t.Errorf("got api-version %q", gotQuery)
	}
}

func TestCredentialVaultClientOmitsVersionWhenEmpty(t *testing.T) {
	var gotPath string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]string{"value": "latest-value"})
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	c := newCredentialVaultClient(u.Host, staticCredential{token: "tok-1"})
	c.httpClient = srv.Client()

	if _, err := c.GetSecret(context.Background(), "db-password", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/secrets/db-password" {
		t.Errorf("got path %q", gotPath)
	}
}

func TestCredentialVaultClientPropagatesNonOKStatus(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	c := newCredentialVaultClient(u.Host, staticCredential{token: "tok-1"})
	c.httpClient = srv.Client()

	if _, err := c.GetSecret(context.Background(), "db-password", ""); err == nil {
		t.Error("expected an error for a non-200 response")
	}
}
