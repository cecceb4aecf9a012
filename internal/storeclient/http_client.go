package storeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/remoteconf/provider/internal/failover"
	"github.com/remoteconf/provider/internal/model"
)

// TokenSource returns the bearer token to attach to every request,
// invoked per request so credential rotation (managed identity, Azure AD
// client secret) is transparent to the client.
type TokenSource func(ctx context.Context) (string, error)

// HTTPClient is the default StoreClient, talking to one App-Configuration-
// shaped endpoint over HTTPS. Its request/response plumbing is grounded on
// the teacher's internal/client/client.go: a context-aware *http.Client,
// a bearer Authorization header, JSON decoding and non-2xx responses
// wrapped so the failover executor can classify them.
type HTTPClient struct {
	Endpoint    string
	HTTPClient  *http.Client
	TokenSource TokenSource
}

// NewHTTPClient constructs an HTTPClient with a 30-second request timeout,
// matching the teacher's client default.
func NewHTTPClient(endpoint string, tokenSource TokenSource) *HTTPClient {
	return &HTTPClient{
		Endpoint:    strings.TrimRight(endpoint, "/"),
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
		TokenSource: tokenSource,
	}
}

type wireSetting struct {
	Key         string            `json:"key"`
	Label       string            `json:"label,omitempty"`
	Value       *string           `json:"value"`
	ContentType *string           `json:"content_type,omitempty"`
	ETag        string            `json:"etag"`
	Tags        map[string]string `json:"tags,omitempty"`
}

func (w wireSetting) toSetting() model.Setting {
	return model.Setting{
		Key:         w.Key,
		Label:       w.Label,
		Value:       w.Value,
		ContentType: w.ContentType,
		ETag:        w.ETag,
		Tags:        w.Tags,
	}
}

type wirePage struct {
	ETag  string        `json:"etag"`
	Items []wireSetting `json:"items"`
}

// GetSettings lists settings matching selector from /kv.
func (c *HTTPClient) GetSettings(ctx context.Context, selector model.Selector, pageETag string) (model.Page, bool, error) {
	u, err := url.Parse(c.Endpoint + "/kv")
	if err != nil {
		return model.Page{}, false, fmt.Errorf("storeclient: %w", err)
	}
	q := u.Query()
	if selector.KeyFilter != "" {
		q.Set("key", selector.KeyFilter)
	}
	if selector.LabelFilter != "" {
		q.Set("label", selector.LabelFilter)
	}
	for _, tag := range selector.TagFilters {
		q.Add("tags", tag.String())
	}
	u.RawQuery = q.Encode()

	resp, err := c.do(ctx, http.MethodGet, u.String(), pageETag)
	if err != nil {
		return model.Page{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return model.Page{}, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return model.Page{}, false, statusError(resp)
	}

	var wire wirePage
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return model.Page{}, false, fmt.Errorf("storeclient: decoding page: %w", err)
	}
	settings := make([]model.Setting, len(wire.Items))
	for i, item := range wire.Items {
		settings[i] = item.toSetting()
	}
	return model.Page{ETag: wire.ETag, Settings: settings}, false, nil
}

// GetSnapshot fetches a named snapshot's composition metadata.
func (c *HTTPClient) GetSnapshot(ctx context.Context, name string) (model.Snapshot, error) {
	resp, err := c.do(ctx, http.MethodGet, c.Endpoint+"/snapshots/"+url.PathEscape(name), "")
	if err != nil {
		return model.Snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.Snapshot{}, statusError(resp)
	}

	var wire struct {
		Name            string `json:"name"`
		CompositionType string `json:"composition_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return model.Snapshot{}, fmt.Errorf("storeclient: decoding snapshot: %w", err)
	}
	return model.Snapshot{Name: wire.Name, CompositionType: model.SnapshotCompositionType(wire.CompositionType)}, nil
}

// GetSnapshotSettings lists the settings captured by a snapshot.
func (c *HTTPClient) GetSnapshotSettings(ctx context.Context, name string) (model.Page, error) {
	resp, err := c.do(ctx, http.MethodGet, c.Endpoint+"/snapshots/"+url.PathEscape(name)+"/kv", "")
	if err != nil {
		return model.Page{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.Page{}, statusError(resp)
	}

	var wire wirePage
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return model.Page{}, fmt.Errorf("storeclient: decoding snapshot page: %w", err)
	}
	settings := make([]model.Setting, len(wire.Items))
	for i, item := range wire.Items {
		settings[i] = item.toSetting()
	}
	return model.Page{ETag: wire.ETag, Settings: settings}, nil
}

// CheckSentinel polls a single key/label's current ETag.
func (c *HTTPClient) CheckSentinel(ctx context.Context, key, label, knownETag string) (bool, string, error) {
	u, err := url.Parse(c.Endpoint + "/kv/" + url.PathEscape(key))
	if err != nil {
		return false, "", fmt.Errorf("storeclient: %w", err)
	}
	if label != "" {
		q := u.Query()
		q.Set("label", label)
		u.RawQuery = q.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, u.String(), knownETag)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return false, knownETag, nil
	}
	if resp.StatusCode == http.StatusNotFound {
		// A watched sentinel that previously had an ETag and now 404s has
		// been deleted — that transition is itself the change (spec §3:
		// a deletion is only detected when a known ETag becomes absent).
		return knownETag != "", "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, "", statusError(resp)
	}

	var wire wireSetting
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return false, "", fmt.Errorf("storeclient: decoding sentinel: %w", err)
	}
	return wire.ETag != knownETag, wire.ETag, nil
}

func (c *HTTPClient) do(ctx context.Context, method, rawURL, ifNoneMatch string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("storeclient: building request: %w", err)
	}
	if ifNoneMatch != "" {
		req.Header.Set("If-None-Match", ifNoneMatch)
	}
	if c.TokenSource != nil {
		token, err := c.TokenSource(ctx)
		if err != nil {
			return nil, fmt.Errorf("storeclient: acquiring token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storeclient: request failed: %w", err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("storeclient: %w: %s", &failover.HTTPStatusError{StatusCode: resp.StatusCode}, string(body))
}
