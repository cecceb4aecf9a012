// Package storetest provides a fake App-Configuration-shaped HTTP server
// for exercising the engine and failover executor against real network
// semantics (ETags, 304s, 429s, 5xxs) without a live store. It is test-only
// and never imported by production code.
//
// The router and rate limiting are grounded on the teacher's internal/api
// + cmd/server HTTP stack (go-chi/chi), repurposed from a feature-flag
// admin API into this read-only store API; the synthetic ETags reuse the
// teacher's internal/rollout/hash.go hashing idiom, swapped to
// cespare/xxhash/v2 directly over each served setting's key, label and
// ETag.
package storetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/remoteconf/provider/internal/model"
)

// Server is a fake store backend. Embed its *httptest.Server for URL/Close.
type Server struct {
	*httptest.Server

	mu               sync.Mutex
	settings         []model.Setting
	snapshots        map[string]model.Snapshot
	snapshotSettings map[string][]model.Setting

	failNext   atomic.Int32
	failStatus atomic.Int32
}

// Option configures a Server at construction time.
type Option func(*chi.Mux)

// WithRateLimit caps every route to limit requests per window, producing
// real 429 responses once exceeded — used to exercise failover against
// Key Vault/App Configuration's documented throttling behavior rather than
// a synthetic error.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(r *chi.Mux) {
		r.Use(httprate.LimitAll(limit, window))
	}
}

// New starts a fake store pre-loaded with settings.
func New(settings []model.Setting, opts ...Option) *Server {
	s := &Server{
		settings:         append([]model.Setting(nil), settings...),
		snapshots:        make(map[string]model.Snapshot),
		snapshotSettings: make(map[string][]model.Setting),
	}
	s.failStatus.Store(http.StatusInternalServerError)

	r := chi.NewRouter()
	for _, opt := range opts {
		opt(r)
	}
	r.Get("/kv", s.handleListSettings)
	r.Get("/kv/{key}", s.handleGetSetting)
	r.Get("/snapshots/{name}", s.handleGetSnapshot)
	r.Get("/snapshots/{name}/kv", s.handleGetSnapshotSettings)

	s.Server = httptest.NewServer(s.withFaultInjection(r))
	return s
}

// SetSettings replaces the served settings, changing the page ETag on the
// next list request.
func (s *Server) SetSettings(settings []model.Setting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = append([]model.Setting(nil), settings...)
}

// SetSnapshot registers a snapshot and the settings it captures.
func (s *Server) SetSnapshot(snap model.Snapshot, settings []model.Setting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.Name] = snap
	s.snapshotSettings[snap.Name] = append([]model.Setting(nil), settings...)
}

// FailNextRequests makes the next n requests (across all routes) fail
// with status, simulating a store outage for failover tests.
func (s *Server) FailNextRequests(n int, status int) {
	s.failNext.Store(int32(n))
	s.failStatus.Store(int32(status))
}

func (s *Server) withFaultInjection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for {
			remaining := s.failNext.Load()
			if remaining <= 0 {
				break
			}
			if s.failNext.CompareAndSwap(remaining, remaining-1) {
				w.WriteHeader(int(s.failStatus.Load()))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := filterSettings(s.settings, r.URL.Query())
	writePage(w, r, matched)
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	label := r.URL.Query().Get("label")

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, setting := range s.settings {
		if setting.Key == key && matchesLabel(setting, label) {
			writeSetting(w, r, setting)
			return
		}
	}
	http.NotFound(w, r)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.mu.Lock()
	snap, ok := s.snapshots[name]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	json.NewEncoder(w).Encode(struct {
		Name            string `json:"name"`
		CompositionType string `json:"composition_type"`
	}{Name: snap.Name, CompositionType: string(snap.CompositionType)})
}

func (s *Server) handleGetSnapshotSettings(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.mu.Lock()
	settings, ok := s.snapshotSettings[name]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	writePage(w, r, settings)
}

func matchesLabel(setting model.Setting, label string) bool {
	if label == "" {
		return true
	}
	return setting.EffectiveLabel() == label
}

func filterSettings(settings []model.Setting, q url.Values) []model.Setting {
	keyFilter := q.Get("key")
	labelFilter := q.Get("label")

	out := make([]model.Setting, 0, len(settings))
	for _, setting := range settings {
		if keyFilter != "" && !wildcardMatch(keyFilter, setting.Key) {
			continue
		}
		if labelFilter != "" && !wildcardMatch(labelFilter, setting.EffectiveLabel()) {
			continue
		}
		out = append(out, setting)
	}
	return out
}

func wildcardMatch(pattern, value string) bool {
	if pattern == model.WildCard || pattern == "" {
		return true
	}
	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(value) >= len(prefix) && value[:len(prefix)] == prefix
	}
	return pattern == value
}

func pageETag(settings []model.Setting) string {
	sorted := append([]model.Setting(nil), settings...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	h := xxhash.New()
	for _, setting := range sorted {
		h.WriteString(setting.Key)
		h.WriteString(setting.EffectiveLabel())
		h.WriteString(setting.ETag)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func writePage(w http.ResponseWriter, r *http.Request, settings []model.Setting) {
	etag := pageETag(settings)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	items := make([]wireSetting, len(settings))
	for i, setting := range settings {
		items[i] = toWireSetting(setting)
	}
	json.NewEncoder(w).Encode(struct {
		ETag  string        `json:"etag"`
		Items []wireSetting `json:"items"`
	}{ETag: etag, Items: items})
}

func writeSetting(w http.ResponseWriter, r *http.Request, setting model.Setting) {
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == setting.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	json.NewEncoder(w).Encode(toWireSetting(setting))
}

type wireSetting struct {
	Key         string            `json:"key"`
	Label       string            `json:"label,omitempty"`
	Value       *string           `json:"value"`
	ContentType *string           `json:"content_type,omitempty"`
	ETag        string            `json:"etag"`
	Tags        map[string]string `json:"tags,omitempty"`
}

func toWireSetting(s model.Setting) wireSetting {
	return wireSetting{
		Key:         s.Key,
		Label:       s.Label,
		Value:       s.Value,
		ContentType: s.ContentType,
		ETag:        s.ETag,
		Tags:        s.Tags,
	}
}
