// Package clientmanager implements the replica/client manager of spec §4.7:
// an ordered view over a primary endpoint plus its discovered replicas,
// each carrying independent backoff state, that the failover executor
// walks on every operation.
//
// The manager is generic over the client type so it never depends on the
// concrete store transport — internal/storeclient's HTTP client and
// internal/storetest's fake both satisfy it by construction.
package clientmanager

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/remoteconf/provider/internal/backoffpolicy"
)

// Record is one client in the manager's view: its endpoint, the concrete
// client value, and its failover bookkeeping.
type Record[T any] struct {
	Endpoint  string
	Client    T
	IsPrimary bool

	backoff      backoffpolicy.ExponentialSchedule
	backoffUntil time.Time
}

// InBackoff reports whether the record is still serving its backoff
// window as of now.
func (r *Record[T]) InBackoff(now time.Time) bool {
	return now.Before(r.backoffUntil)
}

// Manager tracks a primary client plus zero or more replicas, producing a
// failover order on every call to Clients and updating per-client backoff
// state as the failover executor reports outcomes.
type Manager[T any] struct {
	mu sync.Mutex

	primary  *Record[T]
	replicas []*Record[T]

	lastSuccessEndpoint string
	loadBalancing       bool
	now                 func() time.Time
	rand                func() float64
}

// New constructs a Manager with a primary client and an initial set of
// replicas keyed by endpoint.
func New[T any](primaryEndpoint string, primaryClient T, replicas map[string]T) *Manager[T] {
	m := &Manager[T]{
		primary: &Record[T]{Endpoint: primaryEndpoint, Client: primaryClient, IsPrimary: true},
		now:     time.Now,
		rand:    rand.Float64,
	}
	for endpoint, client := range replicas {
		m.replicas = append(m.replicas, &Record[T]{Endpoint: endpoint, Client: client})
	}
	return m
}

// SetLoadBalancing toggles spec §4.8's load-balancing mode: when enabled,
// Clients no longer prefers the primary first and instead rotates the
// healthy clients (primary, then replicas) so the one after the last
// successful client comes first, spreading consecutive requests across
// replicas instead of sticking to whichever served last.
func (m *Manager[T]) SetLoadBalancing(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadBalancing = enabled
}

// Clients returns the failover order for the next operation (spec §4.7):
// the primary first if it is not backing off, then the client that last
// succeeded (sticky, to avoid flapping between healthy replicas), then the
// remaining non-backing-off replicas in random order, then every
// backing-off client (primary included) ordered by soonest-to-recover. When
// load balancing is enabled, the primary/sticky preference is dropped and
// the healthy clients are instead rotated so the one after the last
// successful client comes first (spec §4.8).
func (m *Manager[T]) Clients() []*Record[T] {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	all := append([]*Record[T]{m.primary}, m.replicas...)

	var healthy, backing []*Record[T]
	for _, r := range all {
		if r.InBackoff(now) {
			backing = append(backing, r)
		} else {
			healthy = append(healthy, r)
		}
	}

	ordered := make([]*Record[T], 0, len(all))

	if m.loadBalancing {
		start := 0
		for i, r := range healthy {
			if r.Endpoint == m.lastSuccessEndpoint {
				start = (i + 1) % len(healthy)
				break
			}
		}
		ordered = append(ordered, healthy[start:]...)
		ordered = append(ordered, healthy[:start]...)
	} else {
		var primary *Record[T]
		var sticky *Record[T]
		var rest []*Record[T]
		for _, r := range healthy {
			switch {
			case r.IsPrimary:
				primary = r
			case r.Endpoint == m.lastSuccessEndpoint:
				sticky = r
			default:
				rest = append(rest, r)
			}
		}
		m.shuffle(rest)

		if primary != nil {
			ordered = append(ordered, primary)
		}
		if sticky != nil {
			ordered = append(ordered, sticky)
		}
		ordered = append(ordered, rest...)
	}

	sort.Slice(backing, func(i, j int) bool {
		return backing[i].backoffUntil.Before(backing[j].backoffUntil)
	})
	ordered = append(ordered, backing...)

	return ordered
}

func (m *Manager[T]) shuffle(records []*Record[T]) {
	for i := len(records) - 1; i > 0; i-- {
		j := int(m.rand() * float64(i+1))
		if j > i {
			j = i
		}
		records[i], records[j] = records[j], records[i]
	}
}

// ReportSuccess clears the client's backoff and marks it sticky for the
// next call to Clients.
func (m *Manager[T]) ReportSuccess(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.find(endpoint); r != nil {
		r.backoff.Reset()
		r.backoffUntil = time.Time{}
	}
	m.lastSuccessEndpoint = endpoint
}

// ReportFailure advances the client's exponential backoff schedule,
// pushing its next eligible attempt further into the future on repeated
// failures (spec §4.3/§4.7).
func (m *Manager[T]) ReportFailure(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(endpoint)
	if r == nil {
		return
	}
	r.backoff.RandFloat = m.rand
	d := r.backoff.NextBackOff()
	r.backoffUntil = m.now().Add(d)
	if m.lastSuccessEndpoint == endpoint {
		m.lastSuccessEndpoint = ""
	}
}

func (m *Manager[T]) find(endpoint string) *Record[T] {
	if m.primary.Endpoint == endpoint {
		return m.primary
	}
	for _, r := range m.replicas {
		if r.Endpoint == endpoint {
			return r
		}
	}
	return nil
}

// Refresh reconciles the replica set against a freshly discovered set of
// endpoint->client pairs (spec §4.7: replica discovery re-run after every
// client in the manager has failed). Replicas present in both sets keep
// their existing backoff state; ones dropped from discovery are removed;
// newly discovered ones start with a clean slate. The primary is never
// affected by Refresh.
func (m *Manager[T]) Refresh(discovered map[string]T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make([]*Record[T], 0, len(discovered))
	for endpoint, client := range discovered {
		if existing := m.findReplica(endpoint); existing != nil {
			existing.Client = client
			kept = append(kept, existing)
			continue
		}
		kept = append(kept, &Record[T]{Endpoint: endpoint, Client: client})
	}
	m.replicas = kept
}

func (m *Manager[T]) findReplica(endpoint string) *Record[T] {
	for _, r := range m.replicas {
		if r.Endpoint == endpoint {
			return r
		}
	}
	return nil
}

// AllBackingOff reports whether every client, primary included, is
// currently serving a backoff window (spec §4.8: triggers replica
// rediscovery).
func (m *Manager[T]) AllBackingOff() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if !m.primary.InBackoff(now) {
		return false
	}
	for _, r := range m.replicas {
		if !r.InBackoff(now) {
			return false
		}
	}
	return true
}
