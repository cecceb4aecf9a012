package clientmanager

import (
	"testing"
	"time"
)

func endpoints(records []*Record[string]) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Endpoint
	}
	return out
}

func TestClientsOrdersPrimaryFirst(t *testing.T) {
	m := New("primary", "primary-client", map[string]string{
		"replica-a": "a",
		"replica-b": "b",
	})
	order := endpoints(m.Clients())
	if order[0] != "primary" {
		t.Errorf("expected primary first, got %v", order)
	}
	if len(order) != 3 {
		t.Fatalf("expected 3 clients, got %d", len(order))
	}
}

func TestReportFailurePushesClientToBackoff(t *testing.T) {
	m := New("primary", "p", map[string]string{"replica-a": "a"})
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	m.rand = func() float64 { return 0.5 }

	m.ReportFailure("primary")
	order := endpoints(m.Clients())
	if order[0] != "replica-a" {
		t.Errorf("expected backing-off primary demoted, got %v", order)
	}
	if order[len(order)-1] != "primary" {
		t.Errorf("expected primary last, got %v", order)
	}
}

func TestReportSuccessClearsBackoffAndStickies(t *testing.T) {
	m := New("primary", "p", map[string]string{"replica-a": "a", "replica-b": "b"})
	m.rand = func() float64 { return 0.5 }

	m.ReportFailure("primary")
	m.ReportSuccess("primary")

	order := endpoints(m.Clients())
	if order[0] != "primary" {
		t.Errorf("expected primary restored to front after success, got %v", order)
	}
}

func TestStickyNonPrimaryClientOrderedSecond(t *testing.T) {
	m := New("primary", "p", map[string]string{"replica-a": "a", "replica-b": "b"})
	m.rand = func() float64 { return 0.5 }

	m.ReportSuccess("replica-b")
	order := endpoints(m.Clients())
	if order[0] != "primary" || order[1] != "replica-b" {
		t.Errorf("expected [primary replica-b ...], got %v", order)
	}
}

func TestAllBackingOffDetectsFullOutage(t *testing.T) {
	m := New("primary", "p", map[string]string{"replica-a": "a"})
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	m.rand = func() float64 { return 0.5 }

	if m.AllBackingOff() {
		t.Fatal("expected not all backing off initially")
	}
	m.ReportFailure("primary")
	m.ReportFailure("replica-a")
	if !m.AllBackingOff() {
		t.Fatal("expected all clients backing off")
	}
}

func TestRefreshPreservesBackoffStateForRetainedReplicas(t *testing.T) {
	m := New("primary", "p", map[string]string{"replica-a": "a"})
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	m.rand = func() float64 { return 0.5 }

	m.ReportFailure("replica-a")
	m.Refresh(map[string]string{"replica-a": "a-updated", "replica-c": "c"})

	order := m.Clients()
	var replicaA, replicaC *Record[string]
	for _, r := range order {
		switch r.Endpoint {
		case "replica-a":
			replicaA = r
		case "replica-c":
			replicaC = r
		}
	}
	if replicaA == nil || replicaC == nil {
		t.Fatalf("expected both replica-a and replica-c present, got %v", endpoints(order))
	}
	if !replicaA.InBackoff(fixed) {
		t.Error("expected replica-a to retain its backoff state across refresh")
	}
	if replicaA.Client != "a-updated" {
		t.Errorf("expected replica-a client updated, got %v", replicaA.Client)
	}
	if replicaC.InBackoff(fixed) {
		t.Error("expected newly discovered replica-c to start with no backoff")
	}
}

func TestRefreshDropsUndiscoveredReplicas(t *testing.T) {
	m := New("primary", "p", map[string]string{"replica-a": "a", "replica-b": "b"})
	m.Refresh(map[string]string{"replica-a": "a"})

	order := endpoints(m.Clients())
	for _, e := range order {
		if e == "replica-b" {
			t.Fatalf("expected replica-b removed, got %v", order)
		}
	}
}
