package registry

import (
	"math/rand"
	"sync"
	"testing"
	"time"
)

func testEntries() []Entry {
	return []Entry{
		{ID: 3, Host: "10.0.0.3", Port: 8080, Protocol: "http"},
		{ID: 1, Host: "10.0.0.1", Port: 8080, Protocol: "http"},
		{ID: 2, Host: "10.0.0.2", Port: 1080, Protocol: "socks5", Status: StatusUnhealthy},
	}
}

func TestSnapshotOrderedByID(t *testing.T) {
	r := New(testEntries())

	views := r.Snapshot()
	if len(views) != 3 {
		t.Fatalf("snapshot length = %d, want 3", len(views))
	}
	for i, want := range []uint64{1, 2, 3} {
		if views[i].ID != want {
			t.Fatalf("snapshot[%d].ID = %d, want %d", i, views[i].ID, want)
		}
	}
}

func TestEligibleFiltersNonActive(t *testing.T) {
	r := New(testEntries())

	eligible := r.Eligible()
	if len(eligible) != 2 {
		t.Fatalf("eligible length = %d, want 2", len(eligible))
	}
	for _, v := range eligible {
		if v.Status != StatusActive {
			t.Fatalf("eligible contains status %q", v.Status)
		}
	}
}

func TestGetUnknownProxy(t *testing.T) {
	r := New(nil)
	if _, err := r.Get(99); err != ErrProxyNotFound {
		t.Fatalf("Get returned %v, want ErrProxyNotFound", err)
	}
}

func TestUpsertVisibleToNextSelection(t *testing.T) {
	r := New(testEntries())

	r.Upsert(Entry{ID: 9, Host: "10.0.0.9", Port: 3128, Protocol: "http", Status: StatusActive})
	if len(r.Eligible()) != 3 {
		t.Fatal("upserted proxy not eligible")
	}

	r.Upsert(Entry{ID: 9, Host: "10.0.0.99", Port: 3128, Protocol: "http", Status: StatusActive})
	view, err := r.Get(9)
	if err != nil {
		t.Fatalf("Get after upsert: %v", err)
	}
	if view.Host != "10.0.0.99" {
		t.Fatalf("host = %q, want updated host", view.Host)
	}

	r.Remove(9)
	if _, err := r.Get(9); err != ErrProxyNotFound {
		t.Fatal("Remove did not drop the proxy")
	}
}

func TestUpsertPreservesCounters(t *testing.T) {
	r := New([]Entry{{ID: 1, Host: "10.0.0.1", Port: 8080, Protocol: "http"}})

	r.RecordOutcome(1, false, 0)
	r.Upsert(Entry{ID: 1, Host: "10.0.0.1", Port: 9090, Protocol: "http"})

	view, _ := r.Get(1)
	if view.TotalRequests != 1 || view.TotalFailures != 1 {
		t.Fatalf("counters reset by upsert: requests=%d failures=%d", view.TotalRequests, view.TotalFailures)
	}
	if view.Port != 9090 {
		t.Fatalf("port = %d, want 9090", view.Port)
	}
}

func TestMarkCheckingRespectsManualInactive(t *testing.T) {
	r := New([]Entry{
		{ID: 1, Host: "10.0.0.1", Port: 8080, Protocol: "http", Status: StatusInactive},
		{ID: 2, Host: "10.0.0.2", Port: 8080, Protocol: "http", Status: StatusUnhealthy},
	})

	if r.MarkChecking(1) {
		t.Fatal("MarkChecking claimed a manually inactive proxy")
	}
	if !r.MarkChecking(2) {
		t.Fatal("MarkChecking refused an unhealthy proxy")
	}
	if r.MarkChecking(2) {
		t.Fatal("MarkChecking claimed a proxy twice")
	}
}

func TestReportProbeNeverOverwritesInactive(t *testing.T) {
	r := New([]Entry{{ID: 1, Host: "10.0.0.1", Port: 8080, Protocol: "http"}})

	if !r.MarkChecking(1) {
		t.Fatal("MarkChecking failed")
	}
	// Admin deactivates while the probe is in flight.
	if err := r.SetStatus(1, StatusInactive); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	r.ReportProbe(1, true, 20*time.Millisecond, time.Now())

	view, _ := r.Get(1)
	if view.Status != StatusInactive {
		t.Fatalf("status = %q, want inactive to win over probe result", view.Status)
	}
}

func TestReportProbeTransitions(t *testing.T) {
	r := New([]Entry{{ID: 1, Host: "10.0.0.1", Port: 8080, Protocol: "http"}})

	r.MarkChecking(1)
	r.ReportProbe(1, false, 0, time.Now())
	view, _ := r.Get(1)
	if view.Status != StatusUnhealthy {
		t.Fatalf("status after failed probe = %q, want unhealthy", view.Status)
	}

	r.MarkChecking(1)
	r.ReportProbe(1, true, 15*time.Millisecond, time.Now())
	view, _ = r.Get(1)
	if view.Status != StatusActive {
		t.Fatalf("status after healthy probe = %q, want active", view.Status)
	}
	if view.LastLatency != 15*time.Millisecond {
		t.Fatalf("latency = %s, want 15ms", view.LastLatency)
	}
}

func TestReleaseFloorsAtZero(t *testing.T) {
	r := New([]Entry{{ID: 1, Host: "10.0.0.1", Port: 8080, Protocol: "http"}})

	r.Release(1)
	view, _ := r.Get(1)
	if view.ActiveConnections != 0 {
		t.Fatalf("active connections = %d, want 0", view.ActiveConnections)
	}
}

func TestAcquireReleaseUnderConcurrentLoad(t *testing.T) {
	r := New([]Entry{{ID: 1, Host: "10.0.0.1", Port: 8080, Protocol: "http"}})

	const workers = 32
	const iterations = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				if err := r.Acquire(1); err != nil {
					t.Errorf("Acquire: %v", err)
					return
				}
				view, _ := r.Get(1)
				if view.ActiveConnections < 0 {
					t.Error("active connections went negative")
					return
				}
				r.RecordOutcome(1, rand.Intn(2) == 0, time.Millisecond)
				r.Release(1)
			}
		}()
	}
	wg.Wait()

	view, _ := r.Get(1)
	if view.ActiveConnections != 0 {
		t.Fatalf("active connections = %d after all tunnels closed, want 0", view.ActiveConnections)
	}
	if view.TotalRequests != workers*iterations {
		t.Fatalf("total requests = %d, want %d", view.TotalRequests, workers*iterations)
	}
}
