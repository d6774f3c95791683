package database

import (
	"errors"
	"testing"
	"time"

	"rota/internal/domain"
)

func seedUnhealthyProxy(t *testing.T, host string, since time.Time) *domain.Proxy {
	t.Helper()

	created, err := CreateProxy(domain.Proxy{Host: host, Port: 8080, Protocol: "http"})
	if err != nil {
		t.Fatalf("CreateProxy: %v", err)
	}
	if err := DB.Model(&domain.Proxy{}).
		Where("id = ?", created.ID).
		Updates(map[string]any{
			"status":          domain.ProxyStatusUnhealthy,
			"unhealthy_since": since,
		}).Error; err != nil {
		t.Fatalf("seed unhealthy proxy: %v", err)
	}
	created.Status = domain.ProxyStatusUnhealthy
	return created
}

func TestArchiveUnhealthyBefore(t *testing.T) {
	setupTestDB(t)

	now := time.Now()
	expired := seedUnhealthyProxy(t, "10.0.0.1", now.Add(-2*time.Hour))
	recent := seedUnhealthyProxy(t, "10.0.0.2", now.Add(-time.Minute))
	healthy, err := CreateProxy(domain.Proxy{Host: "10.0.0.3", Port: 8080})
	if err != nil {
		t.Fatalf("CreateProxy: %v", err)
	}

	archived, err := ArchiveUnhealthyBefore(now.Add(-time.Hour), 100)
	if err != nil {
		t.Fatalf("ArchiveUnhealthyBefore: %v", err)
	}
	if len(archived) != 1 || archived[0].ID != expired.ID {
		t.Fatalf("archived = %+v, want only proxy %d", archived, expired.ID)
	}

	// The expired proxy moved; the recent and healthy ones stayed.
	if _, err := GetProxyByID(expired.ID); !errors.Is(err, ErrProxyNotFound) {
		t.Fatalf("archived proxy still in proxies table: %v", err)
	}
	if _, err := GetProxyByID(recent.ID); err != nil {
		t.Fatalf("recent unhealthy proxy was archived: %v", err)
	}
	if _, err := GetProxyByID(healthy.ID); err != nil {
		t.Fatalf("healthy proxy was archived: %v", err)
	}

	rows, total, err := ListDeletedProxies(20, 0)
	if err != nil {
		t.Fatalf("ListDeletedProxies: %v", err)
	}
	if total != 1 || len(rows) != 1 {
		t.Fatalf("archive has %d/%d rows, want 1", total, len(rows))
	}
	if rows[0].ID != expired.ID || rows[0].Host != "10.0.0.1" {
		t.Fatalf("archived row = %+v", rows[0])
	}
	if rows[0].DeletedAt.IsZero() {
		t.Fatal("archived row has no deletion time")
	}

	// A second sweep finds nothing left.
	again, err := ArchiveUnhealthyBefore(now.Add(-time.Hour), 100)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second sweep archived %d rows, want 0", len(again))
	}
}

func TestRestoreDeletedProxy(t *testing.T) {
	setupTestDB(t)

	now := time.Now()
	expired := seedUnhealthyProxy(t, "10.0.0.1", now.Add(-2*time.Hour))
	if err := RecordProxyOutcome(expired.ID, false); err != nil {
		t.Fatalf("RecordProxyOutcome: %v", err)
	}

	if _, err := ArchiveUnhealthyBefore(now.Add(-time.Hour), 100); err != nil {
		t.Fatalf("ArchiveUnhealthyBefore: %v", err)
	}

	restored, err := RestoreDeletedProxy(expired.ID)
	if err != nil {
		t.Fatalf("RestoreDeletedProxy: %v", err)
	}
	if restored.ID != expired.ID {
		t.Fatalf("restored id = %d, want %d (ids survive the round trip)", restored.ID, expired.ID)
	}
	if restored.Status != domain.ProxyStatusActive {
		t.Fatalf("restored status = %q, want active", restored.Status)
	}
	if restored.UnhealthySince != nil {
		t.Fatal("restored proxy kept its unhealthy streak")
	}
	if restored.TotalFailures != 1 {
		t.Fatalf("restored failures = %d, want counters preserved", restored.TotalFailures)
	}

	// The archive row is consumed by the restore.
	if _, _, err := ListDeletedProxies(20, 0); err != nil {
		t.Fatalf("ListDeletedProxies: %v", err)
	}
	if _, err := RestoreDeletedProxy(expired.ID); !errors.Is(err, ErrDeletedProxyNotFound) {
		t.Fatalf("second restore returned %v, want ErrDeletedProxyNotFound", err)
	}
}

func TestRestoreDeletedProxyConflict(t *testing.T) {
	setupTestDB(t)

	now := time.Now()
	expired := seedUnhealthyProxy(t, "10.0.0.1", now.Add(-2*time.Hour))
	if _, err := ArchiveUnhealthyBefore(now.Add(-time.Hour), 100); err != nil {
		t.Fatalf("ArchiveUnhealthyBefore: %v", err)
	}

	// The same address was re-added while the original sat in the archive.
	if _, err := CreateProxy(domain.Proxy{Host: "10.0.0.1", Port: 8080}); err != nil {
		t.Fatalf("CreateProxy: %v", err)
	}

	if _, err := RestoreDeletedProxy(expired.ID); !errors.Is(err, ErrProxyConflict) {
		t.Fatalf("restore over existing address returned %v, want ErrProxyConflict", err)
	}
}

func TestPurgeDeletedProxy(t *testing.T) {
	setupTestDB(t)

	now := time.Now()
	expired := seedUnhealthyProxy(t, "10.0.0.1", now.Add(-2*time.Hour))
	if _, err := ArchiveUnhealthyBefore(now.Add(-time.Hour), 100); err != nil {
		t.Fatalf("ArchiveUnhealthyBefore: %v", err)
	}

	if err := PurgeDeletedProxy(expired.ID); err != nil {
		t.Fatalf("PurgeDeletedProxy: %v", err)
	}
	if err := PurgeDeletedProxy(expired.ID); !errors.Is(err, ErrDeletedProxyNotFound) {
		t.Fatalf("second purge returned %v, want ErrDeletedProxyNotFound", err)
	}
	if _, err := RestoreDeletedProxy(expired.ID); !errors.Is(err, ErrDeletedProxyNotFound) {
		t.Fatalf("restore after purge returned %v, want ErrDeletedProxyNotFound", err)
	}
}
