// Package registry is the in-memory mirror of the upstream proxy set. It is
// the only state shared between dispatch tasks, the health monitor, and the
// admin API; mutations to a single proxy are serialized per entry so that
// selection snapshots never observe torn counters.
package registry

import (
	"errors"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusUnhealthy Status = "unhealthy"
	StatusChecking  Status = "checking"
)

var (
	ErrProxyNotFound = errors.New("registry: proxy not found")
	ErrInvalidStatus = errors.New("registry: invalid status")
)

// Entry seeds or replaces a proxy's identity in the registry.
type Entry struct {
	ID       uint64
	Host     string
	Port     uint16
	Protocol string
	Username string
	Password string
	Status   Status
}

// ProxyView is a value snapshot of one proxy, safe to hold across a
// selection decision.
type ProxyView struct {
	ID                uint64
	Host              string
	Port              uint16
	Protocol          string
	Username          string
	Password          string
	Status            Status
	ActiveConnections int64
	TotalRequests     uint64
	TotalFailures     uint64
	LastLatency       time.Duration
	LastCheckedAt     time.Time
}

func (v ProxyView) Address() string {
	return net.JoinHostPort(v.Host, strconv.Itoa(int(v.Port)))
}

func (v ProxyView) HasAuth() bool {
	return v.Username != ""
}

type proxyEntry struct {
	mu sync.Mutex

	// Identity, replaced wholesale by Upsert under mu.
	host     string
	port     uint16
	protocol string
	username string
	password string

	status        Status
	lastLatency   time.Duration
	lastCheckedAt time.Time

	active        atomic.Int64
	totalRequests atomic.Uint64
	totalFailures atomic.Uint64
}

type Registry struct {
	mu      sync.RWMutex
	entries map[uint64]*proxyEntry
}

func New(entries []Entry) *Registry {
	r := &Registry{entries: make(map[uint64]*proxyEntry, len(entries))}
	for _, e := range entries {
		r.entries[e.ID] = newProxyEntry(e)
	}
	return r
}

func newProxyEntry(e Entry) *proxyEntry {
	status := e.Status
	if status == "" {
		status = StatusActive
	}
	return &proxyEntry{
		host:     e.Host,
		port:     e.Port,
		protocol: e.Protocol,
		username: e.Username,
		password: e.Password,
		status:   status,
	}
}

func (r *Registry) lookup(id uint64) (*proxyEntry, bool) {
	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()
	return entry, ok
}

func (e *proxyEntry) view(id uint64) ProxyView {
	e.mu.Lock()
	v := ProxyView{
		ID:            id,
		Host:          e.host,
		Port:          e.port,
		Protocol:      e.protocol,
		Username:      e.username,
		Password:      e.password,
		Status:        e.status,
		LastLatency:   e.lastLatency,
		LastCheckedAt: e.lastCheckedAt,
	}
	e.mu.Unlock()
	v.ActiveConnections = e.active.Load()
	v.TotalRequests = e.totalRequests.Load()
	v.TotalFailures = e.totalFailures.Load()
	return v
}

// Snapshot returns all proxies ordered by id.
func (r *Registry) Snapshot() []ProxyView {
	r.mu.RLock()
	ids := make([]uint64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	entries := make([]*proxyEntry, 0, len(ids))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		entries = append(entries, r.entries[id])
	}
	r.mu.RUnlock()

	views := make([]ProxyView, 0, len(ids))
	for idx, entry := range entries {
		views = append(views, entry.view(ids[idx]))
	}
	return views
}

// Eligible returns the active proxies ordered by id.
func (r *Registry) Eligible() []ProxyView {
	all := r.Snapshot()
	eligible := all[:0]
	for _, v := range all {
		if v.Status == StatusActive {
			eligible = append(eligible, v)
		}
	}
	return eligible
}

func (r *Registry) Get(id uint64) (ProxyView, error) {
	entry, ok := r.lookup(id)
	if !ok {
		return ProxyView{}, ErrProxyNotFound
	}
	return entry.view(id), nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Upsert inserts or replaces a proxy's identity while preserving its
// runtime counters, making API mutations visible to the next selection
// without a restart.
func (r *Registry) Upsert(e Entry) {
	r.mu.Lock()
	existing, ok := r.entries[e.ID]
	if !ok {
		r.entries[e.ID] = newProxyEntry(e)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	existing.mu.Lock()
	existing.host = e.Host
	existing.port = e.Port
	existing.protocol = e.Protocol
	existing.username = e.Username
	existing.password = e.Password
	if e.Status != "" {
		existing.status = e.Status
	}
	existing.mu.Unlock()
}

// Remove drops a proxy from future selections. Tunnels already relaying
// through it are unaffected.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// SetStatus is the admin path; it may set any status, including the manual
// inactive override.
func (r *Registry) SetStatus(id uint64, status Status) error {
	switch status {
	case StatusActive, StatusInactive, StatusUnhealthy, StatusChecking:
	default:
		return ErrInvalidStatus
	}
	entry, ok := r.lookup(id)
	if !ok {
		return ErrProxyNotFound
	}
	entry.mu.Lock()
	entry.status = status
	entry.mu.Unlock()
	return nil
}

// MarkChecking claims a proxy for a probe round. It refuses proxies that
// are manually inactive or already being checked.
func (r *Registry) MarkChecking(id uint64) bool {
	entry, ok := r.lookup(id)
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.status == StatusInactive || entry.status == StatusChecking {
		return false
	}
	entry.status = StatusChecking
	return true
}

// ReportProbe records a probe result. An admin deactivation that raced the
// probe wins: the result is discarded rather than overwriting inactive.
func (r *Registry) ReportProbe(id uint64, healthy bool, latency time.Duration, checkedAt time.Time) {
	entry, ok := r.lookup(id)
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.status == StatusInactive {
		return
	}
	if healthy {
		entry.status = StatusActive
		entry.lastLatency = latency
	} else {
		entry.status = StatusUnhealthy
	}
	entry.lastCheckedAt = checkedAt
}

// RecordOutcome updates request counters after a tunnel attempt completes.
func (r *Registry) RecordOutcome(id uint64, success bool, latency time.Duration) {
	entry, ok := r.lookup(id)
	if !ok {
		return
	}
	entry.totalRequests.Add(1)
	if success {
		if latency > 0 {
			entry.mu.Lock()
			entry.lastLatency = latency
			entry.mu.Unlock()
		}
		return
	}
	entry.totalFailures.Add(1)
}

// Acquire counts one in-flight tunnel against the proxy.
func (r *Registry) Acquire(id uint64) error {
	entry, ok := r.lookup(id)
	if !ok {
		return ErrProxyNotFound
	}
	entry.active.Add(1)
	return nil
}

// Release undoes one Acquire, flooring at zero.
func (r *Registry) Release(id uint64) {
	entry, ok := r.lookup(id)
	if !ok {
		return
	}
	for {
		current := entry.active.Load()
		if current <= 0 {
			return
		}
		if entry.active.CompareAndSwap(current, current-1) {
			return
		}
	}
}
