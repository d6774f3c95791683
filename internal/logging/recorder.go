// Package logging carries tunnel outcome records from the dispatcher to
// the durable store and the dashboard. Recording is fire-and-forget: a
// full buffer drops the record rather than stalling a tunnel.
package logging

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"rota/internal/metrics"
)

// Record is one tunnel outcome.
type Record struct {
	Time      time.Time     `json:"time"`
	ClientIP  string        `json:"client_ip"`
	ProxyID   uint64        `json:"proxy_id"`
	Target    string        `json:"target"`
	Success   bool          `json:"success"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Duration  time.Duration `json:"duration"`
	BytesIn   int64         `json:"bytes_in"`
	BytesOut  int64         `json:"bytes_out"`
}

type Recorder struct {
	ch      chan Record
	persist func(Record) error

	mu        sync.RWMutex
	broadcast func(Record)
	closed    bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewRecorder starts the persistence worker. persist may be nil when no
// durable store is attached (tests, ephemeral deployments).
func NewRecorder(buffer int, persist func(Record) error) *Recorder {
	if buffer <= 0 {
		buffer = 1024
	}
	r := &Recorder{
		ch:      make(chan Record, buffer),
		persist: persist,
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// SetBroadcast attaches a live consumer (the websocket hub).
func (r *Recorder) SetBroadcast(fn func(Record)) {
	r.mu.Lock()
	r.broadcast = fn
	r.mu.Unlock()
}

// Record enqueues without blocking; overflow is counted and dropped.
// Hijacked tunnels can outlive server shutdown, so records arriving after
// Close are dropped the same way.
func (r *Recorder) Record(rec Record) {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		metrics.DroppedLogRecords.Inc()
		return
	}

	select {
	case r.ch <- rec:
	default:
		metrics.DroppedLogRecords.Inc()
	}
}

// Close drains buffered records and stops the worker. The write lock waits
// out any Record in flight before the channel closes.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.ch)
		<-r.done
	})
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.ch {
		r.mu.RLock()
		broadcast := r.broadcast
		r.mu.RUnlock()
		if broadcast != nil {
			broadcast(rec)
		}

		if r.persist == nil {
			continue
		}
		if err := r.persist(rec); err != nil {
			log.Warn("recorder: failed to persist outcome record", "proxy_id", rec.ProxyID, "error", err)
		}
	}
}
