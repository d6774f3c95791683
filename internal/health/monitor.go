// Package health periodically probes every upstream proxy through the
// egress path and feeds the results back into the registry. A proxy marked
// inactive by an operator is never probed and never reactivated from here.
package health

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"rota/internal/egress"
	"rota/internal/metrics"
	"rota/internal/registry"
	"rota/internal/upstream"
)

// probeFunc is swapped in tests.
var probeFunc = probe

// Result of one probe, handed to the persistence hook.
type Result struct {
	ProxyID   uint64
	Healthy   bool
	Latency   time.Duration
	CheckedAt time.Time
}

type Monitor struct {
	registry    *registry.Registry
	egress      egress.Dialer
	interval    time.Duration
	timeout     time.Duration
	concurrency int

	targetHost string
	targetPath string

	// onResult persists probe outcomes. Optional.
	onResult func(Result)
}

// NewMonitor configures a probe loop against targetURL, an http URL whose
// response (any status) proves the proxy can carry traffic.
func NewMonitor(reg *registry.Registry, egressDialer egress.Dialer, targetURL string, interval, timeout time.Duration, concurrency int, onResult func(Result)) (*Monitor, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("health: parse probe target: %w", err)
	}
	if parsed.Scheme != "http" || parsed.Host == "" {
		return nil, fmt.Errorf("health: probe target must be an http URL, got %q", targetURL)
	}

	host := parsed.Host
	if parsed.Port() == "" {
		host = net.JoinHostPort(parsed.Hostname(), "80")
	}
	path := parsed.RequestURI()
	if path == "" {
		path = "/"
	}

	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 10
	}

	return &Monitor{
		registry:    reg,
		egress:      egressDialer,
		interval:    interval,
		timeout:     timeout,
		concurrency: concurrency,
		targetHost:  host,
		targetPath:  path,
		onResult:    onResult,
	}, nil
}

func (m *Monitor) SetInterval(interval time.Duration) {
	if interval > 0 {
		m.interval = interval
	}
}

// Run probes immediately, then on every interval tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.RunRound(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunRound(ctx)
		}
	}
}

// RunRound probes every claimable proxy once, bounded by the configured
// concurrency, and blocks until the round completes.
func (m *Monitor) RunRound(ctx context.Context) {
	views := m.registry.Snapshot()
	if len(views) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	checked := 0
	for _, view := range views {
		if !m.registry.MarkChecking(view.ID) {
			continue
		}
		checked++
		g.Go(func() error {
			m.probeOne(gctx, view)
			return nil
		})
	}
	_ = g.Wait()

	log.Debug("health: probe round complete", "total", len(views), "checked", checked)
}

func (m *Monitor) probeOne(ctx context.Context, view registry.ProxyView) {
	start := time.Now()
	err := probeFunc(ctx, m.egress, view, m.targetHost, m.targetPath, m.timeout)
	latency := time.Since(start)
	checkedAt := time.Now()

	healthy := err == nil
	m.registry.ReportProbe(view.ID, healthy, latency, checkedAt)

	if healthy {
		metrics.HealthProbes.WithLabelValues("healthy").Inc()
	} else {
		metrics.HealthProbes.WithLabelValues("unhealthy").Inc()
		log.Debug("health: probe failed", "proxy_id", view.ID, "address", view.Address(), "error", err)
	}

	if m.onResult != nil {
		m.onResult(Result{ProxyID: view.ID, Healthy: healthy, Latency: latency, CheckedAt: checkedAt})
	}
}

// probe tunnels through the proxy to the target and issues a GET; any
// parseable server response below 500 counts as a working proxy.
func probe(ctx context.Context, egressDialer egress.Dialer, view registry.ProxyView, targetHost, targetPath string, timeout time.Duration) error {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := egressDialer.DialContext(dialCtx, "tcp", view.Address())
	if err != nil {
		return err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(timeout))

	creds := upstream.Credentials{Username: view.Username, Password: view.Password}
	if err := upstream.Connect(conn, view.Protocol, targetHost, creds); err != nil {
		return err
	}

	request := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", targetPath, targetHost)
	if _, err := conn.Write([]byte(request)); err != nil {
		return err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodGet})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("health: probe target returned status %d", resp.StatusCode)
	}
	return nil
}
