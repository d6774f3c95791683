package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"rota/internal/auth"
	"rota/internal/egress"
	"rota/internal/logging"
	"rota/internal/metrics"
	"rota/internal/ratelimit"
	"rota/internal/registry"
	"rota/internal/rotation"
	"rota/internal/upstream"
)

const connectEstablishedResponse = "HTTP/1.1 200 Connection Established\r\nProxy-Agent: Rota\r\n\r\n"

// dialThroughFunc is swapped in tests.
var dialThroughFunc = dialThrough

// Policy is the runtime-tunable part of the dispatcher.
type Policy struct {
	MaxRetries     int
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Handler drives one inbound connection through authenticate, admission,
// selection, dial, and relay.
type Handler struct {
	registry *registry.Registry
	selector *rotation.Selector
	limiter  *ratelimit.Limiter
	creds    *auth.ProxyCredentials
	recorder *logging.Recorder

	mu     sync.RWMutex
	policy Policy
	egress egress.Dialer
}

func NewHandler(
	reg *registry.Registry,
	selector *rotation.Selector,
	limiter *ratelimit.Limiter,
	creds *auth.ProxyCredentials,
	egressDialer egress.Dialer,
	recorder *logging.Recorder,
	policy Policy,
) *Handler {
	if policy.MaxRetries < 1 {
		policy.MaxRetries = 1
	}
	if policy.ConnectTimeout <= 0 {
		policy.ConnectTimeout = 10 * time.Second
	}
	if policy.RequestTimeout <= 0 {
		policy.RequestTimeout = 30 * time.Second
	}
	return &Handler{
		registry: reg,
		selector: selector,
		limiter:  limiter,
		creds:    creds,
		recorder: recorder,
		policy:   policy,
		egress:   egressDialer,
	}
}

func (h *Handler) SetPolicy(policy Policy) {
	h.mu.Lock()
	if policy.MaxRetries >= 1 {
		h.policy.MaxRetries = policy.MaxRetries
	}
	if policy.ConnectTimeout > 0 {
		h.policy.ConnectTimeout = policy.ConnectTimeout
	}
	if policy.RequestTimeout > 0 {
		h.policy.RequestTimeout = policy.RequestTimeout
	}
	h.mu.Unlock()
}

func (h *Handler) SetEgress(d egress.Dialer) {
	h.mu.Lock()
	h.egress = d
	h.mu.Unlock()
}

func (h *Handler) snapshot() (Policy, egress.Dialer) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.policy, h.egress
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := clientAddr(r)

	if !h.authenticateClient(w, r) {
		h.emit(clientIP, 0, r.Host, 0, ErrAuthFailed, 0, 0)
		return
	}

	if !h.limiter.Allow(clientIP) {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		h.emit(clientIP, 0, r.Host, 0, ErrThrottled, 0, 0)
		return
	}

	if r.Method == http.MethodConnect {
		h.handleConnect(w, r, clientIP)
		return
	}
	h.handleHTTP(w, r, clientIP)
}

func (h *Handler) authenticateClient(w http.ResponseWriter, r *http.Request) bool {
	if !h.creds.Enabled() {
		return true
	}

	header := strings.TrimSpace(r.Header.Get("Proxy-Authorization"))
	if header == "" {
		writeProxyAuthRequired(w)
		return false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Basic") {
		writeProxyAuthRequired(w)
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		writeProxyAuthRequired(w)
		return false
	}

	pair := strings.SplitN(string(decoded), ":", 2)
	if len(pair) != 2 || !h.creds.Validate(pair[0], pair[1]) {
		writeProxyAuthRequired(w)
		return false
	}
	return true
}

func writeProxyAuthRequired(w http.ResponseWriter) {
	w.Header().Set("Proxy-Authenticate", `Basic realm="Rota"`)
	w.WriteHeader(http.StatusProxyAuthRequired)
	_, _ = w.Write([]byte("Proxy authentication required"))
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request, clientIP string) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}

	clientConn, buf, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "failed to hijack connection", http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := clientConn.Close(); err != nil {
			log.Debug("dispatch: client connection close", "error", err)
		}
	}()

	target := ensurePort(r.Host, "443")
	start := time.Now()

	upConn, view, err := h.acquireUpstream(r.Context(), target)
	if err != nil {
		writeHijackedResponse(buf, statusForError(err), err.Error())
		h.emit(clientIP, 0, target, time.Since(start), err, 0, 0)
		return
	}

	if _, err := clientConn.Write([]byte(connectEstablishedResponse)); err != nil {
		// The client went away before the tunnel opened; the upstream held
		// its end, so its counters stay untouched.
		_ = upConn.Close()
		duration := time.Since(start)
		h.registry.Release(view.ID)
		metrics.TunnelDuration.Observe(duration.Seconds())
		h.emit(clientIP, view.ID, target, duration, &RelayError{ProxyID: view.ID, Err: err}, 0, 0)
		return
	}

	// Bytes the client pipelined behind the CONNECT headers sit in the
	// hijacked reader; hand them to the upstream before the relay takes
	// over both conns.
	var pipelined int64
	if pending := buf.Reader.Buffered(); pending > 0 {
		n, err := io.CopyN(upConn, buf.Reader, int64(pending))
		pipelined = n
		if err != nil {
			_ = upConn.Close()
			h.finishTunnel(clientIP, view, target, start, &RelayError{ProxyID: view.ID, Timeout: isTimeout(err), Err: err}, 0, pipelined)
			return
		}
	}

	policy, _ := h.snapshot()
	metrics.ActiveTunnels.Inc()
	bytesIn, bytesOut, relayErr := relay(clientConn, upConn, policy.RequestTimeout)
	bytesOut += pipelined
	metrics.ActiveTunnels.Dec()

	var outcome error
	if relayErr != nil {
		outcome = &RelayError{ProxyID: view.ID, Timeout: isTimeout(relayErr), Err: relayErr}
	}
	h.finishTunnel(clientIP, view, target, start, outcome, bytesIn, bytesOut)
}

// finishTunnel releases the active-connection count taken at dial time and
// records the outcome exactly once.
func (h *Handler) finishTunnel(clientIP string, view registry.ProxyView, target string, start time.Time, outcome error, bytesIn, bytesOut int64) {
	duration := time.Since(start)
	h.registry.Release(view.ID)
	h.registry.RecordOutcome(view.ID, outcome == nil, duration)
	if outcome != nil {
		metrics.ProxyFailures.WithLabelValues(metrics.ProxyLabel(view.ID)).Inc()
	}
	metrics.TunnelDuration.Observe(duration.Seconds())
	h.emit(clientIP, view.ID, target, duration, outcome, bytesIn, bytesOut)
}

func (h *Handler) emit(clientIP string, proxyID uint64, target string, duration time.Duration, outcome error, bytesIn, bytesOut int64) {
	kind := errorKind(outcome)
	result := "success"
	if outcome != nil {
		result = "failure"
	}
	metrics.TunnelsTotal.WithLabelValues(result, kind).Inc()

	if h.recorder == nil {
		return
	}
	h.recorder.Record(logging.Record{
		ClientIP:  clientIP,
		ProxyID:   proxyID,
		Target:    target,
		Success:   outcome == nil,
		ErrorKind: kind,
		Duration:  duration,
		BytesIn:   bytesIn,
		BytesOut:  bytesOut,
	})
}

// acquireUpstream runs the selection/dial retry loop, excluding proxies
// already tried in this attempt sequence. On success the proxy's
// active-connection count has been taken.
func (h *Handler) acquireUpstream(ctx context.Context, target string) (net.Conn, registry.ProxyView, error) {
	policy, egressDialer := h.snapshot()

	tried := make(map[uint64]struct{}, policy.MaxRetries)
	var lastErr error

	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		view, err := h.selector.Select(h.registry.Eligible(), tried)
		if err != nil {
			if len(tried) == 0 {
				return nil, registry.ProxyView{}, ErrNoUpstreamAvailable
			}
			break
		}

		tried[view.ID] = struct{}{}
		conn, err := dialThroughFunc(ctx, egressDialer, view, target, policy.ConnectTimeout)
		if err != nil {
			lastErr = &DialError{ProxyID: view.ID, Err: err}
			h.registry.RecordOutcome(view.ID, false, 0)
			metrics.ProxyFailures.WithLabelValues(metrics.ProxyLabel(view.ID)).Inc()
			log.Debug("dispatch: upstream dial failed", "proxy_id", view.ID, "target", target, "attempt", attempt+1, "error", err)
			continue
		}

		_ = h.registry.Acquire(view.ID)
		return conn, view, nil
	}

	if lastErr != nil {
		return nil, registry.ProxyView{}, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, len(tried), lastErr)
	}
	return nil, registry.ProxyView{}, ErrRetriesExhausted
}

// dialThrough reaches the upstream proxy via the egress dialer and performs
// the upstream's own handshake so the returned conn is tunneled to target.
func dialThrough(ctx context.Context, egressDialer egress.Dialer, view registry.ProxyView, target string, timeout time.Duration) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := egressDialer.DialContext(dialCtx, "tcp", view.Address())
	if err != nil {
		return nil, err
	}

	_ = conn.SetDeadline(time.Now().Add(timeout))
	creds := upstream.Credentials{Username: view.Username, Password: view.Password}
	if err := upstream.Connect(conn, view.Protocol, target, creds); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

func (h *Handler) handleHTTP(w http.ResponseWriter, r *http.Request, clientIP string) {
	policy, egressDialer := h.snapshot()

	// Buffer the body so a dial failure can be retried against another
	// upstream without replaying a half-consumed reader.
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	targetURL := r.URL
	if !targetURL.IsAbs() {
		targetURL = &url.URL{
			Scheme:   "http",
			Host:     r.Host,
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
		}
	}
	target := ensurePort(r.Host, "80")
	start := time.Now()

	tried := make(map[uint64]struct{}, policy.MaxRetries)
	var lastErr error

	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		view, selErr := h.selector.Select(h.registry.Eligible(), tried)
		if selErr != nil {
			if len(tried) == 0 {
				lastErr = ErrNoUpstreamAvailable
			}
			break
		}
		tried[view.ID] = struct{}{}

		ctx, cancel := context.WithTimeout(r.Context(), policy.RequestTimeout)
		outReq, reqErr := http.NewRequestWithContext(ctx, r.Method, targetURL.String(), bytes.NewReader(bodyBytes))
		if reqErr != nil {
			cancel()
			http.Error(w, "failed to build upstream request", http.StatusInternalServerError)
			return
		}
		outReq.Header = r.Header.Clone()
		outReq.Header.Del("Proxy-Authorization")

		_ = h.registry.Acquire(view.ID)
		transport := buildTransport(view, egressDialer, policy.ConnectTimeout)
		resp, rtErr := transport.RoundTrip(outReq)
		if rtErr != nil {
			cancel()
			h.registry.Release(view.ID)
			h.registry.RecordOutcome(view.ID, false, 0)
			metrics.ProxyFailures.WithLabelValues(metrics.ProxyLabel(view.ID)).Inc()
			lastErr = &DialError{ProxyID: view.ID, Err: rtErr}
			log.Debug("dispatch: upstream request failed", "proxy_id", view.ID, "target", target, "attempt", attempt+1, "error", rtErr)
			continue
		}

		copyHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		written, copyErr := io.Copy(w, resp.Body)
		_ = resp.Body.Close()
		cancel()

		// The client already received this upstream's bytes; a body copy
		// failure is terminal, never a retry.
		var outcome error
		if copyErr != nil {
			outcome = &RelayError{ProxyID: view.ID, Timeout: isTimeout(copyErr), Err: copyErr}
		}
		h.finishTunnel(clientIP, view, target, start, outcome, written, int64(len(bodyBytes)))
		return
	}

	if lastErr == nil {
		lastErr = ErrRetriesExhausted
	} else if !errors.Is(lastErr, ErrNoUpstreamAvailable) {
		lastErr = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, len(tried), lastErr)
	}
	http.Error(w, lastErr.Error(), statusForError(lastErr))
	h.emit(clientIP, 0, target, time.Since(start), lastErr, 0, 0)
}

// buildTransport forwards plain HTTP through the chosen upstream: HTTP
// proxies get the request in absolute form via Proxy, SOCKS upstreams get
// a pre-tunneled connection instead.
func buildTransport(view registry.ProxyView, egressDialer egress.Dialer, connectTimeout time.Duration) *http.Transport {
	transport := &http.Transport{
		DisableKeepAlives: true,
	}

	switch strings.ToLower(view.Protocol) {
	case "socks4", "socks5":
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialThroughFunc(ctx, egressDialer, view, addr, connectTimeout)
		}
	default:
		proxyURL := &url.URL{Scheme: "http", Host: view.Address()}
		if view.HasAuth() {
			proxyURL.User = url.UserPassword(view.Username, view.Password)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return egressDialer.DialContext(ctx, network, addr)
		}
	}
	return transport
}

// relay copies both directions until one side finishes, bounded by the
// request timeout. Returns the byte counts and the error that ended the
// tunnel, nil for a clean close.
func relay(clientConn, upConn net.Conn, timeout time.Duration) (bytesIn, bytesOut int64, err error) {
	if timeout > 0 {
		deadline := time.Now().Add(timeout)
		_ = clientConn.SetDeadline(deadline)
		_ = upConn.SetDeadline(deadline)
	}

	type copyResult struct {
		n   int64
		err error
	}

	clientToUp := make(chan copyResult, 1)
	upToClient := make(chan copyResult, 1)

	go func() {
		n, copyErr := io.Copy(upConn, clientConn)
		clientToUp <- copyResult{n, copyErr}
	}()
	go func() {
		n, copyErr := io.Copy(clientConn, upConn)
		upToClient <- copyResult{n, copyErr}
	}()

	var first copyResult
	firstWasUpload := false
	select {
	case first = <-clientToUp:
		firstWasUpload = true
	case first = <-upToClient:
	}

	// Closing both unblocks the other direction.
	_ = clientConn.Close()
	_ = upConn.Close()

	var second copyResult
	if firstWasUpload {
		second = <-upToClient
		bytesOut, bytesIn = first.n, second.n
	} else {
		second = <-clientToUp
		bytesIn, bytesOut = first.n, second.n
	}

	// Only the direction that ended the tunnel determines the outcome; the
	// other side's error comes from the forced close above.
	if first.err != nil && !errors.Is(first.err, net.ErrClosed) {
		return bytesIn, bytesOut, first.err
	}
	return bytesIn, bytesOut, nil
}

func writeHijackedResponse(buf *bufio.ReadWriter, status int, message string) {
	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s",
		status,
		http.StatusText(status),
		len(message),
		message,
	)
	_ = buf.Flush()
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func clientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func ensurePort(host, fallbackPort string) string {
	if host == "" {
		return host
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, fallbackPort)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
