// Package egress abstracts how this process reaches upstream proxies:
// directly, or through a single configured forward proxy (HTTP CONNECT or
// SOCKS5). Callers receive a plain net.Conn either way.
package egress

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"

	"rota/internal/upstream"
)

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// New parses a forward proxy URL of the form scheme://[user:pass@]host:port
// with scheme http or socks5. An empty URL yields a direct dialer.
func New(rawURL string, connectTimeout time.Duration) (Dialer, error) {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return &directDialer{dialer: net.Dialer{Timeout: connectTimeout}}, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("egress: parse proxy url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("egress: proxy url %q has no host", rawURL)
	}

	address := parsed.Host
	if parsed.Port() == "" {
		address = net.JoinHostPort(parsed.Hostname(), defaultPortForScheme(parsed.Scheme))
	}

	var username, password string
	if parsed.User != nil {
		username = parsed.User.Username()
		password, _ = parsed.User.Password()
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http":
		return &httpConnectDialer{
			address:  address,
			username: username,
			password: password,
			timeout:  connectTimeout,
		}, nil
	case "socks5":
		return newSOCKS5Dialer(address, username, password, connectTimeout)
	default:
		return nil, fmt.Errorf("egress: unsupported proxy scheme %q", parsed.Scheme)
	}
}

func defaultPortForScheme(scheme string) string {
	if strings.EqualFold(scheme, "socks5") {
		return "1080"
	}
	return "8080"
}

type directDialer struct {
	dialer net.Dialer
}

func (d *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d.dialer.DialContext(ctx, network, address)
}

// httpConnectDialer opens a TCP connection to the forward proxy and issues
// a CONNECT for the requested address.
type httpConnectDialer struct {
	address  string
	username string
	password string
	timeout  time.Duration
}

func (d *httpConnectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, network, d.address)
	if err != nil {
		return nil, fmt.Errorf("egress: dial forward proxy: %w", err)
	}

	_ = conn.SetDeadline(time.Now().Add(d.timeout))
	creds := upstream.Credentials{Username: d.username, Password: d.password}
	if err := upstream.ConnectHTTP(conn, address, creds); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("egress: forward proxy connect: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	return conn, nil
}

type socks5Dialer struct {
	forward xproxy.Dialer
}

func newSOCKS5Dialer(address, username, password string, connectTimeout time.Duration) (Dialer, error) {
	var auth *xproxy.Auth
	if username != "" {
		auth = &xproxy.Auth{User: username, Password: password}
	}

	forward, err := xproxy.SOCKS5("tcp", address, auth, &net.Dialer{Timeout: connectTimeout})
	if err != nil {
		return nil, fmt.Errorf("egress: socks5 forward proxy: %w", err)
	}
	return &socks5Dialer{forward: forward}, nil
}

func (d *socks5Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if cd, ok := d.forward.(xproxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}
	return d.forward.Dial(network, address)
}
