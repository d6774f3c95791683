package dispatch

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthFailed: bad client credentials, terminal, no retry.
	ErrAuthFailed = errors.New("dispatch: proxy authentication failed")
	// ErrThrottled: admission rejected, terminal, no upstream work attempted.
	ErrThrottled = errors.New("dispatch: rate limit exceeded")
	// ErrNoUpstreamAvailable: the eligible set was empty before any attempt.
	ErrNoUpstreamAvailable = errors.New("dispatch: no upstream proxies available")
	// ErrRetriesExhausted: every attempted upstream failed within the retry bound.
	ErrRetriesExhausted = errors.New("dispatch: retries exhausted")
)

// DialError is a connect or handshake failure against one specific upstream.
// It is absorbed by the retry loop and only surfaces wrapped in
// ErrRetriesExhausted.
type DialError struct {
	ProxyID uint64
	Err     error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("dispatch: dial upstream %d: %v", e.ProxyID, e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}

// RelayError is a mid-stream failure through the proxy that was relaying.
// Never retried: the client already received bytes through that upstream.
type RelayError struct {
	ProxyID uint64
	Timeout bool
	Err     error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("dispatch: relay through upstream %d: %v", e.ProxyID, e.Err)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

func statusForError(err error) int {
	var relayErr *RelayError
	switch {
	case errors.Is(err, ErrAuthFailed):
		return http.StatusProxyAuthRequired
	case errors.Is(err, ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrNoUpstreamAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrRetriesExhausted):
		return http.StatusBadGateway
	case errors.As(err, &relayErr):
		if relayErr.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

// errorKind labels outcome records and metrics.
func errorKind(err error) string {
	var dialErr *DialError
	var relayErr *RelayError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthFailed):
		return "auth"
	case errors.Is(err, ErrThrottled):
		return "throttled"
	case errors.Is(err, ErrNoUpstreamAvailable):
		return "no_upstream"
	case errors.Is(err, ErrRetriesExhausted):
		return "retries_exhausted"
	case errors.As(err, &relayErr):
		if relayErr.Timeout {
			return "timeout"
		}
		return "relay"
	case errors.As(err, &dialErr):
		return "dial"
	default:
		return "internal"
	}
}
