package auth

import (
	"crypto/subtle"
	"sync"
)

// ProxyCredentials validates the Basic credentials clients present on the
// proxy port. Independent of the admin JWT auth on the management API.
type ProxyCredentials struct {
	mu       sync.RWMutex
	enabled  bool
	username string
	password string
}

func NewProxyCredentials(enabled bool, username, password string) *ProxyCredentials {
	return &ProxyCredentials{enabled: enabled, username: username, password: password}
}

func (c *ProxyCredentials) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// Validate compares in constant time. Always true when auth is disabled.
func (c *ProxyCredentials) Validate(username, password string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.enabled {
		return true
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(c.password)) == 1
	return userOK && passOK
}

// Update applies new settings at runtime.
func (c *ProxyCredentials) Update(enabled bool, username, password string) {
	c.mu.Lock()
	c.enabled = enabled
	c.username = username
	c.password = password
	c.mu.Unlock()
}
