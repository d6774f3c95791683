// Package geo resolves proxy hosts to ISO country codes from a local
// MaxMind database. Lookups are best effort: a missing database or an
// unresolvable host yields an empty country, never an error path callers
// must handle.
package geo

import (
	"net"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/oschwald/geoip2-golang"
)

type Resolver struct {
	mu     sync.Mutex
	reader *geoip2.Reader
}

// Open loads the database at path. An empty path returns a resolver that
// answers every lookup with an empty country.
func Open(path string) *Resolver {
	if strings.TrimSpace(path) == "" {
		return &Resolver{}
	}

	reader, err := geoip2.Open(path)
	if err != nil {
		log.Warn("GeoIP database unavailable, country lookups disabled", "path", path, "error", err)
		return &Resolver{}
	}

	log.Info("GeoIP database loaded", "path", path)
	return &Resolver{reader: reader}
}

func (r *Resolver) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reader != nil
}

// Country returns the uppercase ISO code for host, resolving hostnames to
// their first address.
func (r *Resolver) Country(host string) string {
	r.mu.Lock()
	reader := r.reader
	r.mu.Unlock()
	if reader == nil {
		return ""
	}

	ip := net.ParseIP(host)
	if ip == nil {
		addrs, err := net.LookupIP(host)
		if err != nil || len(addrs) == 0 {
			return ""
		}
		ip = addrs[0]
	}

	record, err := reader.Country(ip)
	if err != nil || record == nil {
		return ""
	}
	return strings.ToUpper(record.Country.IsoCode)
}

func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reader != nil {
		_ = r.reader.Close()
		r.reader = nil
	}
}
