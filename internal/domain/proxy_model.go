package domain

import (
	"net"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	ProxyStatusActive    = "active"
	ProxyStatusInactive  = "inactive"
	ProxyStatusUnhealthy = "unhealthy"
	ProxyStatusChecking  = "checking"
)

type Proxy struct {
	ID            uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Host          string     `gorm:"not null;size:255;uniqueIndex:idx_proxies_host_port,priority:1" json:"host"`
	Port          uint16     `gorm:"not null;uniqueIndex:idx_proxies_host_port,priority:2" json:"port"`
	Protocol      string     `gorm:"not null;size:16;default:'http'" json:"protocol"`
	Username      string     `gorm:"size:120;default:''" json:"username,omitempty"`
	Password      string     `gorm:"size:120;default:''" json:"-"`
	Country       string     `gorm:"size:2;default:''" json:"country,omitempty"`
	Status        string     `gorm:"not null;size:16;default:'active';index" json:"status"`
	LatencyMS     int64      `gorm:"not null;default:0" json:"latency_ms"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	// UnhealthySince marks the start of the current unbroken unhealthy
	// streak; nil while the proxy passes probes.
	UnhealthySince *time.Time `gorm:"index" json:"unhealthy_since,omitempty"`
	TotalRequests uint64     `gorm:"not null;default:0" json:"total_requests"`
	TotalFailures uint64     `gorm:"not null;default:0" json:"total_failures"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Proxy) TableName() string {
	return "proxies"
}

func (p *Proxy) BeforeSave(_ *gorm.DB) error {
	p.Host = strings.TrimSpace(p.Host)
	p.Protocol = strings.ToLower(strings.TrimSpace(p.Protocol))
	if p.Protocol == "" {
		p.Protocol = "http"
	}
	p.Status = strings.ToLower(strings.TrimSpace(p.Status))
	if p.Status == "" {
		p.Status = ProxyStatusActive
	}
	p.Country = strings.ToUpper(strings.TrimSpace(p.Country))
	return nil
}

func (p *Proxy) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port)))
}

func (p *Proxy) HasAuth() bool {
	return p.Username != ""
}

func ValidProxyStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case ProxyStatusActive, ProxyStatusInactive, ProxyStatusUnhealthy, ProxyStatusChecking:
		return true
	default:
		return false
	}
}

func ValidProxyProtocol(protocol string) bool {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "https", "socks4", "socks5":
		return true
	default:
		return false
	}
}
