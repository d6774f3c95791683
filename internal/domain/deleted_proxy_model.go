package domain

import "time"

// DeletedProxy is an archived proxy row. Proxies that stay unhealthy past
// the configured window are moved here instead of being dropped, so an
// operator can inspect and restore them. The original id is kept.
type DeletedProxy struct {
	ID             uint64     `gorm:"primaryKey" json:"id"`
	Host           string     `gorm:"not null;size:255" json:"host"`
	Port           uint16     `gorm:"not null" json:"port"`
	Protocol       string     `gorm:"not null;size:16" json:"protocol"`
	Username       string     `gorm:"size:120;default:''" json:"username,omitempty"`
	Password       string     `gorm:"size:120;default:''" json:"-"`
	Country        string     `gorm:"size:2;default:''" json:"country,omitempty"`
	LatencyMS      int64      `gorm:"not null;default:0" json:"latency_ms"`
	LastCheckedAt  *time.Time `json:"last_checked_at,omitempty"`
	UnhealthySince *time.Time `json:"unhealthy_since,omitempty"`
	TotalRequests  uint64     `gorm:"not null;default:0" json:"total_requests"`
	TotalFailures  uint64     `gorm:"not null;default:0" json:"total_failures"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      time.Time  `gorm:"index" json:"deleted_at"`
}

func (DeletedProxy) TableName() string {
	return "deleted_proxies"
}
