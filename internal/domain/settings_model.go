package domain

import "time"

// SettingsRowID pins settings to a single row.
const SettingsRowID uint64 = 1

type Settings struct {
	ID                      uint64    `gorm:"primaryKey" json:"-"`
	RotationStrategy        string    `gorm:"not null;size:32;default:'random'" json:"rotation_strategy"`
	RotationIntervalSeconds int       `gorm:"not null;default:60" json:"rotation_interval_seconds"`
	MaxRetries              int       `gorm:"not null;default:3" json:"max_retries"`
	ConnectTimeoutSeconds   int       `gorm:"not null;default:10" json:"connect_timeout_seconds"`
	RequestTimeoutSeconds   int       `gorm:"not null;default:30" json:"request_timeout_seconds"`
	AuthEnabled             bool      `gorm:"not null;default:false" json:"auth_enabled"`
	AuthUsername            string    `gorm:"size:120;default:''" json:"auth_username"`
	AuthPassword            string    `gorm:"size:120;default:''" json:"-"`
	RateLimitEnabled        bool      `gorm:"not null;default:false" json:"rate_limit_enabled"`
	RateLimitPerSecond      float64   `gorm:"not null;default:100" json:"rate_limit_per_second"`
	RateLimitBurst          int       `gorm:"not null;default:200" json:"rate_limit_burst"`
	EgressProxyURL          string    `gorm:"size:255;default:''" json:"egress_proxy_url"`
	LogRetentionDays        int       `gorm:"not null;default:7" json:"log_retention_days"`
	// AutoDeleteAfterSeconds archives proxies that stay unhealthy for this
	// long. Zero disables archiving.
	AutoDeleteAfterSeconds int `gorm:"not null;default:0" json:"auto_delete_after_seconds"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Settings) TableName() string {
	return "settings"
}
