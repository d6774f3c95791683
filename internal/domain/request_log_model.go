package domain

import "time"

// RequestLog is one completed or failed tunnel, written fire-and-forget by
// the outcome recorder.
type RequestLog struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	ClientIP   string    `gorm:"size:64;index" json:"client_ip"`
	ProxyID    uint64    `gorm:"index" json:"proxy_id"`
	Target     string    `gorm:"size:255" json:"target"`
	Success    bool      `gorm:"not null;default:false;index" json:"success"`
	ErrorKind  string    `gorm:"size:32;default:''" json:"error_kind,omitempty"`
	DurationMS int64     `gorm:"not null;default:0" json:"duration_ms"`
	BytesIn    int64     `gorm:"not null;default:0" json:"bytes_in"`
	BytesOut   int64     `gorm:"not null;default:0" json:"bytes_out"`
}

func (RequestLog) TableName() string {
	return "request_logs"
}
