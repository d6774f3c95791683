package dto

import "time"

// ProxyUpsertRequest creates or fully replaces a proxy.
type ProxyUpsertRequest struct {
	Host     string `json:"host"`
	Port     uint16 `json:"port"`
	Protocol string `json:"protocol"`
	Username string `json:"username"`
	Password string `json:"password"`
	Country  string `json:"country"`
	Status   string `json:"status"`
}

type ProxyStatusUpdateRequest struct {
	Status string `json:"status"`
}

// ProxyInfo is the API view of one proxy: the persisted row plus the
// runtime state held by the registry.
type ProxyInfo struct {
	ID                uint64     `json:"id"`
	Host              string     `json:"host"`
	Port              uint16     `json:"port"`
	Protocol          string     `json:"protocol"`
	Username          string     `json:"username,omitempty"`
	HasAuth           bool       `json:"has_auth"`
	Country           string     `json:"country,omitempty"`
	Status            string     `json:"status"`
	LatencyMS         int64      `json:"latency_ms"`
	LastCheckedAt     *time.Time `json:"last_checked_at,omitempty"`
	ActiveConnections int64      `json:"active_connections"`
	TotalRequests     uint64     `json:"total_requests"`
	TotalFailures     uint64     `json:"total_failures"`
	CreatedAt         time.Time  `json:"created_at"`
}
