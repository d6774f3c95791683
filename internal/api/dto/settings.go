package dto

// SettingsUpdateRequest replaces the runtime settings wholesale.
type SettingsUpdateRequest struct {
	RotationStrategy        string  `json:"rotation_strategy"`
	RotationIntervalSeconds int     `json:"rotation_interval_seconds"`
	MaxRetries              int     `json:"max_retries"`
	ConnectTimeoutSeconds   int     `json:"connect_timeout_seconds"`
	RequestTimeoutSeconds   int     `json:"request_timeout_seconds"`
	AuthEnabled             bool    `json:"auth_enabled"`
	AuthUsername            string  `json:"auth_username"`
	AuthPassword            string  `json:"auth_password"`
	RateLimitEnabled        bool    `json:"rate_limit_enabled"`
	RateLimitPerSecond      float64 `json:"rate_limit_per_second"`
	RateLimitBurst          int     `json:"rate_limit_burst"`
	EgressProxyURL          string  `json:"egress_proxy_url"`
	LogRetentionDays        int     `json:"log_retention_days"`
	AutoDeleteAfterSeconds  int     `json:"auto_delete_after_seconds"`
}
