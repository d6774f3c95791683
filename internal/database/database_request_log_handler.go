package database

import (
	"fmt"
	"time"

	"rota/internal/domain"
)

const (
	requestLogDefaultLimit = 100
	requestLogMaxLimit     = 1000
)

// RequestLogFilter narrows ListRequestLogs. Zero values mean no filter.
type RequestLogFilter struct {
	ProxyID     uint64
	ClientIP    string
	OnlyFailed  bool
	OnlySuccess bool
	Limit       int
	Offset      int
}

func InsertRequestLog(entry domain.RequestLog) error {
	if DB == nil {
		return fmt.Errorf("request log: database connection was not initialised")
	}
	return DB.Create(&entry).Error
}

func ListRequestLogs(filter RequestLogFilter) ([]domain.RequestLog, int64, error) {
	if DB == nil {
		return nil, 0, fmt.Errorf("request log: database connection was not initialised")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = requestLogDefaultLimit
	}
	if limit > requestLogMaxLimit {
		limit = requestLogMaxLimit
	}

	query := DB.Model(&domain.RequestLog{})
	if filter.ProxyID != 0 {
		query = query.Where("proxy_id = ?", filter.ProxyID)
	}
	if filter.ClientIP != "" {
		query = query.Where("client_ip = ?", filter.ClientIP)
	}
	if filter.OnlyFailed {
		query = query.Where("success = ?", false)
	}
	if filter.OnlySuccess {
		query = query.Where("success = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []domain.RequestLog
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// DeleteRequestLogsBefore removes entries older than cutoff and returns how
// many rows were deleted.
func DeleteRequestLogsBefore(cutoff time.Time) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("request log: database connection was not initialised")
	}

	res := DB.Where("created_at < ?", cutoff).Delete(&domain.RequestLog{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// DashboardStats aggregates tunnel outcomes for the dashboard endpoint.
type DashboardStats struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalFailures  int64   `json:"total_failures"`
	SuccessRate    float64 `json:"success_rate"`
	AvgDurationMS  float64 `json:"avg_duration_ms"`
	TotalBytesIn   int64   `json:"total_bytes_in"`
	TotalBytesOut  int64   `json:"total_bytes_out"`
	RequestsLastHr int64   `json:"requests_last_hour"`
}

func GetDashboardStats() (*DashboardStats, error) {
	if DB == nil {
		return nil, fmt.Errorf("request log: database connection was not initialised")
	}

	type aggregate struct {
		Total    int64
		Failures int64
		AvgDur   float64
		BytesIn  int64
		BytesOut int64
	}

	var agg aggregate
	if err := DB.Model(&domain.RequestLog{}).
		Select(
			"COUNT(*) AS total, " +
				"SUM(CASE WHEN success THEN 0 ELSE 1 END) AS failures, " +
				"COALESCE(AVG(duration_ms), 0) AS avg_dur, " +
				"COALESCE(SUM(bytes_in), 0) AS bytes_in, " +
				"COALESCE(SUM(bytes_out), 0) AS bytes_out",
		).
		Scan(&agg).Error; err != nil {
		return nil, err
	}

	var lastHour int64
	if err := DB.Model(&domain.RequestLog{}).
		Where("created_at >= ?", time.Now().Add(-time.Hour)).
		Count(&lastHour).Error; err != nil {
		return nil, err
	}

	stats := &DashboardStats{
		TotalRequests:  agg.Total,
		TotalFailures:  agg.Failures,
		AvgDurationMS:  agg.AvgDur,
		TotalBytesIn:   agg.BytesIn,
		TotalBytesOut:  agg.BytesOut,
		RequestsLastHr: lastHour,
	}
	if agg.Total > 0 {
		stats.SuccessRate = float64(agg.Total-agg.Failures) / float64(agg.Total)
	}
	return stats, nil
}
