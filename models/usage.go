package models

import "time"

// UsageAggregate holds running counters for one (config, calendar day) pair.
// Date is stored at midnight UTC; the unique index makes the upsert safe.
type UsageAggregate struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	ApiConfigID string    `json:"api_config_id" gorm:"uniqueIndex:idx_usage_config_date,priority:1;not null"`
	Date        time.Time `json:"date" gorm:"uniqueIndex:idx_usage_config_date,priority:2;not null"`

	TotalRequests      int64 `json:"total_requests"`
	SuccessfulRequests int64 `json:"successful_requests"`
	FailedRequests     int64 `json:"failed_requests"`

	// Running mean over all requests of the day.
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`

	// Estimate only; see usage.Recorder.
	UniqueIPs int64 `json:"unique_ips"`

	UpdatedAt time.Time `json:"updated_at"`
}
